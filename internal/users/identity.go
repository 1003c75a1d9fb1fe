package users

import (
	"strings"
	"time"
)

// Identity is the durable record of a user who has signed in, keeping the
// last profile the auth collaborator reported for them.
type Identity struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	AvatarURL   string    `gorm:"column:user_avatar_url;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
