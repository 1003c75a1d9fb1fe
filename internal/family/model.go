package family

import "time"

// InvitationStatus tracks the lifecycle of a family invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
)

// Invitation is a durable record of one family-membership invite. The row is
// the source of truth; the realtime notice sent alongside it is only a UX
// accelerant and may be lost.
type Invitation struct {
	InvitationID  string           `gorm:"column:invitation_id;primaryKey;size:190;not null"`
	FamilyID      string           `gorm:"column:family_id;size:190;not null;index"`
	InvitedBy     string           `gorm:"column:invited_by;size:190;not null"`
	InvitedByName string           `gorm:"column:invited_by_name;size:320"`
	InvitedEmail  string           `gorm:"column:invited_email;size:320;not null"`
	Status        InvitationStatus `gorm:"column:status;size:32;not null"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing family invitations.
func (Invitation) TableName() string {
	return "family_invitations"
}

// ShoppingList is one saved snapshot of a family's shared list. Saves append
// a fresh row rather than updating in place; the family's current list is the
// most recently created row.
type ShoppingList struct {
	ListID        string    `gorm:"column:list_id;primaryKey;size:190;not null"`
	FamilyID      string    `gorm:"column:family_id;size:190;not null;index"`
	Name          string    `gorm:"column:name;size:320;not null"`
	ItemsJSON     string    `gorm:"column:items_json;not null"`
	CreatedBy     string    `gorm:"column:created_by;size:190;not null"`
	CreatedByName string    `gorm:"column:created_by_name;size:320"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing family shopping lists.
func (ShoppingList) TableName() string {
	return "family_shopping_lists"
}
