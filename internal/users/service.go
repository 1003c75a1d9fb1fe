package users

import (
	"errors"
	"fmt"
	"time"

	"github.com/basketwire/backend/internal/session"
	"gorm.io/gorm"
)

// ErrInvalidIdentity indicates the sign-in did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for identity tracking.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service records the identities of signed-in users and refreshes their
// profiles as the auth collaborator reports changes.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// Remember upserts the identity row for a signed-in user. The row is created
// on first sight; later sign-ins refresh any profile field that changed and
// bump last_seen_at. Returns the canonical user id.
func (s *Service) Remember(user session.User) (string, error) {
	userID := normalize(user.ID)
	if userID == "" {
		return "", ErrInvalidIdentity
	}

	var identity Identity
	err := s.db.
		Where("user_id = ?", userID).
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		identity = Identity{
			UserID:      userID,
			Email:       normalize(user.Email),
			DisplayName: normalize(user.DisplayName),
			AvatarURL:   normalize(user.Avatar),
			LastSeenAt:  s.now(),
		}
		if err := s.db.Create(&identity).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	} else {
		updates := map[string]interface{}{}
		if email := normalize(user.Email); email != "" && email != identity.Email {
			updates["user_email"] = email
		}
		if display := normalize(user.DisplayName); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
		}
		if avatar := normalize(user.Avatar); avatar != "" && avatar != identity.AvatarURL {
			updates["user_avatar_url"] = avatar
		}
		updates["last_seen_at"] = s.now()
		if len(updates) > 0 {
			_ = s.db.Model(&Identity{}).
				Where("user_id = ?", userID).
				Updates(updates).
				Error
		}
	}

	return identity.UserID, nil
}
