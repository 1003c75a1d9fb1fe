package session

import "strings"

// User is the minimal authenticated principal the session layer requires.
// Only ID must be set; the profile fields enrich presence metadata when known.
type User struct {
	ID          string
	Email       string
	DisplayName string
	Avatar      string
}

// Name returns the best human-facing label for the user: display name,
// then the local part of the email, then a generic fallback.
func (u User) Name() string {
	if name := strings.TrimSpace(u.DisplayName); name != "" {
		return name
	}
	if at := strings.Index(u.Email, "@"); at > 0 {
		return u.Email[:at]
	}
	return "User"
}
