package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/basketwire/backend/internal/session"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSessionToken   = errors.New("session validator: token required")
	ErrInvalidSessionToken   = errors.New("session validator: invalid token")
	ErrExpiredSessionToken   = errors.New("session validator: token expired")
	ErrMissingSessionSubject = errors.New("session validator: subject required")
)

// SessionClaims is the JWT payload of a Basketwire session token.
type SessionClaims struct {
	UserEmail       string `json:"user_email,omitempty"`
	UserDisplayName string `json:"user_display_name,omitempty"`
	UserAvatarURL   string `json:"user_avatar_url,omitempty"`
	jwt.RegisteredClaims
}

// User converts the claims into the principal the session layer consumes.
func (c SessionClaims) User() session.User {
	return session.User{
		ID:          c.Subject,
		Email:       c.UserEmail,
		DisplayName: c.UserDisplayName,
		Avatar:      c.UserAvatarURL,
	}
}

// ValidateSessionToken ensures the token is well formed and returns its claims.
func (i *TokenIssuer) ValidateSessionToken(tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}
	if len(i.config.SigningSecret) == 0 {
		return SessionClaims{}, errMissingSigningSecret
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidSessionToken, t.Method.Alg())
			}
			return i.config.SigningSecret, nil
		},
		jwt.WithAudience(i.config.Audience),
		jwt.WithIssuer(i.config.Issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredSessionToken
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return SessionClaims{}, ErrInvalidSessionToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return SessionClaims{}, ErrMissingSessionSubject
	}
	return *claims, nil
}
