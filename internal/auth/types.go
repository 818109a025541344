package auth

import (
	"errors"
	"time"
)

// Roles carried in tokens.
const (
	RoleConsumer = "consumer"
	RoleProvider = "provider"
)

var (
	ErrMissingToken = errors.New("missing authentication")
	ErrInvalidToken = errors.New("invalid token")
)

// UserContext identifies the caller of a request.
type UserContext struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role,omitempty"`
	TokenID   string    `json:"token_id,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	TokenType string    `json:"token_type"` // jwt or default
}

// Token is returned when issuing a bearer token.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}
