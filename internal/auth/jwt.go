package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "kumbuk"

// JWTManager handles JWT token operations
type JWTManager struct {
	signingKey []byte
	expiry     time.Duration
	now        func() time.Time
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(signingKey string, expiry time.Duration) *JWTManager {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &JWTManager{signingKey: []byte(signingKey), expiry: expiry, now: time.Now}
}

// CustomClaims are the claims KumbuK tokens carry.
type CustomClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// GenerateToken issues an HS256 access token for userID.
func (j *JWTManager) GenerateToken(userID, role string) (*Token, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	now := j.now()
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.expiry)),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.signingKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &Token{AccessToken: signed, TokenType: "Bearer", ExpiresIn: int(j.expiry.Seconds())}, nil
}

// ValidateAccessToken validates and parses a JWT access token
func (j *JWTManager) ValidateAccessToken(tokenString string) (*UserContext, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.signingKey, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(j.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	uc := &UserContext{
		UserID:    claims.Subject,
		Role:      claims.Role,
		TokenID:   claims.ID,
		TokenType: "jwt",
	}
	if claims.ExpiresAt != nil {
		uc.ExpiresAt = claims.ExpiresAt.Time
	}
	return uc, nil
}
