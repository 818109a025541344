package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestTokenRoundTrip(t *testing.T) {
	j := NewJWTManager("secret", time.Hour)
	tok, err := j.GenerateToken("prov_1", RoleProvider)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, 3600, tok.ExpiresIn)

	uc, err := j.ValidateAccessToken(tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "prov_1", uc.UserID)
	assert.Equal(t, RoleProvider, uc.Role)
	assert.Equal(t, "jwt", uc.TokenType)
	assert.NotEmpty(t, uc.TokenID)
}

func TestValidateRejects(t *testing.T) {
	j := NewJWTManager("secret", time.Hour)
	tok, err := j.GenerateToken("u1", RoleConsumer)
	require.NoError(t, err)

	_, err = NewJWTManager("other", time.Hour).ValidateAccessToken(tok.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewJWTManager("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := expired.GenerateToken("u1", "")
	require.NoError(t, err)
	_, err = j.ValidateAccessToken(old.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "u1", Issuer: "someone-else"}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = j.ValidateAccessToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = j.GenerateToken("", RoleConsumer)
	assert.Error(t, err)
}

func TestExtractBearerToken(t *testing.T) {
	tok, err := ExtractBearerToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
	_, err = ExtractBearerToken("Basic abc")
	assert.Error(t, err)
	_, err = ExtractBearerToken("Bearer ")
	assert.Error(t, err)
}

func TestHTTPMiddleware(t *testing.T) {
	j := NewJWTManager("secret", time.Hour)
	tok, err := j.GenerateToken("u42", RoleConsumer)
	require.NoError(t, err)

	var seen *UserContext
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUserContext(r.Context())
	})

	tests := []struct {
		name     string
		skip     bool
		path     string
		header   string
		wantCode int
		wantUser string
	}{
		{"bearer", false, "/api/v1/chat/message", "Bearer " + tok.AccessToken, http.StatusOK, "u42"},
		{"missing", false, "/api/v1/chat/message", "", http.StatusUnauthorized, ""},
		{"garbage", false, "/api/v1/chat/message", "Bearer nope", http.StatusUnauthorized, ""},
		{"query token on stream", false, "/stream/sse?token=" + tok.AccessToken, "", http.StatusOK, "u42"},
		{"query token elsewhere", false, "/api/v1/chat/message?token=" + tok.AccessToken, "", http.StatusUnauthorized, ""},
		{"skip auth default user", true, "/api/v1/chat/message", "", http.StatusOK, "test_user_123"},
		{"skip auth keeps valid token", true, "/api/v1/chat/message", "Bearer " + tok.AccessToken, http.StatusOK, "u42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			h := NewMiddleware(j, tt.skip, "test_user_123", zaptest.NewLogger(t)).HTTPMiddleware(next)
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantUser == "" {
				assert.Nil(t, seen)
				return
			}
			require.NotNil(t, seen)
			assert.Equal(t, tt.wantUser, seen.UserID)
		})
	}
}
