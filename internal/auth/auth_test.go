package auth

import (
	"context"
	"testing"
	"time"

	peercall_errors "peercall/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims AccessClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestParseAccessToken(t *testing.T) {
	v := NewVerifier("secret")
	userID := uuid.New()

	token := signToken(t, "secret", AccessClaims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := v.ParseAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.UserID)
}

func TestParseAccessTokenRejects(t *testing.T) {
	v := NewVerifier("secret")

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage", token: "not.a.jwt"},
		{
			name: "wrong secret",
			token: signToken(t, "other-secret", AccessClaims{
				UserID: uuid.New().String(),
				RegisteredClaims: jwt.RegisteredClaims{
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
				},
			}),
		},
		{
			name: "expired",
			token: signToken(t, "secret", AccessClaims{
				UserID: uuid.New().String(),
				RegisteredClaims: jwt.RegisteredClaims{
					ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
				},
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.ParseAccessToken(tt.token)
			assert.ErrorIs(t, err, peercall_errors.ErrUnauthorized)
		})
	}
}

func TestUserContextRoundTrip(t *testing.T) {
	userID := uuid.New()
	ctx := WithUserContext(context.Background(), userID)

	got, ok := UserIDFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, userID, got)

	_, ok = UserIDFromContext(context.Background())
	assert.False(t, ok)
}
