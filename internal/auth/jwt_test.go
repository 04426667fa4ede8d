package auth_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendguard/fraud-engine/configs"
	"github.com/lendguard/fraud-engine/internal/auth"
)

func newManager(expiration time.Duration) *auth.JWTManager {
	return auth.NewJWTManager(configs.JWTConfig{
		Secret:     "test-secret-key",
		Expiration: expiration,
	})
}

func TestJWT_GenerateAndValidate(t *testing.T) {
	manager := newManager(time.Hour)
	userID := uuid.New()

	token, err := manager.GenerateToken(userID, "reviewer@lendguard.io", auth.RoleReviewer)
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "reviewer@lendguard.io", claims.Email)
	assert.Equal(t, auth.RoleReviewer, claims.Role)
}

func TestJWT_ExpiredToken(t *testing.T) {
	manager := newManager(-time.Minute)

	token, err := manager.GenerateToken(uuid.New(), "reviewer@lendguard.io", auth.RoleReviewer)
	require.NoError(t, err)

	_, err = manager.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrExpiredToken)
}

func TestJWT_TamperedToken(t *testing.T) {
	manager := newManager(time.Hour)

	token, err := manager.GenerateToken(uuid.New(), "reviewer@lendguard.io", auth.RoleAdmin)
	require.NoError(t, err)

	_, err = manager.ValidateToken(token + "x")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	other := auth.NewJWTManager(configs.JWTConfig{Secret: "different-secret", Expiration: time.Hour})
	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := auth.HashPassword("Str0ngPassw0rd")
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword("Str0ngPassw0rd", hash))
	assert.False(t, auth.CheckPassword("wrong", hash))
}

func TestValidatePasswordStrength(t *testing.T) {
	assert.True(t, auth.ValidatePasswordStrength("Str0ngPass"))
	assert.False(t, auth.ValidatePasswordStrength("short1A"))
	assert.False(t, auth.ValidatePasswordStrength("alllowercase1"))
	assert.False(t, auth.ValidatePasswordStrength("ALLUPPERCASE1"))
	assert.False(t, auth.ValidatePasswordStrength("NoNumbersHere"))
}
