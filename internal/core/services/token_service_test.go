package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenService_IssueAndValidate(t *testing.T) {
	svc := NewTokenService("secret", time.Hour, "huddle")

	token, err := svc.IssueToken("AB12CD", "  Ada ")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "AB12CD", string(claims.RoomID))
	assert.Equal(t, "Ada", claims.DisplayName)
}

func TestTokenService_MissingParameters(t *testing.T) {
	svc := NewTokenService("secret", time.Hour, "huddle")

	_, err := svc.IssueToken("", "Ada")
	assert.ErrorIs(t, err, ErrMissingRoom)

	_, err = svc.IssueToken("AB12CD", " ")
	assert.ErrorIs(t, err, ErrMissingName)
}

func TestTokenService_RejectsForeignTokens(t *testing.T) {
	issuer := NewTokenService("secret", time.Hour, "huddle")
	other := NewTokenService("other-secret", time.Hour, "huddle")

	token, err := other.IssueToken("AB12CD", "Ada")
	require.NoError(t, err)

	_, err = issuer.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenService_Expired(t *testing.T) {
	svc := NewTokenService("secret", time.Minute, "huddle").(*tokenService)
	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err := svc.IssueToken("AB12CD", "Ada")
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
