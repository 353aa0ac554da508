package services

import (
	"testing"
	"time"

	"livesignal/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_AccessToken(t *testing.T) {
	auth := NewAuthService("secret", time.Hour, time.Minute)

	token, err := auth.GenerateToken("user-1", "alice")
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("user-1"), claims.Identity)
	assert.Equal(t, "alice", claims.Username)

	identity, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("user-1"), identity)
}

func TestAuthService_RejectsBadTokens(t *testing.T) {
	auth := NewAuthService("secret", time.Hour, time.Minute)
	other := NewAuthService("other-secret", time.Hour, time.Minute)
	expired := NewAuthService("secret", -time.Minute, time.Minute)

	foreign, err := other.GenerateToken("user-1", "")
	require.NoError(t, err)
	_, err = auth.Verify(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	stale, err := expired.GenerateToken("user-1", "")
	require.NoError(t, err)
	_, err = auth.Verify(stale)
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = auth.Verify("garbage")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Identity: "user-1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_ChannelToken(t *testing.T) {
	auth := NewAuthService("secret", time.Hour, time.Minute)
	assert.Equal(t, time.Minute, auth.ChannelTokenTTL())

	token, err := auth.IssueChannelToken("session-1", domain.RoleViewer, "user-2")
	require.NoError(t, err)

	claims, err := auth.ValidateChannelToken(token)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionID("session-1"), claims.SessionID)
	assert.Equal(t, domain.RoleViewer, claims.Role)
	assert.Equal(t, domain.Identity("user-2"), claims.Identity)

	// channel tokens are not bearer tokens and vice versa
	_, err = auth.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	access, err := auth.GenerateToken("user-2", "")
	require.NoError(t, err)
	_, err = auth.ValidateChannelToken(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_ChannelTokenRejectsUnknownRole(t *testing.T) {
	auth := NewAuthService("secret", time.Hour, time.Minute)

	token, err := auth.IssueChannelToken("session-1", "moderator", "user-2")
	require.NoError(t, err)

	_, err = auth.ValidateChannelToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_RejectsMalformedIdentity(t *testing.T) {
	auth := NewAuthService("secret", time.Hour, time.Minute)

	_, err := auth.GenerateToken("has spaces", "")
	assert.ErrorIs(t, err, domain.ErrInvalid)

	_, err = auth.GenerateToken("", "")
	assert.ErrorIs(t, err, domain.ErrInvalid)
}
