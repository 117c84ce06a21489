package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestNewJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService(JWTConfig{})
	require.Error(t, err)
	require.EqualError(t, err, "jwt: secret must be provided")
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(current)

	svc, err := NewJWTService(JWTConfig{
		Secret:         "super-secret",
		Issuer:         "robotdesk",
		AccessTokenTTL: time.Hour,
		Clock:          clock,
	})
	require.NoError(t, err)
	require.Equal(t, time.Hour, svc.TTL())

	token, err := svc.GenerateAccessToken(AccessTokenInput{
		UserID:   "user-123",
		Username: "alice",
		Audience: []string{"api"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)

	require.Equal(t, "user-123", claims.UserID)
	require.Equal(t, "alice", claims.Username)
	require.Equal(t, "robotdesk", claims.Issuer)
	require.Equal(t, jwt.ClaimStrings{"api"}, claims.Audience)
	require.True(t, claims.IssuedAt.Time.Equal(current))
	require.True(t, claims.ExpiresAt.Time.Equal(current.Add(time.Hour)))
}

func TestValidateAccessTokenInvalidSignature(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC))

	issuer, err := NewJWTService(JWTConfig{Secret: "issuer-secret", AccessTokenTTL: time.Minute, Clock: clock})
	require.NoError(t, err)

	token, err := issuer.GenerateAccessToken(AccessTokenInput{UserID: "user-123"})
	require.NoError(t, err)

	verifier, err := NewJWTService(JWTConfig{Secret: "other-secret", AccessTokenTTL: time.Minute, Clock: clock})
	require.NoError(t, err)

	_, err = verifier.ValidateAccessToken(token)
	require.Error(t, err)
	require.True(t, errors.Is(err, jwt.ErrTokenSignatureInvalid))
}

func TestValidateAccessTokenExpired(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC))

	svc, err := NewJWTService(JWTConfig{Secret: "secret", AccessTokenTTL: time.Minute, Clock: clock})
	require.NoError(t, err)

	token, err := svc.GenerateAccessToken(AccessTokenInput{UserID: "user-123"})
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = svc.ValidateAccessToken(token)
	require.Error(t, err)
	require.True(t, errors.Is(err, jwt.ErrTokenExpired))
}

func TestValidateAccessTokenIssuerMismatch(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC))

	issuer, err := NewJWTService(JWTConfig{Secret: "secret", Issuer: "other", Clock: clock})
	require.NoError(t, err)
	token, err := issuer.GenerateAccessToken(AccessTokenInput{UserID: "user-123"})
	require.NoError(t, err)

	verifier, err := NewJWTService(JWTConfig{Secret: "secret", Issuer: "robotdesk", Clock: clock})
	require.NoError(t, err)
	_, err = verifier.ValidateAccessToken(token)
	require.EqualError(t, err, "jwt: invalid issuer")
}

func TestGenerateAccessTokenRequiresUser(t *testing.T) {
	svc, err := NewJWTService(JWTConfig{Secret: "secret"})
	require.NoError(t, err)
	_, err = svc.GenerateAccessToken(AccessTokenInput{})
	require.Error(t, err)
}
