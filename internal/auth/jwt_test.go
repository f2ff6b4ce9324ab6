package auth

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/signagekit/signage-hub-go/internal/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestGenerateTokenPair_RoundTrip(t *testing.T) {
	cfg := config.Config{
		HubSecret:                testSecret,
		JWTAccessTokenExpirySec:  3600,
		JWTRefreshTokenExpirySec: 86400,
	}

	pair, err := GenerateTokenPair(cfg, TokenPayload{Sub: "admin", Name: "Admin"})
	require.NoError(t, err)
	require.Equal(t, 3600, pair.ExpiresInSec)

	payload, err := VerifyToken(cfg, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "admin", payload.Sub)
	require.Equal(t, "Admin", payload.Name)
	require.Equal(t, TokenTypeAccess, payload.Type)

	payload, err = VerifyToken(cfg, pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, TokenTypeRefresh, payload.Type)
}

func TestGenerateTokenPair_ZeroExpiryStillVerifies(t *testing.T) {
	cfg := config.Config{HubSecret: testSecret}

	pair, err := GenerateTokenPair(cfg, TokenPayload{Sub: "admin", Name: "Admin"})
	require.NoError(t, err)
	require.Equal(t, 3600, pair.ExpiresInSec)

	payload, err := VerifyToken(cfg, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, TokenTypeAccess, payload.Type)

	payload, err = VerifyToken(cfg, pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, TokenTypeRefresh, payload.Type)
}

func TestRefreshAccessToken(t *testing.T) {
	cfg := config.Config{HubSecret: testSecret, JWTAccessTokenExpirySec: 1800}

	pair, err := GenerateTokenPair(cfg, TokenPayload{Sub: "admin"})
	require.NoError(t, err)

	accessToken, expiresIn, err := RefreshAccessToken(cfg, pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, 1800, expiresIn)

	payload, err := VerifyToken(cfg, accessToken)
	require.NoError(t, err)
	require.Equal(t, TokenTypeAccess, payload.Type)

	// An access token cannot stand in for a refresh token.
	_, _, err = RefreshAccessToken(cfg, pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenType)
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	cfg := config.Config{HubSecret: testSecret}

	pair, err := GenerateTokenPair(cfg, TokenPayload{Sub: "admin"})
	require.NoError(t, err)

	other := cfg
	other.HubSecret = "fedcba9876543210fedcba9876543210"
	_, err = VerifyToken(other, pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenInvalid)
}
