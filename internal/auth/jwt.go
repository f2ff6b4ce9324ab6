package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/signagekit/signage-hub-go/internal/config"
)

// TokenType describes access vs refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// TokenPayload represents the validated payload data.
type TokenPayload struct {
	Sub  string
	Name string
	Type TokenType
}

// TokenPair is returned for login and refresh flows.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresInSec int
}

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenType    = errors.New("token has invalid type")
)

type tokenClaims struct {
	Name string    `json:"name"`
	Type TokenType `json:"type"`
	jwt.RegisteredClaims
}

// tokenExpiry guards token minting against a zero-valued config, which would
// otherwise produce already-expired tokens.
func tokenExpiry(sec, fallback int) int {
	if sec <= 0 {
		return fallback
	}
	return sec
}

func accessExpiry(cfg config.Config) int {
	return tokenExpiry(cfg.JWTAccessTokenExpirySec, 3600)
}

func refreshExpiry(cfg config.Config) int {
	return tokenExpiry(cfg.JWTRefreshTokenExpirySec, 2592000)
}

// GenerateTokenPair creates a new access and refresh token for an admin.
func GenerateTokenPair(cfg config.Config, payload TokenPayload) (TokenPair, error) {
	expiresIn := accessExpiry(cfg)
	accessToken, err := generateToken(cfg, payload, TokenTypeAccess, expiresIn)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := generateToken(cfg, payload, TokenTypeRefresh, refreshExpiry(cfg))
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresInSec: expiresIn,
	}, nil
}

// RefreshAccessToken validates a refresh token and returns a new access token.
func RefreshAccessToken(cfg config.Config, refreshToken string) (string, int, error) {
	payload, err := VerifyToken(cfg, refreshToken)
	if err != nil {
		return "", 0, err
	}
	if payload.Type != TokenTypeRefresh {
		return "", 0, ErrTokenType
	}
	expiresIn := accessExpiry(cfg)
	accessToken, err := generateToken(cfg, payload, TokenTypeAccess, expiresIn)
	if err != nil {
		return "", 0, err
	}
	return accessToken, expiresIn, nil
}

// VerifyToken parses and validates the JWT.
func VerifyToken(cfg config.Config, token string) (TokenPayload, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithAudience("signage-admin"),
		jwt.WithIssuer("signage-hub"),
	)

	claims := &tokenClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return []byte(cfg.HubSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return TokenPayload{}, ErrTokenExpired
		}
		return TokenPayload{}, ErrTokenInvalid
	}
	if parsed == nil || !parsed.Valid {
		return TokenPayload{}, ErrTokenInvalid
	}

	payload := TokenPayload{
		Sub:  claims.Subject,
		Name: claims.Name,
		Type: claims.Type,
	}
	if payload.Sub == "" {
		return TokenPayload{}, ErrTokenInvalid
	}
	if payload.Type != TokenTypeAccess && payload.Type != TokenTypeRefresh {
		return TokenPayload{}, ErrTokenInvalid
	}

	return payload, nil
}

func generateToken(cfg config.Config, payload TokenPayload, tokenType TokenType, expirySec int) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Name: payload.Name,
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   payload.Sub,
			Issuer:    "signage-hub",
			Audience:  jwt.ClaimStrings{"signage-admin"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(expirySec) * time.Second)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.HubSecret))
}
