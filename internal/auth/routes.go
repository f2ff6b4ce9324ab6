package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/signagekit/signage-hub-go/internal/api"
	"github.com/signagekit/signage-hub-go/internal/apperrors"
	"github.com/signagekit/signage-hub-go/internal/config"
)

type loginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	Object       string `json:"object"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresInSec int    `json:"expires_in"`
}

// RegisterRoutes wires admin auth routes to the router.
func RegisterRoutes(router chi.Router, cfg config.Config) {
	router.Method(http.MethodPost, "/v1/auth/login", api.Handler(login(cfg)))
	router.Method(http.MethodPost, "/v1/auth/refresh", api.Handler(refresh(cfg)))
}

// login exchanges the configured admin password for a token pair.
// POST /v1/auth/login
func login(cfg config.Config) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		if cfg.AdminPassword == "" {
			return apperrors.NewForbiddenError("Admin login is disabled")
		}

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		if subtle.ConstantTimeCompare([]byte(req.Password), []byte(cfg.AdminPassword)) != 1 {
			return apperrors.NewUnauthorizedError("Invalid credentials", apperrors.ErrorCodeAuthFailed)
		}

		name := req.Name
		if name == "" {
			name = "admin"
		}
		pair, err := GenerateTokenPair(cfg, TokenPayload{Sub: "admin", Name: name})
		if err != nil {
			return apperrors.NewInternalError("Failed to issue tokens")
		}

		return api.WriteResource(w, http.StatusOK, tokenResponse{
			Object:       "token_pair",
			AccessToken:  pair.AccessToken,
			RefreshToken: pair.RefreshToken,
			ExpiresInSec: pair.ExpiresInSec,
		})
	}
}

// refresh exchanges a refresh token for a new access token.
// POST /v1/auth/refresh
func refresh(cfg config.Config) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		var req refreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return apperrors.NewValidationError("invalid request body", nil)
		}
		if req.RefreshToken == "" {
			return apperrors.NewValidationError("refresh_token is required", nil)
		}

		accessToken, expiresIn, err := RefreshAccessToken(cfg, req.RefreshToken)
		if err != nil {
			code := apperrors.ErrorCodeAuthTokenInvalid
			if err == ErrTokenExpired {
				code = apperrors.ErrorCodeAuthTokenExpired
			}
			return apperrors.NewUnauthorizedError("Invalid or expired refresh token", code)
		}

		return api.WriteResource(w, http.StatusOK, tokenResponse{
			Object:       "token_pair",
			AccessToken:  accessToken,
			ExpiresInSec: expiresIn,
		})
	}
}
