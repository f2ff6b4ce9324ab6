package auth

import (
	"net/http"
	"strings"

	"github.com/signagekit/signage-hub-go/internal/api"
	"github.com/signagekit/signage-hub-go/internal/apperrors"
	"github.com/signagekit/signage-hub-go/internal/config"
)

var publicRoutes = map[string]struct{}{
	"/v1/auth/login":   {},
	"/v1/auth/refresh": {},
	"/metrics":         {},
}

var publicPrefixes = []string{
	"/v1/health",
	"/ws",
}

// Middleware validates admin JWT tokens for protected routes. The websocket
// endpoint is public here; it authenticates its own query credentials.
func Middleware(cfg config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicRoute(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Missing Authorization header"))
				return
			}
			if !strings.HasPrefix(authHeader, "Bearer ") {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid Authorization header format"))
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == "" {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid Authorization header format"))
				return
			}

			payload, err := VerifyToken(cfg, token)
			if err != nil {
				code := apperrors.ErrorCodeAuthTokenInvalid
				if err == ErrTokenExpired {
					code = apperrors.ErrorCodeAuthTokenExpired
				}
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid or expired token", code))
				return
			}
			if payload.Type != TokenTypeAccess {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Access token required", apperrors.ErrorCodeAuthTokenInvalid))
				return
			}

			user := User{Sub: payload.Sub, Name: payload.Name, Type: payload.Type}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func isPublicRoute(path string) bool {
	if _, ok := publicRoutes[path]; ok {
		return true
	}
	for _, prefix := range publicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
