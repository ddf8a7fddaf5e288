// Package middleware adapts the teacher's api/middleware package
// (internal/api/middleware/auth.go, ratelimit.go) to gate the status
// dashboard's admin routes (spec.md's status dashboard section of
// SPEC_FULL.md) rather than a task submission API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const UserContextKey contextKey = "user"

// AuthConfig holds the dashboard's authentication configuration.
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	APIKeys   map[string]bool
}

// Claims are the JWT claims accepted for dashboard admin access.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Auth returns a middleware that requires either a valid API key
// (X-API-Key) or a Bearer JWT when cfg.Enabled is true. Pausing or
// resuming a worker is itself a coordination action worth gating, so
// this is applied only to the dashboard's admin routes.
func Auth(cfg *AuthConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
				if cfg.APIKeys[apiKey] {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "authorization header required", http.StatusUnauthorized)
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				http.Error(w, "invalid authorization header format", http.StatusUnauthorized)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
				return []byte(cfg.JWTSecret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
