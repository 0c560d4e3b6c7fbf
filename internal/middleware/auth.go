package middleware

import (
	"net/http"
	"strings"

	"github.com/aport/chat-api/internal/identity"
	"github.com/aport/chat-api/internal/pkg/jwt"
	"github.com/aport/chat-api/internal/pkg/response"
)

// Auth returns middleware that validates the access token and stores the
// authenticated user in the request context for the identity provider.
func Auth(jwtService *jwt.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			claims, err := jwtService.ValidateAccessToken(parts[1])
			if err != nil {
				if err == jwt.ErrExpiredToken {
					response.Unauthorized(w, "Token expired")
				} else {
					response.Unauthorized(w, "Invalid token")
				}
				return
			}

			ctx := identity.WithUser(r.Context(), claims.UserID, claims.DisplayName)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
