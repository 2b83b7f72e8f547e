package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"financing-api/internal/service"
)

// AuthMiddleware validates the bearer token and stores the acting user in
// the request context for transition records and audit entries.
func AuthMiddleware(authService *service.AuthService, logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Error("Missing Authorization header")
				http.Error(w, "Authorization header is required", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.Error("Malformed Authorization header")
				http.Error(w, "Malformed Authorization header", http.StatusUnauthorized)
				return
			}

			actor, err := authService.ParseToken(parts[1])
			if err != nil {
				logger.WithError(err).Error("Invalid token")
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), "actor", actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
