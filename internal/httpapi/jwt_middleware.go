// Package httpapi implements the JSON-over-HTTP service boundary (spec.md
// §6): GET /users/{u}/hasAccess, GET /users/{u}/entities/{type}, POST
// /events, plus health/metrics/trip-switch endpoints. The admin endpoint
// (trip-switch reset) is JWT-guarded,
// grounded on the teacher's internal/agent/jwt_middleware.go.
package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const subjectContextKey contextKey = "subject"

// JWTMiddleware validates bearer tokens on admin routes.
type JWTMiddleware struct {
	secretKey []byte
	logger    *zap.Logger
}

// NewJWTMiddleware builds a middleware keyed off secret. The secret is used
// as given and never padded; a secret shorter than 32 bytes (including an
// empty one) only logs a warning.
func NewJWTMiddleware(secret string, logger *zap.Logger) *JWTMiddleware {
	if len(secret) < 32 {
		if logger != nil {
			logger.Warn("JWT signing key is shorter than 32 bytes; set JWT_SIGNING_KEY to a secure value in production")
		}
	}
	return &JWTMiddleware{secretKey: []byte(secret), logger: logger}
}

// RequireAdmin wraps next, rejecting any request without a valid bearer
// token with 401.
func (m *JWTMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return m.secretKey, nil
		})
		if err != nil || !token.Valid {
			if m.logger != nil {
				m.logger.Warn("rejected admin request with invalid token", zap.Error(err))
			}
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			http.Error(w, "invalid token claims", http.StatusUnauthorized)
			return
		}
		subject, _ := claims["sub"].(string)
		ctx := context.WithValue(r.Context(), subjectContextKey, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
