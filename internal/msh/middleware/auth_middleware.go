package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openmsh/as4gateway/internal/msh/domain"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const AuthenticatedOperatorContextKey = ContextKey("authenticatedOperator")

// Operator identifies the authenticated admin caller and the tenant its
// token is scoped to.
type Operator struct {
	Subject string
	Tenant  domain.Tenant
}

// OperatorFromContext extracts the authenticated operator set by
// AuthMiddleware.
func OperatorFromContext(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(AuthenticatedOperatorContextKey).(Operator)
	return op, ok
}

type adminClaims struct {
	Tenant string `json:"tenant"`
	jwt.RegisteredClaims
}

// AuthMiddleware validates the bearer token and places the operator, with
// its tenant scope, on the request context. Every admin operation below it
// acts only on that tenant.
func AuthMiddleware(jwtSecret string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.WarnContext(r.Context(), "Authorization header missing")
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.WarnContext(r.Context(), "Invalid Authorization header format")
				http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			claims := &adminClaims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				logger.WarnContext(r.Context(), "Token validation failed", "error", err)
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			if claims.Tenant == "" {
				logger.WarnContext(r.Context(), "Token carries no tenant claim", "subject", claims.Subject)
				http.Error(w, "Token not scoped to a tenant", http.StatusForbidden)
				return
			}

			op := Operator{Subject: claims.Subject, Tenant: domain.Tenant(claims.Tenant)}
			ctx := context.WithValue(r.Context(), AuthenticatedOperatorContextKey, op)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
