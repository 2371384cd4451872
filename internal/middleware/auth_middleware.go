package middleware

import (
	"context"
	"net/http"
	"strings"

	"fieldsync-server/internal/domain"
	"fieldsync-server/pkg/jwt"
	"fieldsync-server/pkg/response"
)

type contextKey string

const (
	TenantContextKey contextKey = "tenantContext"
	RoleKey          contextKey = "role"
)

// AuthMiddleware validates the bearer token and attaches the tenant context
// the sync subsystem requires. Credential issuance and tenant provisioning
// live outside this service.
func AuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "Missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			claims, err := jwt.ValidateToken(parts[1], jwtSecret)
			if err != nil {
				response.Unauthorized(w, "Invalid or expired token")
				return
			}

			tctx := domain.TenantContext{
				TenantID: claims.TenantID,
				UserID:   claims.UserID,
				DeviceID: claims.DeviceID,
			}

			ctx := context.WithValue(r.Context(), TenantContextKey, tctx)
			ctx = context.WithValue(ctx, RoleKey, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole gates a route on the role claim. Review endpoints require the
// supervisor role; device tokens cannot resolve conflicts.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetRole(r) != role {
				response.Forbidden(w, "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func GetTenantContext(r *http.Request) (domain.TenantContext, bool) {
	tctx, ok := r.Context().Value(TenantContextKey).(domain.TenantContext)
	return tctx, ok
}

func GetRole(r *http.Request) string {
	role, ok := r.Context().Value(RoleKey).(string)
	if !ok {
		return ""
	}
	return role
}
