package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hongminglow/pipeline-crm/internal/auth"
	"github.com/hongminglow/pipeline-crm/internal/http/respond"
)

type identityKey struct{}

// TokenValidator recovers the caller from a bearer token.
type TokenValidator interface {
	Validate(token string) (auth.Identity, error)
}

// WithIdentity stores id on ctx.
func WithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the authenticated caller set by Authenticate.
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(auth.Identity)
	return id, ok
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate rejects requests without a valid bearer token with 401.
func Authenticate(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := BearerToken(r)
			if !ok {
				respond.Error(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			id, err := tokens.Validate(raw)
			if err != nil {
				respond.Error(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// PermissionChecker decides whether a role holds a permission.
type PermissionChecker interface {
	Allowed(role, permission string) (bool, error)
}

// RequirePermission answers 403 when the caller's role lacks permission.
// It must run after Authenticate.
func RequirePermission(checker PermissionChecker, permission string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				respond.Error(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			allowed, err := checker.Allowed(id.Role, permission)
			if err != nil {
				logger.Error("permission check failed", zap.String("role", id.Role), zap.String("permission", permission), zap.Error(err))
				respond.Error(w, http.StatusInternalServerError, "internal server error")
				return
			}
			if !allowed {
				respond.Error(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin answers 403 unless the caller holds the Admin role.
// It must run after Authenticate.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok {
			respond.Error(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if !id.IsAdmin() {
			respond.Error(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
