package auth

import (
	"context"
	"net/http"
	"strings"
)

const (
	RoleLearner = "learner"
	RoleService = "service"
	RoleAdmin   = "admin"
)

// HasRole reports whether RequireUser injected the given role (case-insensitive).
func HasRole(ctx context.Context, role string) bool {
	got, _ := RoleFromContext(ctx)
	return strings.EqualFold(strings.TrimSpace(got), role)
}

// CanActFor reports whether the caller may read or write progress of subjectID.
// Learners only reach their own subject; service and admin tokens reach any.
func CanActFor(ctx context.Context, subjectID string) bool {
	if HasRole(ctx, RoleService) || HasRole(ctx, RoleAdmin) {
		return true
	}
	uid, ok := UserIDFromContext(ctx)
	return ok && uid != "" && uid == strings.TrimSpace(subjectID)
}

// RequireRole allows the request only if RequireUser already injected one of roles.
func RequireRole(roles ...string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, role := range roles {
				if HasRole(r.Context(), role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			w.WriteHeader(http.StatusForbidden)
		})
	}
}
