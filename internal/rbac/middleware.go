package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/projectdesk/projectdesk/internal/platform/httpx"
	"github.com/projectdesk/projectdesk/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
}

// Attach resolves the caller's grants once and memoises them on the request
// context. Anonymous requests pass through untouched.
func (m Middleware) Attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := shared.IdentityFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		grants := m.Resolver.Snapshot(r.Context(), id.UserID)
		next.ServeHTTP(w, r.WithContext(ContextWithGrants(r.Context(), grants)))
	})
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.require("require any", func(g Grants) bool {
		if len(normalized) == 0 {
			return true
		}
		for _, p := range normalized {
			if g.Has(p) {
				return true
			}
		}
		return false
	})
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return m.require("require all", func(g Grants) bool {
		for _, p := range normalized {
			if !g.Has(p) {
				return false
			}
		}
		return true
	})
}

// RequireAdminLike ensures the current user is admin-like.
func (m Middleware) RequireAdminLike() func(http.Handler) http.Handler {
	return m.require("require admin", Grants.AdminLike)
}

func (m Middleware) require(name string, allow func(Grants) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := shared.IdentityFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			grants := m.Resolver.Snapshot(r.Context(), id.UserID)
			allowed := allow(grants)
			m.Resolver.observe("route", allowed)
			if !allowed {
				if m.Logger != nil {
					m.Logger.Debug("rbac "+name+" denied", slog.Int64("user_id", id.UserID), slog.String("path", r.URL.Path))
				}
				httpx.RespondError(w, shared.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithGrants(r.Context(), grants)))
		})
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, ok := unique[p]; ok {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
