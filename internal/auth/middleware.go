package auth

import (
	"log/slog"
	"net/http"

	"github.com/projectdesk/projectdesk/internal/platform/httpx"
	"github.com/projectdesk/projectdesk/internal/shared"
)

// Identity resolves the session user once and stores it in the request
// context. Anonymous requests pass through untouched.
func (s *Service) Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok, err := s.ResolveIdentity(r.Context(), shared.SessionFromContext(r.Context()))
		if err != nil {
			s.logger.Error("resolve identity", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithIdentity(r.Context(), id)))
	})
}

// RequireApproved rejects anonymous callers with 401 and callers that are
// neither approved nor admin-like with 403.
func (s *Service) RequireApproved(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := shared.IdentityFromContext(r.Context())
		if !ok {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		if !s.MayProceed(r.Context(), id) {
			httpx.RespondError(w, shared.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
