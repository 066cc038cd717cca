package matrix

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/projectdesk/projectdesk/internal/platform/httpx"
	"github.com/projectdesk/projectdesk/internal/rbac"
	"github.com/projectdesk/projectdesk/internal/shared"
)

// Handler exposes the assignable matrix over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountAdminRoutes registers matrix administration under /admin/assignable.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAdminLike())
		r.Get("/", h.view)
		r.Put("/{managerRoleID}/{targetRoleID}", h.toggle)
	})
}

// MountSelfRoutes registers the caller's assignable targets.
func (h *Handler) MountSelfRoutes(r chi.Router) {
	r.Get("/assignable-roles", h.targets)
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *Handler) view(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.View(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request) {
	managerID, err := httpx.PathInt64(r, "managerRoleID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	targetID, err := httpx.PathInt64(r, "targetRoleID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req toggleRequest
	if err := httpx.BindJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.Toggle(r.Context(), managerID, targetID, req.Enabled); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) targets(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	ids, err := h.service.AssignableTargets(r.Context(), id.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string][]int64{"role_ids": ids})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("matrix handler", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
