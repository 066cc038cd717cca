package assignments

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/projectdesk/projectdesk/internal/platform/httpx"
	"github.com/projectdesk/projectdesk/internal/shared"
)

// Handler exposes project assignments over JSON. Routes expect the project
// gate to have run already.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers assignment routes on the /projects router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{projectID}/assignments", h.list)
	r.Post("/{projectID}/assignments", h.add)
	r.Delete("/{projectID}/assignments/{assignmentID}", h.remove)
	r.Get("/{projectID}/slots/{roleID}", h.slot)
	r.Put("/{projectID}/slots/{roleID}", h.replace)
}

type addRequest struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	RoleID int64  `json:"role_id" validate:"required,gt=0"`
	Mode   string `json:"mode" validate:"omitempty,oneof=single_slot multi_member"`
}

type slotRequest struct {
	// UserID is null or zero to clear the slot.
	UserID *int64 `json:"user_id" validate:"omitempty,gte=0"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	projectID, err := httpx.PathInt64(r, "projectID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	members, err := h.service.ListForProject(r.Context(), projectID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, members)
}

func (h *Handler) add(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	projectID, err := httpx.PathInt64(r, "projectID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req addRequest
	if err := httpx.BindJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	mode := ModeMultiMember
	if req.Mode != "" {
		mode = Mode(req.Mode)
	}
	result, err := h.service.Assign(r.Context(), AssignInput{
		ActingUserID: actor.UserID,
		ProjectID:    projectID,
		TargetUserID: &req.UserID,
		TargetRoleID: req.RoleID,
		Mode:         mode,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Outcome == OutcomeCreated {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) slot(w http.ResponseWriter, r *http.Request) {
	projectID, roleID, ok := h.projectAndRole(w, r)
	if !ok {
		return
	}
	holders, err := h.service.Slot(r.Context(), projectID, roleID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, holders)
}

func (h *Handler) replace(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	projectID, roleID, ok := h.projectAndRole(w, r)
	if !ok {
		return
	}
	var req slotRequest
	if err := httpx.BindJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.Assign(r.Context(), AssignInput{
		ActingUserID: actor.UserID,
		ProjectID:    projectID,
		TargetUserID: req.UserID,
		TargetRoleID: roleID,
		Mode:         ModeSingleSlot,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	projectID, err := httpx.PathInt64(r, "projectID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	assignmentID, err := httpx.PathInt64(r, "assignmentID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.UnassignFromProject(r.Context(), actor.UserID, projectID, assignmentID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) projectAndRole(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	projectID, err := httpx.PathInt64(r, "projectID")
	if err != nil {
		h.fail(w, r, err)
		return 0, 0, false
	}
	roleID, err := httpx.PathInt64(r, "roleID")
	if err != nil {
		h.fail(w, r, err)
		return 0, 0, false
	}
	return projectID, roleID, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("assignments handler", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
