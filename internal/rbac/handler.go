package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/projectdesk/projectdesk/internal/platform/httpx"
	"github.com/projectdesk/projectdesk/internal/shared"
)

// Handler exposes role graph administration over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	resolver *Resolver
	rbac     Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, resolver *Resolver, rbac Middleware) *Handler {
	return &Handler{logger: logger, service: service, resolver: resolver, rbac: rbac}
}

// MountAdminRoutes registers role and permission routes; callers mount them under /admin.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAdminLike())
		r.Get("/roles", h.listRoles)
		r.Post("/roles", h.createRole)
		r.Put("/roles/{roleID}", h.renameRole)
		r.Delete("/roles/{roleID}", h.deleteRole)

		r.Get("/permissions", h.listPermissions)
		r.Post("/permissions", h.createPermission)
		r.Get("/permissions/matrix", h.permissionMatrix)
		r.Put("/permissions/{permissionID}/roles/{roleID}", h.toggleRolePermission)
		r.Put("/permissions/{permissionID}/all", h.applyToAll)

		r.Get("/users/{userID}/roles", h.userRoles)
		r.Put("/users/{userID}/roles", h.setUserRoles)
		r.Put("/users/{userID}/roles/{roleID}", h.assignUserRole)
		r.Delete("/users/{userID}/roles/{roleID}", h.removeUserRole)
		r.Get("/users/{userID}/permissions", h.userPermissions)
		r.Put("/users/{userID}/permissions/{permissionID}", h.grantUserPermission)
		r.Delete("/users/{userID}/permissions/{permissionID}", h.revokeUserPermission)
	})
}

// MountSelfRoutes registers routes about the calling user.
func (h *Handler) MountSelfRoutes(r chi.Router) {
	r.Get("/permissions", h.myPermissions)
}

type roleRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type permissionRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=255"`
}

type toggleRequest struct {
	Enabled bool `json:"enabled"`
}

type userRolesRequest struct {
	RoleIDs []int64 `json:"role_ids" validate:"dive,gt=0"`
}

type permissionsResponse struct {
	UserID      int64    `json:"user_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	AdminLike   bool     `json:"admin_like"`
}

func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	grants := h.resolver.Snapshot(r.Context(), id.UserID)
	httpx.JSON(w, http.StatusOK, permissionsResponse{
		UserID:      id.UserID,
		Roles:       grants.RoleNames,
		Permissions: grants.Permissions,
		AdminLike:   grants.AdminLike(),
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := httpx.BindJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) renameRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "roleID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req roleRequest
	if err := httpx.BindJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	role, err := h.service.RenameRole(r.Context(), id, req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathInt64(r, "roleID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeleteRole(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) createPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := httpx.BindJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	perm, err := h.service.CreatePermission(r.Context(), req.Name, req.Description)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, perm)
}

func (h *Handler) permissionMatrix(w http.ResponseWriter, r *http.Request) {
	matrix, err := h.service.RolePermissionMatrix(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, matrix)
}

func (h *Handler) toggleRolePermission(w http.ResponseWriter, r *http.Request) {
	permID, err := httpx.PathInt64(r, "permissionID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	roleID, err := httpx.PathInt64(r, "roleID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req toggleRequest
	if err := httpx.BindJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Enabled {
		err = h.service.GrantRolePermission(r.Context(), roleID, permID)
	} else {
		err = h.service.RevokeRolePermission(r.Context(), roleID, permID)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) applyToAll(w http.ResponseWriter, r *http.Request) {
	permID, err := httpx.PathInt64(r, "permissionID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req toggleRequest
	if err := httpx.BindJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.ApplyPermissionToAllRoles(r.Context(), permID, req.Enabled); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) userRoles(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.PathInt64(r, "userID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	roles, err := h.service.UserRoles(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roles)
}

func (h *Handler) setUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.PathInt64(r, "userID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req userRolesRequest
	if err := httpx.BindJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.SetUserRoles(r.Context(), userID, req.RoleIDs); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignUserRole(w http.ResponseWriter, r *http.Request) {
	userID, roleID, ok := h.userAndRole(w, r)
	if !ok {
		return
	}
	if err := h.service.AssignUserRole(r.Context(), userID, roleID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeUserRole(w http.ResponseWriter, r *http.Request) {
	userID, roleID, ok := h.userAndRole(w, r)
	if !ok {
		return
	}
	if err := h.service.RemoveUserRole(r.Context(), userID, roleID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.PathInt64(r, "userID")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	perms, err := h.service.ListUserPermissions(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) grantUserPermission(w http.ResponseWriter, r *http.Request) {
	userID, permID, ok := h.userAndPermission(w, r)
	if !ok {
		return
	}
	if err := h.service.GrantUserPermission(r.Context(), userID, permID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeUserPermission(w http.ResponseWriter, r *http.Request) {
	userID, permID, ok := h.userAndPermission(w, r)
	if !ok {
		return
	}
	if err := h.service.RevokeUserPermission(r.Context(), userID, permID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) userAndRole(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	userID, err := httpx.PathInt64(r, "userID")
	if err != nil {
		h.fail(w, r, err)
		return 0, 0, false
	}
	roleID, err := httpx.PathInt64(r, "roleID")
	if err != nil {
		h.fail(w, r, err)
		return 0, 0, false
	}
	return userID, roleID, true
}

func (h *Handler) userAndPermission(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	userID, err := httpx.PathInt64(r, "userID")
	if err != nil {
		h.fail(w, r, err)
		return 0, 0, false
	}
	permID, err := httpx.PathInt64(r, "permissionID")
	if err != nil {
		h.fail(w, r, err)
		return 0, 0, false
	}
	return userID, permID, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("rbac handler", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
