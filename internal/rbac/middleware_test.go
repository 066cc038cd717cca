package rbac_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/projectdesk/projectdesk/internal/rbac"
	"github.com/projectdesk/projectdesk/internal/shared"
	"github.com/projectdesk/projectdesk/internal/testutil/memstore"
	"github.com/projectdesk/projectdesk/internal/users"
)

type rbacFixture struct {
	store   *memstore.Store
	mw      rbac.Middleware
	router  chi.Router
	admin   users.User
	manager users.User
	member  users.User
}

func newRBACFixture(t *testing.T) *rbacFixture {
	t.Helper()
	store := memstore.New()
	admin := store.AddUser("Root", users.StatusApproved)
	manager := store.AddUser("Manager", users.StatusApproved)
	member := store.AddUser("Member", users.StatusApproved)

	adminRole := store.AddRole("admin")
	managerRole := store.AddRole("PM")
	assign := store.AddPermission(shared.FeatureAssignMembers)
	store.GrantRole(admin.ID, adminRole.ID)
	store.GrantRole(manager.ID, managerRole.ID)
	store.GrantRolePermission(managerRole.ID, assign.ID)

	resolver := rbac.NewResolver(store.RBAC())
	mw := rbac.Middleware{Resolver: resolver}
	handler := rbac.NewHandler(nil, rbac.NewService(store.RBAC(), nil, nil), resolver, mw)

	router := chi.NewRouter()
	router.Use(mw.Attach)
	router.Route("/admin", handler.MountAdminRoutes)
	router.Route("/me", handler.MountSelfRoutes)
	return &rbacFixture{store: store, mw: mw, router: router, admin: admin, manager: manager, member: member}
}

func (f *rbacFixture) do(t *testing.T, userID int64, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID > 0 {
		req = req.WithContext(shared.ContextWithIdentity(req.Context(), shared.Identity{UserID: userID, Status: "approved"}))
	}
	res := httptest.NewRecorder()
	f.router.ServeHTTP(res, req)
	return res
}

func TestRequireAnyAndAll(t *testing.T) {
	f := newRBACFixture(t)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	cases := []struct {
		name   string
		mw     func(http.Handler) http.Handler
		userID int64
		want   int
	}{
		{"anonymous", f.mw.RequireAny(shared.FeatureAssignMembers), 0, http.StatusUnauthorized},
		{"missing feature", f.mw.RequireAny(shared.FeatureAssignMembers), f.member.ID, http.StatusForbidden},
		{"has feature", f.mw.RequireAny(" Assign_Members ", shared.FeatureCreateRole), f.manager.ID, http.StatusOK},
		{"require all partial", f.mw.RequireAll(shared.FeatureAssignMembers, shared.FeatureCreateRole), f.manager.ID, http.StatusForbidden},
		{"admin like by role name", f.mw.RequireAdminLike(), f.admin.ID, http.StatusOK},
		{"not admin like", f.mw.RequireAdminLike(), f.manager.ID, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.userID > 0 {
				req = req.WithContext(shared.ContextWithIdentity(context.Background(), shared.Identity{UserID: tc.userID, Status: "approved"}))
			}
			res := httptest.NewRecorder()
			tc.mw(ok).ServeHTTP(res, req)
			require.Equal(t, tc.want, res.Code)
		})
	}
}

func TestAdminRoutesRequireAdminLike(t *testing.T) {
	f := newRBACFixture(t)

	res := f.do(t, f.manager.ID, http.MethodPost, "/admin/roles", `{"name":"QA"}`)
	require.Equal(t, http.StatusForbidden, res.Code)

	res = f.do(t, f.admin.ID, http.MethodPost, "/admin/roles", `{"name":"QA"}`)
	require.Equal(t, http.StatusCreated, res.Code)

	res = f.do(t, f.admin.ID, http.MethodPost, "/admin/roles", `{"name":"qa"}`)
	require.Equal(t, http.StatusConflict, res.Code)

	res = f.do(t, f.admin.ID, http.MethodPost, "/admin/roles", `{"name":""}`)
	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestRemovingLastAdminOverHTTP(t *testing.T) {
	f := newRBACFixture(t)
	adminRole := f.store.UserRoles(f.admin.ID)[0]

	res := f.do(t, f.admin.ID, http.MethodDelete, "/admin/users/"+itoa(f.admin.ID)+"/roles/"+itoa(adminRole), "")
	require.Equal(t, http.StatusConflict, res.Code)
	require.Equal(t, "application/problem+json", res.Header().Get("Content-Type"))
}

func TestMyPermissions(t *testing.T) {
	f := newRBACFixture(t)

	res := f.do(t, f.manager.ID, http.MethodGet, "/me/permissions", "")
	require.Equal(t, http.StatusOK, res.Code)

	var body struct {
		UserID      int64    `json:"user_id"`
		Roles       []string `json:"roles"`
		Permissions []string `json:"permissions"`
		AdminLike   bool     `json:"admin_like"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Equal(t, f.manager.ID, body.UserID)
	require.Equal(t, []string{"PM"}, body.Roles)
	require.Equal(t, []string{shared.FeatureAssignMembers}, body.Permissions)
	require.False(t, body.AdminLike)

	res = f.do(t, 0, http.MethodGet, "/me/permissions", "")
	require.Equal(t, http.StatusUnauthorized, res.Code)
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
