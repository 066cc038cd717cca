package assignments_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/projectdesk/projectdesk/internal/assignments"
	"github.com/projectdesk/projectdesk/internal/projects"
	"github.com/projectdesk/projectdesk/internal/rbac"
	"github.com/projectdesk/projectdesk/internal/shared"
	"github.com/projectdesk/projectdesk/internal/users"
)

func newAssignRouter(f *assignFixture) chi.Router {
	resolver := rbac.NewResolver(f.store.RBAC())
	gate := projects.NewGate(f.store.Projects(), resolver, "", nil)
	handler := assignments.NewHandler(nil, f.service)
	router := chi.NewRouter()
	router.Route("/projects", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(gate.Require("projectID"))
			handler.MountRoutes(r)
		})
	})
	return router
}

func call(router http.Handler, userID int64, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(shared.ContextWithIdentity(req.Context(), shared.Identity{UserID: userID, Status: "approved"}))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func TestAssignmentRoutes(t *testing.T) {
	f := newAssignFixture(t)
	// The manager reaches the project through an existing seat.
	f.store.Assign(f.project, f.manager.ID, f.baManager.ID)
	router := newAssignRouter(f)
	base := fmt.Sprintf("/projects/%d", f.project)

	res := call(router, f.member.ID, http.MethodGet, base+"/assignments", "")
	require.Equal(t, http.StatusForbidden, res.Code)

	body := fmt.Sprintf(`{"user_id":%d,"role_id":%d}`, f.member.ID, f.ba.ID)
	res = call(router, f.manager.ID, http.MethodPost, base+"/assignments", body)
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	var result assignments.Result
	require.NoError(t, json.NewDecoder(res.Body).Decode(&result))
	require.Equal(t, assignments.OutcomeCreated, result.Outcome)

	res = call(router, f.manager.ID, http.MethodPost, base+"/assignments", body)
	require.Equal(t, http.StatusOK, res.Code)

	res = call(router, f.manager.ID, http.MethodPost, base+"/assignments", `{"user_id":0,"role_id":1}`)
	require.Equal(t, http.StatusBadRequest, res.Code)

	res = call(router, f.manager.ID, http.MethodPost, base+"/assignments", fmt.Sprintf(`{"user_id":%d,"role_id":%d}`, f.member.ID, f.qa.ID))
	require.Equal(t, http.StatusForbidden, res.Code)

	res = call(router, f.member.ID, http.MethodGet, base+"/assignments", "")
	require.Equal(t, http.StatusOK, res.Code)
	var members []assignments.Member
	require.NoError(t, json.NewDecoder(res.Body).Decode(&members))
	require.Len(t, members, 2)

	res = call(router, f.manager.ID, http.MethodDelete, fmt.Sprintf("%s/assignments/%d", base, result.Assignment.ID), "")
	require.Equal(t, http.StatusNoContent, res.Code)
}

func TestSlotRoutes(t *testing.T) {
	f := newAssignFixture(t)
	f.store.Assign(f.project, f.manager.ID, f.baManager.ID)
	router := newAssignRouter(f)
	other := f.store.AddUser("Other", users.StatusApproved)
	slot := fmt.Sprintf("/projects/%d/slots/%d", f.project, f.ba.ID)

	res := call(router, f.manager.ID, http.MethodPut, slot, fmt.Sprintf(`{"user_id":%d}`, f.member.ID))
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = call(router, f.manager.ID, http.MethodPut, slot, fmt.Sprintf(`{"user_id":%d}`, other.ID))
	require.Equal(t, http.StatusOK, res.Code)
	var result assignments.Result
	require.NoError(t, json.NewDecoder(res.Body).Decode(&result))
	require.Equal(t, assignments.OutcomeReplaced, result.Outcome)

	res = call(router, f.manager.ID, http.MethodGet, slot, "")
	require.Equal(t, http.StatusOK, res.Code)
	var holders []assignments.Assignment
	require.NoError(t, json.NewDecoder(res.Body).Decode(&holders))
	require.Len(t, holders, 1)
	require.Equal(t, other.ID, holders[0].UserID)

	res = call(router, f.manager.ID, http.MethodPut, slot, `{"user_id":null}`)
	require.Equal(t, http.StatusOK, res.Code)
	require.NoError(t, json.NewDecoder(res.Body).Decode(&result))
	require.Equal(t, assignments.OutcomeCleared, result.Outcome)
}
