package matrix_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/projectdesk/projectdesk/internal/matrix"
	"github.com/projectdesk/projectdesk/internal/rbac"
	"github.com/projectdesk/projectdesk/internal/shared"
	"github.com/projectdesk/projectdesk/internal/testutil/memstore"
	"github.com/projectdesk/projectdesk/internal/users"
)

type matrixFixture struct {
	store     *memstore.Store
	service   *matrix.Service
	baManager rbac.Role
	ba        rbac.Role
	qa        rbac.Role
}

func newMatrixFixture(t *testing.T) *matrixFixture {
	t.Helper()
	store := memstore.New()
	baManager := store.AddRole("BA Manager")
	ba := store.AddRole("BA")
	qa := store.AddRole("QA")
	assign := store.AddPermission(shared.FeatureAssignMembers)
	store.GrantRolePermission(baManager.ID, assign.ID)
	store.Link(baManager.ID, ba.ID)

	resolver := rbac.NewResolver(store.RBAC())
	return &matrixFixture{
		store:     store,
		service:   matrix.NewService(store.Matrix(), resolver, nil),
		baManager: baManager,
		ba:        ba,
		qa:        qa,
	}
}

func TestCanAssign(t *testing.T) {
	f := newMatrixFixture(t)
	ctx := context.Background()

	manager := f.store.AddUser("Manager", users.StatusApproved)
	f.store.GrantRole(manager.ID, f.baManager.ID)

	nobody := f.store.AddUser("Nobody", users.StatusApproved)

	admin := f.store.AddUser("Root", users.StatusApproved)
	adminRole := f.store.AddRole("Admin")
	f.store.GrantRole(admin.ID, adminRole.ID)

	require.True(t, f.service.CanAssign(ctx, manager.ID, f.ba.ID))
	require.False(t, f.service.CanAssign(ctx, manager.ID, f.qa.ID), "rules are not transitive or implied")
	require.False(t, f.service.CanAssign(ctx, nobody.ID, f.ba.ID))
	require.True(t, f.service.CanAssign(ctx, admin.ID, f.qa.ID))
	require.True(t, f.service.CanAssign(ctx, admin.ID, 9999), "admin-like bypasses the matrix")
}

func TestCanAssignDeniesOnLookupFailure(t *testing.T) {
	f := newMatrixFixture(t)
	manager := f.store.AddUser("Manager", users.StatusApproved)
	f.store.GrantRole(manager.ID, f.baManager.ID)
	f.store.FailOn("HasRule", 0, errors.New("db down"))

	require.False(t, f.service.CanAssign(context.Background(), manager.ID, f.ba.ID))
}

func TestToggleRules(t *testing.T) {
	f := newMatrixFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.Toggle(ctx, f.baManager.ID, f.qa.ID, true))
	require.NoError(t, f.service.Toggle(ctx, f.baManager.ID, f.qa.ID, true))
	links, err := f.service.Matrix(ctx)
	require.NoError(t, err)
	require.Equal(t, map[int64][]int64{f.baManager.ID: {f.ba.ID, f.qa.ID}}, links)

	require.NoError(t, f.service.Toggle(ctx, f.baManager.ID, f.ba.ID, false))
	require.NoError(t, f.service.Toggle(ctx, f.baManager.ID, f.ba.ID, false))
	links, err = f.service.Matrix(ctx)
	require.NoError(t, err)
	require.Equal(t, map[int64][]int64{f.baManager.ID: {f.qa.ID}}, links)

	require.ErrorIs(t, f.service.Link(ctx, 9999, f.ba.ID), shared.ErrNotFound)
	require.ErrorIs(t, f.service.Unlink(ctx, f.baManager.ID, 9999), shared.ErrNotFound)
}

func TestViewAndTargets(t *testing.T) {
	f := newMatrixFixture(t)
	ctx := context.Background()

	view, err := f.service.View(ctx)
	require.NoError(t, err)
	require.Len(t, view.Managers, 1)
	require.Equal(t, f.baManager.ID, view.Managers[0].ID)
	require.Len(t, view.Targets, 3)
	require.Equal(t, []int64{f.ba.ID}, view.Links[f.baManager.ID])

	manager := f.store.AddUser("Manager", users.StatusApproved)
	f.store.GrantRole(manager.ID, f.baManager.ID)
	targets, err := f.service.AssignableTargets(ctx, manager.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{f.ba.ID}, targets)

	nobody := f.store.AddUser("Nobody", users.StatusApproved)
	targets, err = f.service.AssignableTargets(ctx, nobody.ID)
	require.NoError(t, err)
	require.Empty(t, targets)
}
