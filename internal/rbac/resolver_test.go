package rbac_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/projectdesk/projectdesk/internal/rbac"
	"github.com/projectdesk/projectdesk/internal/shared"
	"github.com/projectdesk/projectdesk/internal/testutil/memstore"
	"github.com/projectdesk/projectdesk/internal/users"
)

type decisionLog struct {
	entries []string
}

func (d *decisionLog) ObserveDecision(check string, allowed bool) {
	result := "deny"
	if allowed {
		result = "allow"
	}
	d.entries = append(d.entries, check+":"+result)
}

func TestSnapshotUnionsRolesAndOverrides(t *testing.T) {
	store := memstore.New()
	user := store.AddUser("Dana", users.StatusApproved)
	analyst := store.AddRole("Analyst")
	reviewer := store.AddRole("Reviewer")
	view := store.AddPermission("view_reports")
	edit := store.AddPermission("edit_reports")
	export := store.AddPermission("export")
	extra := store.AddPermission("assign_members")
	store.GrantRole(user.ID, analyst.ID)
	store.GrantRole(user.ID, reviewer.ID)
	store.GrantRolePermission(analyst.ID, view.ID)
	store.GrantRolePermission(analyst.ID, edit.ID)
	store.GrantRolePermission(reviewer.ID, edit.ID)
	store.GrantRolePermission(reviewer.ID, export.ID)
	store.GrantUserPermission(user.ID, extra.ID)
	store.GrantUserPermission(user.ID, view.ID)

	resolver := rbac.NewResolver(store.RBAC())
	ctx := context.Background()

	first := resolver.EffectivePermissions(ctx, user.ID)
	require.Equal(t, []string{"assign_members", "edit_reports", "export", "view_reports"}, first)
	require.Equal(t, first, resolver.EffectivePermissions(ctx, user.ID))

	require.True(t, resolver.HasFeature(ctx, user.ID, "EXPORT"))
	require.False(t, resolver.HasFeature(ctx, user.ID, "create_role"))
	require.False(t, resolver.IsAdminLike(ctx, user.ID))
}

func TestUnknownUserHasNoGrants(t *testing.T) {
	store := memstore.New()
	resolver := rbac.NewResolver(store.RBAC())

	grants := resolver.Snapshot(context.Background(), 999)
	require.Empty(t, grants.Permissions)
	require.Empty(t, grants.RoleNames)
	require.False(t, grants.AdminLike())
	require.Empty(t, resolver.Snapshot(context.Background(), 0).Permissions)
}

func TestIsAdminLikeTriggers(t *testing.T) {
	store := memstore.New()
	createRole := store.AddPermission(shared.FeatureCreateRole)
	adminPanel := store.AddPermission(shared.FeatureAdminPanel)

	byRolePermission := store.AddUser("Role Perm", users.StatusApproved)
	manager := store.AddRole("Manager")
	store.GrantRole(byRolePermission.ID, manager.ID)
	store.GrantRolePermission(manager.ID, createRole.ID)

	byOverride := store.AddUser("Override", users.StatusApproved)
	store.GrantUserPermission(byOverride.ID, adminPanel.ID)

	byName := store.AddUser("Named", users.StatusApproved)
	admin := store.AddRole("Admin")
	store.GrantRole(byName.ID, admin.ID)

	plain := store.AddUser("Plain", users.StatusApproved)

	log := &decisionLog{}
	resolver := rbac.NewResolver(store.RBAC(), rbac.WithDecisionRecorder(log))
	ctx := context.Background()

	require.True(t, resolver.IsAdminLike(ctx, byRolePermission.ID))
	require.True(t, resolver.IsAdminLike(ctx, byOverride.ID))
	require.True(t, resolver.IsAdminLike(ctx, byName.ID))
	require.False(t, resolver.IsAdminLike(ctx, plain.ID))
	require.Equal(t, []string{"admin:allow", "admin:allow", "admin:allow", "admin:deny"}, log.entries)
}

func TestSnapshotDegradedKeepsAdminRoleName(t *testing.T) {
	store := memstore.New()
	user := store.AddUser("Admin", users.StatusApproved)
	admin := store.AddRole("ADMIN")
	perm := store.AddPermission("view_reports")
	store.GrantRole(user.ID, admin.ID)
	store.GrantRolePermission(admin.ID, perm.ID)
	store.FailOn("RolePermissionNames", 0, errors.New("db down"))

	resolver := rbac.NewResolver(store.RBAC())
	grants := resolver.Snapshot(context.Background(), user.ID)

	require.True(t, grants.Degraded)
	require.False(t, grants.Has("view_reports"))
	require.True(t, grants.AdminLike())
}

func TestSnapshotRoleFailureDenies(t *testing.T) {
	store := memstore.New()
	user := store.AddUser("Admin", users.StatusApproved)
	admin := store.AddRole("admin")
	store.GrantRole(user.ID, admin.ID)
	store.FailOn("RolesForUser", 0, errors.New("db down"))

	resolver := rbac.NewResolver(store.RBAC())
	grants := resolver.Snapshot(context.Background(), user.ID)

	require.True(t, grants.Degraded)
	require.False(t, grants.AdminLike())
	require.Empty(t, grants.Permissions)
}

func TestSnapshotUsesRequestMemo(t *testing.T) {
	store := memstore.New()
	resolver := rbac.NewResolver(store.RBAC())

	memo := rbac.Grants{UserID: 7, Permissions: []string{"create_project"}}
	ctx := rbac.ContextWithGrants(context.Background(), memo)

	require.True(t, resolver.HasFeature(ctx, 7, "create_project"))
	require.Zero(t, store.Calls("RolesForUser"))

	// A memo for a different user is ignored.
	resolver.Snapshot(ctx, 8)
	require.Equal(t, 1, store.Calls("RolesForUser"))
}

func newRedisCache(t *testing.T) *rbac.Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return rbac.NewCache(client, time.Minute)
}

func TestCachedGrantsInvalidatedByMutation(t *testing.T) {
	store := memstore.New()
	user := store.AddUser("Dana", users.StatusApproved)
	role := store.AddRole("Analyst")
	perm := store.AddPermission("view_reports")
	store.GrantRole(user.ID, role.ID)

	cache := newRedisCache(t)
	resolver := rbac.NewResolver(store.RBAC(), rbac.WithCache(cache))
	service := rbac.NewService(store.RBAC(), cache, nil)
	ctx := context.Background()

	require.False(t, resolver.HasFeature(ctx, user.ID, "view_reports"))
	require.False(t, resolver.HasFeature(ctx, user.ID, "view_reports"))
	require.Equal(t, 1, store.Calls("RolesForUser"), "second lookup must come from cache")

	require.NoError(t, service.GrantRolePermission(ctx, role.ID, perm.ID))
	require.True(t, resolver.HasFeature(ctx, user.ID, "view_reports"))
	require.Equal(t, 2, store.Calls("RolesForUser"))
}

func TestDegradedGrantsAreNotCached(t *testing.T) {
	store := memstore.New()
	user := store.AddUser("Dana", users.StatusApproved)
	store.FailOn("UserPermissionNames", 0, errors.New("db down"))

	resolver := rbac.NewResolver(store.RBAC(), rbac.WithCache(newRedisCache(t)))
	ctx := context.Background()

	resolver.Snapshot(ctx, user.ID)
	resolver.Snapshot(ctx, user.ID)
	require.Equal(t, 2, store.Calls("RolesForUser"))
}

func TestCacheVersionBump(t *testing.T) {
	cache := newRedisCache(t)
	ctx := context.Background()

	ver, err := cache.Version(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, ver)

	require.NoError(t, cache.Put(ctx, rbac.Grants{UserID: 3, Permissions: []string{"export"}}))
	got, ok, err := cache.Get(ctx, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"export"}, got.Permissions)

	require.NoError(t, cache.Bump(ctx))
	_, ok, err = cache.Get(ctx, 3)
	require.NoError(t, err)
	require.False(t, ok)

	var disabled *rbac.Cache
	require.NoError(t, disabled.Bump(ctx))
	_, ok, err = disabled.Get(ctx, 3)
	require.NoError(t, err)
	require.False(t, ok)
}

// revokingReader runs afterRead once, right after the overrides were read,
// so the mutation lands while the resolver still holds the old rows.
type revokingReader struct {
	rbac.GrantsReader
	afterRead func(ctx context.Context)
}

func (r *revokingReader) UserPermissionNames(ctx context.Context, userID int64) ([]string, error) {
	names, err := r.GrantsReader.UserPermissionNames(ctx, userID)
	if r.afterRead != nil {
		hook := r.afterRead
		r.afterRead = nil
		hook(ctx)
	}
	return names, err
}

func TestRevokeDuringLoadIsNotCached(t *testing.T) {
	store := memstore.New()
	user := store.AddUser("Dana", users.StatusApproved)
	role := store.AddRole("Manager")
	createRole := store.AddPermission(shared.FeatureCreateRole)
	store.GrantRole(user.ID, role.ID)
	store.GrantRolePermission(role.ID, createRole.ID)

	cache := newRedisCache(t)
	service := rbac.NewService(store.RBAC(), cache, nil)
	reader := &revokingReader{GrantsReader: store.RBAC()}
	reader.afterRead = func(ctx context.Context) {
		require.NoError(t, service.RevokeRolePermission(ctx, role.ID, createRole.ID))
	}
	resolver := rbac.NewResolver(reader, rbac.WithCache(cache))
	ctx := context.Background()

	// The in-flight lookup still reports the rows it read.
	require.True(t, resolver.IsAdminLike(ctx, user.ID))

	require.False(t, resolver.IsAdminLike(ctx, user.ID))
	require.False(t, rbac.NewResolver(store.RBAC()).IsAdminLike(ctx, user.ID))
}

// ctxReader fails every lookup once its context is done.
type ctxReader struct {
	rbac.GrantsReader
}

func (r ctxReader) RolesForUser(ctx context.Context, userID int64) ([]rbac.Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.GrantsReader.RolesForUser(ctx, userID)
}

func (r ctxReader) UserPermissionNames(ctx context.Context, userID int64) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.GrantsReader.UserPermissionNames(ctx, userID)
}

func TestSnapshotSurvivesCancelledCaller(t *testing.T) {
	store := memstore.New()
	user := store.AddUser("Dana", users.StatusApproved)
	role := store.AddRole("Analyst")
	perm := store.AddPermission("view_reports")
	store.GrantRole(user.ID, role.ID)
	store.GrantRolePermission(role.ID, perm.ID)

	resolver := rbac.NewResolver(ctxReader{GrantsReader: store.RBAC()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	grants := resolver.Snapshot(ctx, user.ID)
	require.False(t, grants.Degraded)
	require.True(t, grants.Has("view_reports"))
}
