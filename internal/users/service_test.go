package users_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/projectdesk/projectdesk/internal/notify"
	"github.com/projectdesk/projectdesk/internal/rbac"
	"github.com/projectdesk/projectdesk/internal/shared"
	"github.com/projectdesk/projectdesk/internal/testutil/memstore"
	"github.com/projectdesk/projectdesk/internal/users"
)

type notifierSpy struct {
	sent []notify.StatusChange
	err  error
}

func (n *notifierSpy) StatusChanged(_ context.Context, change notify.StatusChange) error {
	n.sent = append(n.sent, change)
	return n.err
}

type usersFixture struct {
	store    *memstore.Store
	notifier *notifierSpy
	service  *users.Service
	admin    users.User
	pending  users.User
}

func newUsersFixture(t *testing.T) *usersFixture {
	t.Helper()
	store := memstore.New()
	admin := store.AddUser("Root", users.StatusApproved)
	pending := store.AddUser("Newcomer", users.StatusPending)
	store.GrantRole(admin.ID, store.AddRole("admin").ID)

	notifier := &notifierSpy{}
	resolver := rbac.NewResolver(store.RBAC())
	return &usersFixture{
		store:    store,
		notifier: notifier,
		service:  users.NewService(store.Users(), resolver, notifier, nil, nil),
		admin:    admin,
		pending:  pending,
	}
}

func TestSetStatusNotifiesAfterChange(t *testing.T) {
	f := newUsersFixture(t)
	ctx := context.Background()

	updated, err := f.service.SetStatus(ctx, f.admin.ID, f.pending.ID, " Approved ")
	require.NoError(t, err)
	require.Equal(t, users.StatusApproved, updated.Status)
	require.Len(t, f.notifier.sent, 1)
	require.Equal(t, notify.StatusChange{UserID: f.pending.ID, Email: f.pending.Email, Name: f.pending.Name, Status: "approved"}, f.notifier.sent[0])

	_, err = f.service.SetStatus(ctx, f.admin.ID, f.pending.ID, "approved")
	require.NoError(t, err)
	require.Len(t, f.notifier.sent, 1, "unchanged status sends nothing")
}

func TestSetStatusSurvivesNotifierFailure(t *testing.T) {
	f := newUsersFixture(t)
	f.notifier.err = errors.New("queue down")

	updated, err := f.service.SetStatus(context.Background(), f.admin.ID, f.pending.ID, "rejected")
	require.NoError(t, err)
	require.Equal(t, users.StatusRejected, updated.Status)

	status, err := f.service.Status(context.Background(), f.pending.ID)
	require.NoError(t, err)
	require.Equal(t, users.StatusRejected, status)
}

func TestSetStatusGuards(t *testing.T) {
	f := newUsersFixture(t)
	ctx := context.Background()

	_, err := f.service.SetStatus(ctx, f.pending.ID, f.admin.ID, "suspended")
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.service.SetStatus(ctx, f.admin.ID, f.pending.ID, "banned")
	require.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = f.service.SetStatus(ctx, f.admin.ID, 9999, "approved")
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.service.SetStatus(ctx, f.admin.ID, f.admin.ID, "suspended")
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Empty(t, f.notifier.sent)

	second := f.store.AddUser("Deputy", users.StatusApproved)
	adminRole := f.store.UserRoles(f.admin.ID)[0]
	f.store.GrantRole(second.ID, adminRole)

	updated, err := f.service.SetStatus(ctx, second.ID, f.admin.ID, "suspended")
	require.NoError(t, err)
	require.Equal(t, users.StatusSuspended, updated.Status)
}

// racingRepo lets a competing transaction commit first and fails the next
// transaction the way postgres does when it then touches a locked row.
type racingRepo struct {
	users.RepositoryPort
	compete func(ctx context.Context)
}

func (r *racingRepo) WithTx(ctx context.Context, fn func(context.Context, users.RepositoryPort) error) error {
	if r.compete != nil {
		compete := r.compete
		r.compete = nil
		compete(ctx)
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"}
	}
	return r.RepositoryPort.WithTx(ctx, fn)
}

func TestSetStatusRetriesAfterConcurrentSuspend(t *testing.T) {
	f := newUsersFixture(t)
	ctx := context.Background()
	deputy := f.store.AddUser("Deputy", users.StatusApproved)
	f.store.GrantRole(deputy.ID, f.store.UserRoles(f.admin.ID)[0])

	repo := &racingRepo{RepositoryPort: f.store.Users()}
	repo.compete = func(ctx context.Context) {
		_, err := f.store.Users().UpdateStatus(ctx, deputy.ID, users.StatusSuspended)
		require.NoError(t, err)
	}
	service := users.NewService(repo, rbac.NewResolver(f.store.RBAC()), f.notifier, nil, nil)

	_, err := service.SetStatus(ctx, f.admin.ID, f.admin.ID, "suspended")
	require.ErrorIs(t, err, shared.ErrConflict)

	status, err := service.Status(ctx, f.admin.ID)
	require.NoError(t, err)
	require.Equal(t, users.StatusApproved, status)
	status, err = service.Status(ctx, deputy.ID)
	require.NoError(t, err)
	require.Equal(t, users.StatusSuspended, status)
	require.Empty(t, f.notifier.sent)
}

func TestListApproved(t *testing.T) {
	f := newUsersFixture(t)
	list, err := f.service.ListApproved(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, f.admin.ID, list[0].ID)

	all, err := f.service.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
}
