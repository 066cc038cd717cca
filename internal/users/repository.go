package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/projectdesk/projectdesk/internal/platform/db"
	"github.com/projectdesk/projectdesk/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, RepositoryPort) error) error
	ListUsers(ctx context.Context) ([]User, error)
	ListByStatus(ctx context.Context, status Status) ([]User, error)
	Get(ctx context.Context, id int64) (User, error)
	UpdateStatus(ctx context.Context, id int64, status Status) (User, error)
	// ApprovedAdmins returns approved users holding the admin role, locking
	// their role grants and user rows for the rest of the transaction.
	ApprovedAdmins(ctx context.Context) ([]int64, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
	db   db.DBTX
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, db: pool}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, RepositoryPort) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &Repository{db: tx})
	})
}

const userColumns = `id, email, name, status, created_at, updated_at`

// ListUsers returns all users.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("users: list: %w", err)
	}
	return pgx.CollectRows(rows, scanUser)
}

// ListByStatus returns users in the given status ordered by name.
func (r *Repository) ListByStatus(ctx context.Context, status Status) ([]User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE status = $1 ORDER BY name, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("users: list by status: %w", err)
	}
	return pgx.CollectRows(rows, scanUser)
}

// Get fetches a user by ID.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	rows, err := r.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return User{}, fmt.Errorf("users: get: %w", err)
	}
	user, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("users: user %d: %w", id, shared.ErrNotFound)
	}
	return user, err
}

// UpdateStatus changes the approval status.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status Status) (User, error) {
	rows, err := r.db.Query(ctx, `UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1
RETURNING `+userColumns, id, string(status))
	if err != nil {
		return User{}, fmt.Errorf("users: update status: %w", err)
	}
	user, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("users: user %d: %w", id, shared.ErrNotFound)
	}
	return user, err
}

// ApprovedAdmins returns approved admin-role holders, locking both their role
// grants and their user rows. A concurrent status change of another admin
// then fails this transaction with a serialization error.
func (r *Repository) ApprovedAdmins(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT ur.user_id
FROM user_roles ur
JOIN roles ro ON ro.id = ur.role_id
JOIN users u ON u.id = ur.user_id
WHERE LOWER(ro.name) = $1 AND u.status = $2
ORDER BY ur.user_id
FOR UPDATE OF ur, u`, shared.RoleAdmin, string(StatusApproved))
	if err != nil {
		return nil, fmt.Errorf("users: approved admins: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func scanUser(row pgx.CollectableRow) (User, error) {
	var (
		user   User
		status string
	)
	err := row.Scan(&user.ID, &user.Email, &user.Name, &status, &user.CreatedAt, &user.UpdatedAt)
	user.Status = Status(status)
	return user, err
}
