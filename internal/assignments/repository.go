package assignments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/projectdesk/projectdesk/internal/platform/db"
	"github.com/projectdesk/projectdesk/internal/shared"
)

// Repository describes assignment persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (Assignment, error)
	ListForProject(ctx context.Context, projectID int64) ([]Member, error)
	ListSlot(ctx context.Context, projectID, roleID int64) ([]Assignment, error)
	Exists(ctx context.Context, projectID, userID, roleID int64) (bool, error)
	Insert(ctx context.Context, a Assignment) (Assignment, error)
	DeleteSlot(ctx context.Context, projectID, roleID int64) (int64, error)
	Delete(ctx context.Context, id int64) error
}

// PGRepository is the PostgreSQL backed Repository.
type PGRepository struct {
	pool *pgxpool.Pool
	db   db.DBTX
}

// NewRepository constructs a repository over the pool.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, db: pool}
}

// WithTx wraps callback in a serializable transaction so concurrent slot
// replacements cannot both insert into an empty slot.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}
	return db.WithTxIsolation(ctx, r.pool, pgx.Serializable, func(tx pgx.Tx) error {
		return fn(ctx, &PGRepository{db: tx})
	})
}

const assignmentColumns = `id, project_id, user_id, role_id, created_at`

// Get fetches an assignment by ID.
func (r *PGRepository) Get(ctx context.Context, id int64) (Assignment, error) {
	var a Assignment
	err := r.db.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id).
		Scan(&a.ID, &a.ProjectID, &a.UserID, &a.RoleID, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, fmt.Errorf("assignments: assignment %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return Assignment{}, fmt.Errorf("assignments: get: %w", err)
	}
	return a, nil
}

// ListForProject returns project members with names, ordered by role then user.
func (r *PGRepository) ListForProject(ctx context.Context, projectID int64) ([]Member, error) {
	rows, err := r.db.Query(ctx, `SELECT a.id, a.project_id, a.user_id, a.role_id, a.created_at, u.name, u.email, ro.name
FROM assignments a
JOIN users u ON u.id = a.user_id
JOIN roles ro ON ro.id = a.role_id
WHERE a.project_id = $1
ORDER BY ro.name, u.name, a.id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("assignments: list for project: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Member, error) {
		var m Member
		err := row.Scan(&m.ID, &m.ProjectID, &m.UserID, &m.RoleID, &m.CreatedAt, &m.UserName, &m.UserEmail, &m.RoleName)
		return m, err
	})
}

// ListSlot returns every holder of (project, role).
func (r *PGRepository) ListSlot(ctx context.Context, projectID, roleID int64) ([]Assignment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+assignmentColumns+` FROM assignments
WHERE project_id = $1 AND role_id = $2 ORDER BY id`, projectID, roleID)
	if err != nil {
		return nil, fmt.Errorf("assignments: list slot: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Assignment, error) {
		var a Assignment
		err := row.Scan(&a.ID, &a.ProjectID, &a.UserID, &a.RoleID, &a.CreatedAt)
		return a, err
	})
}

// Exists reports whether the exact triple is present.
func (r *PGRepository) Exists(ctx context.Context, projectID, userID, roleID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (
  SELECT 1 FROM assignments WHERE project_id = $1 AND user_id = $2 AND role_id = $3
)`, projectID, userID, roleID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("assignments: exists: %w", err)
	}
	return exists, nil
}

// Insert stores a new assignment.
func (r *PGRepository) Insert(ctx context.Context, a Assignment) (Assignment, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO assignments (project_id, user_id, role_id) VALUES ($1, $2, $3)
RETURNING `+assignmentColumns, a.ProjectID, a.UserID, a.RoleID).
		Scan(&a.ID, &a.ProjectID, &a.UserID, &a.RoleID, &a.CreatedAt)
	switch {
	case err == nil:
		return a, nil
	case db.IsUniqueViolation(err):
		return Assignment{}, fmt.Errorf("assignments: insert: %w", shared.ErrConflict)
	case db.IsForeignKeyViolation(err):
		return Assignment{}, fmt.Errorf("assignments: insert: %w", shared.ErrNotFound)
	default:
		return Assignment{}, fmt.Errorf("assignments: insert: %w", err)
	}
}

// DeleteSlot removes every holder of (project, role).
func (r *PGRepository) DeleteSlot(ctx context.Context, projectID, roleID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM assignments WHERE project_id = $1 AND role_id = $2`, projectID, roleID)
	if err != nil {
		return 0, fmt.Errorf("assignments: delete slot: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Delete removes one assignment.
func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM assignments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("assignments: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("assignments: assignment %d: %w", id, shared.ErrNotFound)
	}
	return nil
}
