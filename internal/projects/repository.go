package projects

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/projectdesk/projectdesk/internal/platform/db"
	"github.com/projectdesk/projectdesk/internal/shared"
)

// Repository describes project persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (Project, error)
	Exists(ctx context.Context, id int64) (bool, error)
	Create(ctx context.Context, p Project) (Project, error)
	ListAll(ctx context.Context) ([]Project, error)
	ListVisibleTo(ctx context.Context, userID int64) ([]Project, error)
	HasAssignment(ctx context.Context, projectID, userID int64) (bool, error)
	Purge(ctx context.Context, projectID int64, step CascadeStep) (int64, error)
}

var purgeStatements = map[CascadeStep]string{
	StepDocumentFiles: `DELETE FROM project_document_files
WHERE document_id IN (SELECT id FROM project_documents WHERE project_id = $1)`,
	StepApprovalOwners: `DELETE FROM approval_owners
WHERE document_id IN (SELECT id FROM project_documents WHERE project_id = $1)`,
	StepApprovalSteps: `DELETE FROM approval_steps
WHERE document_id IN (SELECT id FROM project_documents WHERE project_id = $1)`,
	StepDocuments:        `DELETE FROM project_documents WHERE project_id = $1`,
	StepAllowedTemplates: `DELETE FROM project_allowed_templates WHERE project_id = $1`,
	StepAssignments:      `DELETE FROM assignments WHERE project_id = $1`,
	StepProject:          `DELETE FROM projects WHERE id = $1`,
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

// WithTx wraps callback in repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PGRepository{db: tx})
	})
}

const projectColumns = `id, name, methodology, owner_id, created_at`

// Get fetches a project by ID.
func (r *PGRepository) Get(ctx context.Context, id int64) (Project, error) {
	var p Project
	err := r.db.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Methodology, &p.OwnerID, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Project{}, fmt.Errorf("projects: project %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return Project{}, fmt.Errorf("projects: get: %w", err)
	}
	return p, nil
}

// Exists reports whether the project id resolves.
func (r *PGRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("projects: exists: %w", err)
	}
	return exists, nil
}

// Create inserts a project.
func (r *PGRepository) Create(ctx context.Context, p Project) (Project, error) {
	err := r.db.QueryRow(ctx, `INSERT INTO projects (name, methodology, owner_id) VALUES ($1, $2, $3)
RETURNING `+projectColumns, p.Name, p.Methodology, p.OwnerID).
		Scan(&p.ID, &p.Name, &p.Methodology, &p.OwnerID, &p.CreatedAt)
	if db.IsForeignKeyViolation(err) {
		return Project{}, fmt.Errorf("projects: owner %d: %w", p.OwnerID, shared.ErrNotFound)
	}
	if err != nil {
		return Project{}, fmt.Errorf("projects: create: %w", err)
	}
	return p, nil
}

// ListAll returns every project, newest first.
func (r *PGRepository) ListAll(ctx context.Context) ([]Project, error) {
	rows, err := r.db.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("projects: list all: %w", err)
	}
	return pgx.CollectRows(rows, scanProject)
}

// ListVisibleTo returns projects the user owns or is assigned to, newest first.
func (r *PGRepository) ListVisibleTo(ctx context.Context, userID int64) ([]Project, error) {
	rows, err := r.db.Query(ctx, `SELECT `+projectColumns+` FROM projects p
WHERE p.owner_id = $1
   OR EXISTS (SELECT 1 FROM assignments a WHERE a.project_id = p.id AND a.user_id = $1)
ORDER BY p.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("projects: list visible: %w", err)
	}
	return pgx.CollectRows(rows, scanProject)
}

// HasAssignment reports whether the user holds any role on the project.
func (r *PGRepository) HasAssignment(ctx context.Context, projectID, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM assignments WHERE project_id = $1 AND user_id = $2)`,
		projectID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("projects: has assignment: %w", err)
	}
	return exists, nil
}

// Purge runs one cascade step and returns the number of rows removed.
func (r *PGRepository) Purge(ctx context.Context, projectID int64, step CascadeStep) (int64, error) {
	stmt, ok := purgeStatements[step]
	if !ok {
		return 0, fmt.Errorf("projects: unknown cascade step %q: %w", step, shared.ErrInvalidInput)
	}
	tag, err := r.db.Exec(ctx, stmt, projectID)
	if err != nil {
		return 0, fmt.Errorf("projects: purge %s: %w", step, err)
	}
	return tag.RowsAffected(), nil
}

func scanProject(row pgx.CollectableRow) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.Methodology, &p.OwnerID, &p.CreatedAt)
	return p, err
}
