package matrix

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/projectdesk/projectdesk/internal/platform/db"
	"github.com/projectdesk/projectdesk/internal/rbac"
	"github.com/projectdesk/projectdesk/internal/shared"
)

// Repository describes assignable rule persistence.
type Repository interface {
	ListRules(ctx context.Context) ([]Rule, error)
	HasRule(ctx context.Context, managerRoleIDs []int64, targetRoleID int64) (bool, error)
	TargetsFor(ctx context.Context, managerRoleIDs []int64) ([]int64, error)
	Link(ctx context.Context, rule Rule) error
	Unlink(ctx context.Context, rule Rule) error
	RoleExists(ctx context.Context, roleID int64) (bool, error)
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	RolesWithFeature(ctx context.Context, feature string) ([]rbac.Role, error)
}

// PGRepository is the PostgreSQL backed Repository.
type PGRepository struct {
	db db.DBTX
}

// NewRepository constructs a repository over the pool.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{db: pool}
}

// ListRules returns every rule ordered by manager then target.
func (r *PGRepository) ListRules(ctx context.Context) ([]Rule, error) {
	rows, err := r.db.Query(ctx, `SELECT manager_role_id, target_role_id FROM role_assignables
ORDER BY manager_role_id, target_role_id`)
	if err != nil {
		return nil, fmt.Errorf("matrix: list rules: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Rule, error) {
		var rule Rule
		err := row.Scan(&rule.ManagerRoleID, &rule.TargetRoleID)
		return rule, err
	})
}

// HasRule reports whether any of the manager roles links to the target.
func (r *PGRepository) HasRule(ctx context.Context, managerRoleIDs []int64, targetRoleID int64) (bool, error) {
	if len(managerRoleIDs) == 0 {
		return false, nil
	}
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (
  SELECT 1 FROM role_assignables WHERE manager_role_id = ANY($1) AND target_role_id = $2
)`, managerRoleIDs, targetRoleID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("matrix: has rule: %w", err)
	}
	return exists, nil
}

// TargetsFor lists target roles reachable from any of the manager roles.
func (r *PGRepository) TargetsFor(ctx context.Context, managerRoleIDs []int64) ([]int64, error) {
	if len(managerRoleIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT DISTINCT target_role_id FROM role_assignables
WHERE manager_role_id = ANY($1) ORDER BY target_role_id`, managerRoleIDs)
	if err != nil {
		return nil, fmt.Errorf("matrix: targets for: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// Link stores a rule; existing rules are left untouched.
func (r *PGRepository) Link(ctx context.Context, rule Rule) error {
	_, err := r.db.Exec(ctx, `INSERT INTO role_assignables (manager_role_id, target_role_id) VALUES ($1, $2)
ON CONFLICT DO NOTHING`, rule.ManagerRoleID, rule.TargetRoleID)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("matrix: link: %w", shared.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("matrix: link: %w", err)
	}
	return nil
}

// Unlink removes a rule if present.
func (r *PGRepository) Unlink(ctx context.Context, rule Rule) error {
	_, err := r.db.Exec(ctx, `DELETE FROM role_assignables WHERE manager_role_id = $1 AND target_role_id = $2`,
		rule.ManagerRoleID, rule.TargetRoleID)
	if err != nil {
		return fmt.Errorf("matrix: unlink: %w", err)
	}
	return nil
}

// RoleExists reports whether the role id resolves.
func (r *PGRepository) RoleExists(ctx context.Context, roleID int64) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, roleID).Scan(&exists); err != nil {
		return false, fmt.Errorf("matrix: role exists: %w", err)
	}
	return exists, nil
}

// ListRoles returns all roles ordered by name.
func (r *PGRepository) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("matrix: list roles: %w", err)
	}
	return pgx.CollectRows(rows, scanRole)
}

// RolesWithFeature lists roles granted the named permission.
func (r *PGRepository) RolesWithFeature(ctx context.Context, feature string) ([]rbac.Role, error) {
	rows, err := r.db.Query(ctx, `SELECT r.id, r.name, r.created_at, r.updated_at
FROM roles r
JOIN role_permissions rp ON rp.role_id = r.id
JOIN permissions p ON p.id = rp.permission_id
WHERE LOWER(p.name) = LOWER($1)
ORDER BY r.name`, feature)
	if err != nil {
		return nil, fmt.Errorf("matrix: roles with feature: %w", err)
	}
	return pgx.CollectRows(rows, scanRole)
}

func scanRole(row pgx.CollectableRow) (rbac.Role, error) {
	var role rbac.Role
	err := row.Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}
