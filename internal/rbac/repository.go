package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/projectdesk/projectdesk/internal/platform/db"
	"github.com/projectdesk/projectdesk/internal/shared"
)

// GrantsReader is the read side the Resolver needs.
type GrantsReader interface {
	RolesForUser(ctx context.Context, userID int64) ([]Role, error)
	RolePermissionNames(ctx context.Context, roleIDs []int64) ([]string, error)
	UserPermissionNames(ctx context.Context, userID int64) ([]string, error)
}

// Repository describes role graph persistence used by Service.
type Repository interface {
	GrantsReader
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error

	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	FindRoleByName(ctx context.Context, name string) (Role, error)
	CreateRole(ctx context.Context, name string) (Role, error)
	RenameRole(ctx context.Context, id int64, name string) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	CountRoleHolders(ctx context.Context, roleID int64) (int, error)

	ListPermissions(ctx context.Context) ([]Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	FindPermissionByName(ctx context.Context, name string) (Permission, error)
	CreatePermission(ctx context.Context, name, description string) (Permission, error)
	UpsertPermission(ctx context.Context, name, description string) (Permission, error)

	ListRoleGrants(ctx context.Context) ([]RoleGrant, error)
	GrantRolePermission(ctx context.Context, roleID, permissionID int64) error
	RevokeRolePermission(ctx context.Context, roleID, permissionID int64) error

	ListUserPermissions(ctx context.Context, userID int64) ([]Permission, error)
	GrantUserPermission(ctx context.Context, userID, permissionID int64) error
	RevokeUserPermission(ctx context.Context, userID, permissionID int64) error

	UserExists(ctx context.Context, userID int64) (bool, error)
	AssignUserRole(ctx context.Context, userID, roleID int64) error
	RemoveUserRole(ctx context.Context, userID, roleID int64) error
	// ApprovedAdmins returns the approved users holding the admin role,
	// locking their grants and user rows for the rest of the transaction.
	ApprovedAdmins(ctx context.Context) ([]int64, error)
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

// WithTx wraps callback in repeatable-read transaction. Nested calls reuse the
// outer transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	if r.pool == nil {
		return fn(ctx, r)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &PGRepository{db: tx})
	})
}

// RolesForUser lists the roles a user holds.
func (r *PGRepository) RolesForUser(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := r.db.Query(ctx, `SELECT r.id, r.name, r.created_at, r.updated_at
FROM user_roles ur JOIN roles r ON r.id = ur.role_id
WHERE ur.user_id = $1 ORDER BY r.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: roles for user: %w", err)
	}
	return pgx.CollectRows(rows, scanRole)
}

// RolePermissionNames returns permission names granted to any of the roles.
func (r *PGRepository) RolePermissionNames(ctx context.Context, roleIDs []int64) ([]string, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT DISTINCT p.name
FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id = ANY($1) ORDER BY p.name`, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("rbac: role permission names: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// UserPermissionNames returns names of direct overrides held by the user.
func (r *PGRepository) UserPermissionNames(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT p.name
FROM user_permissions up JOIN permissions p ON p.id = up.permission_id
WHERE up.user_id = $1 ORDER BY p.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: user permission names: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// ListRoles returns all roles ordered by name.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list roles: %w", err)
	}
	return pgx.CollectRows(rows, scanRole)
}

// GetRole fetches a role by ID.
func (r *PGRepository) GetRole(ctx context.Context, id int64) (Role, error) {
	row := r.db.QueryRow(ctx, `SELECT id, name, created_at, updated_at FROM roles WHERE id = $1`, id)
	return scanOneRole(row, "get role")
}

// FindRoleByName fetches a role by case-insensitive name.
func (r *PGRepository) FindRoleByName(ctx context.Context, name string) (Role, error) {
	row := r.db.QueryRow(ctx, `SELECT id, name, created_at, updated_at FROM roles WHERE LOWER(name) = LOWER($1)`, strings.TrimSpace(name))
	return scanOneRole(row, "find role")
}

// CreateRole inserts a new role.
func (r *PGRepository) CreateRole(ctx context.Context, name string) (Role, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO roles (name) VALUES ($1) RETURNING id, name, created_at, updated_at`, name)
	return scanOneRole(row, "create role")
}

// RenameRole updates the role name.
func (r *PGRepository) RenameRole(ctx context.Context, id int64, name string) (Role, error) {
	row := r.db.QueryRow(ctx, `UPDATE roles SET name = $2, updated_at = NOW() WHERE id = $1
RETURNING id, name, created_at, updated_at`, id, name)
	return scanOneRole(row, "rename role")
}

// DeleteRole removes a role. Held roles are protected by the foreign key.
func (r *PGRepository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return translate("delete role", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("rbac: role %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

// CountRoleHolders counts users holding the role.
func (r *PGRepository) CountRoleHolders(ctx context.Context, roleID int64) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM user_roles WHERE role_id = $1`, roleID).Scan(&count); err != nil {
		return 0, fmt.Errorf("rbac: count role holders: %w", err)
	}
	return count, nil
}

// ListPermissions returns all permissions ordered by name.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, description FROM permissions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list permissions: %w", err)
	}
	return pgx.CollectRows(rows, scanPermission)
}

// GetPermission fetches a permission by ID.
func (r *PGRepository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	row := r.db.QueryRow(ctx, `SELECT id, name, description FROM permissions WHERE id = $1`, id)
	return scanOnePermission(row, "get permission")
}

// FindPermissionByName fetches a permission by case-insensitive name.
func (r *PGRepository) FindPermissionByName(ctx context.Context, name string) (Permission, error) {
	row := r.db.QueryRow(ctx, `SELECT id, name, description FROM permissions WHERE LOWER(name) = LOWER($1)`, strings.TrimSpace(name))
	return scanOnePermission(row, "find permission")
}

// CreatePermission inserts a permission.
func (r *PGRepository) CreatePermission(ctx context.Context, name, description string) (Permission, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO permissions (name, description) VALUES ($1, $2)
RETURNING id, name, description`, name, description)
	return scanOnePermission(row, "create permission")
}

// UpsertPermission inserts a permission or refreshes its description.
func (r *PGRepository) UpsertPermission(ctx context.Context, name, description string) (Permission, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO permissions (name, description) VALUES ($1, $2)
ON CONFLICT ((LOWER(name))) DO UPDATE SET description = EXCLUDED.description
RETURNING id, name, description`, name, description)
	return scanOnePermission(row, "upsert permission")
}

// ListRoleGrants returns every role to permission pair.
func (r *PGRepository) ListRoleGrants(ctx context.Context) ([]RoleGrant, error) {
	rows, err := r.db.Query(ctx, `SELECT role_id, permission_id FROM role_permissions ORDER BY role_id, permission_id`)
	if err != nil {
		return nil, fmt.Errorf("rbac: list role grants: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (RoleGrant, error) {
		var g RoleGrant
		err := row.Scan(&g.RoleID, &g.PermissionID)
		return g, err
	})
}

// GrantRolePermission attaches a permission to a role.
func (r *PGRepository) GrantRolePermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.db.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
ON CONFLICT DO NOTHING`, roleID, permissionID)
	return translate("grant role permission", err)
}

// RevokeRolePermission detaches a permission from a role.
func (r *PGRepository) RevokeRolePermission(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	return translate("revoke role permission", err)
}

// ListUserPermissions returns the direct overrides of a user.
func (r *PGRepository) ListUserPermissions(ctx context.Context, userID int64) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT p.id, p.name, p.description
FROM user_permissions up JOIN permissions p ON p.id = up.permission_id
WHERE up.user_id = $1 ORDER BY p.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: list user permissions: %w", err)
	}
	return pgx.CollectRows(rows, scanPermission)
}

// GrantUserPermission adds a direct override.
func (r *PGRepository) GrantUserPermission(ctx context.Context, userID, permissionID int64) error {
	_, err := r.db.Exec(ctx, `INSERT INTO user_permissions (user_id, permission_id) VALUES ($1, $2)
ON CONFLICT DO NOTHING`, userID, permissionID)
	return translate("grant user permission", err)
}

// RevokeUserPermission removes a direct override.
func (r *PGRepository) RevokeUserPermission(ctx context.Context, userID, permissionID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2`, userID, permissionID)
	return translate("revoke user permission", err)
}

// UserExists reports whether the user id resolves.
func (r *PGRepository) UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("rbac: user exists: %w", err)
	}
	return exists, nil
}

// AssignUserRole grants a role to a user.
func (r *PGRepository) AssignUserRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.db.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("rbac: assign user role: %w", shared.ErrNotFound)
	}
	return translate("assign user role", err)
}

// RemoveUserRole revokes a role from a user.
func (r *PGRepository) RemoveUserRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	return translate("remove user role", err)
}

// ApprovedAdmins returns approved admin-role holders with their rows locked.
// Only approved holders count, matching the users status guard.
func (r *PGRepository) ApprovedAdmins(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT ur.user_id
FROM user_roles ur
JOIN roles r ON r.id = ur.role_id
JOIN users u ON u.id = ur.user_id
WHERE LOWER(r.name) = $1 AND u.status = 'approved'
ORDER BY ur.user_id
FOR UPDATE OF ur, u`, shared.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("rbac: approved admins: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func scanRole(row pgx.CollectableRow) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

func scanOneRole(row pgx.Row, op string) (Role, error) {
	var role Role
	if err := row.Scan(&role.ID, &role.Name, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return Role{}, translate(op, err)
	}
	return role, nil
}

func scanPermission(row pgx.CollectableRow) (Permission, error) {
	var perm Permission
	err := row.Scan(&perm.ID, &perm.Name, &perm.Description)
	return perm, err
}

func scanOnePermission(row pgx.Row, op string) (Permission, error) {
	var perm Permission
	if err := row.Scan(&perm.ID, &perm.Name, &perm.Description); err != nil {
		return Permission{}, translate(op, err)
	}
	return perm, nil
}

// translate maps storage errors onto the shared error kinds.
func translate(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("rbac: %s: %w", op, shared.ErrNotFound)
	case db.IsUniqueViolation(err), db.IsForeignKeyViolation(err):
		return fmt.Errorf("rbac: %s: %w: %v", op, shared.ErrConflict, err)
	default:
		return fmt.Errorf("rbac: %s: %w", op, err)
	}
}
