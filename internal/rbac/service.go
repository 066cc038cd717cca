package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/projectdesk/projectdesk/internal/shared"
)

// Invalidator drops cached grants after the role graph changes.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Service orchestrates role graph administration.
type Service struct {
	repo   Repository
	cache  Invalidator
	logger *slog.Logger
}

// NewService constructs a Service. cache may be nil.
func NewService(repo Repository, cache Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches a role by ID.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.repo.GetRole(ctx, id)
}

// CreateRole inserts a new role with a unique name.
func (s *Service) CreateRole(ctx context.Context, name string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("rbac: role name required: %w", shared.ErrInvalidInput)
	}
	var role Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := ensureRoleNameFree(ctx, tx, name, 0); err != nil {
			return err
		}
		var err error
		role, err = tx.CreateRole(ctx, name)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// RenameRole changes the name of an existing role.
func (s *Service) RenameRole(ctx context.Context, id int64, name string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("rbac: role name required: %w", shared.ErrInvalidInput)
	}
	var role Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		current, err := tx.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if err := ensureRoleNameFree(ctx, tx, name, id); err != nil {
			return err
		}
		// Renaming the admin role away would strip name-based admin status.
		if shared.IsAdminRoleName(current.Name) && !shared.IsAdminRoleName(name) {
			holders, err := tx.CountRoleHolders(ctx, id)
			if err != nil {
				return err
			}
			if holders > 0 {
				return fmt.Errorf("rbac: admin role is held by %d users: %w", holders, shared.ErrConflict)
			}
		}
		role, err = tx.RenameRole(ctx, id, name)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	s.invalidate(ctx)
	return role, nil
}

// DeleteRole removes a role that no user holds.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if _, err := tx.GetRole(ctx, id); err != nil {
			return err
		}
		holders, err := tx.CountRoleHolders(ctx, id)
		if err != nil {
			return err
		}
		if holders > 0 {
			return fmt.Errorf("rbac: role %d held by %d users: %w", id, holders, shared.ErrConflict)
		}
		return tx.DeleteRole(ctx, id)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// CreatePermission inserts a permission with a unique name.
func (s *Service) CreatePermission(ctx context.Context, name, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, fmt.Errorf("rbac: permission name required: %w", shared.ErrInvalidInput)
	}
	var perm Permission
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		_, err := tx.FindPermissionByName(ctx, name)
		switch {
		case err == nil:
			return fmt.Errorf("rbac: permission %q exists: %w", name, shared.ErrConflict)
		case !errors.Is(err, shared.ErrNotFound):
			return err
		}
		perm, err = tx.CreatePermission(ctx, name, strings.TrimSpace(description))
		return err
	})
	if err != nil {
		return Permission{}, err
	}
	return perm, nil
}

// EnsurePermission upserts a permission ensuring description is stored.
func (s *Service) EnsurePermission(ctx context.Context, name, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Permission{}, fmt.Errorf("rbac: permission name required: %w", shared.ErrInvalidInput)
	}
	return s.repo.UpsertPermission(ctx, name, strings.TrimSpace(description))
}

// GrantRolePermission attaches a permission to a role. Granting twice is a no-op.
func (s *Service) GrantRolePermission(ctx context.Context, roleID, permissionID int64) error {
	return s.mutateRoleGrant(ctx, roleID, permissionID, true)
}

// RevokeRolePermission detaches a permission from a role. Revoking a missing
// pair is a no-op.
func (s *Service) RevokeRolePermission(ctx context.Context, roleID, permissionID int64) error {
	return s.mutateRoleGrant(ctx, roleID, permissionID, false)
}

func (s *Service) mutateRoleGrant(ctx context.Context, roleID, permissionID int64, enabled bool) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if _, err := tx.GetRole(ctx, roleID); err != nil {
			return err
		}
		if _, err := tx.GetPermission(ctx, permissionID); err != nil {
			return err
		}
		if enabled {
			return tx.GrantRolePermission(ctx, roleID, permissionID)
		}
		return tx.RevokeRolePermission(ctx, roleID, permissionID)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// ApplyPermissionToAllRoles grants the permission to every role, or removes
// it from every role, in one transaction.
func (s *Service) ApplyPermissionToAllRoles(ctx context.Context, permissionID int64, enabled bool) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if _, err := tx.GetPermission(ctx, permissionID); err != nil {
			return err
		}
		roles, err := tx.ListRoles(ctx)
		if err != nil {
			return err
		}
		for _, role := range roles {
			if enabled {
				err = tx.GrantRolePermission(ctx, role.ID, permissionID)
			} else {
				err = tx.RevokeRolePermission(ctx, role.ID, permissionID)
			}
			if err != nil {
				return fmt.Errorf("rbac: apply permission %d to role %d: %w", permissionID, role.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// RolePermissionMatrix maps each role id to its granted permission ids.
func (s *Service) RolePermissionMatrix(ctx context.Context) (map[int64][]int64, error) {
	grants, err := s.repo.ListRoleGrants(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int64][]int64)
	for _, g := range grants {
		out[g.RoleID] = append(out[g.RoleID], g.PermissionID)
	}
	for roleID := range out {
		slices.Sort(out[roleID])
	}
	return out, nil
}

// ListUserPermissions returns the direct overrides of a user.
func (s *Service) ListUserPermissions(ctx context.Context, userID int64) ([]Permission, error) {
	return s.repo.ListUserPermissions(ctx, userID)
}

// GrantUserPermission adds a direct override. Overrides only ever add.
func (s *Service) GrantUserPermission(ctx context.Context, userID, permissionID int64) error {
	return s.mutateUserGrant(ctx, userID, permissionID, true)
}

// RevokeUserPermission removes a previously granted override. Role-derived
// permissions are unaffected.
func (s *Service) RevokeUserPermission(ctx context.Context, userID, permissionID int64) error {
	return s.mutateUserGrant(ctx, userID, permissionID, false)
}

func (s *Service) mutateUserGrant(ctx context.Context, userID, permissionID int64, enabled bool) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := ensureUser(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := tx.GetPermission(ctx, permissionID); err != nil {
			return err
		}
		if enabled {
			return tx.GrantUserPermission(ctx, userID, permissionID)
		}
		return tx.RevokeUserPermission(ctx, userID, permissionID)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// UserRoles lists the roles a user holds.
func (s *Service) UserRoles(ctx context.Context, userID int64) ([]Role, error) {
	return s.repo.RolesForUser(ctx, userID)
}

// AssignUserRole grants a role to a user. Assigning twice is a no-op.
func (s *Service) AssignUserRole(ctx context.Context, userID, roleID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := ensureUser(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := tx.GetRole(ctx, roleID); err != nil {
			return err
		}
		return tx.AssignUserRole(ctx, userID, roleID)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// RemoveUserRole revokes a role from a user. The admin role cannot be taken
// from the last approved holder.
func (s *Service) RemoveUserRole(ctx context.Context, userID, roleID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		role, err := tx.GetRole(ctx, roleID)
		if err != nil {
			return err
		}
		if shared.IsAdminRoleName(role.Name) {
			if err := ensureNotLastAdmin(ctx, tx, userID); err != nil {
				return err
			}
		}
		return tx.RemoveUserRole(ctx, userID, roleID)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

// SetUserRoles replaces the full role set of a user, applying the same
// last-admin rule as RemoveUserRole.
func (s *Service) SetUserRoles(ctx context.Context, userID int64, roleIDs []int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := ensureUser(ctx, tx, userID); err != nil {
			return err
		}
		current, err := tx.RolesForUser(ctx, userID)
		if err != nil {
			return err
		}
		want := make(map[int64]struct{}, len(roleIDs))
		for _, id := range roleIDs {
			if _, err := tx.GetRole(ctx, id); err != nil {
				return err
			}
			want[id] = struct{}{}
		}
		for _, role := range current {
			if _, keep := want[role.ID]; keep {
				delete(want, role.ID)
				continue
			}
			if shared.IsAdminRoleName(role.Name) {
				if err := ensureNotLastAdmin(ctx, tx, userID); err != nil {
					return err
				}
			}
			if err := tx.RemoveUserRole(ctx, userID, role.ID); err != nil {
				return err
			}
		}
		for id := range want {
			if err := tx.AssignUserRole(ctx, userID, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("rbac cache bump", slog.Any("error", err))
	}
}

func ensureRoleNameFree(ctx context.Context, tx Repository, name string, selfID int64) error {
	existing, err := tx.FindRoleByName(ctx, name)
	switch {
	case err == nil:
		if existing.ID == selfID {
			return nil
		}
		return fmt.Errorf("rbac: role %q exists: %w", name, shared.ErrConflict)
	case errors.Is(err, shared.ErrNotFound):
		return nil
	default:
		return err
	}
}

func ensureNotLastAdmin(ctx context.Context, tx Repository, userID int64) error {
	admins, err := tx.ApprovedAdmins(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(admins, userID) && len(admins) <= 1 {
		return fmt.Errorf("rbac: user %d is the last approved admin: %w", userID, shared.ErrConflict)
	}
	return nil
}

func ensureUser(ctx context.Context, tx Repository, userID int64) error {
	ok, err := tx.UserExists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("rbac: user %d: %w", userID, shared.ErrNotFound)
	}
	return nil
}
