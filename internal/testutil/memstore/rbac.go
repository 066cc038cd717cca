package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/projectdesk/projectdesk/internal/rbac"
	"github.com/projectdesk/projectdesk/internal/shared"
	"github.com/projectdesk/projectdesk/internal/users"
)

// RBACRepo implements rbac.Repository.
type RBACRepo struct{ view }

var _ rbac.Repository = (*RBACRepo)(nil)

func (r *RBACRepo) WithTx(ctx context.Context, fn func(context.Context, rbac.Repository) error) error {
	return r.withTx(func(v view) error { return fn(ctx, &RBACRepo{v}) })
}

func (r *RBACRepo) RolesForUser(_ context.Context, userID int64) ([]rbac.Role, error) {
	var out []rbac.Role
	err := r.do("RolesForUser", func(st *state) error {
		for k := range st.userRoles {
			if k[0] == userID {
				out = append(out, st.roles[k[1]])
			}
		}
		slices.SortFunc(out, func(a, b rbac.Role) int { return cmp.Compare(a.ID, b.ID) })
		return nil
	})
	return out, err
}

func (r *RBACRepo) RolePermissionNames(_ context.Context, roleIDs []int64) ([]string, error) {
	var out []string
	err := r.do("RolePermissionNames", func(st *state) error {
		seen := map[string]bool{}
		for k := range st.rolePerms {
			if slices.Contains(roleIDs, k[0]) {
				name := st.perms[k[1]].Name
				if !seen[name] {
					seen[name] = true
					out = append(out, name)
				}
			}
		}
		slices.Sort(out)
		return nil
	})
	return out, err
}

func (r *RBACRepo) UserPermissionNames(_ context.Context, userID int64) ([]string, error) {
	var out []string
	err := r.do("UserPermissionNames", func(st *state) error {
		for k := range st.userPerms {
			if k[0] == userID {
				out = append(out, st.perms[k[1]].Name)
			}
		}
		slices.Sort(out)
		return nil
	})
	return out, err
}

func (r *RBACRepo) ListRoles(_ context.Context) ([]rbac.Role, error) {
	var out []rbac.Role
	err := r.do("ListRoles", func(st *state) error {
		out = sortedRoles(st)
		return nil
	})
	return out, err
}

func (r *RBACRepo) GetRole(_ context.Context, id int64) (rbac.Role, error) {
	var out rbac.Role
	err := r.do("GetRole", func(st *state) error {
		role, ok := st.roles[id]
		if !ok {
			return notFound("role", id)
		}
		out = role
		return nil
	})
	return out, err
}

func (r *RBACRepo) FindRoleByName(_ context.Context, name string) (rbac.Role, error) {
	var out rbac.Role
	err := r.do("FindRoleByName", func(st *state) error {
		role, ok := st.roleByName(name)
		if !ok {
			return fmt.Errorf("memstore: role %q: %w", name, shared.ErrNotFound)
		}
		out = role
		return nil
	})
	return out, err
}

func (r *RBACRepo) CreateRole(_ context.Context, name string) (rbac.Role, error) {
	var out rbac.Role
	err := r.do("CreateRole", func(st *state) error {
		if _, dup := st.roleByName(name); dup {
			return fmt.Errorf("memstore: role %q: %w", name, shared.ErrConflict)
		}
		now := time.Now().UTC()
		out = rbac.Role{ID: st.nextID(), Name: name, CreatedAt: now, UpdatedAt: now}
		st.roles[out.ID] = out
		return nil
	})
	return out, err
}

func (r *RBACRepo) RenameRole(_ context.Context, id int64, name string) (rbac.Role, error) {
	var out rbac.Role
	err := r.do("RenameRole", func(st *state) error {
		role, ok := st.roles[id]
		if !ok {
			return notFound("role", id)
		}
		if other, dup := st.roleByName(name); dup && other.ID != id {
			return fmt.Errorf("memstore: role %q: %w", name, shared.ErrConflict)
		}
		role.Name = name
		role.UpdatedAt = time.Now().UTC()
		st.roles[id] = role
		out = role
		return nil
	})
	return out, err
}

func (r *RBACRepo) DeleteRole(_ context.Context, id int64) error {
	return r.do("DeleteRole", func(st *state) error {
		if _, ok := st.roles[id]; !ok {
			return notFound("role", id)
		}
		for k := range st.userRoles {
			if k[1] == id {
				return fmt.Errorf("memstore: role %d held: %w", id, shared.ErrConflict)
			}
		}
		delete(st.roles, id)
		for k := range st.rolePerms {
			if k[0] == id {
				delete(st.rolePerms, k)
			}
		}
		for rule := range st.rules {
			if rule.ManagerRoleID == id || rule.TargetRoleID == id {
				delete(st.rules, rule)
			}
		}
		return nil
	})
}

func (r *RBACRepo) CountRoleHolders(_ context.Context, roleID int64) (int, error) {
	var n int
	err := r.do("CountRoleHolders", func(st *state) error {
		for k := range st.userRoles {
			if k[1] == roleID {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *RBACRepo) ListPermissions(_ context.Context) ([]rbac.Permission, error) {
	var out []rbac.Permission
	err := r.do("ListPermissions", func(st *state) error {
		for _, p := range st.perms {
			out = append(out, p)
		}
		slices.SortFunc(out, func(a, b rbac.Permission) int { return strings.Compare(a.Name, b.Name) })
		return nil
	})
	return out, err
}

func (r *RBACRepo) GetPermission(_ context.Context, id int64) (rbac.Permission, error) {
	var out rbac.Permission
	err := r.do("GetPermission", func(st *state) error {
		p, ok := st.perms[id]
		if !ok {
			return notFound("permission", id)
		}
		out = p
		return nil
	})
	return out, err
}

func (r *RBACRepo) FindPermissionByName(_ context.Context, name string) (rbac.Permission, error) {
	var out rbac.Permission
	err := r.do("FindPermissionByName", func(st *state) error {
		p, ok := st.permByName(name)
		if !ok {
			return fmt.Errorf("memstore: permission %q: %w", name, shared.ErrNotFound)
		}
		out = p
		return nil
	})
	return out, err
}

func (r *RBACRepo) CreatePermission(_ context.Context, name, description string) (rbac.Permission, error) {
	var out rbac.Permission
	err := r.do("CreatePermission", func(st *state) error {
		if _, dup := st.permByName(name); dup {
			return fmt.Errorf("memstore: permission %q: %w", name, shared.ErrConflict)
		}
		out = rbac.Permission{ID: st.nextID(), Name: name, Description: description}
		st.perms[out.ID] = out
		return nil
	})
	return out, err
}

func (r *RBACRepo) UpsertPermission(_ context.Context, name, description string) (rbac.Permission, error) {
	var out rbac.Permission
	err := r.do("UpsertPermission", func(st *state) error {
		if p, ok := st.permByName(name); ok {
			p.Description = description
			st.perms[p.ID] = p
			out = p
			return nil
		}
		out = rbac.Permission{ID: st.nextID(), Name: name, Description: description}
		st.perms[out.ID] = out
		return nil
	})
	return out, err
}

func (r *RBACRepo) ListRoleGrants(_ context.Context) ([]rbac.RoleGrant, error) {
	var out []rbac.RoleGrant
	err := r.do("ListRoleGrants", func(st *state) error {
		for k := range st.rolePerms {
			out = append(out, rbac.RoleGrant{RoleID: k[0], PermissionID: k[1]})
		}
		slices.SortFunc(out, func(a, b rbac.RoleGrant) int {
			return cmp.Or(cmp.Compare(a.RoleID, b.RoleID), cmp.Compare(a.PermissionID, b.PermissionID))
		})
		return nil
	})
	return out, err
}

func (r *RBACRepo) GrantRolePermission(_ context.Context, roleID, permissionID int64) error {
	return r.do("GrantRolePermission", func(st *state) error {
		if _, ok := st.roles[roleID]; !ok {
			return fmt.Errorf("memstore: role %d: %w", roleID, shared.ErrConflict)
		}
		if _, ok := st.perms[permissionID]; !ok {
			return fmt.Errorf("memstore: permission %d: %w", permissionID, shared.ErrConflict)
		}
		st.rolePerms[pair{roleID, permissionID}] = true
		return nil
	})
}

func (r *RBACRepo) RevokeRolePermission(_ context.Context, roleID, permissionID int64) error {
	return r.do("RevokeRolePermission", func(st *state) error {
		delete(st.rolePerms, pair{roleID, permissionID})
		return nil
	})
}

func (r *RBACRepo) ListUserPermissions(_ context.Context, userID int64) ([]rbac.Permission, error) {
	var out []rbac.Permission
	err := r.do("ListUserPermissions", func(st *state) error {
		for k := range st.userPerms {
			if k[0] == userID {
				out = append(out, st.perms[k[1]])
			}
		}
		slices.SortFunc(out, func(a, b rbac.Permission) int { return strings.Compare(a.Name, b.Name) })
		return nil
	})
	return out, err
}

func (r *RBACRepo) GrantUserPermission(_ context.Context, userID, permissionID int64) error {
	return r.do("GrantUserPermission", func(st *state) error {
		if _, ok := st.users[userID]; !ok {
			return fmt.Errorf("memstore: user %d: %w", userID, shared.ErrConflict)
		}
		if _, ok := st.perms[permissionID]; !ok {
			return fmt.Errorf("memstore: permission %d: %w", permissionID, shared.ErrConflict)
		}
		st.userPerms[pair{userID, permissionID}] = true
		return nil
	})
}

func (r *RBACRepo) RevokeUserPermission(_ context.Context, userID, permissionID int64) error {
	return r.do("RevokeUserPermission", func(st *state) error {
		delete(st.userPerms, pair{userID, permissionID})
		return nil
	})
}

func (r *RBACRepo) UserExists(_ context.Context, userID int64) (bool, error) {
	var ok bool
	err := r.do("UserExists", func(st *state) error {
		_, ok = st.users[userID]
		return nil
	})
	return ok, err
}

func (r *RBACRepo) AssignUserRole(_ context.Context, userID, roleID int64) error {
	return r.do("AssignUserRole", func(st *state) error {
		if _, ok := st.users[userID]; !ok {
			return notFound("user", userID)
		}
		if _, ok := st.roles[roleID]; !ok {
			return notFound("role", roleID)
		}
		st.userRoles[pair{userID, roleID}] = true
		return nil
	})
}

func (r *RBACRepo) RemoveUserRole(_ context.Context, userID, roleID int64) error {
	return r.do("RemoveUserRole", func(st *state) error {
		delete(st.userRoles, pair{userID, roleID})
		return nil
	})
}

func (r *RBACRepo) ApprovedAdmins(_ context.Context) ([]int64, error) {
	var out []int64
	err := r.do("ApprovedAdmins", func(st *state) error {
		for k := range st.userRoles {
			if shared.IsAdminRoleName(st.roles[k[1]].Name) && st.users[k[0]].Status == users.StatusApproved {
				out = append(out, k[0])
			}
		}
		sortInt64(out)
		return nil
	})
	return out, err
}

func sortedRoles(st *state) []rbac.Role {
	out := make([]rbac.Role, 0, len(st.roles))
	for _, role := range st.roles {
		out = append(out, role)
	}
	slices.SortFunc(out, func(a, b rbac.Role) int {
		return cmp.Or(strings.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func sortInt64(ids []int64) {
	slices.Sort(ids)
}
