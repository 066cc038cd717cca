package rbac

import (
	"slices"
	"time"

	"github.com/projectdesk/projectdesk/internal/shared"
)

// Role represents a named bundle of permissions.
type Role struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Permission represents an atomic capability, also called a feature.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RoleGrant ties a permission to a role.
type RoleGrant struct {
	RoleID       int64 `json:"role_id"`
	PermissionID int64 `json:"permission_id"`
}

// Grants is the resolved authorization state of one user. It is computed once
// per request and consulted by every check in that request.
type Grants struct {
	UserID      int64    `json:"user_id"`
	RoleIDs     []int64  `json:"role_ids"`
	RoleNames   []string `json:"role_names"`
	Permissions []string `json:"permissions"`
	// Degraded marks grants built without role-permission data. Only the
	// role-name admin check is meaningful for them.
	Degraded bool `json:"-"`
}

// Has reports whether the effective set contains the feature, ignoring case.
func (g Grants) Has(feature string) bool {
	want := shared.FoldName(feature)
	if want == "" {
		return false
	}
	for _, p := range g.Permissions {
		if shared.FoldName(p) == want {
			return true
		}
	}
	return false
}

// AdminLike reports whether the user has create_role or admin_panel, or holds
// a role named admin.
func (g Grants) AdminLike() bool {
	if g.Has(shared.FeatureCreateRole) || g.Has(shared.FeatureAdminPanel) {
		return true
	}
	for _, name := range g.RoleNames {
		if shared.IsAdminRoleName(name) {
			return true
		}
	}
	return false
}

// HoldsRole reports whether the role id is among the held roles.
func (g Grants) HoldsRole(roleID int64) bool {
	return slices.Contains(g.RoleIDs, roleID)
}

// unionNames merges permission name lists into a sorted set. Names differing
// only in case collapse to the first spelling seen.
func unionNames(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, list := range lists {
		for _, name := range list {
			key := shared.FoldName(name)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}
