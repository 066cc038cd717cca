// Package matrix holds the manager-role to target-role rules that decide who
// may place users into which role on a project.
package matrix

import "github.com/projectdesk/projectdesk/internal/rbac"

// Rule declares that holders of ManagerRoleID may assign users into TargetRoleID.
type Rule struct {
	ManagerRoleID int64 `json:"manager_role_id"`
	TargetRoleID  int64 `json:"target_role_id"`
}

// View is the admin matrix: manager rows, target columns and the links between them.
type View struct {
	Managers []rbac.Role       `json:"managers"`
	Targets  []rbac.Role       `json:"targets"`
	Links    map[int64][]int64 `json:"links"`
}
