package shared

import (
	"strings"

	"golang.org/x/text/cases"
)

// Feature names gating actions across the application.
const (
	FeatureCreateProject  = "create_project"
	FeatureAddDocument    = "add_document"
	FeatureAssignMembers  = "assign_members"
	FeatureCreateArtifact = "create_artifact"
	FeatureCreateRole     = "create_role"
	FeatureAdminPanel     = "admin_panel"
)

// RoleAdmin is the role name that marks a holder as admin regardless of case.
const RoleAdmin = "admin"

// DefaultAdminGateFeature is the feature that overrides project membership checks.
const DefaultAdminGateFeature = FeatureCreateRole

// FeatureDef describes a seeded feature.
type FeatureDef struct {
	Name        string
	Description string
}

// CoreFeatures lists every feature known to the platform.
func CoreFeatures() []FeatureDef {
	return []FeatureDef{
		{Name: FeatureCreateProject, Description: "Create new projects (PM)"},
		{Name: FeatureAddDocument, Description: "Add business documents (BA)"},
		{Name: FeatureAssignMembers, Description: "Assign team members to a project (Managers)"},
		{Name: FeatureCreateArtifact, Description: "Manage document templates (Admin/PMO)"},
		{Name: FeatureCreateRole, Description: "Admin panel: roles & permissions"},
		{Name: FeatureAdminPanel, Description: "Admin dashboard access"},
	}
}

// FoldName normalises role and feature names for case-insensitive comparison.
func FoldName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// IsAdminRoleName reports whether a role name designates the admin role.
func IsAdminRoleName(name string) bool {
	return FoldName(name) == RoleAdmin
}
