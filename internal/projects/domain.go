// Package projects owns projects, their access gate and the deletion cascade.
package projects

import (
	"strings"
	"time"
)

// DefaultMethodology is used when a project is created without one.
const DefaultMethodology = "waterfall"

// Project is owned by exactly one user.
type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Methodology string    `json:"methodology"`
	OwnerID     int64     `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// CascadeStep names one group of rows removed when a project is deleted.
type CascadeStep string

const (
	StepDocumentFiles    CascadeStep = "document_files"
	StepApprovalOwners   CascadeStep = "approval_owners"
	StepApprovalSteps    CascadeStep = "approval_steps"
	StepDocuments        CascadeStep = "documents"
	StepAllowedTemplates CascadeStep = "allowed_templates"
	StepAssignments      CascadeStep = "assignments"
	StepProject          CascadeStep = "project"
)

// CascadeOrder lists deletion steps children first.
var CascadeOrder = []CascadeStep{
	StepDocumentFiles,
	StepApprovalOwners,
	StepApprovalSteps,
	StepDocuments,
	StepAllowedTemplates,
	StepAssignments,
	StepProject,
}

func normalizeMethodology(m string) string {
	m = strings.ToLower(strings.TrimSpace(m))
	if m == "" {
		return DefaultMethodology
	}
	return m
}
