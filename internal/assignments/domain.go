// Package assignments places users into roles on projects under the
// assignable matrix.
package assignments

import (
	"fmt"
	"strings"
	"time"

	"github.com/projectdesk/projectdesk/internal/shared"
)

// Mode selects how Assign treats existing holders of the role.
type Mode string

const (
	// ModeSingleSlot replaces every holder of (project, role) with the target.
	ModeSingleSlot Mode = "single_slot"
	// ModeMultiMember adds the target unless the exact triple already exists.
	ModeMultiMember Mode = "multi_member"
)

// ParseMode validates a mode string. Empty means single slot.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ModeSingleSlot:
		return ModeSingleSlot, nil
	case ModeMultiMember:
		return ModeMultiMember, nil
	default:
		return "", fmt.Errorf("assignments: unknown mode %q: %w", raw, shared.ErrInvalidInput)
	}
}

// Outcome describes what an assignment call changed.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeReplaced  Outcome = "replaced"
	OutcomeCleared   Outcome = "cleared"
	OutcomeUnchanged Outcome = "unchanged"
)

// Assignment is a user holding a role on a project.
type Assignment struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	UserID    int64     `json:"user_id"`
	RoleID    int64     `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Member is an assignment joined with user and role names.
type Member struct {
	Assignment
	UserName  string `json:"user_name"`
	UserEmail string `json:"user_email"`
	RoleName  string `json:"role_name"`
}

// AssignInput describes one assignment request. A nil or zero TargetUserID
// clears a single slot.
type AssignInput struct {
	ActingUserID int64
	ProjectID    int64
	TargetUserID *int64
	TargetRoleID int64
	Mode         Mode
}

func (in AssignInput) target() (int64, bool) {
	if in.TargetUserID == nil || *in.TargetUserID == 0 {
		return 0, false
	}
	return *in.TargetUserID, true
}

// Result reports the outcome and the assignment now filling the slot, if any.
type Result struct {
	Outcome    Outcome     `json:"outcome"`
	Assignment *Assignment `json:"assignment,omitempty"`
}
