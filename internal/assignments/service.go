package assignments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/projectdesk/projectdesk/internal/platform/db"
	"github.com/projectdesk/projectdesk/internal/shared"
	"github.com/projectdesk/projectdesk/internal/users"
)

// slotAttempts bounds retries of a replace that lost a serialization race.
const slotAttempts = 3

// Authorizer answers the assignable matrix.
type Authorizer interface {
	CanAssign(ctx context.Context, actingUserID, targetRoleID int64) bool
}

// UserDirectory exposes the approval status of users.
type UserDirectory interface {
	Status(ctx context.Context, userID int64) (users.Status, error)
}

// ProjectLookup confirms a project exists.
type ProjectLookup interface {
	Exists(ctx context.Context, projectID int64) (bool, error)
}

// RoleCatalog confirms a role exists.
type RoleCatalog interface {
	RoleExists(ctx context.Context, roleID int64) (bool, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Recorder observes assignment outcomes.
type Recorder interface {
	ObserveAssignment(mode, outcome string)
}

// Deps groups the collaborators of Service.
type Deps struct {
	Repo     Repository
	Authz    Authorizer
	Users    UserDirectory
	Projects ProjectLookup
	Roles    RoleCatalog
	Audit    AuditPort
	Recorder Recorder
	Logger   *slog.Logger
}

// Service enacts project role assignments.
type Service struct {
	repo     Repository
	authz    Authorizer
	users    UserDirectory
	projects ProjectLookup
	roles    RoleCatalog
	audit    AuditPort
	recorder Recorder
	logger   *slog.Logger
}

// NewService constructs assignment service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     deps.Repo,
		authz:    deps.Authz,
		users:    deps.Users,
		projects: deps.Projects,
		roles:    deps.Roles,
		audit:    deps.Audit,
		recorder: deps.Recorder,
		logger:   logger,
	}
}

// Assign places the target user into the role on the project. The acting
// user must be allowed to assign the role.
func (s *Service) Assign(ctx context.Context, in AssignInput) (Result, error) {
	mode, err := ParseMode(string(in.Mode))
	if err != nil {
		return Result{}, err
	}
	if in.ProjectID <= 0 || in.TargetRoleID <= 0 {
		return Result{}, fmt.Errorf("assignments: project and role required: %w", shared.ErrInvalidInput)
	}
	if err := s.ensureProject(ctx, in.ProjectID); err != nil {
		return Result{}, err
	}
	if err := s.ensureRole(ctx, in.TargetRoleID); err != nil {
		return Result{}, err
	}
	if !s.authz.CanAssign(ctx, in.ActingUserID, in.TargetRoleID) {
		s.observe(mode, "forbidden")
		return Result{}, fmt.Errorf("assignments: user %d may not assign role %d: %w", in.ActingUserID, in.TargetRoleID, shared.ErrForbidden)
	}
	targetID, hasTarget := in.target()
	if hasTarget {
		if err := s.ensureApproved(ctx, targetID); err != nil {
			return Result{}, err
		}
	} else if mode == ModeMultiMember {
		return Result{}, fmt.Errorf("assignments: target user required: %w", shared.ErrInvalidInput)
	}

	var result Result
	err = db.RetrySerializable(ctx, slotAttempts, func(ctx context.Context) error {
		var err error
		if mode == ModeSingleSlot {
			result, err = s.replaceSlot(ctx, in.ProjectID, in.TargetRoleID, targetID, hasTarget)
		} else {
			result, err = s.addMember(ctx, in.ProjectID, in.TargetRoleID, targetID)
		}
		return err
	})
	if err != nil {
		s.observe(mode, "error")
		return Result{}, err
	}
	s.observe(mode, string(result.Outcome))
	if result.Outcome != OutcomeUnchanged {
		meta := map[string]any{"role_id": in.TargetRoleID, "mode": string(mode), "outcome": string(result.Outcome)}
		if hasTarget {
			meta["user_id"] = targetID
		}
		s.record(ctx, in.ActingUserID, "assignment.assign", in.ProjectID, meta)
	}
	return result, nil
}

func (s *Service) replaceSlot(ctx context.Context, projectID, roleID, userID int64, fill bool) (Result, error) {
	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		removed, err := tx.DeleteSlot(ctx, projectID, roleID)
		if err != nil {
			return err
		}
		if !fill {
			result = Result{Outcome: OutcomeUnchanged}
			if removed > 0 {
				result.Outcome = OutcomeCleared
			}
			return nil
		}
		created, err := tx.Insert(ctx, Assignment{ProjectID: projectID, UserID: userID, RoleID: roleID})
		if err != nil {
			return err
		}
		result = Result{Outcome: OutcomeCreated, Assignment: &created}
		if removed > 0 {
			result.Outcome = OutcomeReplaced
		}
		return nil
	})
	return result, err
}

func (s *Service) addMember(ctx context.Context, projectID, roleID, userID int64) (Result, error) {
	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		exists, err := tx.Exists(ctx, projectID, userID, roleID)
		if err != nil {
			return err
		}
		if exists {
			result = Result{Outcome: OutcomeUnchanged}
			return nil
		}
		created, err := tx.Insert(ctx, Assignment{ProjectID: projectID, UserID: userID, RoleID: roleID})
		if err != nil {
			return err
		}
		result = Result{Outcome: OutcomeCreated, Assignment: &created}
		return nil
	})
	if errors.Is(err, shared.ErrConflict) {
		// A concurrent add of the same triple won.
		return Result{Outcome: OutcomeUnchanged}, nil
	}
	return result, err
}

// Unassign removes one assignment. The acting user must be allowed to assign
// its role.
func (s *Service) Unassign(ctx context.Context, actingUserID, assignmentID int64) error {
	a, err := s.repo.Get(ctx, assignmentID)
	if err != nil {
		return err
	}
	if !s.authz.CanAssign(ctx, actingUserID, a.RoleID) {
		return fmt.Errorf("assignments: user %d may not unassign role %d: %w", actingUserID, a.RoleID, shared.ErrForbidden)
	}
	if err := s.repo.Delete(ctx, assignmentID); err != nil {
		return err
	}
	s.record(ctx, actingUserID, "assignment.unassign", a.ProjectID, map[string]any{
		"assignment_id": a.ID,
		"user_id":       a.UserID,
		"role_id":       a.RoleID,
	})
	return nil
}

// UnassignFromProject is Unassign scoped to a project; assignments of other
// projects resolve as not found.
func (s *Service) UnassignFromProject(ctx context.Context, actingUserID, projectID, assignmentID int64) error {
	a, err := s.repo.Get(ctx, assignmentID)
	if err != nil {
		return err
	}
	if a.ProjectID != projectID {
		return fmt.Errorf("assignments: assignment %d not on project %d: %w", assignmentID, projectID, shared.ErrNotFound)
	}
	return s.Unassign(ctx, actingUserID, assignmentID)
}

// ListForProject returns project members with user and role names.
func (s *Service) ListForProject(ctx context.Context, projectID int64) ([]Member, error) {
	return s.repo.ListForProject(ctx, projectID)
}

// Slot returns the current holders of (project, role).
func (s *Service) Slot(ctx context.Context, projectID, roleID int64) ([]Assignment, error) {
	return s.repo.ListSlot(ctx, projectID, roleID)
}

func (s *Service) ensureProject(ctx context.Context, projectID int64) error {
	ok, err := s.projects.Exists(ctx, projectID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("assignments: project %d: %w", projectID, shared.ErrNotFound)
	}
	return nil
}

func (s *Service) ensureRole(ctx context.Context, roleID int64) error {
	ok, err := s.roles.RoleExists(ctx, roleID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("assignments: role %d: %w", roleID, shared.ErrNotFound)
	}
	return nil
}

func (s *Service) ensureApproved(ctx context.Context, userID int64) error {
	status, err := s.users.Status(ctx, userID)
	if errors.Is(err, shared.ErrNotFound) {
		return fmt.Errorf("assignments: target user %d unknown: %w", userID, shared.ErrInvalidInput)
	}
	if err != nil {
		return err
	}
	if status != users.StatusApproved {
		return fmt.Errorf("assignments: target user %d is %s: %w", userID, status, shared.ErrInvalidInput)
	}
	return nil
}

func (s *Service) observe(mode Mode, outcome string) {
	if s.recorder != nil {
		s.recorder.ObserveAssignment(string(mode), outcome)
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, projectID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "project",
		EntityID: strconv.FormatInt(projectID, 10),
		Meta:     meta,
	})
}
