package matrix

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/projectdesk/projectdesk/internal/rbac"
	"github.com/projectdesk/projectdesk/internal/shared"
)

// GrantsSource resolves the acting user's roles and admin status.
type GrantsSource interface {
	Snapshot(ctx context.Context, userID int64) rbac.Grants
}

// Service answers and maintains the assignable matrix.
type Service struct {
	repo   Repository
	grants GrantsSource
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, grants GrantsSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, grants: grants, logger: logger}
}

// CanAssign reports whether the acting user may place someone into the target
// role. Admin-like users always may; everyone else needs a held role directly
// linked to the target. Lookup failures deny.
func (s *Service) CanAssign(ctx context.Context, actingUserID, targetRoleID int64) bool {
	grants := s.grants.Snapshot(ctx, actingUserID)
	if grants.AdminLike() {
		return true
	}
	if len(grants.RoleIDs) == 0 {
		return false
	}
	ok, err := s.repo.HasRule(ctx, grants.RoleIDs, targetRoleID)
	if err != nil {
		s.logger.Warn("matrix can assign", slog.Int64("user_id", actingUserID), slog.Int64("role_id", targetRoleID), slog.Any("error", err))
		return false
	}
	return ok
}

// Link stores a manager to target rule. Linking twice is a no-op.
func (s *Service) Link(ctx context.Context, managerRoleID, targetRoleID int64) error {
	rule := Rule{ManagerRoleID: managerRoleID, TargetRoleID: targetRoleID}
	if err := s.ensureRoles(ctx, rule); err != nil {
		return err
	}
	return s.repo.Link(ctx, rule)
}

// Unlink removes a manager to target rule. Unlinking a missing rule is a no-op.
func (s *Service) Unlink(ctx context.Context, managerRoleID, targetRoleID int64) error {
	rule := Rule{ManagerRoleID: managerRoleID, TargetRoleID: targetRoleID}
	if err := s.ensureRoles(ctx, rule); err != nil {
		return err
	}
	return s.repo.Unlink(ctx, rule)
}

// Toggle links or unlinks depending on enabled.
func (s *Service) Toggle(ctx context.Context, managerRoleID, targetRoleID int64, enabled bool) error {
	if enabled {
		return s.Link(ctx, managerRoleID, targetRoleID)
	}
	return s.Unlink(ctx, managerRoleID, targetRoleID)
}

// ManagerRoles lists roles holding assign_members.
func (s *Service) ManagerRoles(ctx context.Context) ([]rbac.Role, error) {
	return s.repo.RolesWithFeature(ctx, shared.FeatureAssignMembers)
}

// Matrix maps each manager role id to its linked target role ids.
func (s *Service) Matrix(ctx context.Context) (map[int64][]int64, error) {
	rules, err := s.repo.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	return group(rules), nil
}

// View loads manager rows, target columns and links concurrently.
func (s *Service) View(ctx context.Context) (View, error) {
	var (
		view  View
		rules []Rule
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		view.Managers, err = s.ManagerRoles(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		view.Targets, err = s.repo.ListRoles(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		rules, err = s.repo.ListRules(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return View{}, err
	}
	view.Links = group(rules)
	return view, nil
}

// AssignableTargets returns the role ids the user may fill: every role for
// admin-like users, otherwise the targets linked to held roles.
func (s *Service) AssignableTargets(ctx context.Context, actingUserID int64) ([]int64, error) {
	grants := s.grants.Snapshot(ctx, actingUserID)
	if grants.AdminLike() {
		roles, err := s.repo.ListRoles(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]int64, 0, len(roles))
		for _, role := range roles {
			ids = append(ids, role.ID)
		}
		slices.Sort(ids)
		return ids, nil
	}
	if len(grants.RoleIDs) == 0 {
		return []int64{}, nil
	}
	return s.repo.TargetsFor(ctx, grants.RoleIDs)
}

func (s *Service) ensureRoles(ctx context.Context, rule Rule) error {
	for _, id := range []int64{rule.ManagerRoleID, rule.TargetRoleID} {
		ok, err := s.repo.RoleExists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("matrix: role %d: %w", id, shared.ErrNotFound)
		}
	}
	return nil
}

func group(rules []Rule) map[int64][]int64 {
	out := make(map[int64][]int64)
	for _, rule := range rules {
		out[rule.ManagerRoleID] = append(out[rule.ManagerRoleID], rule.TargetRoleID)
	}
	for id := range out {
		slices.Sort(out[id])
	}
	return out
}
