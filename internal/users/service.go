package users

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"

	"github.com/projectdesk/projectdesk/internal/notify"
	"github.com/projectdesk/projectdesk/internal/platform/db"
	"github.com/projectdesk/projectdesk/internal/shared"
)

// statusAttempts bounds retries of a status change that lost a race against
// another admin's status change.
const statusAttempts = 3

// AdminChecker answers the canonical admin-like check.
type AdminChecker interface {
	IsAdminLike(ctx context.Context, userID int64) bool
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles user business logic.
type Service struct {
	repo     RepositoryPort
	admins   AdminChecker
	notifier notify.Notifier
	audit    AuditPort
	logger   *slog.Logger
}

// NewService builds Service instance. notifier and audit may be nil.
func NewService(repo RepositoryPort, admins AdminChecker, notifier notify.Notifier, audit AuditPort, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, admins: admins, notifier: notifier, audit: audit, logger: logger}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.ListUsers(ctx)
}

// ListApproved returns users eligible for project assignment.
func (s *Service) ListApproved(ctx context.Context) ([]User, error) {
	return s.repo.ListByStatus(ctx, StatusApproved)
}

// Get fetches a user by ID.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.Get(ctx, id)
}

// Status returns the approval status of a user.
func (s *Service) Status(ctx context.Context, id int64) (Status, error) {
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return user.Status, nil
}

// SetStatus moves a user to a new status. Only admin-like users may do so,
// and the last approved admin cannot be moved out of approved. The user is
// notified after the change commits; notification errors are only logged.
func (s *Service) SetStatus(ctx context.Context, actingUserID, userID int64, raw string) (User, error) {
	if !s.admins.IsAdminLike(ctx, actingUserID) {
		return User{}, fmt.Errorf("users: set status: %w", shared.ErrForbidden)
	}
	status, err := ParseStatus(raw)
	if err != nil {
		return User{}, err
	}

	var (
		updated User
		changed bool
	)
	err = db.RetrySerializable(ctx, statusAttempts, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx RepositoryPort) error {
			var err error
			updated, changed, err = applyStatus(ctx, tx, userID, status)
			return err
		})
	})
	if err != nil {
		return User{}, err
	}
	if !changed {
		return updated, nil
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actingUserID,
			Action:   "user.status",
			Entity:   "user",
			EntityID: strconv.FormatInt(userID, 10),
			Meta:     map[string]any{"status": string(status)},
		})
	}
	if err := s.notifier.StatusChanged(ctx, notify.StatusChange{
		UserID: updated.ID,
		Email:  updated.Email,
		Name:   updated.Name,
		Status: string(updated.Status),
	}); err != nil {
		s.logger.Warn("status notification failed", slog.Int64("user_id", userID), slog.Any("error", err))
	}
	return updated, nil
}

func applyStatus(ctx context.Context, tx RepositoryPort, userID int64, status Status) (User, bool, error) {
	current, err := tx.Get(ctx, userID)
	if err != nil {
		return User{}, false, err
	}
	if current.Status == status {
		return current, false, nil
	}
	if current.Status == StatusApproved {
		admins, err := tx.ApprovedAdmins(ctx)
		if err != nil {
			return User{}, false, err
		}
		if slices.Contains(admins, userID) && len(admins) <= 1 {
			return User{}, false, fmt.Errorf("users: user %d is the last approved admin: %w", userID, shared.ErrConflict)
		}
	}
	updated, err := tx.UpdateStatus(ctx, userID, status)
	if err != nil {
		return User{}, false, err
	}
	return updated, true, nil
}
