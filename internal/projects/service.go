package projects

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/projectdesk/projectdesk/internal/shared"
)

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates project lifecycle.
type Service struct {
	repo   Repository
	grants GrantsSource
	gate   *Gate
	audit  AuditPort
	logger *slog.Logger
}

// NewService constructs project service. audit may be nil.
func NewService(repo Repository, grants GrantsSource, gate *Gate, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, grants: grants, gate: gate, audit: audit, logger: logger}
}

// CreateInput describes a new project.
type CreateInput struct {
	OwnerID     int64
	Name        string
	Methodology string
}

// Create inserts a project owned by the caller, who needs create_project.
func (s *Service) Create(ctx context.Context, input CreateInput) (Project, error) {
	if !s.grants.Snapshot(ctx, input.OwnerID).Has(shared.FeatureCreateProject) {
		return Project{}, fmt.Errorf("projects: create requires %s: %w", shared.FeatureCreateProject, shared.ErrForbidden)
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Project{}, fmt.Errorf("projects: name required: %w", shared.ErrInvalidInput)
	}
	project, err := s.repo.Create(ctx, Project{
		Name:        name,
		Methodology: normalizeMethodology(input.Methodology),
		OwnerID:     input.OwnerID,
	})
	if err != nil {
		return Project{}, err
	}
	s.record(ctx, input.OwnerID, "project.create", project.ID, map[string]any{"name": project.Name})
	return project, nil
}

// Get returns a project the user may access.
func (s *Service) Get(ctx context.Context, userID, projectID int64) (Project, error) {
	return s.gate.HasProjectAccess(ctx, userID, projectID)
}

// ListVisible returns every project for admin-like users, otherwise the ones
// owned by or assigned to the user, newest first.
func (s *Service) ListVisible(ctx context.Context, userID int64) ([]Project, error) {
	if s.grants.Snapshot(ctx, userID).AdminLike() {
		return s.repo.ListAll(ctx)
	}
	return s.repo.ListVisibleTo(ctx, userID)
}

// Delete removes a project and everything hanging off it in one transaction.
// Only admin-like users may delete.
func (s *Service) Delete(ctx context.Context, actingUserID, projectID int64) error {
	if !s.grants.Snapshot(ctx, actingUserID).AdminLike() {
		return fmt.Errorf("projects: delete %d: %w", projectID, shared.ErrForbidden)
	}
	removed := make(map[string]any, len(CascadeOrder))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if _, err := tx.Get(ctx, projectID); err != nil {
			return err
		}
		for _, step := range CascadeOrder {
			n, err := tx.Purge(ctx, projectID, step)
			if err != nil {
				return err
			}
			removed[string(step)] = n
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("project deleted", slog.Int64("project_id", projectID), slog.Int64("actor_id", actingUserID))
	s.record(ctx, actingUserID, "project.delete", projectID, removed)
	return nil
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
