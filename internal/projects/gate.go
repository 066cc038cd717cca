package projects

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/projectdesk/projectdesk/internal/platform/httpx"
	"github.com/projectdesk/projectdesk/internal/rbac"
	"github.com/projectdesk/projectdesk/internal/shared"
)

// GrantsSource resolves a user's grants.
type GrantsSource interface {
	Snapshot(ctx context.Context, userID int64) rbac.Grants
}

// Gate decides whether a user may act on a project: owners, assigned members
// and holders of the admin gate feature pass.
type Gate struct {
	repo        Repository
	grants      GrantsSource
	gateFeature string
	logger      *slog.Logger
}

// GateOption overrides gate behaviour for one check.
type GateOption func(*gateCheck)

type gateCheck struct {
	feature string
}

// WithGateFeature replaces the admin override feature for one check.
func WithGateFeature(feature string) GateOption {
	return func(c *gateCheck) {
		if f := strings.TrimSpace(feature); f != "" {
			c.feature = f
		}
	}
}

// NewGate constructs a Gate. An empty gateFeature falls back to create_role.
func NewGate(repo Repository, grants GrantsSource, gateFeature string, logger *slog.Logger) *Gate {
	if strings.TrimSpace(gateFeature) == "" {
		gateFeature = shared.DefaultAdminGateFeature
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{repo: repo, grants: grants, gateFeature: gateFeature, logger: logger}
}

// HasProjectAccess returns the project when the user may act on it. It fails
// with shared.ErrNotFound for unknown projects and shared.ErrForbidden otherwise.
func (g *Gate) HasProjectAccess(ctx context.Context, userID, projectID int64, opts ...GateOption) (Project, error) {
	check := gateCheck{feature: g.gateFeature}
	for _, opt := range opts {
		opt(&check)
	}

	project, err := g.repo.Get(ctx, projectID)
	if err != nil {
		return Project{}, err
	}
	if userID <= 0 {
		return Project{}, fmt.Errorf("projects: anonymous access to %d: %w", projectID, shared.ErrForbidden)
	}
	if project.OwnerID == userID {
		return project, nil
	}
	if g.grants.Snapshot(ctx, userID).Has(check.feature) {
		return project, nil
	}
	assigned, err := g.repo.HasAssignment(ctx, projectID, userID)
	if err != nil {
		return Project{}, err
	}
	if assigned {
		return project, nil
	}
	return Project{}, fmt.Errorf("projects: user %d on project %d: %w", userID, projectID, shared.ErrForbidden)
}

// Require guards project-scoped routes. The resolved project is stored on the
// request context.
func (g *Gate) Require(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := shared.IdentityFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			projectID, err := httpx.PathInt64(r, param)
			if err != nil {
				httpx.RespondError(w, err)
				return
			}
			project, err := g.HasProjectAccess(r.Context(), id.UserID, projectID)
			if err != nil {
				if httpx.StatusFor(err) == http.StatusInternalServerError {
					g.logger.Error("project gate", slog.Int64("project_id", projectID), slog.Any("error", err))
				}
				httpx.RespondError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithProject(r.Context(), project)))
		})
	}
}

type projectContextKey struct{}

// ContextWithProject stores the gated project in context.
func ContextWithProject(ctx context.Context, p Project) context.Context {
	return context.WithValue(ctx, projectContextKey{}, p)
}

// ProjectFromContext returns the project stored by Gate.Require.
func ProjectFromContext(ctx context.Context) (Project, bool) {
	p, ok := ctx.Value(projectContextKey{}).(Project)
	return p, ok
}
