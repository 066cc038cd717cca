package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/projectdesk/projectdesk/internal/assignments"
	audithttp "github.com/projectdesk/projectdesk/internal/audit/http"
	"github.com/projectdesk/projectdesk/internal/auth"
	"github.com/projectdesk/projectdesk/internal/matrix"
	"github.com/projectdesk/projectdesk/internal/observability"
	"github.com/projectdesk/projectdesk/internal/platform/httpx"
	"github.com/projectdesk/projectdesk/internal/projects"
	"github.com/projectdesk/projectdesk/internal/rbac"
	"github.com/projectdesk/projectdesk/internal/shared"
	"github.com/projectdesk/projectdesk/internal/users"
	"github.com/projectdesk/projectdesk/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Metrics        *observability.Metrics

	AuthService        *auth.Service
	AuthHandler        *auth.Handler
	RBACMiddleware     rbac.Middleware
	RBACHandler        *rbac.Handler
	MatrixHandler      *matrix.Handler
	UsersHandler       *users.Handler
	ProjectsHandler    *projects.Handler
	ProjectGate        *projects.Gate
	AssignmentsHandler *assignments.Handler
	AuditHandler       *audithttp.Handler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with projectdesk defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Group(func(r chi.Router) {
		r.Use(params.AuthService.Identity)
		r.Use(params.AuthService.RequireApproved)
		r.Use(params.RBACMiddleware.Attach)

		r.Route("/me", func(r chi.Router) {
			params.RBACHandler.MountSelfRoutes(r)
			params.MatrixHandler.MountSelfRoutes(r)
		})

		r.Route("/admin", func(r chi.Router) {
			params.RBACHandler.MountAdminRoutes(r)
			params.UsersHandler.MountRoutes(r)
			r.Route("/assignable", params.MatrixHandler.MountAdminRoutes)
			r.Group(func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAdminLike())
				params.AuditHandler.MountRoutes(r)
			})
		})

		r.Route("/projects", func(r chi.Router) {
			params.ProjectsHandler.MountRoutes(r)
			r.Group(func(r chi.Router) {
				r.Use(params.ProjectGate.Require("projectID"))
				params.AssignmentsHandler.MountRoutes(r)
			})
		})

		if params.JobHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAdminLike())
				params.JobHandler.MountRoutes(r)
			})
		}
	})

	return r
}
