// Package api serves the errledger HTTP surface: dashboard queries, event
// intake, operator actions, health and metrics.
package api

import (
	"log/slog"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bargom/errledger/internal/api/handlers"
	"github.com/bargom/errledger/internal/auth"
	"github.com/bargom/errledger/internal/health"
	"github.com/bargom/errledger/pkg/logging"
	"github.com/bargom/errledger/pkg/metrics"
)

// RouterConfig holds the collaborators of the router. Health, Metrics and
// Auth are optional.
type RouterConfig struct {
	Handler *handlers.Handler
	Health  *health.Handler
	Metrics *metrics.Registry
	// Auth guards the mutating endpoints. A nil Auth leaves them open.
	Auth           *auth.Middleware
	Logger         *slog.Logger
	RequestTimeout time.Duration
}

var executionPath = regexp.MustCompile(`^/executions/[^/]+/(errors|fail)$`)

// maxMetricPaths bounds the path labels of unrouted requests.
const maxMetricPaths = 64

// NormalizePath folds execution ids out of metric labels.
func NormalizePath(path string) string {
	if m := executionPath.FindStringSubmatch(path); m != nil {
		return "/executions/{id}/" + m[1]
	}
	return metrics.DefaultPathNormalizer(path)
}

// NewRouter creates a chi router with all routes and middleware configured.
func NewRouter(cfg RouterConfig) chi.Router {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	authn := cfg.Auth
	if authn == nil {
		authn = auth.NewMiddleware(nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logging.NewHTTPMiddleware(cfg.Logger).Handler)
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(metrics.HTTPMiddlewareWithOptions(cfg.Metrics, metrics.MiddlewareOptions{
			PathNormalizer:     NormalizePath,
			SkipPaths:          []string{"/metrics", "/health/live"},
			MaxPathCardinality: maxMetricPaths,
		}))
		r.Handle("/metrics", cfg.Metrics.Handler())
	}
	if cfg.Health != nil {
		cfg.Health.Routes(r)
	}

	h := cfg.Handler
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))

		r.Get("/executions/top", h.TopExecutions)
		r.Get("/executions/detail", h.ExecutionDetail)
		r.Get("/executions/{id}/errors", h.ExecutionErrors)
		r.Get("/errors/top", h.TopErrorCodes)

		r.Group(func(r chi.Router) {
			r.Use(authn.RequireAuth())
			r.With(authn.RequireRole(auth.RoleReporter)).Post("/events", h.SubmitEvent)
			r.With(authn.RequireRole(auth.RoleOperator)).Post("/executions/{id}/fail", h.FailExecution)
		})
	})
	return r
}
