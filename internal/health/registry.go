package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const checkTimeout = 5 * time.Second

// Registry manages health checkers and executes checks.
type Registry struct {
	mu        sync.RWMutex
	checkers  []Checker
	startTime time.Time
	version   string
}

// NewRegistry creates a new health check registry.
func NewRegistry(version string) *Registry {
	return &Registry{startTime: time.Now(), version: version}
}

// Register adds a health checker to the registry.
func (r *Registry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers = append(r.checkers, checker)
}

// Checkers returns a copy of the registered checkers.
func (r *Registry) Checkers() []Checker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Checker(nil), r.checkers...)
}

// Version returns the version string.
func (r *Registry) Version() string {
	return r.version
}

// Liveness only reports the process as up.
func (r *Registry) Liveness(context.Context) Response {
	return r.response(StatusHealthy, nil)
}

// Readiness runs the critical checks.
func (r *Registry) Readiness(ctx context.Context) Response {
	return r.runChecks(ctx, true)
}

// Health runs every check.
func (r *Registry) Health(ctx context.Context) Response {
	return r.runChecks(ctx, false)
}

func (r *Registry) response(status Status, checks map[string]CheckResult) Response {
	return Response{
		Status:    status,
		Timestamp: time.Now(),
		Version:   r.version,
		Uptime:    time.Since(r.startTime).Round(time.Second).String(),
		Checks:    checks,
	}
}

func (r *Registry) runChecks(ctx context.Context, criticalOnly bool) Response {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var selected []Checker
	for _, c := range r.Checkers() {
		if !criticalOnly || c.Severity() == SeverityCritical {
			selected = append(selected, c)
		}
	}

	results := make([]CheckResult, len(selected))
	var g errgroup.Group
	for i, c := range selected {
		g.Go(func() error {
			start := time.Now()
			res := c.Check(ctx)
			res.Duration = time.Since(start)
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	checks := make(map[string]CheckResult, len(selected))
	for i, c := range selected {
		res := results[i]
		checks[c.Name()] = res
		switch {
		case res.Status == StatusUnhealthy && c.Severity() == SeverityCritical:
			overall = StatusUnhealthy
		case res.Status != StatusHealthy && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}
	return r.response(overall, checks)
}
