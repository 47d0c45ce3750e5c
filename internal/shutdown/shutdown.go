// Package shutdown closes the components of a process in priority order.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bargom/errledger/pkg/logging"
)

// Priorities of the standard components. Higher priorities run first; hooks
// sharing a priority run concurrently.
const (
	// PriorityIntake stops accepting events: the HTTP server and queue worker.
	PriorityIntake = 90
	// PriorityFeed stops the change feed consumer and the workflow worker.
	PriorityFeed = 80
	// PriorityStore disconnects from the error store.
	PriorityStore = 70
	// PriorityCache closes Redis connections.
	PriorityCache = 60
)

// HookFunc performs shutdown logic. Its context is canceled when the hook
// timeout expires.
type HookFunc func(ctx context.Context) error

// Hook is a named shutdown step.
type Hook struct {
	Name     string
	Priority int
	Fn       HookFunc
}

// Config holds shutdown timeouts.
type Config struct {
	// Timeout bounds the whole shutdown.
	Timeout time.Duration `mapstructure:"timeout"`
	// HookTimeout bounds a single hook.
	HookTimeout time.Duration `mapstructure:"hook_timeout"`
}

// DefaultConfig returns the default shutdown timeouts.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second, HookTimeout: 10 * time.Second}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.HookTimeout <= 0 {
		c.HookTimeout = d.HookTimeout
	}
	return c
}

// TimeoutError is returned when a hook does not finish in time.
type TimeoutError struct {
	Hook    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("shutdown hook %q timed out after %v", e.Hook, e.Timeout)
}

// PanicError is returned when a hook panics.
type PanicError struct {
	Hook  string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("shutdown hook %q panicked: %v", e.Hook, e.Value)
}

// Manager runs registered hooks once.
type Manager struct {
	config Config
	logger *slog.Logger

	mu    sync.Mutex
	hooks []Hook
	once  sync.Once
	err   error
	done  chan struct{}
}

// NewManager creates a Manager.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		config: cfg.withDefaults(),
		logger: logging.Component(logger, "shutdown"),
		done:   make(chan struct{}),
	}
}

// Register adds a hook.
func (m *Manager) Register(name string, priority int, fn HookFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, Hook{Name: name, Priority: priority, Fn: fn})
}

// Closer registers a hook for a component closed without a context.
func (m *Manager) Closer(name string, priority int, closeFn func() error) {
	m.Register(name, priority, func(context.Context) error { return closeFn() })
}

// Shutdown runs every hook, highest priority first, and returns their joined
// errors. Later calls wait for the first one and return the same result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.once.Do(func() {
		defer close(m.done)
		ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()

		m.mu.Lock()
		hooks := append([]Hook(nil), m.hooks...)
		m.mu.Unlock()

		m.logger.InfoContext(ctx, "shutting down", "hooks", len(hooks))
		var errs []error
		for _, group := range groupByPriority(hooks) {
			errs = append(errs, m.runGroup(ctx, group)...)
			if ctx.Err() != nil {
				errs = append(errs, fmt.Errorf("shutdown timeout exceeded: %w", ctx.Err()))
				break
			}
		}
		m.err = errors.Join(errs...)
		m.logger.InfoContext(ctx, "shutdown complete", "errors", len(errs))
	})
	<-m.done
	return m.err
}

// Done is closed when Shutdown has finished.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) runGroup(ctx context.Context, group []Hook) []error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, h := range group {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := m.run(ctx, h)
			if err != nil {
				m.logger.ErrorContext(ctx, "shutdown hook failed", "hook", h.Name, "error", err, "duration", time.Since(start))
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", h.Name, err))
				mu.Unlock()
				return
			}
			m.logger.DebugContext(ctx, "shutdown hook completed", "hook", h.Name, "duration", time.Since(start))
		}()
	}
	wg.Wait()
	return errs
}

func (m *Manager) run(ctx context.Context, h Hook) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.HookTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &PanicError{Hook: h.Name, Value: r}
			}
		}()
		done <- h.Fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &TimeoutError{Hook: h.Name, Timeout: m.config.HookTimeout}
		}
		return ctx.Err()
	}
}

func groupByPriority(hooks []Hook) [][]Hook {
	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].Priority > hooks[j].Priority })
	var groups [][]Hook
	for i, h := range hooks {
		if i == 0 || h.Priority != hooks[i-1].Priority {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], h)
	}
	return groups
}
