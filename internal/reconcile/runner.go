package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bargom/errledger/internal/errorstore"
	"github.com/bargom/errledger/pkg/logging"
)

const maxRestartDelay = 30 * time.Second

// RunnerState is a snapshot of a Runner.
type RunnerState struct {
	Running bool `json:"running"`
	// Failures counts feed failures since the last handled batch.
	Failures  int       `json:"failures"`
	LastError string    `json:"lastError,omitempty"`
	LastBatch time.Time `json:"lastBatch,omitempty"`
	Batches   int64     `json:"batches"`
}

// Runner drives an Engine from a change feed and reopens the feed when it
// fails. Batches are acknowledged only after the engine has processed them.
type Runner struct {
	feed         errorstore.ChangeFeed
	engine       *Engine
	logger       *slog.Logger
	restartDelay time.Duration

	mu    sync.Mutex
	state RunnerState
}

// NewRunner creates a Runner. restartDelay is the first wait after a feed
// failure; it doubles up to 30s while failures repeat.
func NewRunner(feed errorstore.ChangeFeed, engine *Engine, restartDelay time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if restartDelay <= 0 {
		restartDelay = time.Second
	}
	return &Runner{
		feed:         feed,
		engine:       engine,
		logger:       logging.Component(logger, "reconcile-runner"),
		restartDelay: restartDelay,
	}
}

// State returns a snapshot of the runner.
func (r *Runner) State() RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) update(fn func(*RunnerState)) {
	r.mu.Lock()
	fn(&r.state)
	r.mu.Unlock()
}

func (r *Runner) handle(ctx context.Context, batch []errorstore.RemovedLink) error {
	err := r.engine.Handle(ctx, batch)
	if err == nil {
		r.update(func(s *RunnerState) {
			s.Failures = 0
			s.LastError = ""
			s.LastBatch = r.engine.now()
			s.Batches++
		})
	}
	return err
}

// Run blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	r.update(func(s *RunnerState) { s.Running = true })
	defer r.update(func(s *RunnerState) { s.Running = false })

	delay := r.restartDelay
	for {
		r.logger.InfoContext(ctx, "consuming change feed")
		err := r.feed.Run(ctx, r.handle)
		if ctx.Err() != nil {
			r.logger.InfoContext(ctx, "change feed stopped")
			return ctx.Err()
		}
		if err == nil || errors.Is(err, errorstore.ErrClosed) {
			return err
		}

		r.update(func(s *RunnerState) {
			s.Failures++
			s.LastError = err.Error()
		})
		r.logger.ErrorContext(ctx, "change feed failed; restarting", "error", err, "delay", delay)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay = min(delay*2, maxRestartDelay)
	}
}
