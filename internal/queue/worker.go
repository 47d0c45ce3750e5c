package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/bargom/errledger/internal/ingest"
	"github.com/bargom/errledger/pkg/logging"
)

// Applier applies one event.
type Applier interface {
	Ingest(ctx context.Context, ev ingest.Event) (ingest.Result, error)
}

// Handler applies event tasks through an Applier.
type Handler struct {
	applier Applier
	logger  *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(applier Applier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{applier: applier, logger: logging.Component(logger, "queue")}
}

// ProcessTask implements asynq.Handler. Invalid events are archived without
// retry; duplicates are acknowledged; other failures are redelivered.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	ev, err := ingest.Parse(t.Payload())
	if err != nil {
		h.logger.WarnContext(ctx, "dropping invalid event", "type", t.Type(), "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if want := TaskType(ev.Kind()); want != t.Type() {
		return fmt.Errorf("event kind %s delivered as %s: %w", ev.Kind(), t.Type(), asynq.SkipRetry)
	}

	_, err = h.applier.Ingest(ctx, ev)
	switch {
	case err == nil, errors.Is(err, ingest.ErrDuplicateEvent):
		return nil
	case ingest.IsValidation(err):
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		return err
	}
}

// Mux routes every event task type to h, wrapped in panic recovery.
func (h *Handler) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Use(h.recovery, h.logging)
	for _, typ := range []string{TypeStatus, TypeResolve, TypeResolveFailed} {
		mux.Handle(typ, h)
	}
	return mux
}

func (h *Handler) recovery(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) (err error) {
		defer func() {
			if r := recover(); r != nil {
				h.logger.ErrorContext(ctx, "task panicked", "type", t.Type(), "panic", r)
				err = fmt.Errorf("task panicked: %v", r)
			}
		}()
		return next.ProcessTask(ctx, t)
	})
}

func (h *Handler) logging(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
		if id, ok := asynq.GetTaskID(ctx); ok {
			ctx = logging.WithEventID(ctx, id)
		}
		err := next.ProcessTask(ctx, t)
		if err != nil {
			h.logger.ErrorContext(ctx, "task failed", "type", t.Type(), "error", err)
		} else {
			h.logger.DebugContext(ctx, "task completed", "type", t.Type())
		}
		return err
	})
}

// Worker runs an Asynq server over the event queues.
type Worker struct {
	server  *asynq.Server
	handler *Handler
}

// NewWorker creates a Worker for cfg.
func NewWorker(cfg Config, handler *Handler) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opt, err := cfg.redisOpt()
	if err != nil {
		return nil, err
	}
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          cfg.Queues,
		RetryDelayFunc:  retryDelay,
		ShutdownTimeout: cfg.ShutdownTimeout,
		IsFailure: func(err error) bool {
			return !errors.Is(err, asynq.SkipRetry)
		},
	})
	return &Worker{server: server, handler: handler}, nil
}

// Run processes tasks until ctx is done, then shuts the server down.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.handler.Mux()); err != nil {
		return fmt.Errorf("start queue worker: %w", err)
	}
	w.handler.logger.InfoContext(ctx, "queue worker started")
	<-ctx.Done()
	w.server.Shutdown()
	w.handler.logger.InfoContext(ctx, "queue worker stopped")
	return nil
}
