package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/bargom/errledger/pkg/logging"
)

type workflowRegistration struct {
	fn   interface{}
	opts workflow.RegisterOptions
}

type activityRegistration struct {
	fn   interface{}
	opts activity.RegisterOptions
}

// Engine owns the Temporal client and, once started, a worker on the
// configured task queue.
type Engine struct {
	config     Config
	logger     *slog.Logger
	mu         sync.RWMutex
	client     client.Client
	worker     worker.Worker
	running    bool
	workflows  []workflowRegistration
	activities []activityRegistration
}

// NewEngine creates a new workflow engine with the given configuration.
func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{config: cfg, logger: logging.Component(logger, "workflow")}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// RegisterWorkflow registers a workflow function under opts.Name.
func (e *Engine) RegisterWorkflow(wf interface{}, opts workflow.RegisterOptions) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows = append(e.workflows, workflowRegistration{fn: wf, opts: opts})
}

// RegisterActivity registers an activity function under opts.Name.
func (e *Engine) RegisterActivity(act interface{}, opts activity.RegisterOptions) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activities = append(e.activities, activityRegistration{fn: act, opts: opts})
}

// Dial connects the Temporal client without starting a worker. Processes that
// only resume or fail parked stages need nothing more.
func (e *Engine) Dial() (client.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dialLocked()
}

func (e *Engine) dialLocked() (client.Client, error) {
	if e.client != nil {
		return e.client, nil
	}
	c, err := client.Dial(client.Options{
		HostPort:  e.config.HostPort,
		Namespace: e.config.Namespace,
		Logger:    tlog.NewStructuredLogger(e.logger),
	})
	if err != nil {
		return nil, fmt.Errorf("creating temporal client: %w", err)
	}
	e.client = c
	return c, nil
}

// Start dials the client, registers workflows and activities on a worker and
// starts it.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrEngineAlreadyStarted
	}
	c, err := e.dialLocked()
	if err != nil {
		return err
	}

	e.worker = worker.New(c, e.config.TaskQueue, worker.Options{
		MaxConcurrentWorkflowTaskExecutionSize: e.config.MaxConcurrentWorkflows,
		MaxConcurrentActivityExecutionSize:     e.config.MaxConcurrentActivities,
		Identity:                               e.config.WorkerID,
	})
	for _, r := range e.workflows {
		e.worker.RegisterWorkflowWithOptions(r.fn, r.opts)
	}
	for _, r := range e.activities {
		e.worker.RegisterActivityWithOptions(r.fn, r.opts)
	}

	if err := e.worker.Start(); err != nil {
		c.Close()
		e.client = nil
		return fmt.Errorf("starting worker: %w", err)
	}
	e.running = true
	e.logger.InfoContext(ctx, "workflow worker started", "task_queue", e.config.TaskQueue)
	return nil
}

// Stop stops the worker, if any, and closes the client.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client == nil {
		return ErrEngineNotStarted
	}
	if e.running {
		e.worker.Stop()
		e.running = false
	}
	e.client.Close()
	e.client = nil
	return nil
}

// ExecuteWorkflow starts a workflow execution on the engine's task queue.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID string, wf interface{}, args ...interface{}) (client.WorkflowRun, error) {
	e.mu.RLock()
	c := e.client
	taskQueue := e.config.TaskQueue
	e.mu.RUnlock()
	if c == nil {
		return nil, ErrEngineNotStarted
	}

	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: taskQueue,
	}, wf, args...)
	if err != nil {
		return nil, fmt.Errorf("executing workflow: %w", err)
	}
	return run, nil
}

// IsRunning returns true if the worker is running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}
