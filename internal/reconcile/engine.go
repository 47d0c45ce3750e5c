// Package reconcile keeps the failed-execution and error-record counters
// consistent with link removals delivered by the store's change feed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bargom/errledger/internal/errorstore"
	"github.com/bargom/errledger/internal/resume"
	"github.com/bargom/errledger/pkg/logging"
	"github.com/bargom/errledger/pkg/metrics"
)

// Config bounds the work done for one batch.
type Config struct {
	// MaxAttempts is the number of tries per store call.
	MaxAttempts int `mapstructure:"max_attempts"`
	// RetryBackoff is the wait before the second try; it doubles per try.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	// Concurrency bounds parallel updates within each reduction.
	Concurrency int `mapstructure:"concurrency"`
}

// DefaultConfig returns the default engine bounds.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		RetryBackoff: 50 * time.Millisecond,
		Concurrency:  8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryBackoff < 0 {
		c.RetryBackoff = 0
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	return c
}

// Outcome classifies what happened to one aggregate.
type Outcome string

const (
	OutcomeDecremented Outcome = "decremented"
	OutcomeDeleted     Outcome = "deleted"
	// OutcomeMissing means the aggregate no longer exists, typically because
	// this removal was already reconciled.
	OutcomeMissing Outcome = "missing"
	OutcomeFailed  Outcome = "failed"
)

// ItemResult is the outcome of one aggregate update.
type ItemResult struct {
	// Key is the execution id or error code.
	Key         string
	DecrementBy int64
	Outcome     Outcome
	Before      int64
	After       int64
	Clamped     bool
	// Resumed is set when this update drained the execution and its paused
	// stage was resumed successfully.
	Resumed bool
	Err     error
}

// Report collects the per-aggregate outcomes of one batch.
type Report struct {
	Removed      int
	Executions   []ItemResult
	ErrorRecords []ItemResult
}

// Failed returns the number of aggregates whose update failed.
func (r Report) Failed() int {
	n := 0
	for _, items := range [][]ItemResult{r.Executions, r.ErrorRecords} {
		for _, it := range items {
			if it.Outcome == OutcomeFailed {
				n++
			}
		}
	}
	return n
}

// Err joins the errors of failed updates.
func (r Report) Err() error {
	var errs []error
	for _, items := range [][]ItemResult{r.Executions, r.ErrorRecords} {
		for _, it := range items {
			if it.Err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", it.Key, it.Err))
			}
		}
	}
	return errors.Join(errs...)
}

// Engine applies batches of link removals to the aggregate counters.
type Engine struct {
	store   errorstore.Store
	resumer resume.Resumer
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.ReconcileMetrics
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records reconciliation metrics.
func WithMetrics(m *metrics.ReconcileMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine. A nil resumer only logs drained executions.
func NewEngine(store errorstore.Store, resumer resume.Resumer, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		resumer: resumer,
		cfg:     cfg.withDefaults(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.Component(e.logger, "reconcile")
	if e.resumer == nil {
		e.resumer = resume.NewLogResumer(e.logger)
	}
	return e
}

type delta struct {
	key string
	by  int64
}

// reduce derives the two decrement sets of a batch. Each removed link
// retires one open error of its execution and all of its occurrences from
// its error record.
func reduce(batch []errorstore.RemovedLink) (execs, codes []delta) {
	byExec := make(map[string]int64)
	byCode := make(map[string]int64)
	for _, r := range batch {
		byExec[r.ExecutionID]++
		if r.Occurrences > 0 {
			byCode[r.ErrorCode] += r.Occurrences
		}
	}
	return sortedDeltas(byExec), sortedDeltas(byCode)
}

func sortedDeltas(m map[string]int64) []delta {
	out := make([]delta, 0, len(m))
	for k, by := range m {
		out = append(out, delta{key: k, by: by})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// OnLinkRemoved applies one batch of removals. A failing aggregate update
// never aborts the rest of the batch; failures are reported per item.
func (e *Engine) OnLinkRemoved(ctx context.Context, batch []errorstore.RemovedLink) Report {
	report := Report{Removed: len(batch)}
	if len(batch) == 0 {
		return report
	}
	if e.metrics != nil {
		e.metrics.RecordBatch(len(batch))
	}

	execs, codes := reduce(batch)
	report.Executions = make([]ItemResult, len(execs))
	report.ErrorRecords = make([]ItemResult, len(codes))

	var g errgroup.Group
	g.Go(func() error {
		e.fanOut(ctx, execs, report.Executions, e.reconcileExecution)
		return nil
	})
	g.Go(func() error {
		e.fanOut(ctx, codes, report.ErrorRecords, e.reconcileErrorRecord)
		return nil
	})
	_ = g.Wait()

	if n := report.Failed(); n > 0 {
		e.logger.ErrorContext(ctx, "batch reconciled with failures",
			"removed", report.Removed, "failed", n, "error", report.Err())
	} else {
		e.logger.DebugContext(ctx, "batch reconciled",
			"removed", report.Removed, "executions", len(execs), "error_records", len(codes))
	}
	return report
}

// Handle adapts the engine to errorstore.BatchHandler. Per-item failures are
// reported in logs and metrics only, so the feed moves on; a cancelled
// context stops the feed without acknowledging the batch.
func (e *Engine) Handle(ctx context.Context, batch []errorstore.RemovedLink) error {
	e.OnLinkRemoved(ctx, batch)
	return ctx.Err()
}

func (e *Engine) fanOut(ctx context.Context, deltas []delta, out []ItemResult, apply func(context.Context, delta) ItemResult) {
	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, d := range deltas {
		g.Go(func() error {
			out[i] = apply(ctx, d)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) reconcileExecution(ctx context.Context, d delta) ItemResult {
	ctx = logging.WithExecutionID(ctx, d.key)
	res := ItemResult{Key: d.key, DecrementBy: d.by}
	now := e.now()

	var (
		change errorstore.CounterChange
		pre    errorstore.FailedExecutionItem
	)
	err := e.retry(ctx, func(ctx context.Context) error {
		var err error
		change, pre, err = e.store.DecrementOpenErrors(ctx, d.key, d.by, now)
		return err
	})
	if err != nil {
		return e.failed(ctx, metrics.EntityExecution, res, fmt.Errorf("decrement open errors: %w", err))
	}
	if !change.Found {
		e.logger.DebugContext(ctx, "no failed execution to decrement", "by", d.by)
		e.recordUpdate(metrics.EntityExecution, OutcomeMissing)
		res.Outcome = OutcomeMissing
		return res
	}
	res.Before, res.After, res.Clamped = change.Before, change.After, change.Clamped
	if change.Clamped {
		e.anomaly(ctx, "open error count decrement clamped at zero", change, d.by)
	}
	if change.After > 0 {
		e.recordUpdate(metrics.EntityExecution, OutcomeDecremented)
		res.Outcome = OutcomeDecremented
		return res
	}

	// Only the update that moved the counter to zero resumes; redeliveries
	// see Before == 0.
	if change.CrossedZero() && pre.TaskToken != "" {
		res.Resumed = e.resume(ctx, d.key, pre.TaskToken)
	}

	var deleted bool
	err = e.retry(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = e.store.DeleteFailedExecutionIfDrained(ctx, d.key)
		return err
	})
	if err != nil {
		return e.failed(ctx, metrics.EntityExecution, res, fmt.Errorf("delete drained execution: %w", err))
	}
	res.Outcome = OutcomeDecremented
	if deleted {
		res.Outcome = OutcomeDeleted
		e.logger.InfoContext(ctx, "failed execution drained", "resumed", res.Resumed)
	}
	e.recordUpdate(metrics.EntityExecution, res.Outcome)
	return res
}

func (e *Engine) reconcileErrorRecord(ctx context.Context, d delta) ItemResult {
	ctx = logging.WithErrorCode(ctx, d.key)
	res := ItemResult{Key: d.key, DecrementBy: d.by}
	now := e.now()

	var change errorstore.CounterChange
	err := e.retry(ctx, func(ctx context.Context) error {
		var err error
		change, err = e.store.DecrementTotalCount(ctx, d.key, d.by, now)
		return err
	})
	if err != nil {
		return e.failed(ctx, metrics.EntityErrorRecord, res, fmt.Errorf("decrement total count: %w", err))
	}
	if !change.Found {
		e.logger.DebugContext(ctx, "no error record to decrement", "by", d.by)
		e.recordUpdate(metrics.EntityErrorRecord, OutcomeMissing)
		res.Outcome = OutcomeMissing
		return res
	}
	res.Before, res.After, res.Clamped = change.Before, change.After, change.Clamped
	if change.Clamped {
		e.anomaly(ctx, "total count decrement clamped at zero", change, d.by)
	}
	res.Outcome = OutcomeDecremented
	if change.After == 0 {
		var deleted bool
		err := e.retry(ctx, func(ctx context.Context) error {
			var err error
			deleted, err = e.store.DeleteErrorRecordIfDrained(ctx, d.key)
			return err
		})
		if err != nil {
			return e.failed(ctx, metrics.EntityErrorRecord, res, fmt.Errorf("delete drained error record: %w", err))
		}
		if deleted {
			res.Outcome = OutcomeDeleted
		}
	}
	e.recordUpdate(metrics.EntityErrorRecord, res.Outcome)
	return res
}

// resume invokes the capability once. Its failure is logged and dropped:
// the store already reflects the drained execution.
func (e *Engine) resume(ctx context.Context, executionID, token string) bool {
	if err := e.resumer.Resume(ctx, executionID, token); err != nil {
		e.logger.ErrorContext(ctx, "failed to resume paused execution", "error", err)
		if e.metrics != nil {
			e.metrics.RecordResume(metrics.ResumeFailed)
		}
		return false
	}
	if e.metrics != nil {
		e.metrics.RecordResume(metrics.ResumeSucceeded)
	}
	return true
}

// retry runs op up to MaxAttempts times with doubling backoff. Invalid
// deltas are not retried.
func (e *Engine) retry(ctx context.Context, op func(context.Context) error) error {
	backoff := e.cfg.RetryBackoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(ctx); err == nil || errors.Is(err, errorstore.ErrInvalidDelta) || attempt >= e.cfg.MaxAttempts {
			return err
		}
		e.logger.DebugContext(ctx, "retrying store update", "attempt", attempt, "error", err)
		if backoff > 0 {
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return errors.Join(err, ctx.Err())
			case <-t.C:
			}
			backoff *= 2
		}
	}
}

func (e *Engine) failed(ctx context.Context, entity string, res ItemResult, err error) ItemResult {
	res.Outcome = OutcomeFailed
	res.Err = err
	e.logger.ErrorContext(ctx, "aggregate update failed", "entity", entity, "by", res.DecrementBy, "error", err)
	e.recordUpdate(entity, OutcomeFailed)
	return res
}

func (e *Engine) anomaly(ctx context.Context, msg string, change errorstore.CounterChange, by int64) {
	e.logger.WarnContext(ctx, msg, "before", change.Before, "by", by)
	if e.metrics != nil {
		e.metrics.RecordAnomaly(metrics.AnomalyClamped)
	}
}

func (e *Engine) recordUpdate(entity string, outcome Outcome) {
	if e.metrics != nil {
		e.metrics.RecordUpdate(entity, string(outcome))
	}
}
