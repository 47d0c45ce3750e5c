// Package ingest applies workflow status and resolution events to the error
// store. A status event is recorded as one store unit; counters that depend on
// link removals are left to the reconciliation engine.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bargom/errledger/internal/errorstore"
	"github.com/bargom/errledger/pkg/logging"
	"github.com/bargom/errledger/pkg/metrics"
)

// Result summarizes the effect of one applied event.
type Result struct {
	Kind Kind `json:"kind"`
	// Duplicate is set when the event id had already been claimed and nothing was applied.
	Duplicate bool `json:"duplicate,omitempty"`
	// Occurrences is the number of error occurrences recorded by a status event.
	Occurrences  int64 `json:"occurrences,omitempty"`
	LinksCreated int   `json:"linksCreated,omitempty"`
	LinksRemoved int   `json:"linksRemoved,omitempty"`
	LinksMarked  int   `json:"linksMarked,omitempty"`
	// Execution is the failed execution summary after a status event with errors.
	Execution *errorstore.FailedExecutionItem `json:"execution,omitempty"`
}

// Ingestor applies events to a Store.
type Ingestor struct {
	store   errorstore.Store
	dedup   *Deduper
	logger  *slog.Logger
	metrics *metrics.IngestMetrics
	now     func() time.Time
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithDeduper enables event id claims. Events without an id are always applied.
func WithDeduper(d *Deduper) Option {
	return func(i *Ingestor) { i.dedup = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Ingestor) { i.logger = l }
}

// WithMetrics records ingestion metrics.
func WithMetrics(m *metrics.IngestMetrics) Option {
	return func(i *Ingestor) { i.metrics = m }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

// New creates an Ingestor over store.
func New(store errorstore.Store, opts ...Option) *Ingestor {
	i := &Ingestor{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = logging.Component(i.logger, "ingest")
	return i
}

// Ingest validates and applies ev. A duplicate delivery returns a Result with
// Duplicate set together with ErrDuplicateEvent. A failed status event leaves
// nothing applied; a failed resolution keeps the links already removed. Either
// way the event claim is released so a redelivery can apply it.
func (i *Ingestor) Ingest(ctx context.Context, ev Event) (res Result, err error) {
	start := time.Now()
	kind := KindStatus
	if ev != nil {
		kind = ev.Kind()
	}
	res.Kind = kind
	defer func() {
		i.record(kind, outcomeOf(err), time.Since(start))
	}()

	if err := Validate(ev); err != nil {
		i.logger.WarnContext(ctx, "rejected event", "kind", kind, "error", err)
		return res, err
	}

	ctx = logging.WithEventID(ctx, ev.ID())
	var owner string
	if i.dedup != nil && ev.ID() != "" {
		o, ok, err := i.dedup.Claim(ctx, ev.ID())
		if err != nil {
			return res, err
		}
		if !ok {
			i.logger.InfoContext(ctx, "duplicate event skipped", "kind", kind)
			res.Duplicate = true
			return res, ErrDuplicateEvent
		}
		owner = o
	}

	switch e := ev.(type) {
	case StatusEvent:
		err = i.applyStatus(ctx, e, &res)
	case ResolvedEvent:
		err = i.applyResolved(ctx, e.Target, &res)
	case ResolveFailedEvent:
		err = i.applyResolveFailed(ctx, e.Target, &res)
	default:
		err = fmt.Errorf("%w: unsupported event type %T", ErrInvalidEvent, ev)
	}

	if err != nil && owner != "" {
		if relErr := i.dedup.Release(context.WithoutCancel(ctx), ev.ID(), owner); relErr != nil {
			i.logger.ErrorContext(ctx, "failed to release event claim", "error", relErr)
		}
	}
	return res, err
}

type codeGroup struct {
	code    string
	count   int64
	details string
}

// groupErrors folds repeated codes into one group per code, in first-seen
// order. The last entry's details win.
func groupErrors(entries []ErrorEntry) ([]codeGroup, error) {
	index := make(map[string]int, len(entries))
	groups := make([]codeGroup, 0, len(entries))
	for _, e := range entries {
		details, err := encodeDetails(e.Details)
		if err != nil {
			return nil, &ValidationError{Fields: map[string]string{"errors.details": "is not serializable: " + err.Error()}}
		}
		if at, ok := index[e.Code]; ok {
			groups[at].count++
			groups[at].details = details
			continue
		}
		index[e.Code] = len(groups)
		groups = append(groups, codeGroup{code: e.Code, count: 1, details: details})
	}
	return groups, nil
}

func encodeDetails(d errorstore.Details) (string, error) {
	if len(d) == 0 {
		return "", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (i *Ingestor) applyStatus(ctx context.Context, e StatusEvent, res *Result) error {
	ctx = logging.WithExecutionID(ctx, e.ExecutionID)
	if len(e.Errors) == 0 {
		i.logger.DebugContext(ctx, "status transition",
			"status", e.Status, "phase", e.Phase, "step", e.Step)
		return nil
	}

	groups, err := groupErrors(e.Errors)
	if err != nil {
		return err
	}

	w := errorstore.StatusWrite{
		ExecutionID: e.ExecutionID,
		County:      e.County,
		ErrorType:   errorstore.ErrorTypeOf(e.Errors[len(e.Errors)-1].Code),
		TaskToken:   e.TaskToken,
		Codes:       make([]errorstore.CodeWrite, len(groups)),
		Now:         i.now(),
	}
	for n, g := range groups {
		w.Codes[n] = errorstore.CodeWrite{Code: g.code, Occurrences: g.count, ErrorDetails: g.details}
	}
	out, err := i.store.RecordStatus(ctx, w)
	if err != nil {
		return err
	}
	res.Occurrences = out.Occurrences
	res.LinksCreated = out.LinksCreated
	if i.metrics != nil {
		for _, g := range groups {
			i.metrics.AddOccurrences(errorstore.ErrorTypeOf(g.code), g.count)
		}
		i.metrics.AddLinks(metrics.LinkCreated, res.LinksCreated)
	}

	item := out.Execution
	res.Execution = &item

	i.logger.InfoContext(ctx, "status event applied",
		"status", e.Status,
		"phase", e.Phase,
		"step", e.Step,
		"codes", len(groups),
		"links_created", res.LinksCreated,
		"open_errors", item.OpenErrorCount)
	return nil
}

// targetCodes resolves a Target into the error codes it addresses. An
// execution id expands to every code currently linked to that execution.
func (i *Ingestor) targetCodes(ctx context.Context, t Target) ([]string, error) {
	var codes []string
	seen := make(map[string]bool)
	add := func(code string) {
		if code != "" && !seen[code] {
			seen[code] = true
			codes = append(codes, code)
		}
	}
	if t.ExecutionID != "" {
		links, err := i.store.ListLinksByExecution(ctx, t.ExecutionID)
		if err != nil {
			return nil, fmt.Errorf("list links of execution %s: %w", t.ExecutionID, err)
		}
		for _, l := range links {
			add(l.ErrorCode)
		}
	}
	add(t.ErrorCode)
	return codes, nil
}

func (i *Ingestor) applyResolved(ctx context.Context, t Target, res *Result) error {
	codes, err := i.targetCodes(ctx, t)
	if err != nil {
		return err
	}

	var errs []error
	for _, code := range codes {
		links, err := i.store.ListLinksByErrorCode(ctx, code)
		if err != nil {
			errs = append(errs, fmt.Errorf("list links of code %s: %w", code, err))
			continue
		}
		for _, l := range links {
			deleted, err := i.store.DeleteLink(ctx, l.ExecutionID, l.ErrorCode)
			if err != nil {
				errs = append(errs, fmt.Errorf("delete link %s/%s: %w", l.ExecutionID, l.ErrorCode, err))
				continue
			}
			if deleted {
				res.LinksRemoved++
			}
		}
	}
	if i.metrics != nil {
		i.metrics.AddLinks(metrics.LinkRemoved, res.LinksRemoved)
	}

	i.logger.InfoContext(ctx, "resolution applied",
		"execution_id", t.ExecutionID,
		"error_code", t.ErrorCode,
		"codes", len(codes),
		"links_removed", res.LinksRemoved)
	return errors.Join(errs...)
}

func (i *Ingestor) applyResolveFailed(ctx context.Context, t Target, res *Result) error {
	codes, err := i.targetCodes(ctx, t)
	if err != nil {
		return err
	}

	now := i.now()
	var errs []error
	for _, code := range codes {
		if err := i.store.MarkUnrecoverable(ctx, code, now); err != nil && !errors.Is(err, errorstore.ErrNotFound) {
			errs = append(errs, fmt.Errorf("mark %s unrecoverable: %w", code, err))
		}
		links, err := i.store.ListLinksByErrorCode(ctx, code)
		if err != nil {
			errs = append(errs, fmt.Errorf("list links of code %s: %w", code, err))
			continue
		}
		for _, l := range links {
			err := i.store.SetLinkStatus(ctx, l.ExecutionID, l.ErrorCode, errorstore.StatusMaybeSolved, now)
			switch {
			case errors.Is(err, errorstore.ErrNotFound):
				// Removed since it was listed.
			case err != nil:
				errs = append(errs, fmt.Errorf("mark link %s/%s: %w", l.ExecutionID, l.ErrorCode, err))
			default:
				res.LinksMarked++
			}
		}
	}
	if i.metrics != nil {
		i.metrics.AddLinks(metrics.LinkMarked, res.LinksMarked)
	}

	i.logger.WarnContext(ctx, "resolution failed; codes flagged as possibly unrecoverable",
		"execution_id", t.ExecutionID,
		"error_code", t.ErrorCode,
		"codes", len(codes),
		"links_marked", res.LinksMarked)
	return errors.Join(errs...)
}

func (i *Ingestor) record(kind Kind, outcome string, d time.Duration) {
	if i.metrics == nil {
		return
	}
	i.metrics.RecordEvent(string(kind), outcome, d)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeApplied
	case errors.Is(err, ErrDuplicateEvent):
		return metrics.OutcomeDuplicate
	case IsValidation(err):
		return metrics.OutcomeInvalid
	default:
		return metrics.OutcomeFailed
	}
}
