package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/bargom/errledger/internal/ingest"
	"github.com/bargom/errledger/internal/resume"
	"github.com/bargom/errledger/pkg/logging"
)

// Sink applies the status event a gate reports.
type Sink interface {
	Ingest(ctx context.Context, ev ingest.Event) (ingest.Result, error)
}

// Activities holds the gate activity implementation.
type Activities struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// NewActivities creates gate activities reporting to sink.
func NewActivities(sink Sink, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activities{sink: sink, logger: logging.Component(logger, "gate"), now: time.Now}
}

// AwaitResolution reports the stage's errors with this attempt's task token
// and leaves the activity pending. It completes immediately when there is
// nothing left open.
func (a *Activities) AwaitResolution(ctx context.Context, in Input) (resume.Outcome, error) {
	if len(in.Errors) == 0 {
		return resume.Outcome{ExecutionID: in.ExecutionID, Resolved: true, At: a.now()}, nil
	}

	info := activity.GetInfo(ctx)
	ev := ingest.StatusEvent{
		EventID:     fmt.Sprintf("gate/%s/%s/%d", info.WorkflowExecution.ID, info.WorkflowExecution.RunID, info.Attempt),
		ExecutionID: in.ExecutionID,
		County:      in.County,
		Status:      in.Status,
		Phase:       in.Phase,
		Step:        in.Step,
		TaskToken:   resume.EncodeToken(info.TaskToken),
		Errors:      in.Errors,
	}

	res, err := a.sink.Ingest(ctx, ev)
	switch {
	case errors.Is(err, ingest.ErrDuplicateEvent):
		return resume.Outcome{}, activity.ErrResultPending
	case ingest.IsValidation(err):
		return resume.Outcome{}, temporal.NewNonRetryableApplicationError(err.Error(), ErrorTypeInvalidInput, err)
	case err != nil:
		return resume.Outcome{}, fmt.Errorf("report errors for %s: %w", in.ExecutionID, err)
	}

	if res.Execution == nil || res.Execution.OpenErrorCount == 0 {
		return resume.Outcome{ExecutionID: in.ExecutionID, Resolved: true, At: a.now()}, nil
	}
	a.logger.InfoContext(ctx, "stage parked awaiting resolution",
		"execution_id", in.ExecutionID, "open_errors", res.Execution.OpenErrorCount)
	return resume.Outcome{}, activity.ErrResultPending
}
