package gate

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/bargom/errledger/internal/resume"
	"github.com/bargom/errledger/pkg/metrics"
)

// ResolutionGate parks until AwaitResolution completes. A stage failed by an
// operator returns the ErrorsUnresolved application error.
func ResolutionGate(ctx workflow.Context, in Input) (Result, error) {
	wait := in.Wait
	if wait <= 0 {
		wait = DefaultWait
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: wait,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{resume.ErrorTypeUnresolved, ErrorTypeInvalidInput},
		},
	})
	logger := workflow.GetLogger(ctx)

	var out resume.Outcome
	err := workflow.ExecuteActivity(ctx, ActivityName, in).Get(ctx, &out)
	if err != nil {
		var appErr *temporal.ApplicationError
		if errors.As(err, &appErr) && appErr.Type() == resume.ErrorTypeUnresolved {
			logger.Warn("stage failed with unresolved errors", "execution_id", in.ExecutionID, "reason", appErr.Error())
		}
		return Result{ExecutionID: in.ExecutionID, Parked: len(in.Errors) > 0}, err
	}
	return resultFrom(in, out, len(in.Errors) > 0), nil
}

// Registerer is the registration surface of a Temporal worker.
type Registerer interface {
	RegisterWorkflow(wf interface{}, opts workflow.RegisterOptions)
	RegisterActivity(act interface{}, opts activity.RegisterOptions)
}

// Register registers the gate workflow and activity under their names.
func Register(r Registerer, acts *Activities) {
	r.RegisterWorkflow(ResolutionGate, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivity(acts.AwaitResolution, activity.RegisterOptions{Name: ActivityName})
}

// Starter starts workflow executions.
type Starter interface {
	ExecuteWorkflow(ctx context.Context, workflowID string, wf interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// WorkflowID is the gate workflow id for a stage of an execution. One gate
// per stage runs at a time.
func WorkflowID(in Input) string {
	if in.Step == "" {
		return "gate-" + in.ExecutionID
	}
	return "gate-" + in.ExecutionID + "-" + in.Step
}

// Start parks the stage described by in.
func Start(ctx context.Context, s Starter, in Input) (client.WorkflowRun, error) {
	return s.ExecuteWorkflow(ctx, WorkflowID(in), WorkflowName, in)
}

// Await starts the gate and blocks until it finishes. m may be nil.
func Await(ctx context.Context, s Starter, in Input, m *metrics.WorkflowMetrics) (Result, error) {
	var timer *metrics.WorkflowExecutionTimer
	if m != nil {
		timer = m.NewExecutionTimer(WorkflowName)
	}
	var res Result
	run, err := Start(ctx, s, in)
	if err == nil {
		err = run.Get(ctx, &res)
	}
	if timer != nil {
		timer.Done(workflowStatus(ctx, err))
	}
	return res, err
}

func workflowStatus(ctx context.Context, err error) metrics.WorkflowStatus {
	var (
		timeoutErr  *temporal.TimeoutError
		canceledErr *temporal.CanceledError
	)
	switch {
	case err == nil:
		return metrics.WorkflowStatusSuccess
	case errors.As(err, &timeoutErr), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return metrics.WorkflowStatusTimeout
	case errors.As(err, &canceledErr), errors.Is(err, context.Canceled):
		return metrics.WorkflowStatusCancelled
	default:
		return metrics.WorkflowStatusFailure
	}
}
