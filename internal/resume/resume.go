// Package resume completes or fails the workflow stage that paused while an
// execution had open errors.
package resume

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/bargom/errledger/pkg/integration"
	"github.com/bargom/errledger/pkg/logging"
	"github.com/bargom/errledger/pkg/metrics"
)

// ErrorTypeUnresolved is the application error type delivered to a failed stage.
const ErrorTypeUnresolved = "ErrorsUnresolved"

// ErrInvalidToken is returned for a task token that cannot be decoded.
var ErrInvalidToken = errors.New("resume: invalid task token")

// Resumer is the capability that resumes or fails a paused execution.
type Resumer interface {
	// Resume completes the paused stage successfully.
	Resume(ctx context.Context, executionID, taskToken string) error
	// Fail completes the paused stage with an error carrying reason.
	Fail(ctx context.Context, executionID, taskToken, reason string) error
}

// Outcome is the result a resumed stage receives.
type Outcome struct {
	ExecutionID string    `json:"executionId"`
	Resolved    bool      `json:"resolved"`
	Reason      string    `json:"reason,omitempty"`
	At          time.Time `json:"at"`
}

// EncodeToken renders a raw task token in the string form stored with a
// failed execution.
func EncodeToken(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeToken reverses EncodeToken.
func DecodeToken(token string) ([]byte, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return raw, nil
}

// ActivityCompleter is the part of the Temporal client used to complete
// asynchronously parked activities.
type ActivityCompleter interface {
	CompleteActivity(ctx context.Context, taskToken []byte, result interface{}, err error) error
}

// TemporalResumer completes parked Temporal activities by task token.
type TemporalResumer struct {
	client  ActivityCompleter
	logger  *slog.Logger
	metrics *metrics.IntegrationMetrics
	guard   *integration.Guard
	now     func() time.Time
}

var _ Resumer = (*TemporalResumer)(nil)

// TemporalOption configures a TemporalResumer.
type TemporalOption func(*TemporalResumer)

// WithGuard retries completions through g and stops calling Temporal while
// its circuit is open.
func WithGuard(g *integration.Guard) TemporalOption {
	return func(r *TemporalResumer) {
		r.guard = g
	}
}

// NewTemporalResumer creates a resumer over c. m may be nil.
func NewTemporalResumer(c ActivityCompleter, logger *slog.Logger, m *metrics.IntegrationMetrics, opts ...TemporalOption) *TemporalResumer {
	if logger == nil {
		logger = slog.Default()
	}
	r := &TemporalResumer{
		client:  c,
		logger:  logging.Component(logger, "resume"),
		metrics: m,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resume implements Resumer.
func (r *TemporalResumer) Resume(ctx context.Context, executionID, taskToken string) error {
	raw, err := DecodeToken(taskToken)
	if err != nil {
		return err
	}
	out := Outcome{ExecutionID: executionID, Resolved: true, At: r.now()}
	if err := r.complete(ctx, "resume", raw, out, nil); err != nil {
		return fmt.Errorf("resume execution %s: %w", executionID, err)
	}
	r.logger.InfoContext(ctx, "paused execution resumed", "execution_id", executionID)
	return nil
}

// Fail implements Resumer.
func (r *TemporalResumer) Fail(ctx context.Context, executionID, taskToken, reason string) error {
	raw, err := DecodeToken(taskToken)
	if err != nil {
		return err
	}
	out := Outcome{ExecutionID: executionID, Reason: reason, At: r.now()}
	appErr := temporal.NewNonRetryableApplicationError(reason, ErrorTypeUnresolved, nil, out)
	if err := r.complete(ctx, "fail", raw, nil, appErr); err != nil {
		return fmt.Errorf("fail execution %s: %w", executionID, err)
	}
	r.logger.WarnContext(ctx, "paused execution failed", "execution_id", executionID, "reason", reason)
	return nil
}

func (r *TemporalResumer) complete(ctx context.Context, op string, token []byte, result interface{}, failure error) error {
	call := func(ctx context.Context) error {
		var timer *metrics.IntegrationCallTimer
		if r.metrics != nil {
			timer = r.metrics.NewCallTimer("temporal", op)
		}
		err := r.client.CompleteActivity(ctx, token, result, failure)
		if timer != nil {
			timer.Done(err)
		}
		return err
	}
	if r.guard == nil {
		return call(ctx)
	}
	return r.guard.Do(ctx, call)
}

// LogResumer only logs resume and fail requests. It serves deployments
// without a workflow engine.
type LogResumer struct {
	logger *slog.Logger
}

var _ Resumer = (*LogResumer)(nil)

// NewLogResumer creates a LogResumer.
func NewLogResumer(logger *slog.Logger) *LogResumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogResumer{logger: logging.Component(logger, "resume")}
}

// Resume implements Resumer.
func (r *LogResumer) Resume(ctx context.Context, executionID, taskToken string) error {
	r.logger.InfoContext(ctx, "resume requested", "execution_id", executionID, "task_token", taskToken)
	return nil
}

// Fail implements Resumer.
func (r *LogResumer) Fail(ctx context.Context, executionID, taskToken, reason string) error {
	r.logger.InfoContext(ctx, "fail requested", "execution_id", executionID, "task_token", taskToken, "reason", reason)
	return nil
}
