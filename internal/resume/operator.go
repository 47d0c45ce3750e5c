package resume

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bargom/errledger/internal/errorstore"
	"github.com/bargom/errledger/pkg/logging"
)

// ErrNotPaused is returned when failing an execution that holds no task token.
var ErrNotPaused = errors.New("resume: execution is not awaiting resolution")

// TokenStore is the part of the error store an Operator needs.
type TokenStore interface {
	GetFailedExecution(ctx context.Context, executionID string) (errorstore.FailedExecutionItem, error)
	ClearTaskToken(ctx context.Context, executionID string, now time.Time) error
}

// Operator carries out operator decisions on paused executions.
type Operator struct {
	store   TokenStore
	resumer Resumer
	logger  *slog.Logger
	now     func() time.Time
}

// NewOperator creates an Operator.
func NewOperator(store TokenStore, resumer Resumer, logger *slog.Logger) *Operator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Operator{store: store, resumer: resumer, logger: logging.Component(logger, "operator"), now: time.Now}
}

// FailPaused fails the stage paused on executionID with reason and clears
// the stored token so the stage is not resumed later. The token is cleared
// only after the fail call succeeds.
func (o *Operator) FailPaused(ctx context.Context, executionID, reason string) error {
	item, err := o.store.GetFailedExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("get execution %s: %w", executionID, err)
	}
	if item.TaskToken == "" {
		return ErrNotPaused
	}
	if err := o.resumer.Fail(ctx, executionID, item.TaskToken, reason); err != nil {
		return err
	}
	if err := o.store.ClearTaskToken(ctx, executionID, o.now()); err != nil && !errors.Is(err, errorstore.ErrNotFound) {
		return fmt.Errorf("clear task token of %s: %w", executionID, err)
	}
	o.logger.InfoContext(ctx, "paused execution failed by operator", "execution_id", executionID)
	return nil
}
