package checks

import (
	"context"
	"fmt"

	"github.com/bargom/errledger/internal/health"
	"github.com/bargom/errledger/internal/reconcile"
)

// StateSource exposes the change-feed consumer state.
type StateSource interface {
	State() reconcile.RunnerState
}

// FeedChecker reports the change-feed consumer. A stopped consumer is
// unhealthy; one that keeps restarting is degraded.
type FeedChecker struct {
	source StateSource
	// maxFailures is the number of consecutive feed failures tolerated
	// before the check degrades.
	maxFailures int
}

// NewFeedChecker creates a FeedChecker.
func NewFeedChecker(source StateSource, maxFailures int) *FeedChecker {
	return &FeedChecker{source: source, maxFailures: maxFailures}
}

func (c *FeedChecker) Name() string              { return "change_feed" }
func (c *FeedChecker) Severity() health.Severity { return health.SeverityWarning }

// Check inspects the runner state.
func (c *FeedChecker) Check(context.Context) health.CheckResult {
	s := c.source.State()
	details := map[string]any{"batches": s.Batches, "failures": s.Failures}
	if !s.LastBatch.IsZero() {
		details["last_batch"] = s.LastBatch
	}
	switch {
	case !s.Running:
		return health.CheckResult{Status: health.StatusUnhealthy, Message: "change feed consumer is not running", Details: details}
	case s.Failures > c.maxFailures:
		return health.CheckResult{
			Status:  health.StatusDegraded,
			Message: fmt.Sprintf("change feed failed %d times: %s", s.Failures, s.LastError),
			Details: details,
		}
	}
	return health.CheckResult{Status: health.StatusHealthy, Details: details}
}
