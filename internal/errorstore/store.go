package errorstore

import (
	"context"
	"time"
)

// Store is the partitioned error store. Every counter mutation is a single
// atomic per-document update that rewrites the affected index sort keys in the
// same operation; callers never read-modify-write.
type Store interface {
	// IncrementErrorRecord creates the record for code or adds by to its total.
	IncrementErrorRecord(ctx context.Context, code string, by int64, now time.Time) (ErrorRecord, error)
	// UpsertLink creates the link or adds to its occurrences and reopens it.
	// created reports whether this call inserted the link.
	UpsertLink(ctx context.Context, u LinkUpsert) (link ExecutionErrorLink, created bool, err error)
	// UpsertFailedExecution creates or increments a failed execution summary.
	UpsertFailedExecution(ctx context.Context, u ExecutionUpsert) (FailedExecutionItem, error)
	// RecordStatus applies every write of one status event as a unit. No link
	// removal can interleave with it, and a failure leaves nothing applied.
	RecordStatus(ctx context.Context, w StatusWrite) (StatusOutcome, error)

	GetErrorRecord(ctx context.Context, code string) (ErrorRecord, error)
	GetFailedExecution(ctx context.Context, executionID string) (FailedExecutionItem, error)
	ListLinksByExecution(ctx context.Context, executionID string) ([]ExecutionErrorLink, error)
	ListLinksByErrorCode(ctx context.Context, code string) ([]ExecutionErrorLink, error)

	// DeleteLink removes a link; the removal is published on the change feed.
	// deleted is false when the link did not exist.
	DeleteLink(ctx context.Context, executionID, code string) (deleted bool, err error)
	// MarkUnrecoverable flags an error record after a failed resolution attempt.
	MarkUnrecoverable(ctx context.Context, code string, now time.Time) error
	// SetLinkStatus updates a link's status without touching any counter.
	SetLinkStatus(ctx context.Context, executionID, code string, status Status, now time.Time) error
	// ClearTaskToken drops the stored resumption handle of an execution.
	ClearTaskToken(ctx context.Context, executionID string, now time.Time) error

	// DecrementOpenErrors subtracts by from openErrorCount, clamped at zero,
	// and rewrites the execution's index keys. item is the pre-image.
	DecrementOpenErrors(ctx context.Context, executionID string, by int64, now time.Time) (change CounterChange, item FailedExecutionItem, err error)
	// DeleteFailedExecutionIfDrained deletes the execution only while its open count is zero.
	DeleteFailedExecutionIfDrained(ctx context.Context, executionID string) (bool, error)
	// DecrementTotalCount subtracts by from totalCount, clamped at zero, and
	// rewrites the record's index keys.
	DecrementTotalCount(ctx context.Context, code string, by int64, now time.Time) (CounterChange, error)
	// DeleteErrorRecordIfDrained deletes the record only while its total is zero.
	DeleteErrorRecordIfDrained(ctx context.Context, code string) (bool, error)

	// RankExecutions scans the execution ranking (GS1, or GS3 when a type is set).
	RankExecutions(ctx context.Context, q RankQuery) ([]FailedExecutionItem, error)
	// RankErrorRecords scans the error record ranking (GS1, or GS3 when a type is set).
	RankErrorRecords(ctx context.Context, q RankQuery) ([]ErrorRecord, error)
}

// RemovedLink is the prior value of a deleted link as carried by the change feed.
type RemovedLink struct {
	ExecutionID string `json:"executionId"`
	ErrorCode   string `json:"errorCode"`
	Occurrences int64  `json:"occurrences"`
}

// BatchHandler consumes one batch of link removals.
type BatchHandler func(ctx context.Context, batch []RemovedLink) error

// ChangeFeed delivers link removals at least once, possibly out of order and
// batched across unrelated executions.
type ChangeFeed interface {
	// Run blocks, invoking handle per batch, until ctx is done or the feed fails.
	Run(ctx context.Context, handle BatchHandler) error
}
