// Package query serves the read-only views over the error store. Responses
// carry business fields only; store keys never leave this package.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bargom/errledger/internal/errorstore"
	"github.com/bargom/errledger/pkg/logging"
)

const (
	// DefaultLimit is used when a ranking is requested without a limit.
	DefaultLimit = 10
	// MaxLimit caps ranking sizes.
	MaxLimit = 100
)

// ErrInvalidOrder is returned for an unknown sort order.
var ErrInvalidOrder = errors.New("query: sort order must be most or least")

// SortOrder selects the extreme an execution detail is taken from.
type SortOrder string

const (
	Most  SortOrder = "most"
	Least SortOrder = "least"
)

// ParseSortOrder parses s, defaulting to Most when empty.
func ParseSortOrder(s string) (SortOrder, error) {
	switch SortOrder(strings.ToLower(s)) {
	case "", Most:
		return Most, nil
	case Least:
		return Least, nil
	}
	return "", ErrInvalidOrder
}

// ExecutionData is the business view of a failed execution.
type ExecutionData struct {
	ExecutionID      string            `json:"executionId"`
	County           string            `json:"county"`
	ErrorType        string            `json:"errorType"`
	Status           errorstore.Status `json:"status"`
	TotalOccurrences int64             `json:"totalOccurrences"`
	OpenErrorCount   int64             `json:"openErrorCount"`
	UniqueErrorCount int64             `json:"uniqueErrorCount"`
	// MaybeSolvedCount counts links whose resolution failed. Detail views
	// leave them out of OpenErrorCount; rankings order by the stored counter,
	// which still includes them until the links are removed.
	MaybeSolvedCount int64 `json:"maybeSolvedCount"`
	// AwaitingResolution reports whether a paused stage is waiting on this execution.
	AwaitingResolution bool      `json:"awaitingResolution"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// ErrorData is the business view of one execution/error link.
type ErrorData struct {
	ExecutionID string             `json:"executionId"`
	ErrorCode   string             `json:"errorCode"`
	ErrorType   string             `json:"errorType"`
	Occurrences int64              `json:"occurrences"`
	County      string             `json:"county"`
	Status      errorstore.Status  `json:"status"`
	Open        bool               `json:"open"`
	Details     errorstore.Details `json:"details"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// ErrorCodeData is the business view of an error record.
type ErrorCodeData struct {
	ErrorCode          string    `json:"errorCode"`
	ErrorType          string    `json:"errorType"`
	TotalCount         int64     `json:"totalCount"`
	MaybeUnrecoverable bool      `json:"maybeUnrecoverable"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Detail is one execution with its errors. Execution is nil when nothing matched.
type Detail struct {
	Execution *ExecutionData `json:"execution"`
	Errors    []ErrorData    `json:"errors"`
}

// Facade answers the dashboard queries.
type Facade struct {
	store  errorstore.Store
	logger *slog.Logger
}

// New creates a Facade over store.
func New(store errorstore.Store, logger *slog.Logger) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{store: store, logger: logging.Component(logger, "query")}
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// TopExecutions returns up to limit failed executions with the most open
// errors, optionally restricted to one error type.
func (f *Facade) TopExecutions(ctx context.Context, limit int, errorType string) ([]ExecutionData, error) {
	items, err := f.store.RankExecutions(ctx, errorstore.RankQuery{
		ErrorType: errorType,
		Order:     errorstore.Descending,
		Limit:     clampLimit(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("rank executions: %w", err)
	}
	out := make([]ExecutionData, len(items))
	for i, it := range items {
		out[i] = executionData(it)
	}
	return out, nil
}

// ExecutionDetail returns the execution with the most (or least) open errors
// and all of its errors.
func (f *Facade) ExecutionDetail(ctx context.Context, order SortOrder, errorType string) (Detail, error) {
	q := errorstore.RankQuery{ErrorType: errorType, Order: errorstore.Descending, Limit: 1}
	if order == Least {
		q.Order = errorstore.Ascending
	}
	items, err := f.store.RankExecutions(ctx, q)
	if err != nil {
		return Detail{}, fmt.Errorf("rank executions: %w", err)
	}
	if len(items) == 0 {
		return Detail{Errors: []ErrorData{}}, nil
	}
	return f.detail(ctx, &items[0])
}

// ExecutionErrors returns one execution and its errors. A drained execution
// yields a nil Execution alongside whatever links remain.
func (f *Facade) ExecutionErrors(ctx context.Context, executionID string) (Detail, error) {
	item, err := f.store.GetFailedExecution(ctx, executionID)
	switch {
	case errors.Is(err, errorstore.ErrNotFound):
		item.ExecutionID = executionID
		d, err := f.detail(ctx, &item)
		d.Execution = nil
		return d, err
	case err != nil:
		return Detail{}, fmt.Errorf("get execution %s: %w", executionID, err)
	}
	return f.detail(ctx, &item)
}

// TopErrorCodes returns up to limit error codes with the most occurrences,
// optionally restricted to one error type.
func (f *Facade) TopErrorCodes(ctx context.Context, limit int, errorType string) ([]ErrorCodeData, error) {
	recs, err := f.store.RankErrorRecords(ctx, errorstore.RankQuery{
		ErrorType: errorType,
		Order:     errorstore.Descending,
		Limit:     clampLimit(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("rank error records: %w", err)
	}
	out := make([]ErrorCodeData, len(recs))
	for i, r := range recs {
		out[i] = ErrorCodeData{
			ErrorCode:          r.ErrorCode,
			ErrorType:          r.ErrorType,
			TotalCount:         r.TotalCount,
			MaybeUnrecoverable: r.MaybeUnrecoverable,
			CreatedAt:          r.CreatedAt,
			UpdatedAt:          r.UpdatedAt,
		}
	}
	return out, nil
}

func (f *Facade) detail(ctx context.Context, item *errorstore.FailedExecutionItem) (Detail, error) {
	links, err := f.store.ListLinksByExecution(ctx, item.ExecutionID)
	if err != nil {
		return Detail{}, fmt.Errorf("list links of execution %s: %w", item.ExecutionID, err)
	}
	exec := executionData(*item)
	exec.OpenErrorCount = 0
	d := Detail{Execution: &exec, Errors: make([]ErrorData, 0, len(links))}
	for _, l := range links {
		switch {
		case l.Status.Open():
			exec.OpenErrorCount++
		case l.Status == errorstore.StatusMaybeSolved:
			exec.MaybeSolvedCount++
		}
		details, err := l.DecodedDetails()
		if err != nil {
			// Stored verbatim by ingestion; an undecodable payload is reported empty.
			f.logger.WarnContext(ctx, "undecodable error details",
				"execution_id", l.ExecutionID, "error_code", l.ErrorCode, "error", err)
			details = errorstore.Details{}
		}
		d.Errors = append(d.Errors, ErrorData{
			ExecutionID: l.ExecutionID,
			ErrorCode:   l.ErrorCode,
			ErrorType:   errorstore.ErrorTypeOf(l.ErrorCode),
			Occurrences: l.Occurrences,
			County:      l.County,
			Status:      l.Status,
			Open:        l.Status.Open(),
			Details:     details,
			CreatedAt:   l.CreatedAt,
			UpdatedAt:   l.UpdatedAt,
		})
	}
	return d, nil
}

func executionData(it errorstore.FailedExecutionItem) ExecutionData {
	return ExecutionData{
		ExecutionID:        it.ExecutionID,
		County:             it.County,
		ErrorType:          it.ErrorType,
		Status:             it.Status,
		TotalOccurrences:   it.TotalOccurrences,
		OpenErrorCount:     it.OpenErrorCount,
		UniqueErrorCount:   it.UniqueErrorCount,
		AwaitingResolution: it.TaskToken != "",
		CreatedAt:          it.CreatedAt,
		UpdatedAt:          it.UpdatedAt,
	}
}
