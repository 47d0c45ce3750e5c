// Package errorstore defines the error aggregation data model: error records,
// execution/error links and failed-execution summaries, together with the key
// derivation shared by every store backend and the change-feed contract.
package errorstore

import (
	"encoding/json"
	"time"
)

// EntityType discriminates the three entity kinds sharing one partitioned store.
type EntityType string

const (
	EntityError     EntityType = "error"
	EntityLink      EntityType = "link"
	EntityExecution EntityType = "execution"
)

// Status is the resolution state of a link or failed execution.
type Status string

const (
	StatusFailed      Status = "failed"
	StatusMaybeSolved Status = "maybeSolved"
	StatusSolved      Status = "solved"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusFailed, StatusMaybeSolved, StatusSolved:
		return true
	}
	return false
}

// Open reports whether a link in this status counts as an open error in read paths.
func (s Status) Open() bool {
	return s == StatusFailed
}

// Details is the opaque error payload. It is stored and returned verbatim.
type Details map[string]any

// ErrorRecord aggregates one error code across all executions.
type ErrorRecord struct {
	ErrorCode          string    `json:"errorCode" bson:"errorCode"`
	ErrorType          string    `json:"errorType" bson:"errorType"`
	TotalCount         int64     `json:"totalCount" bson:"totalCount"`
	MaybeUnrecoverable bool      `json:"maybeUnrecoverable" bson:"maybeUnrecoverable"`
	CreatedAt          time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt" bson:"updatedAt"`
}

// ExecutionErrorLink joins one execution to one error code.
type ExecutionErrorLink struct {
	ExecutionID  string    `json:"executionId" bson:"executionId"`
	ErrorCode    string    `json:"errorCode" bson:"errorCode"`
	Occurrences  int64     `json:"occurrences" bson:"occurrences"`
	County       string    `json:"county" bson:"county"`
	ErrorDetails string    `json:"errorDetails" bson:"errorDetails"`
	Status       Status    `json:"status" bson:"status"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" bson:"updatedAt"`
}

// DecodedDetails unmarshals the serialized error payload.
func (l ExecutionErrorLink) DecodedDetails() (Details, error) {
	if l.ErrorDetails == "" {
		return Details{}, nil
	}
	var d Details
	if err := json.Unmarshal([]byte(l.ErrorDetails), &d); err != nil {
		return nil, err
	}
	return d, nil
}

// FailedExecutionItem summarizes an execution that still has open errors.
type FailedExecutionItem struct {
	ExecutionID      string    `json:"executionId" bson:"executionId"`
	County           string    `json:"county" bson:"county"`
	ErrorType        string    `json:"errorType" bson:"errorType"`
	Status           Status    `json:"status" bson:"status"`
	TotalOccurrences int64     `json:"totalOccurrences" bson:"totalOccurrences"`
	OpenErrorCount   int64     `json:"openErrorCount" bson:"openErrorCount"`
	UniqueErrorCount int64     `json:"uniqueErrorCount" bson:"uniqueErrorCount"`
	TaskToken        string    `json:"taskToken,omitempty" bson:"taskToken,omitempty"`
	CreatedAt        time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt" bson:"updatedAt"`
}

// LinkUpsert is one atomic link increment produced by ingestion.
type LinkUpsert struct {
	ExecutionID  string
	ErrorCode    string
	Occurrences  int64
	County       string
	ErrorDetails string
	Now          time.Time
}

// ExecutionUpsert is one atomic failed-execution increment produced by ingestion.
type ExecutionUpsert struct {
	ExecutionID string
	County      string
	ErrorType   string
	// TaskToken replaces the stored token when non-empty.
	TaskToken string
	// Occurrences is added to TotalOccurrences.
	Occurrences int64
	// NewLinks is the number of links this event created; it is added to
	// both OpenErrorCount and UniqueErrorCount.
	NewLinks int64
	// OpenCodes is the number of distinct codes whose links this event
	// (re)opened. Neither counter ends below it.
	OpenCodes int64
	Now       time.Time
}

// CounterChange reports the outcome of an atomic, zero-clamped decrement.
type CounterChange struct {
	// Found is false when no document matched the key.
	Found  bool
	Before int64
	After  int64
	// Clamped is true when the requested decrement exceeded Before.
	Clamped bool
}

// CrossedZero reports whether this decrement, and only this one, drained the counter.
func (c CounterChange) CrossedZero() bool {
	return c.Found && c.Before > 0 && c.After == 0
}

// Order selects the scan direction over an index projection.
type Order int

const (
	Descending Order = iota
	Ascending
)

// RankQuery selects entries from a count-ranked index projection.
type RankQuery struct {
	// ErrorType restricts the scan to the type sub-partition (GS3) when set.
	ErrorType string
	Order     Order
	Limit     int
}
