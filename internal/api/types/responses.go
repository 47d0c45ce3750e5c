// Package types defines API request and response types.
package types

import (
	"github.com/bargom/errledger/internal/ingest"
	"github.com/bargom/errledger/internal/query"
)

// Response is the envelope of every API answer.
type Response struct {
	Success bool              `json:"success"`
	Event   *EventAccepted    `json:"event,omitempty"`
	Error   string            `json:"error,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// ExecutionsResponse is a ranking of failed executions.
type ExecutionsResponse struct {
	Success    bool                  `json:"success"`
	Executions []query.ExecutionData `json:"executions"`
}

// ErrorCodesResponse is a ranking of error codes.
type ErrorCodesResponse struct {
	Success    bool                  `json:"success"`
	ErrorCodes []query.ErrorCodeData `json:"errorCodes"`
}

// DetailResponse wraps an execution detail. Execution is null when nothing
// matched and Errors is always present.
type DetailResponse struct {
	Success   bool                 `json:"success"`
	Execution *query.ExecutionData `json:"execution"`
	Errors    []query.ErrorData    `json:"errors"`
}

// DetailFrom builds a DetailResponse.
func DetailFrom(d query.Detail) DetailResponse {
	errs := d.Errors
	if errs == nil {
		errs = []query.ErrorData{}
	}
	return DetailResponse{Success: true, Execution: d.Execution, Errors: errs}
}

// EventAccepted reports an accepted event.
type EventAccepted struct {
	EventID string `json:"eventId,omitempty"`
	// Queued is set when the event was handed to the queue and not applied yet.
	Queued    bool           `json:"queued"`
	Duplicate bool           `json:"duplicate,omitempty"`
	Result    *ingest.Result `json:"result,omitempty"`
}

// ErrorResponse builds a failure envelope.
func ErrorResponse(message string, details map[string]string) Response {
	return Response{Error: message, Details: details}
}
