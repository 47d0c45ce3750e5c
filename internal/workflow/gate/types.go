// Package gate parks a pipeline stage while its execution has open errors.
// The gate activity reports the stage's errors together with its task token
// and completes asynchronously: the reconciliation engine resumes it when the
// last open error clears, and an operator can fail it.
package gate

import (
	"time"

	"github.com/bargom/errledger/internal/ingest"
	"github.com/bargom/errledger/internal/resume"
)

// Registered names.
const (
	WorkflowName = "ResolutionGate"
	ActivityName = "AwaitResolution"
)

// DefaultWait bounds a gate when the input sets no wait.
const DefaultWait = 7 * 24 * time.Hour

// ErrorTypeInvalidInput is the application error type for gates whose
// report cannot be ingested.
const ErrorTypeInvalidInput = "InvalidGateInput"

// Input describes the stage being parked.
type Input struct {
	ExecutionID string              `json:"executionId"`
	County      string              `json:"county,omitempty"`
	Status      string              `json:"status,omitempty"`
	Phase       string              `json:"phase,omitempty"`
	Step        string              `json:"step,omitempty"`
	Errors      []ingest.ErrorEntry `json:"errors"`
	// Wait bounds how long the stage stays parked.
	Wait time.Duration `json:"wait,omitempty"`
}

// Result is the gate outcome.
type Result struct {
	ExecutionID string `json:"executionId"`
	// Parked is false when the stage had nothing to wait for.
	Parked     bool      `json:"parked"`
	Resolved   bool      `json:"resolved"`
	ResolvedAt time.Time `json:"resolvedAt,omitempty"`
}

func resultFrom(in Input, out resume.Outcome, parked bool) Result {
	return Result{
		ExecutionID: in.ExecutionID,
		Parked:      parked,
		Resolved:    out.Resolved,
		ResolvedAt:  out.At,
	}
}
