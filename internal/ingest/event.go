package ingest

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/bargom/errledger/internal/errorstore"
)

// Kind discriminates the event variants sharing one transport envelope.
type Kind string

const (
	KindStatus        Kind = "status"
	KindResolved      Kind = "resolved"
	KindResolveFailed Kind = "resolve_failed"
)

// Event is one of StatusEvent, ResolvedEvent or ResolveFailedEvent.
type Event interface {
	Kind() Kind
	// ID is the producer-assigned event id used for delivery dedup. It may be empty.
	ID() string
}

// ErrorEntry is one error reported by a status event.
type ErrorEntry struct {
	Code    string             `json:"code" validate:"required"`
	Details errorstore.Details `json:"details,omitempty"`
}

// StatusEvent reports a workflow status transition and the errors raised with it.
type StatusEvent struct {
	EventID     string       `json:"eventId,omitempty"`
	ExecutionID string       `json:"executionId" validate:"required"`
	County      string       `json:"county,omitempty"`
	Status      string       `json:"status,omitempty"`
	Phase       string       `json:"phase,omitempty"`
	Step        string       `json:"step,omitempty"`
	TaskToken   string       `json:"taskToken,omitempty"`
	Errors      []ErrorEntry `json:"errors,omitempty" validate:"dive"`
}

// Kind implements Event.
func (e StatusEvent) Kind() Kind { return KindStatus }

// ID implements Event.
func (e StatusEvent) ID() string { return e.EventID }

// Target addresses resolution events. When ExecutionID is set, every code
// linked to that execution is resolved across all executions sharing it.
type Target struct {
	ExecutionID string `json:"executionId,omitempty" validate:"required_without=ErrorCode"`
	ErrorCode   string `json:"errorCode,omitempty" validate:"required_without=ExecutionID"`
}

// ResolvedEvent deletes the addressed links.
type ResolvedEvent struct {
	EventID string `json:"eventId,omitempty"`
	Target
}

// Kind implements Event.
func (e ResolvedEvent) Kind() Kind { return KindResolved }

// ID implements Event.
func (e ResolvedEvent) ID() string { return e.EventID }

// ResolveFailedEvent flags the addressed error records as possibly
// unrecoverable and parks their links without deleting them.
type ResolveFailedEvent struct {
	EventID string `json:"eventId,omitempty"`
	Target
}

// Kind implements Event.
func (e ResolveFailedEvent) Kind() Kind { return KindResolveFailed }

// ID implements Event.
func (e ResolveFailedEvent) ID() string { return e.EventID }

// Envelope is the wire form shared by every event kind.
type Envelope struct {
	Kind        Kind         `json:"kind"`
	EventID     string       `json:"eventId,omitempty"`
	ExecutionID string       `json:"executionId,omitempty"`
	ErrorCode   string       `json:"errorCode,omitempty"`
	County      string       `json:"county,omitempty"`
	Status      string       `json:"status,omitempty"`
	Phase       string       `json:"phase,omitempty"`
	Step        string       `json:"step,omitempty"`
	TaskToken   string       `json:"taskToken,omitempty"`
	Errors      []ErrorEntry `json:"errors,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode converts the envelope into its typed variant and validates it.
// A missing kind defaults to status.
func (e Envelope) Decode() (Event, error) {
	var ev Event
	switch e.Kind {
	case KindStatus, "":
		ev = StatusEvent{
			EventID:     e.EventID,
			ExecutionID: e.ExecutionID,
			County:      e.County,
			Status:      e.Status,
			Phase:       e.Phase,
			Step:        e.Step,
			TaskToken:   e.TaskToken,
			Errors:      e.Errors,
		}
	case KindResolved:
		ev = ResolvedEvent{EventID: e.EventID, Target: Target{ExecutionID: e.ExecutionID, ErrorCode: e.ErrorCode}}
	case KindResolveFailed:
		ev = ResolveFailedEvent{EventID: e.EventID, Target: Target{ExecutionID: e.ExecutionID, ErrorCode: e.ErrorCode}}
	default:
		return nil, &ValidationError{Fields: map[string]string{"kind": "must be one of: status resolved resolve_failed"}}
	}
	if err := Validate(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Encode renders ev in its wire form.
func Encode(ev Event) Envelope {
	switch e := ev.(type) {
	case StatusEvent:
		return Envelope{
			Kind:        KindStatus,
			EventID:     e.EventID,
			ExecutionID: e.ExecutionID,
			County:      e.County,
			Status:      e.Status,
			Phase:       e.Phase,
			Step:        e.Step,
			TaskToken:   e.TaskToken,
			Errors:      e.Errors,
		}
	case ResolvedEvent:
		return Envelope{Kind: KindResolved, EventID: e.EventID, ExecutionID: e.ExecutionID, ErrorCode: e.ErrorCode}
	case ResolveFailedEvent:
		return Envelope{Kind: KindResolveFailed, EventID: e.EventID, ExecutionID: e.ExecutionID, ErrorCode: e.ErrorCode}
	}
	return Envelope{Kind: ev.Kind(), EventID: ev.ID()}
}

// Parse decodes and validates one JSON envelope.
func Parse(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ValidationError{Fields: map[string]string{"body": "malformed JSON: " + err.Error()}}
	}
	return env.Decode()
}

// Validate checks the required fields of a typed event.
func Validate(ev Event) error {
	if ev == nil {
		return &ValidationError{Fields: map[string]string{"event": "is required"}}
	}
	err := validate.Struct(ev)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !asValidationErrors(err, &fieldErrs) {
		return fmt.Errorf("validate %s event: %w", ev.Kind(), err)
	}
	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Fields[fieldPath(fe)] = formatFieldError(fe)
	}
	return out
}

// fieldPath renders the JSON path of a failed field, dropping the root and
// embedded struct names: "ResolvedEvent.Target.errorCode" becomes "errorCode".
func fieldPath(fe validator.FieldError) string {
	parts := strings.Split(fe.Namespace(), ".")
	kept := parts[:0]
	for _, p := range parts[1:] {
		if p != "" && unicode.IsUpper(rune(p[0])) {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return fe.Field()
	}
	return strings.Join(kept, ".")
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_without":
		return "is required when " + lowerFirst(fe.Param()) + " is empty"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
