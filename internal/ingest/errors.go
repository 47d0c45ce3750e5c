package ingest

import (
	"errors"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidEvent is matched by every ValidationError.
	ErrInvalidEvent = errors.New("ingest: invalid event")
	// ErrDuplicateEvent reports an event id that was already claimed.
	ErrDuplicateEvent = errors.New("ingest: duplicate event")
)

// ValidationError rejects one event. Fields maps a JSON field path to its problem.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("invalid event")
	for i, k := range keys {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(k)
		b.WriteString(" ")
		b.WriteString(e.Fields[k])
	}
	return b.String()
}

// Is makes errors.Is(err, ErrInvalidEvent) hold for validation failures.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidEvent
}

// IsValidation reports whether err rejects the event itself rather than
// signalling a transient failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidEvent)
}

func asValidationErrors(err error, out *validator.ValidationErrors) bool {
	return errors.As(err, out)
}
