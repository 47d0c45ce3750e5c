package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineNotStarted is returned when engine operations are called before Start.
	ErrEngineNotStarted = errors.New("workflow engine not started")
	// ErrEngineAlreadyStarted is returned when Start is called on a running engine.
	ErrEngineAlreadyStarted = errors.New("workflow engine already started")
)

// ErrConfigInvalid is returned when configuration validation fails.
type ErrConfigInvalid struct {
	Field  string
	Reason string
}

func (e ErrConfigInvalid) Error() string {
	return fmt.Sprintf("invalid config: %s %s", e.Field, e.Reason)
}
