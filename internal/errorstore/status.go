package errorstore

import (
	"context"
	"fmt"
	"time"
)

// CodeWrite is the per-code part of a status write.
type CodeWrite struct {
	Code         string
	Occurrences  int64
	ErrorDetails string
}

// StatusWrite is every write of one status event that carries errors.
type StatusWrite struct {
	ExecutionID string
	County      string
	ErrorType   string
	TaskToken   string
	// Codes holds one entry per distinct code, in event order.
	Codes []CodeWrite
	Now   time.Time
}

// Validate rejects writes that a backend would refuse partway through.
func (w StatusWrite) Validate() error {
	if w.ExecutionID == "" || len(w.Codes) == 0 {
		return fmt.Errorf("status write without execution or codes: %w", ErrInvalidDelta)
	}
	seen := make(map[string]bool, len(w.Codes))
	for _, c := range w.Codes {
		if c.Code == "" || c.Occurrences <= 0 || seen[c.Code] {
			return fmt.Errorf("status write code %q: %w", c.Code, ErrInvalidDelta)
		}
		seen[c.Code] = true
	}
	return nil
}

// StatusOutcome reports what a status write changed.
type StatusOutcome struct {
	LinksCreated int
	Occurrences  int64
	Execution    FailedExecutionItem
}

// StatusWriter is the part of a Store a status write goes through.
type StatusWriter interface {
	IncrementErrorRecord(ctx context.Context, code string, by int64, now time.Time) (ErrorRecord, error)
	UpsertLink(ctx context.Context, u LinkUpsert) (link ExecutionErrorLink, created bool, err error)
	UpsertFailedExecution(ctx context.Context, u ExecutionUpsert) (FailedExecutionItem, error)
}

// ApplyStatus issues the writes of w through s: error records and links per
// code, then the execution summary. Backends run it inside their unit of work
// so a failure leaves nothing applied.
func ApplyStatus(ctx context.Context, s StatusWriter, w StatusWrite) (StatusOutcome, error) {
	var out StatusOutcome
	if err := w.Validate(); err != nil {
		return out, err
	}

	var newLinks int64
	for _, c := range w.Codes {
		if _, err := s.IncrementErrorRecord(ctx, c.Code, c.Occurrences, w.Now); err != nil {
			return out, fmt.Errorf("increment error record %s: %w", c.Code, err)
		}
		_, created, err := s.UpsertLink(ctx, LinkUpsert{
			ExecutionID:  w.ExecutionID,
			ErrorCode:    c.Code,
			Occurrences:  c.Occurrences,
			County:       w.County,
			ErrorDetails: c.ErrorDetails,
			Now:          w.Now,
		})
		if err != nil {
			return out, fmt.Errorf("upsert link %s/%s: %w", w.ExecutionID, c.Code, err)
		}
		if created {
			newLinks++
		}
		out.Occurrences += c.Occurrences
	}
	out.LinksCreated = int(newLinks)

	item, err := s.UpsertFailedExecution(ctx, ExecutionUpsert{
		ExecutionID: w.ExecutionID,
		County:      w.County,
		ErrorType:   w.ErrorType,
		TaskToken:   w.TaskToken,
		Occurrences: out.Occurrences,
		NewLinks:    newLinks,
		OpenCodes:   int64(len(w.Codes)),
		Now:         w.Now,
	})
	if err != nil {
		return out, fmt.Errorf("upsert failed execution %s: %w", w.ExecutionID, err)
	}
	out.Execution = item
	return out, nil
}
