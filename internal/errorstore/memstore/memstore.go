// Package memstore is an in-process errorstore backend. It honours the same
// atomicity contract as the MongoDB backend by serializing every per-entity
// update behind one mutex, and publishes link removals on an in-memory feed.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bargom/errledger/internal/errorstore"
)

// Store implements errorstore.Store in memory.
type Store struct {
	mu     sync.Mutex
	errors map[string]*errorstore.ErrorRecord
	links  map[string]map[string]*errorstore.ExecutionErrorLink
	execs  map[string]*errorstore.FailedExecutionItem
	faults map[string]error
	feed   *Feed
}

var _ errorstore.Store = (*Store)(nil)

// New creates an empty store with a feed delivering up to maxBatch removals per batch.
func New(maxBatch int) *Store {
	return &Store{
		errors: make(map[string]*errorstore.ErrorRecord),
		links:  make(map[string]map[string]*errorstore.ExecutionErrorLink),
		execs:  make(map[string]*errorstore.FailedExecutionItem),
		faults: make(map[string]error),
		feed:   NewFeed(maxBatch),
	}
}

// Feed returns the change feed carrying link removals.
func (s *Store) Feed() *Feed {
	return s.feed
}

// SetFault makes the next calls of op for key fail with err until cleared with a nil err.
// Ops are method names, e.g. "DecrementTotalCount".
func (s *Store) SetFault(op, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := op + ":" + key
	if err == nil {
		delete(s.faults, k)
		return
	}
	s.faults[k] = err
}

func (s *Store) fault(op, key string) error {
	return s.faults[op+":"+key]
}

// IncrementErrorRecord implements errorstore.Store.
func (s *Store) IncrementErrorRecord(ctx context.Context, code string, by int64, now time.Time) (errorstore.ErrorRecord, error) {
	if by <= 0 {
		return errorstore.ErrorRecord{}, errorstore.ErrInvalidDelta
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("IncrementErrorRecord", code); err != nil {
		return errorstore.ErrorRecord{}, err
	}
	return s.incrementLocked(code, by, now), nil
}

func (s *Store) incrementLocked(code string, by int64, now time.Time) errorstore.ErrorRecord {
	rec, ok := s.errors[code]
	if !ok {
		rec = &errorstore.ErrorRecord{
			ErrorCode: code,
			ErrorType: errorstore.ErrorTypeOf(code),
			CreatedAt: now,
		}
		s.errors[code] = rec
	}
	rec.TotalCount += by
	rec.UpdatedAt = now
	return *rec
}

// UpsertLink implements errorstore.Store.
func (s *Store) UpsertLink(ctx context.Context, u errorstore.LinkUpsert) (errorstore.ExecutionErrorLink, bool, error) {
	if u.Occurrences <= 0 {
		return errorstore.ExecutionErrorLink{}, false, errorstore.ErrInvalidDelta
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("UpsertLink", u.ExecutionID+"/"+u.ErrorCode); err != nil {
		return errorstore.ExecutionErrorLink{}, false, err
	}
	link, created := s.upsertLinkLocked(u)
	return link, created, nil
}

func (s *Store) upsertLinkLocked(u errorstore.LinkUpsert) (errorstore.ExecutionErrorLink, bool) {
	byCode, ok := s.links[u.ExecutionID]
	if !ok {
		byCode = make(map[string]*errorstore.ExecutionErrorLink)
		s.links[u.ExecutionID] = byCode
	}
	link, exists := byCode[u.ErrorCode]
	if !exists {
		link = &errorstore.ExecutionErrorLink{
			ExecutionID: u.ExecutionID,
			ErrorCode:   u.ErrorCode,
			CreatedAt:   u.Now,
		}
		byCode[u.ErrorCode] = link
	}
	link.Occurrences += u.Occurrences
	link.County = u.County
	link.ErrorDetails = u.ErrorDetails
	link.Status = errorstore.StatusFailed
	link.UpdatedAt = u.Now
	return *link, !exists
}

// UpsertFailedExecution implements errorstore.Store.
func (s *Store) UpsertFailedExecution(ctx context.Context, u errorstore.ExecutionUpsert) (errorstore.FailedExecutionItem, error) {
	if u.Occurrences < 0 || u.NewLinks < 0 || u.OpenCodes < 0 {
		return errorstore.FailedExecutionItem{}, errorstore.ErrInvalidDelta
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("UpsertFailedExecution", u.ExecutionID); err != nil {
		return errorstore.FailedExecutionItem{}, err
	}
	return s.upsertExecutionLocked(u), nil
}

func (s *Store) upsertExecutionLocked(u errorstore.ExecutionUpsert) errorstore.FailedExecutionItem {
	item, ok := s.execs[u.ExecutionID]
	if !ok {
		item = &errorstore.FailedExecutionItem{
			ExecutionID: u.ExecutionID,
			CreatedAt:   u.Now,
		}
		s.execs[u.ExecutionID] = item
	}
	item.County = u.County
	item.ErrorType = u.ErrorType
	item.Status = errorstore.StatusFailed
	item.TotalOccurrences += u.Occurrences
	item.OpenErrorCount = max(item.OpenErrorCount+u.NewLinks, u.OpenCodes)
	item.UniqueErrorCount = max(item.UniqueErrorCount+u.NewLinks, u.OpenCodes)
	if u.TaskToken != "" {
		item.TaskToken = u.TaskToken
	}
	item.UpdatedAt = u.Now
	return *item
}

// RecordStatus implements errorstore.Store. Faults are checked before any
// write so an injected failure leaves the store untouched.
func (s *Store) RecordStatus(ctx context.Context, w errorstore.StatusWrite) (errorstore.StatusOutcome, error) {
	if err := w.Validate(); err != nil {
		return errorstore.StatusOutcome{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.statusFault(w); err != nil {
		return errorstore.StatusOutcome{}, err
	}
	return errorstore.ApplyStatus(ctx, locked{s}, w)
}

func (s *Store) statusFault(w errorstore.StatusWrite) error {
	for _, c := range w.Codes {
		if err := s.fault("IncrementErrorRecord", c.Code); err != nil {
			return fmt.Errorf("increment error record %s: %w", c.Code, err)
		}
		if err := s.fault("UpsertLink", w.ExecutionID+"/"+c.Code); err != nil {
			return fmt.Errorf("upsert link %s/%s: %w", w.ExecutionID, c.Code, err)
		}
	}
	if err := s.fault("UpsertFailedExecution", w.ExecutionID); err != nil {
		return fmt.Errorf("upsert failed execution %s: %w", w.ExecutionID, err)
	}
	return nil
}

// locked runs the status writes on a Store whose mutex is held.
type locked struct{ s *Store }

func (l locked) IncrementErrorRecord(_ context.Context, code string, by int64, now time.Time) (errorstore.ErrorRecord, error) {
	return l.s.incrementLocked(code, by, now), nil
}

func (l locked) UpsertLink(_ context.Context, u errorstore.LinkUpsert) (errorstore.ExecutionErrorLink, bool, error) {
	link, created := l.s.upsertLinkLocked(u)
	return link, created, nil
}

func (l locked) UpsertFailedExecution(_ context.Context, u errorstore.ExecutionUpsert) (errorstore.FailedExecutionItem, error) {
	return l.s.upsertExecutionLocked(u), nil
}

// GetErrorRecord implements errorstore.Store.
func (s *Store) GetErrorRecord(ctx context.Context, code string) (errorstore.ErrorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.errors[code]
	if !ok {
		return errorstore.ErrorRecord{}, fmt.Errorf("error record %q: %w", code, errorstore.ErrNotFound)
	}
	return *rec, nil
}

// GetFailedExecution implements errorstore.Store.
func (s *Store) GetFailedExecution(ctx context.Context, executionID string) (errorstore.FailedExecutionItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.execs[executionID]
	if !ok {
		return errorstore.FailedExecutionItem{}, fmt.Errorf("execution %q: %w", executionID, errorstore.ErrNotFound)
	}
	return *item, nil
}

// ListLinksByExecution implements errorstore.Store.
func (s *Store) ListLinksByExecution(ctx context.Context, executionID string) ([]errorstore.ExecutionErrorLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]errorstore.ExecutionErrorLink, 0, len(s.links[executionID]))
	for _, l := range s.links[executionID] {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ErrorCode < out[j].ErrorCode })
	return out, nil
}

// ListLinksByErrorCode implements errorstore.Store.
func (s *Store) ListLinksByErrorCode(ctx context.Context, code string) ([]errorstore.ExecutionErrorLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []errorstore.ExecutionErrorLink
	for _, byCode := range s.links {
		if l, ok := byCode[code]; ok {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutionID < out[j].ExecutionID })
	return out, nil
}

// DeleteLink implements errorstore.Store.
func (s *Store) DeleteLink(ctx context.Context, executionID, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("DeleteLink", executionID+"/"+code); err != nil {
		return false, err
	}

	byCode := s.links[executionID]
	link, ok := byCode[code]
	if !ok {
		return false, nil
	}
	delete(byCode, code)
	if len(byCode) == 0 {
		delete(s.links, executionID)
	}
	s.feed.publish(errorstore.RemovedLink{
		ExecutionID: link.ExecutionID,
		ErrorCode:   link.ErrorCode,
		Occurrences: link.Occurrences,
	})
	return true, nil
}

// MarkUnrecoverable implements errorstore.Store.
func (s *Store) MarkUnrecoverable(ctx context.Context, code string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.errors[code]
	if !ok {
		return fmt.Errorf("error record %q: %w", code, errorstore.ErrNotFound)
	}
	rec.MaybeUnrecoverable = true
	rec.UpdatedAt = now
	return nil
}

// SetLinkStatus implements errorstore.Store.
func (s *Store) SetLinkStatus(ctx context.Context, executionID, code string, status errorstore.Status, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[executionID][code]
	if !ok {
		return fmt.Errorf("link %s/%s: %w", executionID, code, errorstore.ErrNotFound)
	}
	link.Status = status
	link.UpdatedAt = now
	return nil
}

// ClearTaskToken implements errorstore.Store.
func (s *Store) ClearTaskToken(ctx context.Context, executionID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.execs[executionID]
	if !ok {
		return fmt.Errorf("execution %q: %w", executionID, errorstore.ErrNotFound)
	}
	item.TaskToken = ""
	item.UpdatedAt = now
	return nil
}

// DecrementOpenErrors implements errorstore.Store.
func (s *Store) DecrementOpenErrors(ctx context.Context, executionID string, by int64, now time.Time) (errorstore.CounterChange, errorstore.FailedExecutionItem, error) {
	if by <= 0 {
		return errorstore.CounterChange{}, errorstore.FailedExecutionItem{}, errorstore.ErrInvalidDelta
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("DecrementOpenErrors", executionID); err != nil {
		return errorstore.CounterChange{}, errorstore.FailedExecutionItem{}, err
	}

	item, ok := s.execs[executionID]
	if !ok {
		return errorstore.CounterChange{}, errorstore.FailedExecutionItem{}, nil
	}
	before := *item
	change := decrement(item.OpenErrorCount, by)
	item.OpenErrorCount = change.After
	item.UpdatedAt = now
	return change, before, nil
}

// DeleteFailedExecutionIfDrained implements errorstore.Store.
func (s *Store) DeleteFailedExecutionIfDrained(ctx context.Context, executionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("DeleteFailedExecutionIfDrained", executionID); err != nil {
		return false, err
	}
	item, ok := s.execs[executionID]
	if !ok || item.OpenErrorCount > 0 {
		return false, nil
	}
	delete(s.execs, executionID)
	return true, nil
}

// DecrementTotalCount implements errorstore.Store.
func (s *Store) DecrementTotalCount(ctx context.Context, code string, by int64, now time.Time) (errorstore.CounterChange, error) {
	if by <= 0 {
		return errorstore.CounterChange{}, errorstore.ErrInvalidDelta
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("DecrementTotalCount", code); err != nil {
		return errorstore.CounterChange{}, err
	}

	rec, ok := s.errors[code]
	if !ok {
		return errorstore.CounterChange{}, nil
	}
	change := decrement(rec.TotalCount, by)
	rec.TotalCount = change.After
	rec.UpdatedAt = now
	return change, nil
}

// DeleteErrorRecordIfDrained implements errorstore.Store.
func (s *Store) DeleteErrorRecordIfDrained(ctx context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault("DeleteErrorRecordIfDrained", code); err != nil {
		return false, err
	}
	rec, ok := s.errors[code]
	if !ok || rec.TotalCount > 0 {
		return false, nil
	}
	delete(s.errors, code)
	return true, nil
}

// RankExecutions implements errorstore.Store.
func (s *Store) RankExecutions(ctx context.Context, q errorstore.RankQuery) ([]errorstore.FailedExecutionItem, error) {
	s.mu.Lock()
	type ranked struct {
		key  string
		item errorstore.FailedExecutionItem
	}
	rows := make([]ranked, 0, len(s.execs))
	for _, item := range s.execs {
		keys := errorstore.ExecutionKeys(item.ExecutionID, item.ErrorType, item.OpenErrorCount)
		key := keys.GS1SK
		if q.ErrorType != "" {
			if !strings.HasPrefix(keys.GS3SK, errorstore.TypePrefix(q.ErrorType)) {
				continue
			}
			key = keys.GS3SK
		}
		rows = append(rows, ranked{key: key, item: *item})
	}
	s.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if q.Order == errorstore.Ascending {
			return rows[i].key < rows[j].key
		}
		return rows[i].key > rows[j].key
	})
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	out := make([]errorstore.FailedExecutionItem, len(rows))
	for i, r := range rows {
		out[i] = r.item
	}
	return out, nil
}

// RankErrorRecords implements errorstore.Store.
func (s *Store) RankErrorRecords(ctx context.Context, q errorstore.RankQuery) ([]errorstore.ErrorRecord, error) {
	s.mu.Lock()
	type ranked struct {
		key string
		rec errorstore.ErrorRecord
	}
	rows := make([]ranked, 0, len(s.errors))
	for _, rec := range s.errors {
		keys := errorstore.ErrorRecordKeys(rec.ErrorCode, rec.TotalCount)
		key := keys.GS1SK
		if q.ErrorType != "" {
			if !strings.HasPrefix(keys.GS3SK, errorstore.TypePrefix(q.ErrorType)) {
				continue
			}
			key = keys.GS3SK
		}
		rows = append(rows, ranked{key: key, rec: *rec})
	}
	s.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if q.Order == errorstore.Ascending {
			return rows[i].key < rows[j].key
		}
		return rows[i].key > rows[j].key
	})
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	out := make([]errorstore.ErrorRecord, len(rows))
	for i, r := range rows {
		out[i] = r.rec
	}
	return out, nil
}

func decrement(before, by int64) errorstore.CounterChange {
	after := before - by
	clamped := false
	if after < 0 {
		after = 0
		clamped = true
	}
	return errorstore.CounterChange{Found: true, Before: before, After: after, Clamped: clamped}
}
