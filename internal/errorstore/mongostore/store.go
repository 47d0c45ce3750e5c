// Package mongostore implements errorstore.Store on a single MongoDB
// collection. Every entity lives in one document keyed by PK|SK; counters and
// index sort keys are rewritten together by pipeline updates so that each
// mutation is one atomic document operation.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bargom/errledger/internal/errorstore"
	"github.com/bargom/errledger/pkg/metrics"
)

// Store implements errorstore.Store.
type Store struct {
	coll    *mongo.Collection
	logger  *slog.Logger
	metrics *metrics.DBMetrics
}

var _ errorstore.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithMetrics records every store operation on m.
func WithMetrics(m *metrics.DBMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a store over coll.
func New(coll *mongo.Collection, opts ...Option) *Store {
	s := &Store{coll: coll, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "mongostore", "collection", coll.Name())
	return s
}

func (s *Store) observe(op metrics.Operation, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		err = nil
	}
	s.metrics.RecordQuery(op, s.coll.Name(), time.Since(start), err)
}

// IncrementErrorRecord implements errorstore.Store.
func (s *Store) IncrementErrorRecord(ctx context.Context, code string, by int64, now time.Time) (rec errorstore.ErrorRecord, err error) {
	if by <= 0 {
		return errorstore.ErrorRecord{}, errorstore.ErrInvalidDelta
	}
	defer func(start time.Time) { s.observe(metrics.OperationUpdate, start, err) }(time.Now())

	pk := errorstore.ErrorPK(code)
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: fieldPK, Value: lit(pk)},
			{Key: fieldSK, Value: lit(pk)},
			{Key: fieldEntityType, Value: lit(errorstore.EntityError)},
			{Key: "errorCode", Value: lit(code)},
			{Key: "errorType", Value: lit(errorstore.ErrorTypeOf(code))},
			{Key: "totalCount", Value: add(ifNull("$totalCount", int64(0)), by)},
			{Key: "maybeUnrecoverable", Value: ifNull("$maybeUnrecoverable", false)},
			{Key: "createdAt", Value: ifNull("$createdAt", now)},
			{Key: "updatedAt", Value: now},
			{Key: fieldGS1PK, Value: lit(errorstore.ErrorTotalPartition)},
			{Key: fieldGS3PK, Value: lit(errorstore.ErrorTotalPartition)},
		}}},
		rankKeysStage("$totalCount", code),
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc errorDoc
	if err := s.coll.FindOneAndUpdate(ctx, bson.D{{Key: fieldID, Value: errorID(code)}}, update, opts).Decode(&doc); err != nil {
		return errorstore.ErrorRecord{}, fmt.Errorf("increment error record %q: %w", code, err)
	}
	return doc.ErrorRecord, nil
}

// UpsertLink implements errorstore.Store.
func (s *Store) UpsertLink(ctx context.Context, u errorstore.LinkUpsert) (link errorstore.ExecutionErrorLink, created bool, err error) {
	if u.Occurrences <= 0 {
		return errorstore.ExecutionErrorLink{}, false, errorstore.ErrInvalidDelta
	}
	defer func(start time.Time) { s.observe(metrics.OperationUpdate, start, err) }(time.Now())

	keys := errorstore.LinkKeys(u.ExecutionID, u.ErrorCode)
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: fieldPK, Value: lit(keys.PK)},
			{Key: fieldSK, Value: lit(keys.SK)},
			{Key: fieldGS2PK, Value: lit(keys.GS2PK)},
			{Key: fieldGS2SK, Value: lit(keys.GS2SK)},
			{Key: fieldEntityType, Value: lit(errorstore.EntityLink)},
			{Key: "executionId", Value: lit(u.ExecutionID)},
			{Key: "errorCode", Value: lit(u.ErrorCode)},
			{Key: "occurrences", Value: add(ifNull("$occurrences", int64(0)), u.Occurrences)},
			{Key: "county", Value: lit(u.County)},
			{Key: "errorDetails", Value: lit(u.ErrorDetails)},
			{Key: "status", Value: lit(errorstore.StatusFailed)},
			{Key: "createdAt", Value: ifNull("$createdAt", u.Now)},
			{Key: "updatedAt", Value: u.Now},
		}}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.Before)

	var before linkDoc
	err = s.coll.FindOneAndUpdate(ctx, bson.D{{Key: fieldID, Value: keys.ID()}}, update, opts).Decode(&before)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		created = true
		err = nil
	case err != nil:
		return errorstore.ExecutionErrorLink{}, false, fmt.Errorf("upsert link %s/%s: %w", u.ExecutionID, u.ErrorCode, err)
	}

	link = errorstore.ExecutionErrorLink{
		ExecutionID:  u.ExecutionID,
		ErrorCode:    u.ErrorCode,
		Occurrences:  u.Occurrences,
		County:       u.County,
		ErrorDetails: u.ErrorDetails,
		Status:       errorstore.StatusFailed,
		CreatedAt:    u.Now,
		UpdatedAt:    u.Now,
	}
	if !created {
		link.Occurrences += before.Occurrences
		link.CreatedAt = before.CreatedAt
	}
	return link, created, nil
}

// UpsertFailedExecution implements errorstore.Store.
func (s *Store) UpsertFailedExecution(ctx context.Context, u errorstore.ExecutionUpsert) (item errorstore.FailedExecutionItem, err error) {
	if u.Occurrences < 0 || u.NewLinks < 0 || u.OpenCodes < 0 {
		return errorstore.FailedExecutionItem{}, errorstore.ErrInvalidDelta
	}
	defer func(start time.Time) { s.observe(metrics.OperationUpdate, start, err) }(time.Now())

	pk := errorstore.ExecutionPK(u.ExecutionID)
	set := bson.D{
		{Key: fieldPK, Value: lit(pk)},
		{Key: fieldSK, Value: lit(pk)},
		{Key: fieldEntityType, Value: lit(errorstore.EntityExecution)},
		{Key: "executionId", Value: lit(u.ExecutionID)},
		{Key: "county", Value: lit(u.County)},
		{Key: "errorType", Value: lit(u.ErrorType)},
		{Key: "status", Value: lit(errorstore.StatusFailed)},
		{Key: "totalOccurrences", Value: add(ifNull("$totalOccurrences", int64(0)), u.Occurrences)},
		{Key: "openErrorCount", Value: atLeast(add(ifNull("$openErrorCount", int64(0)), u.NewLinks), u.OpenCodes)},
		{Key: "uniqueErrorCount", Value: atLeast(add(ifNull("$uniqueErrorCount", int64(0)), u.NewLinks), u.OpenCodes)},
		{Key: "createdAt", Value: ifNull("$createdAt", u.Now)},
		{Key: "updatedAt", Value: u.Now},
		{Key: fieldGS1PK, Value: lit(errorstore.ExecutionCountPartition)},
		{Key: fieldGS3PK, Value: lit(errorstore.ExecutionCountPartition)},
	}
	if u.TaskToken != "" {
		set = append(set, bson.E{Key: "taskToken", Value: lit(u.TaskToken)})
	}
	update := mongo.Pipeline{
		{{Key: "$set", Value: set}},
		rankKeysStage("$openErrorCount", u.ExecutionID),
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc executionDoc
	if err := s.coll.FindOneAndUpdate(ctx, bson.D{{Key: fieldID, Value: executionID(u.ExecutionID)}}, update, opts).Decode(&doc); err != nil {
		return errorstore.FailedExecutionItem{}, fmt.Errorf("upsert execution %q: %w", u.ExecutionID, err)
	}
	return doc.FailedExecutionItem, nil
}

// RecordStatus implements errorstore.Store. The writes run in one
// transaction, so a link deletion either precedes the new link or sees the
// execution summary that counts it.
func (s *Store) RecordStatus(ctx context.Context, w errorstore.StatusWrite) (out errorstore.StatusOutcome, err error) {
	if err := w.Validate(); err != nil {
		return errorstore.StatusOutcome{}, err
	}

	session, err := s.coll.Database().Client().StartSession()
	if err != nil {
		return errorstore.StatusOutcome{}, fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		// The callback is retried on transient transaction errors.
		res, err := errorstore.ApplyStatus(sessCtx, s, w)
		if err != nil {
			return nil, err
		}
		out = res
		return nil, nil
	})
	if err != nil {
		return errorstore.StatusOutcome{}, fmt.Errorf("record status of %s: %w", w.ExecutionID, err)
	}
	return out, nil
}

// GetErrorRecord implements errorstore.Store.
func (s *Store) GetErrorRecord(ctx context.Context, code string) (rec errorstore.ErrorRecord, err error) {
	defer func(start time.Time) { s.observe(metrics.OperationSelect, start, err) }(time.Now())

	var doc errorDoc
	if err := s.coll.FindOne(ctx, bson.D{{Key: fieldID, Value: errorID(code)}}).Decode(&doc); err != nil {
		return errorstore.ErrorRecord{}, notFound(fmt.Sprintf("error record %q", code), err)
	}
	return doc.ErrorRecord, nil
}

// GetFailedExecution implements errorstore.Store.
func (s *Store) GetFailedExecution(ctx context.Context, id string) (item errorstore.FailedExecutionItem, err error) {
	defer func(start time.Time) { s.observe(metrics.OperationSelect, start, err) }(time.Now())

	var doc executionDoc
	if err := s.coll.FindOne(ctx, bson.D{{Key: fieldID, Value: executionID(id)}}).Decode(&doc); err != nil {
		return errorstore.FailedExecutionItem{}, notFound(fmt.Sprintf("execution %q", id), err)
	}
	return doc.FailedExecutionItem, nil
}

// ListLinksByExecution implements errorstore.Store.
func (s *Store) ListLinksByExecution(ctx context.Context, id string) (links []errorstore.ExecutionErrorLink, err error) {
	defer func(start time.Time) { s.observe(metrics.OperationSelect, start, err) }(time.Now())

	filter := bson.D{
		{Key: fieldPK, Value: errorstore.ExecutionPK(id)},
		{Key: fieldEntityType, Value: errorstore.EntityLink},
	}
	return s.findLinks(ctx, filter, options.Find().SetSort(bson.D{{Key: fieldSK, Value: 1}}))
}

// ListLinksByErrorCode implements errorstore.Store.
func (s *Store) ListLinksByErrorCode(ctx context.Context, code string) (links []errorstore.ExecutionErrorLink, err error) {
	defer func(start time.Time) { s.observe(metrics.OperationSelect, start, err) }(time.Now())

	filter := bson.D{{Key: fieldGS2PK, Value: errorstore.ErrorPK(code)}}
	return s.findLinks(ctx, filter, options.Find().SetSort(bson.D{{Key: fieldGS2SK, Value: 1}}))
}

func (s *Store) findLinks(ctx context.Context, filter bson.D, opts *options.FindOptions) ([]errorstore.ExecutionErrorLink, error) {
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find links: %w", err)
	}
	var docs []linkDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode links: %w", err)
	}
	out := make([]errorstore.ExecutionErrorLink, len(docs))
	for i, d := range docs {
		out[i] = d.ExecutionErrorLink
	}
	return out, nil
}

// DeleteLink implements errorstore.Store. The change stream carries the
// removal to reconciliation.
func (s *Store) DeleteLink(ctx context.Context, id, code string) (deleted bool, err error) {
	defer func(start time.Time) { s.observe(metrics.OperationDelete, start, err) }(time.Now())

	res, err := s.coll.DeleteOne(ctx, bson.D{{Key: fieldID, Value: linkID(id, code)}})
	if err != nil {
		return false, fmt.Errorf("delete link %s/%s: %w", id, code, err)
	}
	return res.DeletedCount > 0, nil
}

// MarkUnrecoverable implements errorstore.Store.
func (s *Store) MarkUnrecoverable(ctx context.Context, code string, now time.Time) (err error) {
	defer func(start time.Time) { s.observe(metrics.OperationUpdate, start, err) }(time.Now())

	return s.updateOne(ctx, fmt.Sprintf("error record %q", code), errorID(code), bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "maybeUnrecoverable", Value: true},
			{Key: "updatedAt", Value: now},
		}},
	})
}

// SetLinkStatus implements errorstore.Store.
func (s *Store) SetLinkStatus(ctx context.Context, id, code string, status errorstore.Status, now time.Time) (err error) {
	defer func(start time.Time) { s.observe(metrics.OperationUpdate, start, err) }(time.Now())

	return s.updateOne(ctx, fmt.Sprintf("link %s/%s", id, code), linkID(id, code), bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "status", Value: status},
			{Key: "updatedAt", Value: now},
		}},
	})
}

// ClearTaskToken implements errorstore.Store.
func (s *Store) ClearTaskToken(ctx context.Context, id string, now time.Time) (err error) {
	defer func(start time.Time) { s.observe(metrics.OperationUpdate, start, err) }(time.Now())

	return s.updateOne(ctx, fmt.Sprintf("execution %q", id), executionID(id), bson.D{
		{Key: "$unset", Value: bson.D{{Key: "taskToken", Value: ""}}},
		{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: now}}},
	})
}

func (s *Store) updateOne(ctx context.Context, what, id string, update bson.D) error {
	res, err := s.coll.UpdateOne(ctx, bson.D{{Key: fieldID, Value: id}}, update)
	if err != nil {
		return fmt.Errorf("update %s: %w", what, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", what, errorstore.ErrNotFound)
	}
	return nil
}

// DecrementOpenErrors implements errorstore.Store.
func (s *Store) DecrementOpenErrors(ctx context.Context, id string, by int64, now time.Time) (change errorstore.CounterChange, item errorstore.FailedExecutionItem, err error) {
	if by <= 0 {
		return errorstore.CounterChange{}, errorstore.FailedExecutionItem{}, errorstore.ErrInvalidDelta
	}
	defer func(start time.Time) { s.observe(metrics.OperationUpdate, start, err) }(time.Now())

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "openErrorCount", Value: clampedSub("$openErrorCount", by)},
			{Key: "updatedAt", Value: now},
		}}},
		rankKeysStage("$openErrorCount", id),
	}
	filter := bson.D{
		{Key: fieldID, Value: executionID(id)},
		{Key: fieldEntityType, Value: errorstore.EntityExecution},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var before executionDoc
	err = s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&before)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return errorstore.CounterChange{}, errorstore.FailedExecutionItem{}, nil
	case err != nil:
		return errorstore.CounterChange{}, errorstore.FailedExecutionItem{}, fmt.Errorf("decrement execution %q: %w", id, err)
	}
	return counterChange(before.OpenErrorCount, by), before.FailedExecutionItem, nil
}

// DeleteFailedExecutionIfDrained implements errorstore.Store.
func (s *Store) DeleteFailedExecutionIfDrained(ctx context.Context, id string) (deleted bool, err error) {
	defer func(start time.Time) { s.observe(metrics.OperationDelete, start, err) }(time.Now())

	return s.deleteIfDrained(ctx, executionID(id), "openErrorCount")
}

// DecrementTotalCount implements errorstore.Store.
func (s *Store) DecrementTotalCount(ctx context.Context, code string, by int64, now time.Time) (change errorstore.CounterChange, err error) {
	if by <= 0 {
		return errorstore.CounterChange{}, errorstore.ErrInvalidDelta
	}
	defer func(start time.Time) { s.observe(metrics.OperationUpdate, start, err) }(time.Now())

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "totalCount", Value: clampedSub("$totalCount", by)},
			{Key: "updatedAt", Value: now},
		}}},
		rankKeysStage("$totalCount", code),
	}
	filter := bson.D{
		{Key: fieldID, Value: errorID(code)},
		{Key: fieldEntityType, Value: errorstore.EntityError},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var before errorDoc
	err = s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&before)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return errorstore.CounterChange{}, nil
	case err != nil:
		return errorstore.CounterChange{}, fmt.Errorf("decrement error record %q: %w", code, err)
	}
	return counterChange(before.TotalCount, by), nil
}

// DeleteErrorRecordIfDrained implements errorstore.Store.
func (s *Store) DeleteErrorRecordIfDrained(ctx context.Context, code string) (deleted bool, err error) {
	defer func(start time.Time) { s.observe(metrics.OperationDelete, start, err) }(time.Now())

	return s.deleteIfDrained(ctx, errorID(code), "totalCount")
}

func (s *Store) deleteIfDrained(ctx context.Context, id, counter string) (bool, error) {
	filter := bson.D{
		{Key: fieldID, Value: id},
		{Key: counter, Value: bson.D{{Key: "$lte", Value: 0}}},
	}
	res, err := s.coll.DeleteOne(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("delete drained %s: %w", id, err)
	}
	return res.DeletedCount > 0, nil
}

// RankExecutions implements errorstore.Store.
func (s *Store) RankExecutions(ctx context.Context, q errorstore.RankQuery) (items []errorstore.FailedExecutionItem, err error) {
	defer func(start time.Time) { s.observe(metrics.OperationSelect, start, err) }(time.Now())

	cursor, err := s.coll.Find(ctx, rankFilter(errorstore.ExecutionCountPartition, q), rankOptions(q))
	if err != nil {
		return nil, fmt.Errorf("rank executions: %w", err)
	}
	var docs []executionDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode executions: %w", err)
	}
	items = make([]errorstore.FailedExecutionItem, len(docs))
	for i, d := range docs {
		items[i] = d.FailedExecutionItem
	}
	return items, nil
}

// RankErrorRecords implements errorstore.Store.
func (s *Store) RankErrorRecords(ctx context.Context, q errorstore.RankQuery) (recs []errorstore.ErrorRecord, err error) {
	defer func(start time.Time) { s.observe(metrics.OperationSelect, start, err) }(time.Now())

	cursor, err := s.coll.Find(ctx, rankFilter(errorstore.ErrorTotalPartition, q), rankOptions(q))
	if err != nil {
		return nil, fmt.Errorf("rank error records: %w", err)
	}
	var docs []errorDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode error records: %w", err)
	}
	recs = make([]errorstore.ErrorRecord, len(docs))
	for i, d := range docs {
		recs[i] = d.ErrorRecord
	}
	return recs, nil
}

func rankFilter(partition string, q errorstore.RankQuery) bson.D {
	if q.ErrorType == "" {
		return bson.D{{Key: fieldGS1PK, Value: partition}}
	}
	prefix := "^" + regexp.QuoteMeta(errorstore.TypePrefix(q.ErrorType))
	return bson.D{
		{Key: fieldGS3PK, Value: partition},
		{Key: fieldGS3SK, Value: bson.D{{Key: "$regex", Value: prefix}}},
	}
}

func rankOptions(q errorstore.RankQuery) *options.FindOptions {
	field := fieldGS1SK
	if q.ErrorType != "" {
		field = fieldGS3SK
	}
	dir := -1
	if q.Order == errorstore.Ascending {
		dir = 1
	}
	opts := options.Find().SetSort(bson.D{{Key: field, Value: dir}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return opts
}

func counterChange(before, by int64) errorstore.CounterChange {
	after := before - by
	change := errorstore.CounterChange{Found: true, Before: before, After: after}
	if after < 0 {
		change.After = 0
		change.Clamped = true
	}
	return change
}

func notFound(what string, err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", what, errorstore.ErrNotFound)
	}
	return fmt.Errorf("find %s: %w", what, err)
}
