package mongostore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/bargom/errledger/internal/database/mongodb"
	"github.com/bargom/errledger/internal/errorstore"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type memCheckpoints struct {
	mu     sync.Mutex
	tokens map[string][]byte
}

func (m *memCheckpoints) Load(_ context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[name], nil
}

func (m *memCheckpoints) Save(_ context.Context, name string, token []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		m.tokens = make(map[string][]byte)
	}
	m.tokens[name] = append([]byte(nil), token...)
	return nil
}

func setupStore(t *testing.T) (*Store, *mongodb.Client) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MongoDB integration test in short mode")
	}
	client := mongodb.SetupTestClient(t, "errledger_test")
	ctx := context.Background()
	require.NoError(t, EnsureSchema(ctx, client.Collection()))
	require.NoError(t, EnsureSchema(ctx, client.Collection()), "schema setup is idempotent")
	return New(client.Collection()), client
}

func TestStore_Integration(t *testing.T) {
	s, client := setupStore(t)
	ctx := context.Background()

	t.Run("increment error record rewrites rank keys", func(t *testing.T) {
		rec, err := s.IncrementErrorRecord(ctx, "01012", 3, now)
		require.NoError(t, err)
		assert.Equal(t, int64(3), rec.TotalCount)
		assert.Equal(t, "01", rec.ErrorType)

		var doc errorDoc
		require.NoError(t, client.Collection().FindOne(ctx, bson.D{{Key: "_id", Value: errorID("01012")}}).Decode(&doc))
		want := errorstore.ErrorRecordKeys("01012", 3)
		assert.Equal(t, want, doc.Keys)
		assert.Equal(t, errorstore.EntityError, doc.EntityType)
	})

	t.Run("upsert link reports creation once", func(t *testing.T) {
		_, created, err := s.UpsertLink(ctx, errorstore.LinkUpsert{
			ExecutionID: "X1", ErrorCode: "01012", Occurrences: 1, County: "lee", ErrorDetails: `{"a":1}`, Now: now,
		})
		require.NoError(t, err)
		assert.True(t, created)

		require.NoError(t, s.SetLinkStatus(ctx, "X1", "01012", errorstore.StatusMaybeSolved, now))

		link, created, err := s.UpsertLink(ctx, errorstore.LinkUpsert{
			ExecutionID: "X1", ErrorCode: "01012", Occurrences: 2, County: "lee", Now: now,
		})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, int64(3), link.Occurrences)

		links, err := s.ListLinksByExecution(ctx, "X1")
		require.NoError(t, err)
		require.Len(t, links, 1)
		assert.Equal(t, errorstore.StatusFailed, links[0].Status)

		byCode, err := s.ListLinksByErrorCode(ctx, "01012")
		require.NoError(t, err)
		require.Len(t, byCode, 1)
		assert.Equal(t, "X1", byCode[0].ExecutionID)
	})

	t.Run("execution upsert keeps token unless replaced", func(t *testing.T) {
		item, err := s.UpsertFailedExecution(ctx, errorstore.ExecutionUpsert{
			ExecutionID: "X1", County: "lee", ErrorType: "01", TaskToken: "tok", Occurrences: 3, NewLinks: 1, Now: now,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), item.OpenErrorCount)
		assert.Equal(t, "tok", item.TaskToken)

		item, err = s.UpsertFailedExecution(ctx, errorstore.ExecutionUpsert{
			ExecutionID: "X1", County: "lee", ErrorType: "01", Occurrences: 1, Now: now,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(4), item.TotalOccurrences)
		assert.Equal(t, "tok", item.TaskToken)

		require.NoError(t, s.ClearTaskToken(ctx, "X1", now))
		item, err = s.GetFailedExecution(ctx, "X1")
		require.NoError(t, err)
		assert.Empty(t, item.TaskToken)
	})

	t.Run("clamped decrement returns pre-image", func(t *testing.T) {
		_, err := s.UpsertFailedExecution(ctx, errorstore.ExecutionUpsert{
			ExecutionID: "X2", ErrorType: "02", NewLinks: 2, Occurrences: 2, TaskToken: "t2", Now: now,
		})
		require.NoError(t, err)

		change, pre, err := s.DecrementOpenErrors(ctx, "X2", 5, now)
		require.NoError(t, err)
		assert.Equal(t, errorstore.CounterChange{Found: true, Before: 2, After: 0, Clamped: true}, change)
		assert.True(t, change.CrossedZero())
		assert.Equal(t, "t2", pre.TaskToken)

		change, _, err = s.DecrementOpenErrors(ctx, "X2", 1, now)
		require.NoError(t, err)
		assert.False(t, change.CrossedZero(), "an already drained counter never crosses again")

		var doc executionDoc
		require.NoError(t, client.Collection().FindOne(ctx, bson.D{{Key: "_id", Value: executionID("X2")}}).Decode(&doc))
		assert.Equal(t, errorstore.ExecutionKeys("X2", "02", 0), doc.Keys)

		deleted, err := s.DeleteFailedExecutionIfDrained(ctx, "X2")
		require.NoError(t, err)
		assert.True(t, deleted)

		change, _, err = s.DecrementOpenErrors(ctx, "missing", 1, now)
		require.NoError(t, err)
		assert.False(t, change.Found)
	})

	t.Run("conditional delete keeps non-zero record", func(t *testing.T) {
		deleted, err := s.DeleteErrorRecordIfDrained(ctx, "01012")
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("ranking by type and order", func(t *testing.T) {
		for id, open := range map[string]int64{"R1": 5, "R2": 12, "R3": 1} {
			_, err := s.UpsertFailedExecution(ctx, errorstore.ExecutionUpsert{
				ExecutionID: id, ErrorType: "07", NewLinks: open, Occurrences: open, Now: now,
			})
			require.NoError(t, err)
		}

		items, err := s.RankExecutions(ctx, errorstore.RankQuery{ErrorType: "07", Limit: 2})
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "R2", items[0].ExecutionID)
		assert.Equal(t, "R1", items[1].ExecutionID)

		items, err = s.RankExecutions(ctx, errorstore.RankQuery{ErrorType: "07", Order: errorstore.Ascending})
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.Equal(t, "R3", items[0].ExecutionID)

		recs, err := s.RankErrorRecords(ctx, errorstore.RankQuery{})
		require.NoError(t, err)
		require.NotEmpty(t, recs)
		assert.Equal(t, "01012", recs[0].ErrorCode)
	})

	t.Run("mark unrecoverable requires record", func(t *testing.T) {
		require.NoError(t, s.MarkUnrecoverable(ctx, "01012", now))
		rec, err := s.GetErrorRecord(ctx, "01012")
		require.NoError(t, err)
		assert.True(t, rec.MaybeUnrecoverable)

		assert.ErrorIs(t, s.MarkUnrecoverable(ctx, "nope", now), errorstore.ErrNotFound)
		_, err = s.GetErrorRecord(ctx, "nope")
		assert.ErrorIs(t, err, errorstore.ErrNotFound)
	})
}

func TestStore_RecordStatusIntegration(t *testing.T) {
	s, client := setupStore(t)
	ctx := context.Background()
	write := func(exec, token string, codes ...string) errorstore.StatusWrite {
		w := errorstore.StatusWrite{ExecutionID: exec, ErrorType: "05", TaskToken: token, Now: now}
		for _, c := range codes {
			w.Codes = append(w.Codes, errorstore.CodeWrite{Code: c, Occurrences: 1})
		}
		return w
	}

	t.Run("writes records links and summary", func(t *testing.T) {
		out, err := s.RecordStatus(ctx, write("S1", "tok", "05001", "05002"))
		require.NoError(t, err)
		assert.Equal(t, 2, out.LinksCreated)
		assert.Equal(t, int64(2), out.Execution.OpenErrorCount)
		assert.Equal(t, "tok", out.Execution.TaskToken)

		out, err = s.RecordStatus(ctx, write("S1", "", "05001"))
		require.NoError(t, err)
		assert.Zero(t, out.LinksCreated)
		assert.Equal(t, int64(2), out.Execution.OpenErrorCount)
		assert.Equal(t, "tok", out.Execution.TaskToken)
	})

	t.Run("failed summary write rolls back links", func(t *testing.T) {
		_, err := client.Collection().InsertOne(ctx, bson.D{
			{Key: fieldID, Value: executionID("S2")},
			{Key: fieldEntityType, Value: errorstore.EntityExecution},
			{Key: "openErrorCount", Value: "corrupt"},
		})
		require.NoError(t, err)

		_, err = s.RecordStatus(ctx, write("S2", "tok", "05003"))
		require.Error(t, err)

		links, err := s.ListLinksByExecution(ctx, "S2")
		require.NoError(t, err)
		assert.Empty(t, links)
		_, err = s.GetErrorRecord(ctx, "05003")
		assert.ErrorIs(t, err, errorstore.ErrNotFound)
	})

	t.Run("counts links that were never counted", func(t *testing.T) {
		_, _, err := s.UpsertLink(ctx, errorstore.LinkUpsert{ExecutionID: "S3", ErrorCode: "05004", Occurrences: 1, Now: now})
		require.NoError(t, err)

		out, err := s.RecordStatus(ctx, write("S3", "tok", "05004"))
		require.NoError(t, err)
		assert.Zero(t, out.LinksCreated)
		assert.Equal(t, int64(1), out.Execution.OpenErrorCount)
		assert.Equal(t, "tok", out.Execution.TaskToken)
	})
}

func TestFeed_Integration(t *testing.T) {
	s, client := setupStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	checkpoints := &memCheckpoints{}
	feed := NewFeed(client.Collection(), checkpoints, FeedConfig{Name: "test", MaxBatch: 10}, nil)

	received := make(chan []errorstore.RemovedLink, 4)
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- feed.Run(runCtx, func(_ context.Context, batch []errorstore.RemovedLink) error {
			received <- batch
			return nil
		})
	}()
	// Give the stream time to open before producing events.
	time.Sleep(time.Second)

	_, _, err := s.UpsertLink(ctx, errorstore.LinkUpsert{ExecutionID: "F1", ErrorCode: "03001", Occurrences: 4, Now: now})
	require.NoError(t, err)
	_, err = s.UpsertFailedExecution(ctx, errorstore.ExecutionUpsert{ExecutionID: "F1", NewLinks: 1, Occurrences: 4, Now: now})
	require.NoError(t, err)

	deleted, err := s.DeleteLink(ctx, "F1", "03001")
	require.NoError(t, err)
	assert.True(t, deleted)

	select {
	case batch := <-received:
		require.Len(t, batch, 1)
		assert.Equal(t, errorstore.RemovedLink{ExecutionID: "F1", ErrorCode: "03001", Occurrences: 4}, batch[0])
	case <-ctx.Done():
		t.Fatal("no removal delivered")
	}

	stop()
	assert.ErrorIs(t, <-done, context.Canceled)

	token, err := checkpoints.Load(ctx, "test")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}
