package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bargom/errledger/internal/errorstore"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestStore_IncrementErrorRecord(t *testing.T) {
	s := New(10)
	ctx := context.Background()

	rec, err := s.IncrementErrorRecord(ctx, "01012", 1, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.TotalCount)
	assert.Equal(t, "01", rec.ErrorType)

	rec, err = s.IncrementErrorRecord(ctx, "01012", 2, now)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.TotalCount)

	_, err = s.IncrementErrorRecord(ctx, "01012", 0, now)
	assert.ErrorIs(t, err, errorstore.ErrInvalidDelta)
}

func TestStore_UpsertLink(t *testing.T) {
	s := New(10)
	ctx := context.Background()

	link, created, err := s.UpsertLink(ctx, errorstore.LinkUpsert{
		ExecutionID: "E1", ErrorCode: "01012", Occurrences: 1, County: "lee", Now: now,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), link.Occurrences)
	assert.Equal(t, errorstore.StatusFailed, link.Status)

	require.NoError(t, s.SetLinkStatus(ctx, "E1", "01012", errorstore.StatusMaybeSolved, now))

	link, created, err = s.UpsertLink(ctx, errorstore.LinkUpsert{
		ExecutionID: "E1", ErrorCode: "01012", Occurrences: 2, County: "lee", Now: now,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(3), link.Occurrences)
	assert.Equal(t, errorstore.StatusFailed, link.Status, "a new occurrence reopens the link")
}

func TestStore_DeleteLinkPublishesRemoval(t *testing.T) {
	s := New(10)
	ctx := context.Background()

	_, _, err := s.UpsertLink(ctx, errorstore.LinkUpsert{ExecutionID: "E1", ErrorCode: "01012", Occurrences: 3, Now: now})
	require.NoError(t, err)

	deleted, err := s.DeleteLink(ctx, "E1", "01012")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteLink(ctx, "E1", "01012")
	require.NoError(t, err)
	assert.False(t, deleted, "second delete finds nothing")

	var got []errorstore.RemovedLink
	require.NoError(t, s.Feed().Drain(ctx, func(_ context.Context, batch []errorstore.RemovedLink) error {
		got = append(got, batch...)
		return nil
	}))
	assert.Equal(t, []errorstore.RemovedLink{{ExecutionID: "E1", ErrorCode: "01012", Occurrences: 3}}, got)
}

func TestStore_DecrementClampsAtZero(t *testing.T) {
	s := New(10)
	ctx := context.Background()

	_, err := s.UpsertFailedExecution(ctx, errorstore.ExecutionUpsert{
		ExecutionID: "E1", ErrorType: "01", Occurrences: 1, NewLinks: 1, TaskToken: "tok", Now: now,
	})
	require.NoError(t, err)

	change, before, err := s.DecrementOpenErrors(ctx, "E1", 3, now)
	require.NoError(t, err)
	assert.True(t, change.Found)
	assert.True(t, change.Clamped)
	assert.Equal(t, int64(0), change.After)
	assert.True(t, change.CrossedZero())
	assert.Equal(t, "tok", before.TaskToken)

	change, _, err = s.DecrementOpenErrors(ctx, "E1", 1, now)
	require.NoError(t, err)
	assert.False(t, change.CrossedZero())

	deleted, err := s.DeleteFailedExecutionIfDrained(ctx, "E1")
	require.NoError(t, err)
	assert.True(t, deleted)

	change, _, err = s.DecrementOpenErrors(ctx, "E1", 1, now)
	require.NoError(t, err)
	assert.False(t, change.Found)
}

func TestStore_DeleteIfDrainedKeepsPositive(t *testing.T) {
	s := New(10)
	ctx := context.Background()

	_, err := s.IncrementErrorRecord(ctx, "01012", 2, now)
	require.NoError(t, err)

	deleted, err := s.DeleteErrorRecordIfDrained(ctx, "01012")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = s.GetErrorRecord(ctx, "01012")
	require.NoError(t, err)
}

func TestStore_RankExecutions(t *testing.T) {
	s := New(10)
	ctx := context.Background()

	seed := []struct {
		id    string
		typ   string
		links int64
	}{
		{"E1", "01", 3},
		{"E2", "02", 5},
		{"E3", "01", 1},
		{"E4", "01", 3},
	}
	for _, e := range seed {
		_, err := s.UpsertFailedExecution(ctx, errorstore.ExecutionUpsert{
			ExecutionID: e.id, ErrorType: e.typ, Occurrences: e.links, NewLinks: e.links, Now: now,
		})
		require.NoError(t, err)
	}

	t.Run("descending across types", func(t *testing.T) {
		items, err := s.RankExecutions(ctx, errorstore.RankQuery{Limit: 10})
		require.NoError(t, err)
		assert.Equal(t, []string{"E2", "E4", "E1", "E3"}, executionIDs(items))
	})

	t.Run("ascending within type", func(t *testing.T) {
		items, err := s.RankExecutions(ctx, errorstore.RankQuery{ErrorType: "01", Order: errorstore.Ascending})
		require.NoError(t, err)
		assert.Equal(t, []string{"E3", "E1", "E4"}, executionIDs(items))
	})

	t.Run("limit", func(t *testing.T) {
		items, err := s.RankExecutions(ctx, errorstore.RankQuery{Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"E2"}, executionIDs(items))
	})
}

func TestStore_Fault(t *testing.T) {
	s := New(10)
	ctx := context.Background()
	boom := errors.New("boom")

	s.SetFault("DecrementTotalCount", "01012", boom)
	_, err := s.DecrementTotalCount(ctx, "01012", 1, now)
	assert.ErrorIs(t, err, boom)

	s.SetFault("DecrementTotalCount", "01012", nil)
	change, err := s.DecrementTotalCount(ctx, "01012", 1, now)
	require.NoError(t, err)
	assert.False(t, change.Found)
}

func TestFeed_DrainRequeuesOnFailure(t *testing.T) {
	f := NewFeed(2)
	ctx := context.Background()
	f.Redeliver(
		errorstore.RemovedLink{ExecutionID: "E1", ErrorCode: "a", Occurrences: 1},
		errorstore.RemovedLink{ExecutionID: "E2", ErrorCode: "b", Occurrences: 1},
		errorstore.RemovedLink{ExecutionID: "E3", ErrorCode: "c", Occurrences: 1},
	)

	err := f.Drain(ctx, func(_ context.Context, batch []errorstore.RemovedLink) error {
		assert.Len(t, batch, 2)
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, 3, f.Pending())

	var sizes []int
	require.NoError(t, f.Drain(ctx, func(_ context.Context, batch []errorstore.RemovedLink) error {
		sizes = append(sizes, len(batch))
		return nil
	}))
	assert.Equal(t, []int{2, 1}, sizes)
}

func TestFeed_RunStopsOnCancel(t *testing.T) {
	f := NewFeed(10)
	ctx, cancel := context.WithCancel(context.Background())

	delivered := make(chan errorstore.RemovedLink, 1)
	done := make(chan error, 1)
	go func() {
		done <- f.Run(ctx, func(_ context.Context, batch []errorstore.RemovedLink) error {
			for _, r := range batch {
				delivered <- r
			}
			return nil
		})
	}()

	f.Redeliver(errorstore.RemovedLink{ExecutionID: "E1", ErrorCode: "a", Occurrences: 1})
	select {
	case r := <-delivered:
		assert.Equal(t, "E1", r.ExecutionID)
	case <-time.After(2 * time.Second):
		t.Fatal("removal was not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func executionIDs(items []errorstore.FailedExecutionItem) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ExecutionID
	}
	return ids
}

func TestStore_RecordStatus(t *testing.T) {
	ctx := context.Background()
	w := errorstore.StatusWrite{
		ExecutionID: "E1",
		County:      "lee",
		ErrorType:   "02",
		TaskToken:   "tok",
		Codes: []errorstore.CodeWrite{
			{Code: "01012", Occurrences: 2},
			{Code: "02002", Occurrences: 1},
		},
		Now: now,
	}

	t.Run("applies every write", func(t *testing.T) {
		s := New(10)
		out, err := s.RecordStatus(ctx, w)
		require.NoError(t, err)
		assert.Equal(t, 2, out.LinksCreated)
		assert.Equal(t, int64(3), out.Occurrences)
		assert.Equal(t, int64(2), out.Execution.OpenErrorCount)
		assert.Equal(t, "tok", out.Execution.TaskToken)

		out, err = s.RecordStatus(ctx, w)
		require.NoError(t, err)
		assert.Zero(t, out.LinksCreated)
		assert.Equal(t, int64(2), out.Execution.OpenErrorCount)
		assert.Equal(t, int64(6), out.Execution.TotalOccurrences)
	})

	t.Run("fault leaves the store untouched", func(t *testing.T) {
		s := New(10)
		boom := errors.New("boom")
		s.SetFault("UpsertFailedExecution", "E1", boom)

		_, err := s.RecordStatus(ctx, w)
		require.ErrorIs(t, err, boom)
		_, err = s.GetErrorRecord(ctx, "01012")
		assert.ErrorIs(t, err, errorstore.ErrNotFound)
		links, err := s.ListLinksByExecution(ctx, "E1")
		require.NoError(t, err)
		assert.Empty(t, links)
	})

	t.Run("counts links that were never counted", func(t *testing.T) {
		s := New(10)
		_, _, err := s.UpsertLink(ctx, errorstore.LinkUpsert{ExecutionID: "E1", ErrorCode: "01012", Occurrences: 1, Now: now})
		require.NoError(t, err)

		out, err := s.RecordStatus(ctx, w)
		require.NoError(t, err)
		assert.Equal(t, 1, out.LinksCreated)
		assert.Equal(t, int64(2), out.Execution.OpenErrorCount, "both linked codes are open")
		assert.Equal(t, int64(2), out.Execution.UniqueErrorCount)
	})

	t.Run("rejects duplicate codes", func(t *testing.T) {
		s := New(10)
		bad := w
		bad.Codes = []errorstore.CodeWrite{{Code: "01012", Occurrences: 1}, {Code: "01012", Occurrences: 1}}
		_, err := s.RecordStatus(ctx, bad)
		assert.ErrorIs(t, err, errorstore.ErrInvalidDelta)
	})
}
