package resume

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bargom/errledger/internal/errorstore"
	"github.com/bargom/errledger/internal/errorstore/memstore"
)

type failCall struct {
	executionID, token, reason string
}

type recordingResumer struct {
	fails []failCall
	err   error
}

func (r *recordingResumer) Resume(context.Context, string, string) error { return nil }

func (r *recordingResumer) Fail(_ context.Context, executionID, token, reason string) error {
	r.fails = append(r.fails, failCall{executionID, token, reason})
	return r.err
}

func pausedStore(t *testing.T, token string) *memstore.Store {
	t.Helper()
	store := memstore.New(10)
	_, err := store.UpsertFailedExecution(context.Background(), errorstore.ExecutionUpsert{
		ExecutionID: "E1", ErrorType: "01", TaskToken: token, Occurrences: 1, NewLinks: 1, Now: time.Now(),
	})
	require.NoError(t, err)
	return store
}

func TestOperator_FailPaused(t *testing.T) {
	ctx := context.Background()
	store := pausedStore(t, "dG9rZW4=")
	r := &recordingResumer{}
	op := NewOperator(store, r, nil)

	require.NoError(t, op.FailPaused(ctx, "E1", "bad parcels"))
	assert.Equal(t, []failCall{{"E1", "dG9rZW4=", "bad parcels"}}, r.fails)

	item, err := store.GetFailedExecution(ctx, "E1")
	require.NoError(t, err)
	assert.Empty(t, item.TaskToken)
	assert.Equal(t, int64(1), item.OpenErrorCount, "counters are untouched")

	assert.ErrorIs(t, op.FailPaused(ctx, "E1", "again"), ErrNotPaused)
	assert.Len(t, r.fails, 1)
}

func TestOperator_FailPausedErrors(t *testing.T) {
	ctx := context.Background()

	op := NewOperator(memstore.New(10), &recordingResumer{}, nil)
	assert.ErrorIs(t, op.FailPaused(ctx, "missing", "x"), errorstore.ErrNotFound)

	store := pausedStore(t, "dG9rZW4=")
	boom := errors.New("temporal unavailable")
	op = NewOperator(store, &recordingResumer{err: boom}, nil)
	assert.ErrorIs(t, op.FailPaused(ctx, "E1", "x"), boom)

	item, err := store.GetFailedExecution(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, "dG9rZW4=", item.TaskToken, "token kept when fail did not go through")
}
