package query

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bargom/errledger/internal/errorstore"
	"github.com/bargom/errledger/internal/errorstore/memstore"
	"github.com/bargom/errledger/internal/ingest"
)

func seed(t *testing.T) (*Facade, *memstore.Store) {
	t.Helper()
	ctx := context.Background()
	store := memstore.New(10)
	ing := ingest.New(store, ingest.WithClock(func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }))

	events := []ingest.StatusEvent{
		{ExecutionID: "A", County: "lee", TaskToken: "tok", Errors: []ingest.ErrorEntry{
			{Code: "01001", Details: errorstore.Details{"row": 1}}, {Code: "01002"}, {Code: "02001"},
		}},
		{ExecutionID: "B", County: "polk", Errors: []ingest.ErrorEntry{{Code: "02001"}, {Code: "02002"}}},
		{ExecutionID: "C", County: "lee", Errors: []ingest.ErrorEntry{{Code: "02001"}}},
	}
	for _, ev := range events {
		_, err := ing.Ingest(ctx, ev)
		require.NoError(t, err)
	}
	return New(store, nil), store
}

func TestFacade_TopExecutions(t *testing.T) {
	f, _ := seed(t)
	ctx := context.Background()

	got, err := f.TopExecutions(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].ExecutionID)
	assert.Equal(t, int64(3), got[0].OpenErrorCount)
	assert.True(t, got[0].AwaitingResolution)
	assert.Equal(t, "B", got[1].ExecutionID)

	// Every execution's last error is of type 02.
	got, err = f.TopExecutions(ctx, 0, "02")
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = f.TopExecutions(ctx, 10, "99")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFacade_ExecutionDetail(t *testing.T) {
	f, _ := seed(t)
	ctx := context.Background()

	d, err := f.ExecutionDetail(ctx, Most, "")
	require.NoError(t, err)
	require.NotNil(t, d.Execution)
	assert.Equal(t, "A", d.Execution.ExecutionID)
	require.Len(t, d.Errors, 3)
	assert.Equal(t, "01001", d.Errors[0].ErrorCode)
	assert.Equal(t, errorstore.Details{"row": float64(1)}, d.Errors[0].Details)
	assert.True(t, d.Errors[0].Open)

	d, err = f.ExecutionDetail(ctx, Least, "")
	require.NoError(t, err)
	require.NotNil(t, d.Execution)
	assert.Equal(t, "C", d.Execution.ExecutionID)

	d, err = f.ExecutionDetail(ctx, Most, "77")
	require.NoError(t, err)
	assert.Nil(t, d.Execution, "no match is an empty result, not an error")
	assert.NotNil(t, d.Errors)
}

func TestFacade_ExecutionErrors(t *testing.T) {
	f, store := seed(t)
	ctx := context.Background()

	require.NoError(t, store.SetLinkStatus(ctx, "B", "02002", errorstore.StatusMaybeSolved, time.Now()))
	d, err := f.ExecutionErrors(ctx, "B")
	require.NoError(t, err)
	require.NotNil(t, d.Execution)
	require.Len(t, d.Errors, 2)
	assert.False(t, d.Errors[1].Open)
	assert.Equal(t, int64(1), d.Execution.OpenErrorCount, "maybe-solved links are not open")
	assert.Equal(t, int64(1), d.Execution.MaybeSolvedCount)

	top, err := f.TopExecutions(ctx, 0, "")
	require.NoError(t, err)
	for _, e := range top {
		if e.ExecutionID == "B" {
			assert.Equal(t, int64(2), e.OpenErrorCount, "rankings use the stored counter")
		}
	}

	d, err = f.ExecutionErrors(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, d.Execution)
	assert.Empty(t, d.Errors)
}

func TestFacade_TopErrorCodes(t *testing.T) {
	f, _ := seed(t)
	got, err := f.TopErrorCodes(context.Background(), 1, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ErrorCodeData{
		ErrorCode:  "02001",
		ErrorType:  "02",
		TotalCount: 3,
		CreatedAt:  got[0].CreatedAt,
		UpdatedAt:  got[0].UpdatedAt,
	}, got[0])

	got, err = f.TopErrorCodes(context.Background(), 0, "01")
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestResponsesExposeNoStoreKeys(t *testing.T) {
	f, _ := seed(t)
	d, err := f.ExecutionDetail(context.Background(), Most, "")
	require.NoError(t, err)

	data, err := json.Marshal(d)
	require.NoError(t, err)
	for _, key := range []string{"PK", "SK", "GS1PK", "GS1SK", "GS3PK", "GS3SK", "entityType", "taskToken"} {
		assert.NotContains(t, string(data), `"`+key+`"`)
	}
}

func TestParseSortOrder(t *testing.T) {
	for in, want := range map[string]SortOrder{"": Most, "most": Most, "LEAST": Least} {
		got, err := ParseSortOrder(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseSortOrder("middle")
	assert.ErrorIs(t, err, ErrInvalidOrder)
}
