package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bargom/errledger/internal/errorstore/memstore"
	"github.com/bargom/errledger/internal/ingest"
)

func TestNewEventTask(t *testing.T) {
	task, env, err := NewEventTask(ingest.ResolvedEvent{Target: ingest.Target{ErrorCode: "01012"}})
	require.NoError(t, err)
	assert.Equal(t, TypeResolve, task.Type())
	assert.NotEmpty(t, env.EventID, "missing ids are assigned")

	var decoded ingest.Envelope
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, env, decoded)

	_, _, err = NewEventTask(ingest.StatusEvent{})
	assert.True(t, ingest.IsValidation(err))
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func TestProducer_Enqueue(t *testing.T) {
	fe := &fakeEnqueuer{}
	p := NewProducer(fe, DefaultConfig())

	id, err := p.Enqueue(context.Background(), ingest.StatusEvent{EventID: "evt-1", ExecutionID: "E"})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", id)
	require.Len(t, fe.tasks, 1)
	assert.Equal(t, TypeStatus, fe.tasks[0].Type())

	fe.err = asynq.ErrTaskIDConflict
	_, err = p.Enqueue(context.Background(), ingest.StatusEvent{EventID: "evt-1", ExecutionID: "E"})
	assert.ErrorIs(t, err, ingest.ErrDuplicateEvent)

	fe.err = errors.New("redis down")
	_, err = p.Enqueue(context.Background(), ingest.StatusEvent{ExecutionID: "E"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ingest.ErrDuplicateEvent)
}

func TestProducer_EnqueueToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.RedisURL = "redis://" + mr.Addr()
	client, err := NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	p := NewProducer(client, cfg)
	ev := ingest.ResolvedEvent{EventID: "evt-9", Target: ingest.Target{ExecutionID: "E"}}
	_, err = p.Enqueue(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, mr.Exists("asynq:{"+QueueResolutions+"}:t:evt-9"))

	_, err = p.Enqueue(context.Background(), ev)
	assert.ErrorIs(t, err, ingest.ErrDuplicateEvent)
}

func newHandler(t *testing.T) (*Handler, *memstore.Store) {
	t.Helper()
	store := memstore.New(10)
	return NewHandler(ingest.New(store), nil), store
}

func task(t *testing.T, ev ingest.Event) *asynq.Task {
	t.Helper()
	tk, _, err := NewEventTask(ev)
	require.NoError(t, err)
	return tk
}

func TestHandler_ProcessTask(t *testing.T) {
	ctx := context.Background()
	h, store := newHandler(t)

	err := h.ProcessTask(ctx, task(t, ingest.StatusEvent{ExecutionID: "E", Errors: []ingest.ErrorEntry{{Code: "01012"}}}))
	require.NoError(t, err)
	item, err := store.GetFailedExecution(ctx, "E")
	require.NoError(t, err)
	assert.Equal(t, int64(1), item.OpenErrorCount)

	err = h.ProcessTask(ctx, task(t, ingest.ResolvedEvent{Target: ingest.Target{ExecutionID: "E"}}))
	require.NoError(t, err)
	links, err := store.ListLinksByExecution(ctx, "E")
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestHandler_InvalidPayloadSkipsRetry(t *testing.T) {
	h, _ := newHandler(t)
	tests := []struct {
		name string
		task *asynq.Task
	}{
		{name: "malformed", task: asynq.NewTask(TypeStatus, []byte(`{`))},
		{name: "missing execution", task: asynq.NewTask(TypeStatus, []byte(`{"kind":"status"}`))},
		{name: "kind mismatch", task: asynq.NewTask(TypeResolve, []byte(`{"kind":"status","executionId":"E"}`))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.ProcessTask(context.Background(), tt.task)
			assert.ErrorIs(t, err, asynq.SkipRetry)
		})
	}
}

func TestHandler_TransientFailureIsRetried(t *testing.T) {
	h, store := newHandler(t)
	boom := errors.New("store unavailable")
	store.SetFault("IncrementErrorRecord", "01012", boom)

	err := h.ProcessTask(context.Background(), task(t, ingest.StatusEvent{ExecutionID: "E", Errors: []ingest.ErrorEntry{{Code: "01012"}}}))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

type duplicateApplier struct{}

func (duplicateApplier) Ingest(context.Context, ingest.Event) (ingest.Result, error) {
	return ingest.Result{Duplicate: true}, ingest.ErrDuplicateEvent
}

func TestHandler_DuplicateIsAcknowledged(t *testing.T) {
	h := NewHandler(duplicateApplier{}, nil)
	err := h.ProcessTask(context.Background(), task(t, ingest.StatusEvent{ExecutionID: "E"}))
	assert.NoError(t, err)
}

func TestHandler_MuxRecoversPanics(t *testing.T) {
	h := NewHandler(panicApplier{}, nil)
	err := h.Mux().ProcessTask(context.Background(), task(t, ingest.StatusEvent{ExecutionID: "E"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

type panicApplier struct{}

func (panicApplier) Ingest(context.Context, ingest.Event) (ingest.Result, error) {
	panic("boom")
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Concurrency = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.RedisURL = ""
	assert.Error(t, cfg.Validate())
}
