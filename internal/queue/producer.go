package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/bargom/errledger/internal/ingest"
)

// Task types, one per event kind.
const (
	TypeStatus        = "errors:status"
	TypeResolve       = "errors:resolve"
	TypeResolveFailed = "errors:resolve_failed"
)

// TaskType maps an event kind to its task type.
func TaskType(kind ingest.Kind) string {
	switch kind {
	case ingest.KindResolved:
		return TypeResolve
	case ingest.KindResolveFailed:
		return TypeResolveFailed
	default:
		return TypeStatus
	}
}

func queueFor(kind ingest.Kind) string {
	if kind == ingest.KindStatus {
		return QueueStatus
	}
	return QueueResolutions
}

// NewEventTask builds the task carrying ev. Events without an id get a fresh
// one so that the task id and the delivery claim can dedup redeliveries.
func NewEventTask(ev ingest.Event) (*asynq.Task, ingest.Envelope, error) {
	if err := ingest.Validate(ev); err != nil {
		return nil, ingest.Envelope{}, err
	}
	env := ingest.Encode(ev)
	if env.EventID == "" {
		env.EventID = uuid.NewString()
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, env, fmt.Errorf("marshal event: %w", err)
	}
	return asynq.NewTask(TaskType(env.Kind), payload), env, nil
}

// Enqueuer is the part of the Asynq client used by Producer.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Producer enqueues events.
type Producer struct {
	client Enqueuer
	config Config
}

// NewProducer creates a Producer over client.
func NewProducer(client Enqueuer, cfg Config) *Producer {
	return &Producer{client: client, config: cfg}
}

// NewClient opens an Asynq client for cfg.
func NewClient(cfg Config) (*asynq.Client, error) {
	opt, err := cfg.redisOpt()
	if err != nil {
		return nil, err
	}
	return asynq.NewClient(opt), nil
}

// Enqueue submits ev and returns the event id it was enqueued under. An id
// that is still retained by the queue yields ingest.ErrDuplicateEvent.
func (p *Producer) Enqueue(ctx context.Context, ev ingest.Event) (string, error) {
	task, env, err := NewEventTask(ev)
	if err != nil {
		return "", err
	}
	opts := []asynq.Option{
		asynq.TaskID(env.EventID),
		asynq.Queue(queueFor(env.Kind)),
		asynq.MaxRetry(p.config.MaxRetry),
	}
	if p.config.Retention > 0 {
		opts = append(opts, asynq.Retention(p.config.Retention))
	}
	if _, err := p.client.EnqueueContext(ctx, task, opts...); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return env.EventID, ingest.ErrDuplicateEvent
		}
		return "", fmt.Errorf("enqueue %s: %w", task.Type(), err)
	}
	return env.EventID, nil
}
