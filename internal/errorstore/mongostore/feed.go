package mongostore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bargom/errledger/internal/errorstore"
)

// DefaultMaxBatch bounds the number of change events read into one batch.
const DefaultMaxBatch = 100

// Checkpointer persists change stream resume tokens.
type Checkpointer interface {
	// Load returns the saved token for name, or nil when none exists.
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, token []byte) error
}

// Feed delivers link removals from the collection's change stream. Removed
// values are read from the stream's pre-images, so the collection must have
// been prepared with EnsureSchema.
type Feed struct {
	coll        *mongo.Collection
	checkpoints Checkpointer
	name        string
	maxBatch    int
	logger      *slog.Logger
}

var _ errorstore.ChangeFeed = (*Feed)(nil)

// FeedConfig configures a Feed.
type FeedConfig struct {
	// Name identifies the consumer's checkpoint.
	Name     string
	MaxBatch int
}

// NewFeed creates a change feed over coll. A nil checkpointer starts every
// Run from the current end of the stream.
func NewFeed(coll *mongo.Collection, checkpoints Checkpointer, cfg FeedConfig, logger *slog.Logger) *Feed {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.Name == "" {
		cfg.Name = "reconcile"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		coll:        coll,
		checkpoints: checkpoints,
		name:        cfg.Name,
		maxBatch:    cfg.MaxBatch,
		logger:      logger.With("component", "changefeed", "consumer", cfg.Name),
	}
}

type changeEvent struct {
	OperationType string   `bson:"operationType"`
	Before        *linkDoc `bson:"fullDocumentBeforeChange"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
}

// Run implements errorstore.ChangeFeed. The resume token is saved only after
// handle succeeds, so a failed batch is redelivered on the next Run.
func (f *Feed) Run(ctx context.Context, handle errorstore.BatchHandler) error {
	opts := options.ChangeStream().SetFullDocumentBeforeChange(options.WhenAvailable)
	if f.checkpoints != nil {
		token, err := f.checkpoints.Load(ctx, f.name)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		if token != nil {
			opts.SetResumeAfter(bson.Raw(token))
			f.logger.Info("resuming change stream from checkpoint")
		}
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "operationType", Value: "delete"}}}},
	}
	stream, err := f.coll.Watch(ctx, pipeline, opts)
	if err != nil {
		return fmt.Errorf("watch %s: %w", f.coll.Name(), err)
	}
	defer stream.Close(context.WithoutCancel(ctx))

	for {
		if !stream.Next(ctx) {
			return f.streamErr(ctx, stream)
		}
		batch := f.appendRemoval(nil, stream)
		for read := 1; read < f.maxBatch && stream.TryNext(ctx); read++ {
			batch = f.appendRemoval(batch, stream)
		}
		if err := stream.Err(); err != nil {
			return f.streamErr(ctx, stream)
		}

		if len(batch) > 0 {
			if err := handle(ctx, batch); err != nil {
				return fmt.Errorf("handle batch of %d removals: %w", len(batch), err)
			}
		}
		if f.checkpoints != nil {
			if err := f.checkpoints.Save(ctx, f.name, stream.ResumeToken()); err != nil {
				return fmt.Errorf("save checkpoint: %w", err)
			}
		}
	}
}

func (f *Feed) streamErr(ctx context.Context, stream *mongo.ChangeStream) error {
	if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("change stream: %w", err)
	}
	return ctx.Err()
}

func (f *Feed) appendRemoval(batch []errorstore.RemovedLink, stream *mongo.ChangeStream) []errorstore.RemovedLink {
	var ev changeEvent
	if err := stream.Decode(&ev); err != nil {
		f.logger.Error("undecodable change event", "error", err)
		return batch
	}
	if ev.Before == nil {
		// Without the pre-image the removed occurrences are unknown.
		f.logger.Error("delete event without pre-image", "document_id", ev.DocumentKey.ID)
		return batch
	}
	if ev.Before.EntityType != errorstore.EntityLink {
		return batch
	}
	return append(batch, errorstore.RemovedLink{
		ExecutionID: ev.Before.ExecutionID,
		ErrorCode:   ev.Before.ErrorCode,
		Occurrences: ev.Before.Occurrences,
	})
}
