package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ErrClientClosed is returned by operations on a closed client.
var ErrClientClosed = errors.New("mongodb: client is closed")

// Client wraps a MongoDB client with connection retry and logging.
type Client struct {
	client   *mongo.Client
	database *mongo.Database
	config   Config
	logger   *slog.Logger
	mu       sync.RWMutex
	closed   bool
}

// New connects to MongoDB with the given configuration.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		config: cfg,
		logger: logger.With(slog.String("component", "mongodb")),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	opts := options.Client().
		ApplyURI(c.config.URI).
		SetMinPoolSize(c.config.MinPoolSize).
		SetMaxPoolSize(c.config.MaxPoolSize).
		SetConnectTimeout(c.config.ConnectTimeout).
		SetSocketTimeout(c.config.SocketTimeout).
		SetServerSelectionTimeout(c.config.ServerSelectionTimeout).
		SetRetryWrites(true).
		SetRetryReads(true)

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt)
			c.logger.Debug("retrying connection",
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoff))

			select {
			case <-ctx.Done():
				return fmt.Errorf("mongodb: connection cancelled: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		client, err := mongo.Connect(ctx, opts)
		if err != nil {
			lastErr = err
			c.logger.Warn("connection attempt failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			continue
		}

		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			lastErr = err
			c.logger.Warn("ping failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			_ = client.Disconnect(ctx)
			continue
		}

		c.client = client
		c.database = client.Database(c.config.Database)
		c.logger.Info("connected to MongoDB",
			slog.String("database", c.config.Database))
		return nil
	}

	return fmt.Errorf("mongodb: failed to connect after %d attempts: %w",
		c.config.MaxRetries+1, lastErr)
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.config.RetryBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
	if d > c.config.MaxRetryBackoff {
		d = c.config.MaxRetryBackoff
	}
	return d
}

// Database returns the configured database handle.
func (c *Client) Database() *mongo.Database {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.database
}

// Collection returns the error store collection.
func (c *Client) Collection() *mongo.Collection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.database == nil {
		return nil
	}
	return c.database.Collection(c.config.Collection)
}

// Config returns the configuration the client was created with.
func (c *Client) Config() Config {
	return c.config
}

// Ping verifies the primary is reachable.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.RLock()
	client, closed := c.client, c.closed
	c.mu.RUnlock()
	if closed || client == nil {
		return ErrClientClosed
	}
	return client.Ping(ctx, readpref.Primary())
}

// Close gracefully disconnects from MongoDB.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.client == nil {
		return nil
	}

	c.logger.Info("disconnecting from MongoDB")
	if err := c.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("mongodb: disconnect failed: %w", err)
	}
	c.client = nil
	c.database = nil
	return nil
}

// IsClosed returns true if the client has been closed.
func (c *Client) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
