// Package queue carries ingestion events over Asynq: producers enqueue event
// envelopes and the worker applies them through the ingestor.
package queue

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Config holds queue configuration.
type Config struct {
	// RedisURL is the Redis URI, e.g. redis://localhost:6379/0.
	RedisURL string `mapstructure:"redis_url"`

	// Server configuration
	Concurrency int            `mapstructure:"concurrency"`
	Queues      map[string]int `mapstructure:"queues"` // queue name -> priority

	// MaxRetry is the number of redeliveries of a transiently failing event.
	MaxRetry int `mapstructure:"max_retry"`
	// Retention keeps completed tasks so that a re-enqueued event id is rejected.
	Retention time.Duration `mapstructure:"retention"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Queue names. Resolutions unblock paused stages and are served first.
const (
	QueueResolutions = "resolutions"
	QueueStatus      = "status"
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RedisURL:        "redis://localhost:6379/0",
		Concurrency:     10,
		Queues:          map[string]int{QueueResolutions: 6, QueueStatus: 3},
		MaxRetry:        10,
		Retention:       24 * time.Hour,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("queue: redis_url is required")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("queue: concurrency must be positive")
	}
	if len(c.Queues) == 0 {
		return fmt.Errorf("queue: at least one queue is required")
	}
	return nil
}

func (c Config) redisOpt() (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(c.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse queue redis url: %w", err)
	}
	return opt, nil
}

// retryDelay backs off exponentially, capped at ten minutes.
func retryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	delay := time.Duration(1<<uint(min(n, 10))) * time.Second
	if delay > 10*time.Minute {
		delay = 10 * time.Minute
	}
	return delay
}
