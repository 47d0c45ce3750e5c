// Package cache provides the key-value backends shared by the ingestion and
// reconciliation workers: short-lived event claims and change stream
// checkpoints. Redis backs production deployments; the memory backend serves
// single-process runs and tests.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned when a key is not found in the cache.
var ErrCacheMiss = errors.New("cache miss")

// Cache defines the interface for cache operations.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value; a zero ttl uses the configured default, a negative
	// ttl keeps the key until deleted.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	// DeleteIfValue removes key only while it still holds value and reports
	// whether it did.
	DeleteIfValue(ctx context.Context, key string, value []byte) (bool, error)

	Close() error
	Health(ctx context.Context) error
}

// Config holds cache configuration.
type Config struct {
	// Type is the cache backend type: "redis" or "memory"
	Type string `mapstructure:"type"`

	// Redis configuration
	URL      string `mapstructure:"url"` // Redis URL (redis://localhost:6379)
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// Cluster configuration
	ClusterAddrs []string `mapstructure:"cluster_addrs"`
	ClusterMode  bool     `mapstructure:"cluster_mode"`

	// Connection pool settings
	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
	MaxRetries   int `mapstructure:"max_retries"`

	DefaultTTL time.Duration `mapstructure:"default_ttl"`
	Prefix     string        `mapstructure:"prefix"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Type:         "memory",
		DefaultTTL:   5 * time.Minute,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		Prefix:       "errledger",
	}
}

// New creates a new cache instance based on configuration.
func New(cfg Config) (Cache, error) {
	switch cfg.Type {
	case "redis":
		return NewRedisCache(cfg)
	case "memory", "":
		return NewMemoryCache(cfg), nil
	default:
		return nil, errors.New("unsupported cache type: " + cfg.Type)
	}
}

func resolveTTL(ttl, def time.Duration) time.Duration {
	switch {
	case ttl < 0:
		return 0
	case ttl == 0:
		return def
	}
	return ttl
}
