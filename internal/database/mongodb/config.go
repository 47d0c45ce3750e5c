// Package mongodb provides MongoDB connectivity for the error store.
package mongodb

import (
	"fmt"
	"time"
)

// Config holds MongoDB connection configuration.
type Config struct {
	// URI is the MongoDB connection string. Change streams require a replica set.
	URI string `mapstructure:"uri"`

	// Database is the name of the database holding the error store
	Database string `mapstructure:"database"`

	// Collection is the single collection holding every error store entity
	Collection string `mapstructure:"collection"`

	MinPoolSize uint64 `mapstructure:"min_pool_size"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`

	ConnectTimeout         time.Duration `mapstructure:"connect_timeout"`
	SocketTimeout          time.Duration `mapstructure:"socket_timeout"`
	ServerSelectionTimeout time.Duration `mapstructure:"server_selection_timeout"`

	// MaxRetries is the maximum number of connection attempts after the first
	MaxRetries int `mapstructure:"max_retries"`

	// RetryBackoff is the base backoff between connection attempts
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`

	// MaxRetryBackoff caps the backoff between connection attempts
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URI:                    "mongodb://localhost:27017/?replicaSet=rs0",
		Database:               "errledger",
		Collection:             "error_store",
		MinPoolSize:            2,
		MaxPoolSize:            50,
		ConnectTimeout:         10 * time.Second,
		SocketTimeout:          30 * time.Second,
		ServerSelectionTimeout: 5 * time.Second,
		MaxRetries:             3,
		RetryBackoff:           100 * time.Millisecond,
		MaxRetryBackoff:        5 * time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("mongodb: URI is required")
	}
	if c.Database == "" {
		return fmt.Errorf("mongodb: Database name is required")
	}
	if c.Collection == "" {
		return fmt.Errorf("mongodb: Collection name is required")
	}
	if c.MinPoolSize > c.MaxPoolSize {
		return fmt.Errorf("mongodb: MinPoolSize (%d) cannot be greater than MaxPoolSize (%d)",
			c.MinPoolSize, c.MaxPoolSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("mongodb: MaxRetries cannot be negative")
	}
	return nil
}
