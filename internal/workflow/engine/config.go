// Package engine hosts the Temporal client and worker that run resolution
// gates.
package engine

import "time"

// Config holds the workflow engine configuration.
type Config struct {
	// Enabled turns the Temporal integration on. When off, resume requests are
	// only logged.
	Enabled bool `mapstructure:"enabled"`
	// HostPort is the Temporal frontend address.
	HostPort string `mapstructure:"host_port"`
	// Namespace is the Temporal namespace.
	Namespace string `mapstructure:"namespace"`
	// TaskQueue serves the resolution gate workflow and activity.
	TaskQueue string `mapstructure:"task_queue"`
	// MaxConcurrentWorkflows is the maximum number of concurrent workflow task executions.
	MaxConcurrentWorkflows int `mapstructure:"max_concurrent_workflows"`
	// MaxConcurrentActivities is the maximum number of concurrent activity executions.
	MaxConcurrentActivities int `mapstructure:"max_concurrent_activities"`
	// GateTimeout bounds how long a gate waits for its errors to clear.
	GateTimeout time.Duration `mapstructure:"gate_timeout"`
	// WorkerID identifies this worker.
	WorkerID string `mapstructure:"worker_id"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HostPort:                "localhost:7233",
		Namespace:               "default",
		TaskQueue:               "errledger-gates",
		MaxConcurrentWorkflows:  100,
		MaxConcurrentActivities: 100,
		GateTimeout:             7 * 24 * time.Hour,
		WorkerID:                "errledger-worker",
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.HostPort == "" {
		return ErrConfigInvalid{Field: "HostPort", Reason: "cannot be empty"}
	}
	if c.Namespace == "" {
		return ErrConfigInvalid{Field: "Namespace", Reason: "cannot be empty"}
	}
	if c.TaskQueue == "" {
		return ErrConfigInvalid{Field: "TaskQueue", Reason: "cannot be empty"}
	}
	if c.MaxConcurrentWorkflows <= 0 {
		return ErrConfigInvalid{Field: "MaxConcurrentWorkflows", Reason: "must be positive"}
	}
	if c.MaxConcurrentActivities <= 0 {
		return ErrConfigInvalid{Field: "MaxConcurrentActivities", Reason: "must be positive"}
	}
	if c.GateTimeout <= 0 {
		return ErrConfigInvalid{Field: "GateTimeout", Reason: "must be positive"}
	}
	return nil
}
