// Package health reports whether the store, the cache and the change-feed
// consumer of an errledger process are usable.
package health

import (
	"context"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Severity decides whether a failing check fails readiness.
type Severity string

const (
	// SeverityCritical checks fail readiness.
	SeverityCritical Severity = "critical"
	// SeverityWarning checks only degrade the overall status.
	SeverityWarning Severity = "warning"
)

// Response represents a health check response.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult represents the result of an individual health check.
type CheckResult struct {
	Status   Status         `json:"status"`
	Message  string         `json:"message,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// Checker is the interface that health checks must implement.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
	Severity() Severity
}
