// Package checks provides the health checks of an errledger process.
package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/bargom/errledger/internal/health"
)

// PingFunc probes a dependency.
type PingFunc func(ctx context.Context) error

// PingChecker reports a dependency as unhealthy when its probe fails.
type PingChecker struct {
	name     string
	ping     PingFunc
	timeout  time.Duration
	severity health.Severity
}

// Option configures a PingChecker.
type Option func(*PingChecker)

// WithTimeout sets the probe timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *PingChecker) { c.timeout = d }
}

// WithSeverity sets the severity level.
func WithSeverity(s health.Severity) Option {
	return func(c *PingChecker) { c.severity = s }
}

// NewPingChecker creates a critical check named name over ping.
func NewPingChecker(name string, ping PingFunc, opts ...Option) *PingChecker {
	c := &PingChecker{name: name, ping: ping, timeout: 2 * time.Second, severity: health.SeverityCritical}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mongo checks the error store database.
func Mongo(ping PingFunc, opts ...Option) *PingChecker {
	return NewPingChecker("mongo", ping, opts...)
}

// Redis checks the claim and checkpoint cache.
func Redis(ping PingFunc, opts ...Option) *PingChecker {
	return NewPingChecker("redis", ping, opts...)
}

func (c *PingChecker) Name() string              { return c.name }
func (c *PingChecker) Severity() health.Severity { return c.severity }

// Check runs the probe under the checker's timeout.
func (c *PingChecker) Check(ctx context.Context) health.CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.ping(ctx); err != nil {
		return health.CheckResult{
			Status:  health.StatusUnhealthy,
			Message: fmt.Sprintf("%s ping failed: %v", c.name, err),
		}
	}
	return health.CheckResult{Status: health.StatusHealthy}
}
