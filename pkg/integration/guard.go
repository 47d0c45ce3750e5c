package integration

import (
	"context"
	"log/slog"
)

// Guard retries calls to one service behind its circuit breaker.
type Guard struct {
	breaker *CircuitBreaker
	retryer *Retryer
}

// NewGuard creates a Guard for the named service.
func NewGuard(service string, cb CircuitBreakerConfig, retry RetryConfig, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		breaker: NewCircuitBreaker(service, cb, logger),
		retryer: NewRetryer(retry, logger.With("service", service)),
	}
}

// Do runs fn with retries; every attempt passes through the breaker.
func (g *Guard) Do(ctx context.Context, fn func(context.Context) error) error {
	return g.retryer.Do(ctx, func(ctx context.Context) error {
		return g.breaker.Execute(ctx, fn)
	})
}

// Breaker returns the guard's circuit breaker.
func (g *Guard) Breaker() *CircuitBreaker {
	return g.breaker
}
