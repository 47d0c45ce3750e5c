package integration

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"time"

	"go.temporal.io/api/serviceerror"
)

// RetryConfig configures retries with exponential backoff.
type RetryConfig struct {
	// MaxAttempts includes the first call.
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	// Jitter is the fraction of each delay that is randomized, e.g. 0.25 = ±25%.
	Jitter float64 `mapstructure:"jitter"`

	// RetryIf decides whether err is retried. Defaults to IsRetryable.
	RetryIf func(err error) bool `mapstructure:"-"`
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.25,
	}
}

// Retryer retries failed calls with exponential backoff.
type Retryer struct {
	config RetryConfig
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryer creates a Retryer. Zero fields take their defaults.
func NewRetryer(config RetryConfig, logger *slog.Logger) *Retryer {
	d := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = d.MaxAttempts
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = d.BaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = d.MaxDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = d.Multiplier
	}
	if config.Jitter < 0 || config.Jitter > 1 {
		config.Jitter = d.Jitter
	}
	if config.RetryIf == nil {
		config.RetryIf = IsRetryable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retryer{config: config, logger: logger.With("component", "retryer"), sleep: sleepCtx}
}

// Do calls fn until it succeeds, fails permanently, or runs out of attempts.
func (r *Retryer) Do(ctx context.Context, fn func(context.Context) error) error {
	delay := r.config.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= r.config.MaxAttempts || !r.config.RetryIf(err) {
			return err
		}

		wait := r.jitter(delay)
		r.logger.WarnContext(ctx, "retrying call", "attempt", attempt, "max_attempts", r.config.MaxAttempts, "error", err, "delay", wait)
		if serr := r.sleep(ctx, wait); serr != nil {
			return serr
		}
		delay = min(time.Duration(float64(delay)*r.config.Multiplier), r.config.MaxDelay)
	}
}

func (r *Retryer) jitter(d time.Duration) time.Duration {
	if r.config.Jitter <= 0 {
		return d
	}
	spread := float64(d) * r.config.Jitter
	out := time.Duration(float64(d) + (rand.Float64()*2-1)*spread)
	if out < 0 {
		return d
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsRetryable reports whether err looks transient: timeouts, network
// failures and unavailable Temporal frontends. An open circuit is not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var (
		unavailable *serviceerror.Unavailable
		exhausted   *serviceerror.ResourceExhausted
		deadline    *serviceerror.DeadlineExceeded
	)
	if errors.As(err, &unavailable) || errors.As(err, &exhausted) || errors.As(err, &deadline) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
