package integration

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
)

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker("temporal", CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Minute, HalfOpenRequests: 1}, nil)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	boom := errors.New("boom")
	fail := func(context.Context) error { return boom }
	ok := func(context.Context) error { return nil }

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(context.Background(), fail), boom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	require.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("temporal", CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Second}, nil)
	now := time.Now()
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())
	now = now.Add(time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_IgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker("temporal", CircuitBreakerConfig{FailureThreshold: 1}, nil)
	_ = cb.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	assert.Equal(t, StateClosed, cb.State())
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetryer_Do(t *testing.T) {
	transient := serviceerror.NewUnavailable("frontend down")
	permanent := serviceerror.NewNotFound("gone")
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{name: "first try", errs: []error{nil}, wantCalls: 1},
		{name: "recovers", errs: []error{transient, transient, nil}, wantCalls: 3},
		{name: "gives up", errs: []error{transient, transient, transient, nil}, wantCalls: 3, wantErr: transient},
		{name: "permanent", errs: []error{permanent, nil}, wantCalls: 1, wantErr: permanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRetryer(RetryConfig{MaxAttempts: 3}, nil)
			r.sleep = noSleep
			calls := 0
			err := r.Do(context.Background(), func(context.Context) error {
				err := tt.errs[calls]
				calls++
				return err
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestRetryer_StopsOnCancel(t *testing.T) {
	r := NewRetryer(RetryConfig{MaxAttempts: 5, BaseDelay: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := r.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return serviceerror.NewUnavailable("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "unavailable", err: serviceerror.NewUnavailable("x"), want: true},
		{name: "exhausted", err: &serviceerror.ResourceExhausted{Message: "x"}, want: true},
		{name: "not found", err: serviceerror.NewNotFound("x"), want: false},
		{name: "net op", err: &net.OpError{Op: "dial", Err: errors.New("refused")}, want: true},
		{name: "circuit open", err: ErrCircuitOpen, want: false},
		{name: "plain", err: errors.New("bad token"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestGuard_OpenCircuitIsNotRetried(t *testing.T) {
	g := NewGuard("temporal", CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Hour}, RetryConfig{MaxAttempts: 5}, nil)
	g.retryer.sleep = noSleep
	calls := 0
	err := g.Do(context.Background(), func(context.Context) error {
		calls++
		return serviceerror.NewUnavailable("down")
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateOpen, g.Breaker().State())
}
