package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChecker struct {
	name      string
	severity  Severity
	result    CheckResult
	delay     time.Duration
	callCount atomic.Int64
}

func (m *mockChecker) Name() string       { return m.name }
func (m *mockChecker) Severity() Severity { return m.severity }

func (m *mockChecker) Check(ctx context.Context) CheckResult {
	m.callCount.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return CheckResult{Status: StatusUnhealthy, Message: "timeout"}
		}
	}
	return m.result
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry("1.0.0")
	assert.Empty(t, r.Checkers())

	r.Register(&mockChecker{name: "mongo", severity: SeverityCritical})
	r.Register(&mockChecker{name: "change_feed", severity: SeverityWarning})

	checkers := r.Checkers()
	require.Len(t, checkers, 2)
	assert.Equal(t, "mongo", checkers[0].Name())
	assert.Equal(t, "change_feed", checkers[1].Name())
	assert.Equal(t, "1.0.0", r.Version())
}

func TestRegistryLiveness(t *testing.T) {
	r := NewRegistry("1.0.0")
	r.Register(&mockChecker{name: "mongo", severity: SeverityCritical, result: CheckResult{Status: StatusUnhealthy}})

	resp := r.Liveness(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.NotEmpty(t, resp.Uptime)
	assert.Empty(t, resp.Checks)
}

func TestRegistryHealth(t *testing.T) {
	healthy := CheckResult{Status: StatusHealthy}
	tests := []struct {
		name     string
		checkers []*mockChecker
		want     Status
	}{
		{name: "no checkers", want: StatusHealthy},
		{
			name: "all healthy",
			checkers: []*mockChecker{
				{name: "mongo", severity: SeverityCritical, result: healthy},
				{name: "redis", severity: SeverityCritical, result: healthy},
			},
			want: StatusHealthy,
		},
		{
			name: "critical unhealthy",
			checkers: []*mockChecker{
				{name: "mongo", severity: SeverityCritical, result: CheckResult{Status: StatusUnhealthy}},
				{name: "redis", severity: SeverityCritical, result: healthy},
			},
			want: StatusUnhealthy,
		},
		{
			name: "warning unhealthy",
			checkers: []*mockChecker{
				{name: "mongo", severity: SeverityCritical, result: healthy},
				{name: "change_feed", severity: SeverityWarning, result: CheckResult{Status: StatusUnhealthy}},
			},
			want: StatusDegraded,
		},
		{
			name: "critical degraded",
			checkers: []*mockChecker{
				{name: "mongo", severity: SeverityCritical, result: CheckResult{Status: StatusDegraded}},
			},
			want: StatusDegraded,
		},
		{
			name: "unhealthy wins over degraded",
			checkers: []*mockChecker{
				{name: "change_feed", severity: SeverityWarning, result: CheckResult{Status: StatusDegraded}},
				{name: "mongo", severity: SeverityCritical, result: CheckResult{Status: StatusUnhealthy}},
			},
			want: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry("1.0.0")
			for _, c := range tt.checkers {
				r.Register(c)
			}
			resp := r.Health(context.Background())
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checkers))
		})
	}
}

func TestRegistryReadiness(t *testing.T) {
	r := NewRegistry("1.0.0")
	critical := &mockChecker{name: "mongo", severity: SeverityCritical, result: CheckResult{Status: StatusUnhealthy, Message: "db down"}}
	warning := &mockChecker{name: "change_feed", severity: SeverityWarning, result: CheckResult{Status: StatusHealthy}}
	r.Register(critical)
	r.Register(warning)

	resp := r.Readiness(context.Background())

	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, int64(1), critical.callCount.Load())
	assert.Equal(t, int64(0), warning.callCount.Load())
	require.Contains(t, resp.Checks, "mongo")
	assert.Equal(t, "db down", resp.Checks["mongo"].Message)
}

func TestRegistryRunsChecksConcurrently(t *testing.T) {
	r := NewRegistry("1.0.0")
	for _, name := range []string{"mongo", "redis"} {
		r.Register(&mockChecker{name: name, severity: SeverityCritical, delay: 100 * time.Millisecond, result: CheckResult{Status: StatusHealthy}})
	}

	start := time.Now()
	resp := r.Health(context.Background())

	assert.Less(t, time.Since(start), 180*time.Millisecond)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Positive(t, resp.Checks["mongo"].Duration)
}

func TestRegistryHonoursCallerDeadline(t *testing.T) {
	r := NewRegistry("1.0.0")
	r.Register(&mockChecker{name: "slow", severity: SeverityCritical, delay: 10 * time.Second, result: CheckResult{Status: StatusHealthy}})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	resp := r.Health(ctx)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}
