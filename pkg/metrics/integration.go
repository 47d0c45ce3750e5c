package metrics

import (
	"context"
	"errors"
	"strings"
	"time"
)

// IntegrationMetrics provides methods to record external call metrics.
type IntegrationMetrics struct {
	registry *Registry
}

// Integration returns the integration metrics interface for the registry.
func (r *Registry) Integration() *IntegrationMetrics {
	return &IntegrationMetrics{registry: r}
}

// RecordCall records metrics for an external call.
func (i *IntegrationMetrics) RecordCall(serviceName, operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
		i.RecordError(serviceName, operation, ClassifyError(err))
	}

	i.registry.integrationCallsTotal.WithLabelValues(serviceName, operation, status).Inc()
	i.registry.integrationCallDuration.WithLabelValues(serviceName, operation).Observe(duration.Seconds())
}

// RecordError records an integration error.
func (i *IntegrationMetrics) RecordError(serviceName, operation, errorType string) {
	i.registry.integrationErrors.WithLabelValues(serviceName, operation, errorType).Inc()
}

// IntegrationCallTimer provides a convenient way to time external calls.
type IntegrationCallTimer struct {
	metrics     *IntegrationMetrics
	serviceName string
	operation   string
	start       time.Time
}

// NewCallTimer creates a new integration call timer.
func (i *IntegrationMetrics) NewCallTimer(serviceName, operation string) *IntegrationCallTimer {
	return &IntegrationCallTimer{
		metrics:     i,
		serviceName: serviceName,
		operation:   operation,
		start:       time.Now(),
	}
}

// Done records the call duration and outcome.
func (t *IntegrationCallTimer) Done(err error) {
	t.metrics.RecordCall(t.serviceName, t.operation, err, time.Since(t.start))
}

// ClassifyError classifies an error into a type for metrics.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "connection refused"):
		return "connection_refused"
	case strings.Contains(errStr, "no such host"):
		return "dns_error"
	case strings.Contains(errStr, "tls") || strings.Contains(errStr, "certificate"):
		return "tls_error"
	case strings.Contains(errStr, "not found"):
		return "not_found"
	default:
		return "unknown"
	}
}
