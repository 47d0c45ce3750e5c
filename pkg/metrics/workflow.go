package metrics

import (
	"time"
)

// WorkflowMetrics provides methods to record workflow-related metrics.
type WorkflowMetrics struct {
	registry *Registry
}

// Workflow returns the workflow metrics interface for the registry.
func (r *Registry) Workflow() *WorkflowMetrics {
	return &WorkflowMetrics{registry: r}
}

// WorkflowStatus represents the outcome status of a workflow execution.
type WorkflowStatus string

const (
	WorkflowStatusSuccess   WorkflowStatus = "success"
	WorkflowStatusFailure   WorkflowStatus = "failure"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
	WorkflowStatusTimeout   WorkflowStatus = "timeout"
)

// RecordExecution records metrics for a completed workflow execution.
func (w *WorkflowMetrics) RecordExecution(workflowName string, status WorkflowStatus, duration time.Duration) {
	w.registry.workflowExecutionsTotal.WithLabelValues(
		workflowName,
		string(status),
	).Inc()

	w.registry.workflowExecutionDuration.WithLabelValues(workflowName).Observe(duration.Seconds())
}

// IncActiveWorkflows increments the active workflow count.
func (w *WorkflowMetrics) IncActiveWorkflows(workflowName string) {
	w.registry.workflowActiveCount.WithLabelValues(workflowName).Inc()
}

// DecActiveWorkflows decrements the active workflow count.
func (w *WorkflowMetrics) DecActiveWorkflows(workflowName string) {
	w.registry.workflowActiveCount.WithLabelValues(workflowName).Dec()
}

// WorkflowExecutionTimer provides a convenient way to time workflow executions.
type WorkflowExecutionTimer struct {
	metrics      *WorkflowMetrics
	workflowName string
	start        time.Time
}

// NewExecutionTimer creates a new workflow execution timer.
func (w *WorkflowMetrics) NewExecutionTimer(workflowName string) *WorkflowExecutionTimer {
	w.IncActiveWorkflows(workflowName)
	return &WorkflowExecutionTimer{
		metrics:      w,
		workflowName: workflowName,
		start:        time.Now(),
	}
}

// Done records the workflow execution duration and status.
func (t *WorkflowExecutionTimer) Done(status WorkflowStatus) {
	duration := time.Since(t.start)
	t.metrics.DecActiveWorkflows(t.workflowName)
	t.metrics.RecordExecution(t.workflowName, status, duration)
}
