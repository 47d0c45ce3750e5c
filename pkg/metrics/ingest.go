package metrics

import "time"

// IngestMetrics records event ingestion metrics.
type IngestMetrics struct {
	registry *Registry
}

// Ingest returns the ingest metrics interface for the registry.
func (r *Registry) Ingest() *IngestMetrics {
	return &IngestMetrics{registry: r}
}

// Event outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
)

// Link actions.
const (
	LinkCreated = "created"
	LinkRemoved = "removed"
	LinkMarked  = "marked"
)

// RecordEvent records one processed event.
func (m *IngestMetrics) RecordEvent(kind, outcome string, duration time.Duration) {
	m.registry.ingestEventsTotal.WithLabelValues(kind, outcome).Inc()
	m.registry.ingestEventDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// AddOccurrences counts error occurrences ingested for an error type.
func (m *IngestMetrics) AddOccurrences(errorType string, n int64) {
	m.registry.ingestErrorsTotal.WithLabelValues(errorType).Add(float64(n))
}

// AddLinks counts links changed by action.
func (m *IngestMetrics) AddLinks(action string, n int) {
	if n <= 0 {
		return
	}
	m.registry.ingestLinksTotal.WithLabelValues(action).Add(float64(n))
}

// RecordAnomaly records a consistency anomaly noticed while ingesting. It
// shares the reconcile anomaly counter.
func (m *IngestMetrics) RecordAnomaly(kind string) {
	m.registry.reconcileAnomaliesTotal.WithLabelValues(kind).Inc()
}
