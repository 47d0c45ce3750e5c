package metrics

// ReconcileMetrics records change reconciliation metrics.
type ReconcileMetrics struct {
	registry *Registry
}

// Reconcile returns the reconcile metrics interface for the registry.
func (r *Registry) Reconcile() *ReconcileMetrics {
	return &ReconcileMetrics{registry: r}
}

// Reconciled entities.
const (
	EntityExecution   = "execution"
	EntityErrorRecord = "error_record"
)

// Update outcomes.
const (
	UpdateDecremented = "decremented"
	UpdateDeleted     = "deleted"
	UpdateMissing     = "missing"
	UpdateFailed      = "failed"
)

// Anomaly kinds.
const (
	AnomalyClamped = "clamped"
)

// Resume outcomes.
const (
	ResumeSucceeded = "succeeded"
	ResumeFailed    = "failed"
)

// RecordBatch records one change feed batch of n removals.
func (m *ReconcileMetrics) RecordBatch(n int) {
	m.registry.reconcileBatchSize.Observe(float64(n))
	m.registry.reconcileRemovedLinks.Add(float64(n))
}

// RecordUpdate records the outcome of one aggregate update.
func (m *ReconcileMetrics) RecordUpdate(entity, outcome string) {
	m.registry.reconcileUpdatesTotal.WithLabelValues(entity, outcome).Inc()
}

// RecordAnomaly records one consistency anomaly.
func (m *ReconcileMetrics) RecordAnomaly(kind string) {
	m.registry.reconcileAnomaliesTotal.WithLabelValues(kind).Inc()
}

// RecordResume records one resume attempt.
func (m *ReconcileMetrics) RecordResume(outcome string) {
	m.registry.reconcileResumesTotal.WithLabelValues(outcome).Inc()
}
