package metrics

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DBMetrics provides methods to record store-related metrics.
type DBMetrics struct {
	registry *Registry
}

// DB returns the database metrics interface for the registry.
func (r *Registry) DB() *DBMetrics {
	return &DBMetrics{registry: r}
}

// Operation represents a store operation type.
type Operation string

const (
	OperationSelect Operation = "SELECT"
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
	OperationOther  Operation = "OTHER"
)

// QueryStatus represents the result status of a store operation.
type QueryStatus string

const (
	QueryStatusSuccess QueryStatus = "success"
	QueryStatusError   QueryStatus = "error"
)

// RecordQuery records metrics for a store operation. table is the collection name.
func (d *DBMetrics) RecordQuery(operation Operation, table string, duration time.Duration, err error) {
	status := QueryStatusSuccess
	if err != nil {
		status = QueryStatusError
	}

	d.registry.dbQueriesTotal.WithLabelValues(
		string(operation),
		table,
		string(status),
	).Inc()

	d.registry.dbQueryDuration.WithLabelValues(
		string(operation),
		table,
	).Observe(duration.Seconds())

	if err != nil {
		d.RecordQueryError(operation, table, classifyDBError(err))
	}
}

// RecordQueryError records a store error with error type classification.
func (d *DBMetrics) RecordQueryError(operation Operation, table string, errorType string) {
	d.registry.dbQueryErrors.WithLabelValues(
		string(operation),
		table,
		errorType,
	).Inc()
}

// classifyDBError attempts to classify a store error for metrics.
func classifyDBError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "connection"):
		return "connection"
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "duplicate"):
		return "duplicate_key"
	case strings.Contains(errStr, "writeconflict") || strings.Contains(errStr, "write conflict"):
		return "write_conflict"
	case strings.Contains(errStr, "not found") || strings.Contains(errStr, "no documents"):
		return "not_found"
	default:
		return "unknown"
	}
}
