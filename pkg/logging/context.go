package logging

import "context"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"
	// EventIDKey is the context key for inbound event IDs.
	EventIDKey contextKey = "event_id"
	// ExecutionIDKey is the context key for workflow execution IDs.
	ExecutionIDKey contextKey = "execution_id"
	// ErrorCodeKey is the context key for error codes.
	ErrorCodeKey contextKey = "error_code"
)

var contextKeys = []contextKey{RequestIDKey, EventIDKey, ExecutionIDKey, ErrorCodeKey}

// WithRequestID returns a context carrying a request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// WithEventID returns a context carrying an inbound event ID.
func WithEventID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, EventIDKey, id)
}

// WithExecutionID returns a context carrying an execution ID.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ExecutionIDKey, id)
}

// WithErrorCode returns a context carrying an error code.
func WithErrorCode(ctx context.Context, code string) context.Context {
	return context.WithValue(ctx, ErrorCodeKey, code)
}

// RequestIDFromContext returns the request ID, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
