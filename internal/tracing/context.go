// Package tracing carries request identifiers through contexts so every log
// line emitted while serving an RPC can be tied back to its request.
package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// SessionNameKey is the context key for the embedding session name
	SessionNameKey ContextKey = "session_name"
	// RequestIDKey is the context key for the RPC request ID
	RequestIDKey ContextKey = "request_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID     string
	SessionName string
	RequestID   string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithSessionName adds an embedding session name to the context
func WithSessionName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, SessionNameKey, name)
}

// WithRequestID adds an RPC request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetSessionName retrieves the embedding session name from the context
func GetSessionName(ctx context.Context) string {
	if name, ok := ctx.Value(SessionNameKey).(string); ok {
		return name
	}
	return ""
}

// GetRequestID retrieves the RPC request ID from the context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:     GetTraceID(ctx),
		SessionName: GetSessionName(ctx),
		RequestID:   GetRequestID(ctx),
	}
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	if tc.TraceID != "" {
		baseLogger = baseLogger.With().Str("trace_id", tc.TraceID).Logger()
	}
	if tc.SessionName != "" {
		baseLogger = baseLogger.With().Str("session_name", tc.SessionName).Logger()
	}
	if tc.RequestID != "" {
		baseLogger = baseLogger.With().Str("request_id", tc.RequestID).Logger()
	}

	return baseLogger
}
