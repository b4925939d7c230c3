package logger

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type ctxKey struct{}

type fieldsKey struct{}

// requestFields collects fields for the canonical request log line.
type requestFields struct {
	mu     sync.Mutex
	fields []zap.Field
}

// ContextWithLogger stores a logger in the context.
func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext extracts a logger from the context.
// Returns zap.NewNop() if no logger is found.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

// WithRequestFields prepares ctx to collect fields added by handlers with AddFields.
func WithRequestFields(ctx context.Context) context.Context {
	return context.WithValue(ctx, fieldsKey{}, &requestFields{})
}

// AddFields attaches fields to the canonical log line of the current request.
// Outside WithRequestFields it does nothing.
func AddFields(ctx context.Context, fields ...zap.Field) {
	rf, ok := ctx.Value(fieldsKey{}).(*requestFields)
	if !ok {
		return
	}
	rf.mu.Lock()
	rf.fields = append(rf.fields, fields...)
	rf.mu.Unlock()
}

// RequestFields returns a copy of the fields added to ctx so far.
func RequestFields(ctx context.Context) []zap.Field {
	rf, ok := ctx.Value(fieldsKey{}).(*requestFields)
	if !ok {
		return nil
	}
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return append([]zap.Field(nil), rf.fields...)
}
