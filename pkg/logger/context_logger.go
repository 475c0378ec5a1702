package logger

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	roomIDKey
	requestIDKey
)

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func WithRoomID(ctx context.Context, room string) context.Context {
	return context.WithValue(ctx, roomIDKey, room)
}

// WithRequestID tags ctx with the id of the HTTP request or event-feed
// command being served.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// Fields returns the correlation fields stored in ctx.
func Fields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	for _, k := range []struct {
		key  ctxKey
		name string
	}{
		{traceIDKey, "trace_id"},
		{roomIDKey, "room_id"},
		{requestIDKey, "request_id"},
	} {
		if v, ok := ctx.Value(k.key).(string); ok && v != "" {
			fields = append(fields, zap.String(k.name, v))
		}
	}
	return fields
}

// ContextLogger logs with the correlation ids carried by a context.
type ContextLogger struct {
	base *zap.Logger
}

func NewContextLogger(base *zap.Logger) *ContextLogger {
	return &ContextLogger{base: base}
}

func (cl *ContextLogger) For(ctx context.Context) *zap.Logger {
	fields := Fields(ctx)
	if len(fields) == 0 {
		return cl.base
	}
	return cl.base.With(fields...)
}

// RequestEntry describes one finished HTTP request.
type RequestEntry struct {
	Method   string
	Route    string
	Status   int
	Duration time.Duration
	ClientIP string
}

func (cl *ContextLogger) LogRequest(ctx context.Context, e RequestEntry) {
	log := cl.For(ctx)
	fields := []zap.Field{
		zap.String("method", e.Method),
		zap.String("path", e.Route),
		zap.Int("status_code", e.Status),
		zap.Int64("duration_ms", e.Duration.Milliseconds()),
	}
	if e.ClientIP != "" {
		fields = append(fields, zap.String("client_ip", e.ClientIP))
	}
	switch {
	case e.Status >= 500:
		log.Error("http_request", fields...)
	case e.Status >= 400:
		log.Warn("http_request", fields...)
	default:
		log.Info("http_request", fields...)
	}
}

// LogCommand records a control command received over the event feed.
// Failures are logged at warn since most are device or state conflicts.
func (cl *ContextLogger) LogCommand(ctx context.Context, command string, took time.Duration, err error) {
	log := cl.For(ctx).With(
		zap.String("command", command),
		zap.Int64("duration_ms", took.Milliseconds()),
	)
	if err != nil {
		log.Warn("command_failed", zap.Error(err))
		return
	}
	log.Debug("command_done")
}
