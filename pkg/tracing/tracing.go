package tracing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "huddle"

type Config struct {
	Enabled     bool
	ServiceName string
	Version     string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "huddled",
		Version:     "dev",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// Provider owns the process tracer provider. The zero value is a disabled
// provider whose Shutdown does nothing.
type Provider struct {
	tp *tracesdk.TracerProvider
}

// Init installs a Jaeger-exporting tracer provider globally. With tracing
// disabled it returns a no-op Provider and leaves the globals alone.
func Init(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}
	return InitWithExporter(cfg, exp)
}

// InitWithExporter is Init with a caller-supplied exporter. Spans are
// exported synchronously when the exporter is not Jaeger's, which keeps
// in-memory exporters deterministic.
func InitWithExporter(cfg Config, exp tracesdk.SpanExporter) (*Provider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Version),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	processor := tracesdk.WithSyncer(exp)
	if _, ok := exp.(*jaeger.Exporter); ok {
		processor = tracesdk.WithBatcher(exp)
	}

	tp := tracesdk.NewTracerProvider(
		processor,
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{tp: tp}, nil
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// kinded is implemented by errors that carry a classification, such as
// device errors.
type kinded interface {
	ErrorKind() string
}

// RecordError marks the span in ctx as failed. Classified errors also get
// their kind attached.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var k kinded
	if errors.As(err, &k) {
		span.SetAttributes(ErrorKindKey.String(k.ErrorKind()))
	}
}

var (
	RoomIDKey     = attribute.Key("room.id")
	SessionIDKey  = attribute.Key("session.id")
	SourceKindKey = attribute.Key("share.source_kind")
	QualityKey    = attribute.Key("share.quality")
	MimeTypeKey   = attribute.Key("recording.mime_type")
	ErrorKindKey  = attribute.Key("error.kind")
	DurationKey   = attribute.Key("duration_ms")
)

func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return StartSpan(ctx, "http."+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(route),
		),
	)
}

// TraceWebSocketMessage spans one command received on the event feed.
func TraceWebSocketMessage(ctx context.Context, command, roomID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "ws."+command,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("ws.command", command),
			RoomIDKey.String(roomID),
		),
	)
}

// TraceCapture spans device acquisition and track composition.
func TraceCapture(ctx context.Context, operation, sessionID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("capture.operation", operation)}
	if sessionID != "" {
		attrs = append(attrs, SessionIDKey.String(sessionID))
	}
	return StartSpan(ctx, "capture."+operation, trace.WithAttributes(attrs...))
}

// TraceRecording spans negotiation, start and finalization of a recording.
func TraceRecording(ctx context.Context, operation, roomID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "recording."+operation,
		trace.WithAttributes(
			attribute.String("recording.operation", operation),
			RoomIDKey.String(roomID),
		),
	)
}

// TraceStorageOperation spans artifact store and catalog calls.
func TraceStorageOperation(ctx context.Context, operation, backend string) (context.Context, trace.Span) {
	return StartSpan(ctx, "storage."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("storage.operation", operation),
			attribute.String("storage.backend", backend),
		),
	)
}
