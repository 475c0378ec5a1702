package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type kindError struct{ kind string }

func (e kindError) Error() string     { return "device failed: " + e.kind }
func (e kindError) ErrorKind() string { return e.kind }

func withRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	previous := otel.GetTracerProvider()
	exp := tracetest.NewInMemoryExporter()

	cfg := DefaultConfig()
	cfg.Enabled = true
	p, err := InitWithExporter(cfg, exp)
	if err != nil {
		t.Fatalf("InitWithExporter: %v", err)
	}
	t.Cleanup(func() {
		p.Shutdown(context.Background())
		otel.SetTracerProvider(previous)
	})
	return exp
}

func attr(attrs []attribute.KeyValue, key attribute.Key) (string, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value.Emit(), true
		}
	}
	return "", false
}

func TestInit_Disabled(t *testing.T) {
	p, err := Init(DefaultConfig())
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on disabled provider: %v", err)
	}
}

func TestSpans_CarryDomainAttributes(t *testing.T) {
	exp := withRecorder(t)
	ctx := context.Background()

	_, span := TraceRecording(ctx, "finalize", "AB12CD")
	span.End()
	_, span = TraceCapture(ctx, "acquire", "")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans", len(spans))
	}
	if spans[0].Name != "recording.finalize" {
		t.Errorf("name = %s", spans[0].Name)
	}
	if room, _ := attr(spans[0].Attributes, RoomIDKey); room != "AB12CD" {
		t.Errorf("room attribute = %q", room)
	}
	if _, ok := attr(spans[1].Attributes, SessionIDKey); ok {
		t.Error("empty session id should not be recorded")
	}
}

func TestRecordError_AddsKind(t *testing.T) {
	exp := withRecorder(t)

	ctx, span := TraceCapture(context.Background(), "acquire", "s1")
	RecordError(ctx, errors.Join(errors.New("acquire"), kindError{kind: "permission_denied"}))
	span.End()

	ctx, span = TraceStorageOperation(context.Background(), "deliver", "file")
	RecordError(ctx, errors.New("disk full"))
	RecordError(ctx, nil)
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("status = %v", spans[0].Status.Code)
	}
	if kind, _ := attr(spans[0].Attributes, ErrorKindKey); kind != "permission_denied" {
		t.Errorf("error kind = %q", kind)
	}
	if _, ok := attr(spans[1].Attributes, ErrorKindKey); ok {
		t.Error("unclassified error got a kind")
	}
	if len(spans[1].Events) != 1 {
		t.Errorf("expected one error event, got %d", len(spans[1].Events))
	}
}

func TestRecordError_WithoutSpan(t *testing.T) {
	RecordError(context.Background(), errors.New("ignored"))
}
