package tracing

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return recorder, tp
}

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	_, span := p.Tracer().Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Error("expected an invalid span context from a disabled provider")
	}
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestEnabledProviderWithoutEndpoint(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Enabled: true, SampleRate: 0.5})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.Name() != "tracing" {
		t.Errorf("Name() = %s, want tracing", p.Name())
	}
}

func TestTraceAnalyze(t *testing.T) {
	recorder, tp := newRecordingTracer()
	tracer := tp.Tracer("test")

	_, span := TraceAnalyze(context.Background(), tracer, "claude", 128)
	RecordError(span, errors.New("upstream timeout"))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}

	if spans[0].Name() != "analyzer.analyze" {
		t.Errorf("span name = %s, want analyzer.analyze", spans[0].Name())
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("span status = %v, want error", spans[0].Status().Code)
	}

	found := false
	for _, attr := range spans[0].Attributes() {
		if string(attr.Key) == "analyzer.input_bytes" && attr.Value.AsInt64() == 128 {
			found = true
		}
	}
	if !found {
		t.Error("analyzer.input_bytes attribute missing")
	}
}

func TestRecordErrorNil(t *testing.T) {
	recorder, tp := newRecordingTracer()

	_, span := TraceExport(context.Background(), tp.Tracer("test"), "file", "abc")
	RecordError(span, nil)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code == codes.Error {
		t.Error("nil error should not mark the span failed")
	}
}

func TestTraceRequest(t *testing.T) {
	recorder, tp := newRecordingTracer()

	req := httptest.NewRequest("POST", "/analyze-log", nil)
	_, span := TraceRequest(req, tp.Tracer("test"), "/analyze-log")
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "http /analyze-log" {
		t.Errorf("span name = %s", spans[0].Name())
	}
}
