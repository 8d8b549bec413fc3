package tracing

import (
	"context"
	"testing"
)

func TestSetupWithoutOTLPEndpointSucceeds(t *testing.T) {
	shutdown, err := Setup(context.Background(), "agentrtd-test", "dev", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected shutdown error: %v", err)
	}
}

func TestTracerStartsSpans(t *testing.T) {
	tr := Tracer("agentrtd/test")
	_, span := tr.Start(context.Background(), "test.span")
	defer span.End()
	if !span.SpanContext().IsValid() {
		t.Fatal("expected a valid span context")
	}
}
