package telemetry

import (
	"bytes"
	"context"
	"testing"
)

func TestNew_Disabled(t *testing.T) {
	p, err := New(context.Background(), Config{Enabled: false, ServiceName: "test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
	if p.tracer == nil {
		t.Fatal("expected non-nil tracer even when disabled")
	}
	if p.denialCounter != nil {
		t.Fatal("expected nil denial counter when disabled")
	}
}

func TestNew_DisabledProviderMethodsAreNoOps(t *testing.T) {
	p, err := New(context.Background(), Config{Enabled: false, ServiceName: "test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, end := p.StartToolCall(context.Background(), "add_bug")
	if ctx == nil {
		t.Fatal("expected non-nil context from StartToolCall")
	}
	end(false)

	// Should not panic even though no metric provider is configured.
	p.RecordDenial(context.Background(), "rate_limit_exceeded")
}

func TestNew_DisabledShutdownIsNoOp(t *testing.T) {
	p, err := New(context.Background(), Config{Enabled: false, ServiceName: "test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestNew_EnabledWritesToConfiguredWriter(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(context.Background(), Config{
		Enabled:        true,
		Writer:         &buf,
		ServiceName:    "gatekeep-test",
		ServiceVersion: "0.0.0-test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if p.denialCounter == nil {
		t.Fatal("expected a configured denial counter when enabled")
	}

	ctx, end := p.StartToolCall(context.Background(), "add_bug")
	end(false)
	p.RecordDenial(ctx, "network_blocked")

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if buf.Len() == 0 {
		t.Fatal("expected span/metric output to be written to the configured writer")
	}
}

func TestNew_EnabledMarksFailedSpans(t *testing.T) {
	var buf bytes.Buffer
	p, err := New(context.Background(), Config{
		Enabled:     true,
		Writer:      &buf,
		ServiceName: "gatekeep-test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, end := p.StartToolCall(context.Background(), "web_search")
	end(true)

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if !bytes.Contains(buf.Bytes(), []byte("Error")) {
		t.Fatalf("expected failed span status recorded in output, got %q", buf.String())
	}
}
