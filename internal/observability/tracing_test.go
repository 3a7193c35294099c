package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestNewProviderResourceAndSpans(t *testing.T) {
	t.Parallel()

	rec := tracetest.NewSpanRecorder()
	tp, err := NewProvider(context.Background(), Config{ServiceName: "adaptived-test", Version: "1.2.3"}, sdktrace.WithSpanProcessor(rec))
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	defer tp.Shutdown(context.Background())

	ctx, parent := tp.Tracer("test").Start(context.Background(), "scheduler.cycle")
	_, child := tp.Tracer("test").Start(ctx, "task.execute")
	child.SetAttributes(attribute.String("task.category", "data_sync"))
	child.End()
	parent.End()

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("spans=%d", len(spans))
	}
	if spans[0].Parent().SpanID() != spans[1].SpanContext().SpanID() {
		t.Fatalf("task span not parented to cycle span")
	}
	var found bool
	for _, kv := range spans[0].Resource().Attributes() {
		if kv.Key == semconv.ServiceNameKey && kv.Value.AsString() == "adaptived-test" {
			found = true
		}
	}
	if !found {
		t.Fatalf("service name missing from resource")
	}
}

func TestInitExporters(t *testing.T) {
	tests := []struct {
		exporter string
		wantErr  bool
	}{
		{"", false},
		{"none", false},
		{"stdout", false},
		{"zipkin", true},
	}
	for _, tt := range tests {
		t.Run(tt.exporter, func(t *testing.T) {
			shutdown, err := Init(context.Background(), Config{Exporter: tt.exporter})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v wantErr=%v", err, tt.wantErr)
			}
			if shutdown != nil {
				if err := shutdown(context.Background()); err != nil {
					t.Fatalf("shutdown: %v", err)
				}
			}
		})
	}
}

func TestSampler(t *testing.T) {
	t.Parallel()

	for _, r := range []float64{0, 1, 2} {
		if got := sampler(r).Description(); got != sdktrace.ParentBased(sdktrace.AlwaysSample()).Description() {
			t.Fatalf("ratio %v sampler=%s", r, got)
		}
	}
	if got := sampler(0.25).Description(); got == sdktrace.ParentBased(sdktrace.AlwaysSample()).Description() {
		t.Fatalf("ratio sampler not applied")
	}
}
