package hooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"adaptived/internal/task/model"
)

func TestRegistryDefaults(t *testing.T) {
	t.Parallel()

	sim := NewSimulated(0, 0, 0, 1)
	health := Func(func(context.Context, model.Category, model.Params) (Result, error) {
		return Result{OK: true, Payload: "health"}, nil
	})
	r := NewRegistry()
	if err := RegisterDefaults(r, sim, health); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := len(r.Categories()); got != len(model.Categories()) {
		t.Fatalf("categories=%d", got)
	}
	h, ok := r.Lookup(model.CategorySystemHealth)
	if !ok {
		t.Fatalf("system_health missing")
	}
	res, err := h.Execute(context.Background(), model.CategorySystemHealth, nil)
	if err != nil || res.Payload != "health" {
		t.Fatalf("health hook not bound: %v %v", res, err)
	}
	if err := r.Register(model.CategoryDataSync, nil); err == nil {
		t.Fatalf("nil hook should be rejected")
	}
}

func TestSimulatedOutcomes(t *testing.T) {
	t.Parallel()

	ok := NewSimulated(time.Millisecond, 2*time.Millisecond, 0, 7)
	res, err := ok.Execute(context.Background(), model.CategoryDataSync, model.Params{"a": model.Int(1)})
	if err != nil || !res.OK {
		t.Fatalf("expected success: %v %v", res, err)
	}

	bad := NewSimulated(0, 0, 1, 7)
	if _, err := bad.Execute(context.Background(), model.CategoryDataSync, nil); !errors.Is(err, ErrSimulatedFault) {
		t.Fatalf("expected simulated fault, got %v", err)
	}

	slow := NewSimulated(time.Hour, time.Hour, 0, 7)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := slow.Execute(ctx, model.CategoryDataSync, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestHealthThresholdAndLatencyCheck(t *testing.T) {
	t.Parallel()

	h := NewHealth(80, true, time.Second)
	h.memory = func(context.Context) (float64, error) { return 50, nil }
	h.load1 = func(context.Context) (float64, error) { return 0, errors.New("unsupported") }
	pings := 0
	h.ping = func(context.Context) (string, time.Duration, error) {
		pings++
		return "nearby", 12 * time.Millisecond, nil
	}

	res, err := h.Execute(context.Background(), model.CategorySystemHealth, nil)
	if err != nil || !res.OK || pings != 0 {
		t.Fatalf("plain run: %v %v pings=%d", res, err, pings)
	}

	res, err = h.Execute(context.Background(), model.CategorySystemHealth, model.Params{"network_check": model.Bool(true)})
	if err != nil || pings != 1 {
		t.Fatalf("latency run: %v pings=%d", err, pings)
	}
	rep := res.Payload.(HealthReport)
	if rep.LatencyServer != "nearby" || rep.Latency != 12*time.Millisecond {
		t.Fatalf("report=%+v", rep)
	}

	h.memory = func(context.Context) (float64, error) { return 91, nil }
	res, err = h.Execute(context.Background(), model.CategorySystemHealth, nil)
	if err == nil || res.OK {
		t.Fatalf("expected failure above threshold")
	}
}
