package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"adaptived/internal/eventbus"
	"adaptived/internal/hooks"
	"adaptived/internal/task/model"
	logx "adaptived/pkg/logx"
)

func okHook() hooks.Hook {
	return hooks.Func(func(context.Context, model.Category, model.Params) (hooks.Result, error) {
		return hooks.Result{OK: true, Payload: "done"}, nil
	})
}

// blockingHook signals on started and returns once release is closed.
func blockingHook(started chan<- string, release <-chan struct{}) hooks.Hook {
	return hooks.Func(func(_ context.Context, c model.Category, _ model.Params) (hooks.Result, error) {
		started <- string(c)
		<-release
		return hooks.Result{OK: true}, nil
	})
}

func newTestService(t *testing.T, cfg Config, opts ...Option) (*Service, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	s := New(cfg, logx.Nop(), bus, opts...)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func waitOutcome(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for outcome")
		return Outcome{}
	}
}

func TestEveryAcceptedJobGetsOneOutcome(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, Config{Workers: 2, QueueSize: 8})
	outcomes := make(chan Outcome, 16)
	for i := 0; i < 5; i++ {
		err := s.Submit(context.Background(), Job{
			RunID:    fmt.Sprintf("run-%d", i),
			TaskID:   fmt.Sprintf("task-%d", i),
			Category: model.CategoryDataSync,
			Hook:     okHook(),
			OnDone:   func(o Outcome) { outcomes <- o },
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		o := waitOutcome(t, outcomes)
		if !o.OK || o.Err != nil || o.Payload != "done" {
			t.Fatalf("unexpected outcome %+v", o)
		}
		if seen[o.TaskID] {
			t.Fatalf("duplicate outcome for %s", o.TaskID)
		}
		seen[o.TaskID] = true
	}
	select {
	case o := <-outcomes:
		t.Fatalf("extra outcome %+v", o)
	case <-time.After(20 * time.Millisecond):
	}
	if got := len(s.Snapshot().History); got != 5 {
		t.Fatalf("history=%d", got)
	}
}

func TestSubmitRejections(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, Config{Workers: 1, QueueSize: 1})
	started := make(chan string, 4)
	release := make(chan struct{})
	outcomes := make(chan Outcome, 4)
	hook := blockingHook(started, release)
	submit := func(id string) error {
		return s.Submit(context.Background(), Job{TaskID: id, Category: model.CategoryDataSync, Hook: hook, OnDone: func(o Outcome) { outcomes <- o }})
	}

	if err := submit("a"); err != nil {
		t.Fatalf("submit a: %v", err)
	}
	<-started
	if err := submit("a"); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("expected overlap skip, got %v", err)
	}
	if err := submit("b"); err != nil {
		t.Fatalf("submit b: %v", err)
	}
	if err := submit("c"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}
	if got := s.Snapshot().Dropped; got != 1 {
		t.Fatalf("dropped=%d", got)
	}

	close(release)
	waitOutcome(t, outcomes)
	waitOutcome(t, outcomes)

	// c was never accepted, so it can be submitted again.
	if err := submit("c"); err != nil {
		t.Fatalf("resubmit c: %v", err)
	}
	<-started
	waitOutcome(t, outcomes)
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), nil)
	if err := s.Submit(context.Background(), Job{TaskID: "x", Hook: okHook()}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected stopped, got %v", err)
	}
	if err := s.Submit(context.Background(), Job{TaskID: "x"}); err == nil {
		t.Fatalf("nil hook should be rejected")
	}
	if err := s.Submit(context.Background(), Job{TaskID: "  ", Hook: okHook()}); err == nil {
		t.Fatalf("blank id should be rejected")
	}
}

func TestHookFailures(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	tests := []struct {
		name     string
		timeout  time.Duration
		hook     hooks.Hook
		wantErr  error
		timedOut bool
	}{
		{
			name: "error",
			hook: hooks.Func(func(context.Context, model.Category, model.Params) (hooks.Result, error) {
				return hooks.Result{}, errors.New("boom")
			}),
		},
		{
			name: "reported",
			hook: hooks.Func(func(context.Context, model.Category, model.Params) (hooks.Result, error) {
				return hooks.Result{OK: false}, nil
			}),
			wantErr: ErrReportedFailure,
		},
		{
			name: "panic",
			hook: hooks.Func(func(context.Context, model.Category, model.Params) (hooks.Result, error) {
				panic("kaboom")
			}),
		},
		{
			name:    "timeout",
			timeout: 20 * time.Millisecond,
			hook: hooks.Func(func(context.Context, model.Category, model.Params) (hooks.Result, error) {
				<-release
				return hooks.Result{OK: true}, nil
			}),
			wantErr:  ErrTimeout,
			timedOut: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestService(t, Config{Workers: 1, Timeout: tt.timeout})
			outcomes := make(chan Outcome, 1)
			if err := s.Submit(context.Background(), Job{TaskID: tt.name, Hook: tt.hook, OnDone: func(o Outcome) { outcomes <- o }}); err != nil {
				t.Fatalf("submit: %v", err)
			}
			o := waitOutcome(t, outcomes)
			if o.OK || o.Err == nil {
				t.Fatalf("expected failure, got %+v", o)
			}
			if tt.wantErr != nil && !errors.Is(o.Err, tt.wantErr) {
				t.Fatalf("err=%v want %v", o.Err, tt.wantErr)
			}
			if o.TimedOut != tt.timedOut {
				t.Fatalf("timed_out=%v", o.TimedOut)
			}
			if tt.timedOut && s.Snapshot().Abandoned != 1 {
				t.Fatalf("abandoned=%d", s.Snapshot().Abandoned)
			}
			if s.InFlight() != 0 {
				t.Fatalf("in flight=%d", s.InFlight())
			}
		})
	}
}

func TestStopCancelsQueuedJobs(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1, QueueSize: 4}, logx.Nop(), eventbus.New())
	s.Start(context.Background())

	started := make(chan string, 2)
	release := make(chan struct{})
	outcomes := make(chan Outcome, 2)
	hook := blockingHook(started, release)
	for _, id := range []string{"running", "queued"} {
		if err := s.Submit(context.Background(), Job{TaskID: id, Hook: hook, OnDone: func(o Outcome) { outcomes <- o }}); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop(context.Background())
		close(stopped)
	}()
	// Wait until Stop has begun before checking new submissions are refused.
	deadline := time.Now().Add(time.Second)
	for s.Running() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if err := s.Submit(context.Background(), Job{TaskID: "late", Hook: okHook()}); !errors.Is(err, ErrStopping) {
		t.Fatalf("expected stopping, got %v", err)
	}

	close(release)
	got := map[string]Outcome{}
	for i := 0; i < 2; i++ {
		o := waitOutcome(t, outcomes)
		got[o.TaskID] = o
	}
	<-stopped

	if o := got["running"]; !o.OK || o.Canceled {
		t.Fatalf("running job should complete, got %+v", o)
	}
	if o := got["queued"]; !o.Canceled || !errors.Is(o.Err, ErrStopped) {
		t.Fatalf("queued job should be canceled, got %+v", o)
	}
	if s.Running() {
		t.Fatalf("still running after stop")
	}

	// Start after Stop works and Start is idempotent.
	s.Start(context.Background())
	s.Start(context.Background())
	if !s.Running() {
		t.Fatalf("restart failed")
	}
	s.Stop(context.Background())
}

func TestApplyResizeLeavesRunningHookAlone(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t, Config{Workers: 1, QueueSize: 2})
	started := make(chan string, 1)
	release := make(chan struct{})
	outcomes := make(chan Outcome, 4)
	onDone := func(o Outcome) { outcomes <- o }

	if err := s.Submit(context.Background(), Job{TaskID: "hung", Category: model.CategoryDataSync, Hook: blockingHook(started, release), OnDone: onDone}); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := s.Submit(context.Background(), Job{TaskID: "queued", Hook: okHook(), OnDone: onDone}); err != nil {
		t.Fatal(err)
	}

	applied := make(chan struct{})
	go func() {
		s.Apply(context.Background(), Config{Workers: 2, QueueSize: 4})
		close(applied)
	}()
	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatalf("resize waited for the running hook")
	}

	// The queued job moved to the new pool and runs there.
	if o := waitOutcome(t, outcomes); o.TaskID != "queued" || !o.OK || o.Canceled {
		t.Fatalf("queued outcome=%+v", o)
	}
	if err := s.Submit(context.Background(), Job{TaskID: "after", Hook: okHook(), OnDone: onDone}); err != nil {
		t.Fatalf("submit after resize: %v", err)
	}
	if o := waitOutcome(t, outcomes); o.TaskID != "after" || !o.OK {
		t.Fatalf("after outcome=%+v", o)
	}
	snap := s.Snapshot()
	if !snap.Running || snap.Workers != 2 || snap.QueueCap != 4 || snap.InFlight != 1 {
		t.Fatalf("snapshot=%+v", snap)
	}

	close(release)
	if o := waitOutcome(t, outcomes); o.TaskID != "hung" || !o.OK {
		t.Fatalf("hung outcome=%+v", o)
	}
}

func TestLifecycleEventsAndSpans(t *testing.T) {
	t.Parallel()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	s, bus := newTestService(t, Config{Workers: 1}, WithTracer(tp.Tracer("test")))
	events, unsub := bus.Subscribe(8)
	defer unsub()

	outcomes := make(chan Outcome, 2)
	fail := hooks.Func(func(context.Context, model.Category, model.Params) (hooks.Result, error) {
		return hooks.Result{}, errors.New("nope")
	})
	if err := s.Submit(context.Background(), Job{TaskID: "ok", Category: model.CategorySystemHealth, Priority: model.PriorityCritical, Hook: okHook(), OnDone: func(o Outcome) { outcomes <- o }}); err != nil {
		t.Fatalf("submit ok: %v", err)
	}
	waitOutcome(t, outcomes)
	if err := s.Submit(context.Background(), Job{TaskID: "bad", Hook: fail, OnDone: func(o Outcome) { outcomes <- o }}); err != nil {
		t.Fatalf("submit bad: %v", err)
	}
	waitOutcome(t, outcomes)

	var types []string
	for len(types) < 4 {
		select {
		case e := <-events:
			types = append(types, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("events so far: %v", types)
		}
	}
	want := []string{EventStarted, EventFinished, EventStarted, EventFailed}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events=%v want %v", types, want)
		}
	}

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("spans=%d", len(spans))
	}
	if spans[0].Name() != "task.execute" || spans[0].Status().Code == codes.Error {
		t.Fatalf("first span %s %v", spans[0].Name(), spans[0].Status())
	}
	if spans[1].Status().Code != codes.Error {
		t.Fatalf("failed span status %v", spans[1].Status())
	}
}
