package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"adaptived/internal/hooks"
	"adaptived/internal/task/model"
)

// Config controls the execution monitor.
//
// The scheduler maps scheduler.max_concurrent, scheduler.exec_timeout and
// scheduler.history_size into this struct.
type Config struct {
	Workers   int
	QueueSize int

	// Timeout bounds a single hook call. 0 leaves hooks unbounded.
	Timeout time.Duration

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 3
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	if c.Timeout < 0 {
		c.Timeout = 0
	}
	return c
}

// Job is one dispatch of a registry task.
//
// OnDone is called exactly once per accepted job, from a worker goroutine
// (or from Stop for jobs that never ran).
type Job struct {
	RunID    string
	TaskID   string
	Category model.Category
	Priority model.Priority
	Params   model.Params
	Hook     hooks.Hook
	OnDone   func(Outcome)
}

// Outcome is the finalized result of a job.
type Outcome struct {
	RunID    string
	TaskID   string
	Category model.Category
	Started  time.Time
	Finished time.Time
	Duration time.Duration
	OK       bool
	Err      error
	Payload  any

	TimedOut bool
	// Canceled marks a job that was accepted but never ran (engine stopped).
	Canceled bool
}

// RunState tracks whether a task id is already in-flight.
// A task id counts as in-flight from Submit until its OnDone fires.
type RunState struct {
	mu       sync.Mutex
	inflight int
}

func (s *RunState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *RunState) release() {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

type HistoryItem struct {
	RunID      string
	TaskID     string
	Category   model.Category
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// TaskEvent is emitted on the event bus for task lifecycle events.
type TaskEvent struct {
	RunID      string        `json:"run_id"`
	TaskID     string        `json:"task_id"`
	Category   string        `json:"category"`
	Priority   string        `json:"priority"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	TimedOut   bool          `json:"timed_out,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int
	Timeout  time.Duration

	Dropped   uint64
	Abandoned uint64 // hook calls still running after their timeout fired

	History []HistoryItem
}

type queuedJob struct {
	job        Job
	enqueuedAt time.Time
	parent     trace.SpanContext
	state      *RunState
}

// callerSpan returns the submitter's span so the execution span nests under it.
func callerSpan(ctx context.Context) trace.SpanContext {
	if ctx == nil {
		return trace.SpanContext{}
	}
	return trace.SpanContextFromContext(ctx)
}
