package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"adaptived/internal/eventbus"
	"adaptived/internal/hooks"
	logx "adaptived/pkg/logx"
)

// Bus event types published by the execution monitor. Data is a TaskEvent.
const (
	EventStarted  = "task.started"
	EventFinished = "task.finished"
	EventFailed   = "task.failed"
	EventDropped  = "task.dropped"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedJob) {
	for {
		// A closed stopCh wins over queued work; Stop drains the rest.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qj := <-queue:
			s.execOne(ctx, qj)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qj queuedJob) {
	j := qj.job
	atomic.AddInt32(&s.inFlight, 1)

	s.mu.Lock()
	timeout := s.cfg.Timeout
	s.mu.Unlock()

	// Hooks outlive the worker context so Stop never interrupts a running call.
	base := context.WithoutCancel(ctx)
	if qj.parent.IsValid() {
		base = trace.ContextWithSpanContext(base, qj.parent)
	}
	hctx, span := s.tracer.Start(base, "task.execute", trace.WithAttributes(
		attribute.String("task.id", j.TaskID),
		attribute.String("task.category", string(j.Category)),
		attribute.String("task.priority", j.Priority.String()),
		attribute.String("run.id", j.RunID),
	))

	started := s.now()
	queueDelay := started.Sub(qj.enqueuedAt)
	ev := TaskEvent{
		RunID:      j.RunID,
		TaskID:     j.TaskID,
		Category:   string(j.Category),
		Priority:   j.Priority.String(),
		Started:    started,
		QueueDelay: queueDelay,
	}
	s.log.Debug("task started", logx.String("task", j.TaskID), logx.String("run", j.RunID), logx.Duration("queue_delay", queueDelay))
	s.publish(EventStarted, started, ev)

	res, timedOut, err := s.invoke(hctx, j, timeout)
	if err == nil && !res.OK {
		err = ErrReportedFailure
	}
	finished := s.now()
	dur := finished.Sub(started)

	out := Outcome{
		RunID:    j.RunID,
		TaskID:   j.TaskID,
		Category: j.Category,
		Started:  started,
		Finished: finished,
		Duration: dur,
		OK:       err == nil,
		Err:      err,
		Payload:  res.Payload,
		TimedOut: timedOut,
	}

	ev.Duration = dur
	ev.TimedOut = timedOut
	item := HistoryItem{RunID: j.RunID, TaskID: j.TaskID, Category: j.Category, Started: started, QueueDelay: queueDelay, Duration: dur}
	span.SetAttributes(attribute.Int64("task.duration_ms", dur.Milliseconds()))
	if err != nil {
		ev.Error = err.Error()
		item.Error = ev.Error
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Warn("task failed", logx.String("task", j.TaskID), logx.String("run", j.RunID), logx.Duration("dur", dur), logx.Bool("timed_out", timedOut), logx.Err(err))
		s.publish(EventFailed, finished, ev)
	} else {
		s.log.Info("task completed", logx.String("task", j.TaskID), logx.String("run", j.RunID), logx.Duration("dur", dur))
		s.publish(EventFinished, finished, ev)
	}
	span.End()
	s.record(item)

	atomic.AddInt32(&s.inFlight, -1)
	qj.state.release()
	s.finish(qj, out)
}

// invoke runs the hook, bounded by timeout when positive. On timeout the hook
// goroutine is abandoned and keeps running until it returns on its own.
func (s *Service) invoke(ctx context.Context, j Job, timeout time.Duration) (hooks.Result, bool, error) {
	if timeout <= 0 {
		res, err := s.callHook(ctx, j)
		return res, false, err
	}

	type result struct {
		res hooks.Result
		err error
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		res, err := s.callHook(hctx, j)
		ch <- result{res: res, err: err}
	}()

	select {
	case r := <-ch:
		return r.res, false, r.err
	case <-hctx.Done():
		// The hook may have finished right at the deadline.
		select {
		case r := <-ch:
			return r.res, false, r.err
		default:
		}
		atomic.AddUint64(&s.abandoned, 1)
		return hooks.Result{}, true, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}

func (s *Service) callHook(ctx context.Context, j Job) (res hooks.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("hook panicked", logx.String("task", j.TaskID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			res = hooks.Result{}
			err = fmt.Errorf("hook panic: %v", r)
		}
	}()
	return j.Hook.Execute(ctx, j.Category, j.Params.Clone())
}

func (s *Service) finish(qj queuedJob, o Outcome) {
	if qj.job.OnDone != nil {
		qj.job.OnDone(o)
	}
}

func (s *Service) publish(typ string, at time.Time, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
}
