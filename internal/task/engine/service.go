package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"adaptived/internal/eventbus"
	rtsup "adaptived/internal/runtime/supervisor"
	logx "adaptived/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service runs dispatched jobs on a fixed pool of workers and finalizes
// every accepted job with exactly one Outcome.
type Service struct {
	mu     sync.Mutex
	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	tracer trace.Tracer
	now    func() time.Time

	q chan queuedJob

	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}
	// retired counts worker sets replaced by resize that may still be
	// running a hook.
	retired sync.WaitGroup

	stateMu sync.Mutex
	states  map[string]*RunState

	hmu     sync.Mutex
	history []HistoryItem

	inFlight  int32
	dropped   uint64
	abandoned uint64

	lastQueueFullWarnAt int64
}

type Option func(*Service)

func WithTracer(t trace.Tracer) Option      { return func(s *Service) { s.tracer = t } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg.withDefaults(),
		log:    log,
		bus:    bus,
		now:    time.Now,
		states: make(map[string]*RunState),
	}
	for _, o := range opts {
		o(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("adaptived/engine")
	}
	return s
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil && s.stopDone == nil
}

// Apply updates the config. A change in Workers or QueueSize swaps in a new
// pool without waiting for running hooks; see resize.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	if !running {
		return
	}
	if prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize {
		s.resize(ctx)
	}
}

// resize retires the current workers and queue and starts a fresh set.
// Queued jobs move to the new queue; any that do not fit finish as Canceled.
// Retired workers exit after their current hook, so a hung hook holds only
// its own slot.
func (s *Service) resize(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil || s.stopDone != nil {
		s.mu.Unlock()
		return
	}
	oldSup, oldQueue := s.sup, s.q
	close(s.stopCh)
	cfg := s.cfg
	sup, stopCh, queue := s.spawnLocked(ctx, cfg)

	var overflow []queuedJob
move:
	for {
		select {
		case qj := <-oldQueue:
			select {
			case queue <- qj:
			default:
				overflow = append(overflow, qj)
			}
		default:
			break move
		}
	}
	s.retired.Add(1)
	s.mu.Unlock()

	s.startWorkers(sup, stopCh, queue, cfg.Workers)
	for _, qj := range overflow {
		s.cancelQueued(qj)
	}
	go func() {
		defer s.retired.Done()
		oldSup.Cancel()
		_ = oldSup.Wait(context.Background())
	}()
	s.log.Info("execution monitor resized",
		logx.Int("workers", cfg.Workers),
		logx.Int("queue", cap(queue)),
		logx.Int("in_flight", s.InFlight()),
		logx.Int("canceled", len(overflow)),
	)
}

// Start is idempotent. If a Stop is in progress it waits for it first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done == nil {
			return
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		if s.stopCh != nil {
			s.mu.Unlock()
			return
		}
	}

	cfg := s.cfg
	sup, stopCh, queue := s.spawnLocked(ctx, cfg)
	s.mu.Unlock()

	s.startWorkers(sup, stopCh, queue, cfg.Workers)

	s.log.Info("execution monitor started", logx.Int("workers", cfg.Workers), logx.Int("queue", cap(queue)), logx.Duration("timeout", cfg.Timeout))
}

// spawnLocked installs a fresh queue, stop channel and worker supervisor.
func (s *Service) spawnLocked(ctx context.Context, cfg Config) (*rtsup.Supervisor, chan struct{}, chan queuedJob) {
	s.q = make(chan queuedJob, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	// Detached from ctx: stopping the process must not cancel running hooks.
	s.sup = rtsup.NewSupervisor(context.WithoutCancel(ctx),
		rtsup.WithLogger(s.log.Component("engine")),
		rtsup.WithCancelOnError(false),
	)
	return s.sup, s.stopCh, s.q
}

func (s *Service) startWorkers(sup *rtsup.Supervisor, stopCh chan struct{}, queue chan queuedJob, n int) {
	for i := 0; i < n; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop stops accepting jobs and waits, bounded by ctx, for running hooks to
// return. Running hooks are never cancelled. Queued jobs that never started
// are finalized as Canceled.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	queue := s.q
	s.mu.Unlock()

	go func() {
		// Workers exit after their current job; wait without a deadline so the
		// pool is only torn down once nothing touches the queue.
		if sup != nil {
			sup.Cancel()
			_ = sup.Wait(context.Background())
		}
		s.retired.Wait()
		s.drain(queue)
		s.mu.Lock()
		s.q = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("execution monitor stopped")
	case <-ctx.Done():
		s.log.Warn("execution monitor stop timed out; hooks still running", logx.Int("in_flight", s.InFlight()), logx.Err(ctx.Err()))
	}
}

func (s *Service) drain(queue chan queuedJob) {
	for {
		select {
		case qj := <-queue:
			s.cancelQueued(qj)
		default:
			return
		}
	}
}

// cancelQueued finalizes a job that was accepted but never started.
func (s *Service) cancelQueued(qj queuedJob) {
	qj.state.release()
	now := s.now()
	s.finish(qj, Outcome{
		RunID:    qj.job.RunID,
		TaskID:   qj.job.TaskID,
		Category: qj.job.Category,
		Started:  now,
		Finished: now,
		Err:      ErrStopped,
		Canceled: true,
	})
}

// Submit enqueues a job without blocking.
//
// Errors: ErrStopped/ErrStopping when not running, ErrOverlapSkip when the
// task id is already in flight, ErrQueueFull when the queue is full. OnDone is
// not called for rejected jobs.
func (s *Service) Submit(ctx context.Context, j Job) error {
	if j.Hook == nil {
		return errors.New("job hook is nil")
	}
	j.TaskID = strings.TrimSpace(j.TaskID)
	if j.TaskID == "" {
		return errors.New("job task id is required")
	}

	st := s.stateFor(j.TaskID)
	now := s.now()
	qj := queuedJob{job: j, enqueuedAt: now, parent: callerSpan(ctx), state: st}

	// The send happens under mu so it cannot interleave with Stop's drain.
	s.mu.Lock()
	q := s.q
	switch {
	case q == nil || s.stopCh == nil:
		s.mu.Unlock()
		return ErrStopped
	case s.stopDone != nil:
		s.mu.Unlock()
		return ErrStopping
	}
	if !st.tryAcquire() {
		s.mu.Unlock()
		return ErrOverlapSkip
	}
	select {
	case q <- qj:
		s.mu.Unlock()
		return nil
	default:
		s.mu.Unlock()
		st.release()
		s.onQueueFull(now, j, q)
		return ErrQueueFull
	}
}

// InFlight is the number of hooks currently executing.
func (s *Service) InFlight() int { return int(atomic.LoadInt32(&s.inFlight)) }

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	snap := Snapshot{
		Running:   running,
		Workers:   cfg.Workers,
		Timeout:   cfg.Timeout,
		InFlight:  s.InFlight(),
		Dropped:   atomic.LoadUint64(&s.dropped),
		Abandoned: atomic.LoadUint64(&s.abandoned),
	}
	if q != nil {
		snap.QueueLen = len(q)
		snap.QueueCap = cap(q)
	}
	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) stateFor(taskID string) *RunState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.states[taskID]
	if st == nil {
		st = &RunState{}
		s.states[taskID] = st
	}
	return st
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

func (s *Service) shouldWarn(last *int64, now time.Time) bool {
	prev := atomic.LoadInt64(last)
	n := now.UnixNano()
	if prev != 0 && (n-prev) < int64(warnThrottleEvery) {
		return false
	}
	return atomic.CompareAndSwapInt64(last, prev, n)
}

func (s *Service) onQueueFull(now time.Time, j Job, q chan queuedJob) {
	atomic.AddUint64(&s.dropped, 1)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventDropped, Time: now, Data: TaskEvent{RunID: j.RunID, TaskID: j.TaskID, Category: string(j.Category), Priority: j.Priority.String(), Started: now, Error: "queue_full"}})
	}
	if s.shouldWarn(&s.lastQueueFullWarnAt, now) {
		s.log.Warn("job rejected: queue full",
			logx.String("task", j.TaskID),
			logx.Int("queue_len", len(q)),
			logx.Int("queue_cap", cap(q)),
			logx.Uint64("dropped", atomic.LoadUint64(&s.dropped)),
		)
	}
}
