package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"adaptived/internal/eventbus"
	"adaptived/internal/hooks"
	"adaptived/internal/oracle"
	rtsup "adaptived/internal/runtime/supervisor"
	"adaptived/internal/storage"
	"adaptived/internal/task/engine"
	"adaptived/internal/task/model"
	"adaptived/internal/task/registry"
	logx "adaptived/pkg/logx"
)

// HookSource resolves the hook for a category.
type HookSource interface {
	Lookup(c model.Category) (hooks.Hook, bool)
}

// Deps are the collaborators of a Service. Decider, Hooks and Engine are
// required; Store nil disables persistence.
type Deps struct {
	Decider  Decider
	Hooks    HookSource
	Engine   *engine.Service
	Store    storage.Store
	Observer oracle.Observer
	Log      logx.Logger
	Bus      eventbus.Bus
	Tracer   trace.Tracer
	Now      func() time.Time
}

type Service struct {
	log      logx.Logger
	bus      eventbus.Bus
	tracer   trace.Tracer
	now      func() time.Time
	decider  Decider
	hooks    HookSource
	engine   *engine.Service
	store    storage.Store
	observer oracle.Observer

	mu   sync.Mutex
	cfg  Config
	defs definitions

	life    sync.Mutex
	sup     *rtsup.Supervisor
	running atomic.Bool

	// regMu guards everything the loop owns.
	regMu        sync.Mutex
	reg          *registry.Registry
	inFlight     map[string]string // task id -> run id
	lastCycle    time.Time
	prepared     bool
	lastDispWarn map[string]time.Time

	pmu     sync.Mutex
	pending []engine.Outcome
	wake    chan struct{}

	persistWarn *rate.Limiter
}

func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Decider == nil {
		return nil, errors.New("scheduler: decider is required")
	}
	if deps.Hooks == nil {
		return nil, errors.New("scheduler: hook source is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("scheduler: execution monitor is required")
	}
	cfg = cfg.withDefaults()
	s := &Service{
		log:          deps.Log,
		bus:          deps.Bus,
		tracer:       deps.Tracer,
		now:          deps.Now,
		decider:      deps.Decider,
		hooks:        deps.Hooks,
		engine:       deps.Engine,
		store:        deps.Store,
		observer:     deps.Observer,
		cfg:          cfg,
		defs:         indexDefinitions(cfg.Definitions),
		reg:          registry.New(),
		inFlight:     make(map[string]string),
		lastDispWarn: make(map[string]time.Time),
		wake:         make(chan struct{}, 1),
		persistWarn:  rate.NewLimiter(rate.Every(time.Minute), 1),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("adaptived/scheduler")
	}
	return s, nil
}

func (s *Service) config() (Config, definitions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.defs
}

// Apply swaps the tunables. Cadence, concurrency, cleanup and definitions
// take effect on the next cycle.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.defs = indexDefinitions(cfg.Definitions)
	s.mu.Unlock()

	s.engine.Apply(ctx, engineConfig(cfg))
	if s.running.Load() {
		s.regMu.Lock()
		s.seedDefinedLocked(cfg, s.now())
		s.regMu.Unlock()
	}
	s.log.Debug("scheduler config applied",
		logx.Duration("base_interval", cfg.BaseInterval),
		logx.Int("max_concurrent", cfg.MaxConcurrent),
		logx.Int("definitions", len(cfg.Definitions)),
	)
}

func engineConfig(cfg Config) engine.Config {
	return engine.Config{
		Workers:     cfg.MaxConcurrent,
		QueueSize:   cfg.MaxConcurrent,
		Timeout:     cfg.ExecTimeout,
		HistorySize: cfg.HistorySize,
	}
}

// Start restores persisted state, seeds the base tasks and starts the loop.
// It is idempotent: a second call returns the current status.
func (s *Service) Start(ctx context.Context) Status {
	if ctx == nil {
		ctx = context.Background()
	}
	s.life.Lock()
	defer s.life.Unlock()
	if s.running.Load() {
		return s.Status()
	}
	cfg, _ := s.config()

	s.prepare(ctx, cfg)
	s.engine.Apply(ctx, engineConfig(cfg))
	s.engine.Start(ctx)

	s.sup = rtsup.NewSupervisor(context.WithoutCancel(ctx),
		rtsup.WithLogger(s.log.Component("scheduler")),
		rtsup.WithCancelOnError(false),
	)
	s.running.Store(true)
	s.sup.GoRestart("scheduler.loop", s.loop,
		rtsup.WithRestartBackoff(time.Second, 30*time.Second),
		rtsup.WithPublishFirstError(true),
	)

	st := s.Status()
	s.log.Info("scheduler started",
		logx.Int("tasks", st.TotalTasks),
		logx.Int("max_concurrent", cfg.MaxConcurrent),
		logx.Bool("persistence", s.persistenceEnabled(cfg)),
	)
	return st
}

// prepare runs once per Service: restore before bootstrap so the restored
// states win over the seeds.
func (s *Service) prepare(ctx context.Context, cfg Config) {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	if s.prepared {
		return
	}
	s.prepared = true
	now := s.now()
	if s.persistenceEnabled(cfg) && !cfg.SkipRestore {
		s.restoreLocked(ctx, cfg, now)
	}
	if !cfg.SkipBootstrap {
		if created := s.reg.Bootstrap(now); len(created) > 0 {
			s.log.Info("base tasks seeded", logx.Strings("tasks", created))
		}
	}
	s.seedDefinedLocked(cfg, now)
}

// seedDefinedLocked adds every definition that names a task id and is not
// yet registered.
func (s *Service) seedDefinedLocked(cfg Config, now time.Time) {
	for _, d := range cfg.Definitions {
		if d.ID == "" || s.reg.Has(d.ID) {
			continue
		}
		st := model.State{
			ID:               d.ID,
			Category:         d.Category,
			Priority:         d.Priority,
			FrequencyMinutes: d.FrequencyMinutes,
			NextExecution:    now.Add(registry.NewTaskGrace),
			Reason:           "defined task",
		}
		if !st.Priority.Valid() {
			st.Priority = model.PriorityMedium
		}
		if st.FrequencyMinutes <= 0 {
			st.FrequencyMinutes = 5
		}
		if err := s.reg.Add(st); err != nil {
			s.log.Warn("defined task rejected", logx.String("task", d.ID), logx.Err(err))
		}
	}
}

// Stop halts new cycles and waits, bounded by ctx, for in-flight hooks.
// Hooks are never cancelled. A final snapshot is persisted.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.life.Lock()
	defer s.life.Unlock()
	if !s.running.Load() {
		return
	}
	start := time.Now()
	s.log.Info("stop requested")

	sup := s.sup
	s.sup = nil
	s.running.Store(false)
	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("scheduler loop did not exit cleanly", logx.Err(err))
	}

	s.engine.Stop(ctx)
	s.applyPending()

	cfg, _ := s.config()
	if s.persistenceEnabled(cfg) {
		s.persist(ctx, cfg)
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)), logx.Int("in_flight", s.InFlight()))
}

func (s *Service) Running() bool { return s.running.Load() }

func (s *Service) InFlight() int {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	return len(s.inFlight)
}

// loop runs cycles until the supervisor context is cancelled. Outcomes
// arriving while it waits are applied immediately.
func (s *Service) loop(ctx context.Context) error {
	for {
		rep, _ := s.Cycle(ctx)
		if ctx.Err() != nil {
			return context.Canceled
		}
		timer := time.NewTimer(max(rep.Next.Sub(s.now()), 0))
	wait:
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return context.Canceled
			case <-s.wake:
				s.applyPending()
			case <-timer.C:
				break wait
			}
		}
	}
}

// enqueueOutcome is the engine OnDone callback. It never blocks.
func (s *Service) enqueueOutcome(o engine.Outcome) {
	s.pmu.Lock()
	s.pending = append(s.pending, o)
	s.pmu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// applyPending folds queued outcomes into the registry and returns how many
// it applied.
func (s *Service) applyPending() int {
	s.pmu.Lock()
	batch := s.pending
	s.pending = nil
	s.pmu.Unlock()
	if len(batch) == 0 {
		return 0
	}
	cfg, _ := s.config()
	s.regMu.Lock()
	defer s.regMu.Unlock()
	for _, o := range batch {
		s.applyOutcomeLocked(o, cfg.BackoffCap)
	}
	return len(batch)
}

func (s *Service) applyOutcomeLocked(o engine.Outcome, backoffCap time.Duration) {
	if runID, ok := s.inFlight[o.TaskID]; ok && runID == o.RunID {
		delete(s.inFlight, o.TaskID)
	}
	if o.Canceled {
		s.log.Debug("run canceled before start", logx.String("task", o.TaskID), logx.String("run", o.RunID))
		return
	}
	if s.observer != nil {
		s.observer.Observe(o.OK, o.Duration)
	}

	var (
		st    *model.State
		found bool
	)
	if o.OK {
		st, found = s.reg.RecordSuccess(o.TaskID, o.Finished, o.Duration)
	} else {
		st, found = s.reg.RecordFailure(o.TaskID, o.Finished, o.Err, backoffCap)
	}
	if !found {
		s.log.Debug("outcome for unknown task dropped", logx.String("task", o.TaskID), logx.String("run", o.RunID))
		return
	}
	s.log.Debug("outcome applied",
		logx.String("task", st.ID),
		logx.Bool("ok", o.OK),
		logx.Int("executions", st.ExecutionCount),
		logx.Time("next", st.NextExecution),
	)
}

// Status returns a consistent view of the registry.
func (s *Service) Status() Status {
	s.regMu.Lock()
	list := s.reg.List()
	states := make([]model.State, 0, len(list))
	for _, st := range list {
		states = append(states, st.Clone())
	}
	execs, successes := s.reg.Totals()
	inFlight := len(s.inFlight)
	last := s.lastCycle
	s.regMu.Unlock()

	out := buildStatus(states, execs, successes)
	out.Running = s.running.Load()
	out.InFlight = inFlight
	if !last.IsZero() {
		out.LastCycle = &last
	}
	return out
}

// Tasks returns clones of every registered task, ordered by priority then id.
func (s *Service) Tasks() []model.State {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	list := s.reg.List()
	out := make([]model.State, 0, len(list))
	for _, st := range list {
		out = append(out, st.Clone())
	}
	return out
}
