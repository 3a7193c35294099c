package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"adaptived/internal/config"
	"adaptived/internal/eventbus"
	"adaptived/internal/observability"
	"adaptived/internal/oracle"
	"adaptived/internal/runtime/supervisor"
	"adaptived/internal/storage"
	"adaptived/internal/task/decision"
	"adaptived/internal/task/engine"
	"adaptived/internal/task/scheduler"
	logx "adaptived/pkg/logx"
)

// Sections that only take effect after a restart.
var restartSections = map[string]bool{
	"storage": true,
	"oracle":  true,
	"hooks":   true,
	"tracing": true,
}

type App struct {
	cfgPath string
	version string

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store         storage.Store
	traceShutdown func(context.Context) error

	oracle  *oracle.Composite
	decider *decision.Engine
	engine  *engine.Service
	sched   *scheduler.Service

	journal      <-chan eventbus.Event
	unsubJournal func()
}

// NewApp loads the config and wires every component. Nothing runs until Start.
func NewApp(ctx context.Context, cfgPath, version string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.Component("app")
	bus := eventbus.New()

	a := &App{
		cfgPath: cfgPath,
		version: version,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
	}
	if err := a.build(ctx, cfg); err != nil {
		a.closeResources(context.Background())
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, cfg *config.Config) error {
	root := a.logs.Logger()

	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		st, err := storage.Open(sc, root)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	shutdown, err := observability.Init(ctx, mapTracingConfig(cfg, a.version))
	if err != nil {
		return err
	}
	a.traceShutdown = shutdown

	ocfg, err := mapOracleConfig(cfg)
	if err != nil {
		return err
	}
	if a.oracle, err = oracle.New(ocfg); err != nil {
		return err
	}
	a.decider = decision.New(a.oracle, mapDecisionConfig(cfg), decision.WithLogger(root.Component("decision")))

	hookReg, err := buildHooks(cfg, ocfg.Seed)
	if err != nil {
		return err
	}
	cats := hookReg.Categories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	a.log.Debug("hooks registered", logx.Strings("categories", names))

	scfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return err
	}
	a.engine = engine.New(engine.Config{}, root.Component("engine"), a.bus,
		engine.WithTracer(otel.Tracer("adaptived/engine")),
	)
	a.sched, err = scheduler.New(scfg, scheduler.Deps{
		Decider:  a.decider,
		Hooks:    hookReg,
		Engine:   a.engine,
		Store:    a.store,
		Observer: a.oracle,
		Log:      root.Component("scheduler"),
		Bus:      a.bus,
		Tracer:   otel.Tracer("adaptived/scheduler"),
	})
	return err
}

// Done is closed when the app supervisor stops (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Status() scheduler.Status { return a.sched.Status() }

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.logs.Logger().Component("config"))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if err := config.Validate(cfg); err != nil {
			return err
		}
		_, err := mapSchedulerConfig(cfg)
		return err
	})

	// Subscribe before the scheduler runs so no finished run is missed.
	if a.store != nil {
		a.journal, a.unsubJournal = a.bus.Subscribe(256)
		a.sup.Go("run.journal", a.journalLoop)
	}

	st := a.sched.Start(a.sup.Context())

	reloads := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(reloads)
		a.reloadLoop(c, reloads)
		return nil
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.String("version", a.version),
		logx.String("config", a.cfgPath),
		logx.Int("tasks", st.TotalTasks),
	)
	return nil
}

func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, lastApplied, next)
			lastApplied = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	for _, s := range sections {
		if restartSections[s] {
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLoggingConfig(next))
	a.decider.Apply(mapDecisionConfig(next))
	scfg, err := mapSchedulerConfig(next)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(ctx, scfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order. Each step is bounded so
// one component cannot stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources(ctx)
		_ = a.logs.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// The scheduler goes first so its final runs still reach the journal.
	a.step(ctx, "scheduler", 10*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.sup.Cancel()
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	a.closeResources(ctx)
	// Journal records are lost when its buffer overflows.
	if d, ok := a.bus.(eventbus.Dropper); ok && d.Dropped() > 0 {
		a.log.Warn("event bus dropped events", logx.Uint64("dropped", d.Dropped()))
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

func (a *App) closeResources(ctx context.Context) {
	a.step(ctx, "storage", time.Second, func(context.Context) error {
		if a.store == nil {
			return nil
		}
		return a.store.Close()
	})
	a.step(ctx, "tracing", 2*time.Second, func(c context.Context) error {
		if a.traceShutdown == nil {
			return nil
		}
		return a.traceShutdown(c)
	})
}

func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	stepCtx := ctx
	// Respect the caller's deadline; never extend it.
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
