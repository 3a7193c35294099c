package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"adaptived/internal/eventbus"
	"adaptived/internal/task/engine"
	"adaptived/internal/task/model"
	"adaptived/internal/task/registry"
	logx "adaptived/pkg/logx"
)

const dispatchWarnThrottle = 5 * time.Second

// Cycle runs one scheduling iteration. The returned report's Next is when
// the loop should run again. An error means the oracle failed; the registry
// was not changed beyond applying finished outcomes.
func (s *Service) Cycle(ctx context.Context) (CycleReport, error) {
	cfg, defs := s.config()
	now := s.now()
	rep := CycleReport{ID: uuid.NewString(), At: now, Skipped: map[string]string{}}

	ctx, span := s.tracer.Start(ctx, "scheduler.cycle", trace.WithAttributes(attribute.String("cycle.id", rep.ID)))
	defer span.End()

	s.applyPending()

	market, system, err := s.decider.Analyze(ctx)
	if err != nil {
		rep.Next = now.Add(cfg.ErrorInterval)
		span.RecordError(err)
		span.SetStatus(codes.Error, "environment analysis failed")
		s.log.Warn("environment analysis failed", logx.Err(err), logx.Duration("retry_in", cfg.ErrorInterval))
		s.markCycle(now)
		return rep, err
	}

	recs := s.decider.Recommend(market, system)
	rep.Recommended = len(recs)

	runnable := make([]model.Recommendation, 0, len(recs))
	for _, rec := range recs {
		if _, ok := s.hooks.Lookup(rec.Category); !ok {
			s.log.Warn("recommendation dropped: no hook for category",
				logx.String("category", string(rec.Category)),
				logx.String("rule", rec.Rule),
			)
			continue
		}
		runnable = append(runnable, rec)
	}
	// Within one cycle the last rule for a task key wins outright.
	runnable = registry.Collapse(runnable)

	s.regMu.Lock()
	for _, rec := range runnable {
		id, created := s.reg.Merge(rec, now)
		if created {
			rep.Created = append(rep.Created, id)
			s.log.Info("task created", logx.String("task", id), logx.String("reason", rec.Reason), logx.Int("freq_min", rec.FrequencyMinutes))
		}
	}

	in := gateInput{
		now:      now,
		loc:      cfg.Location,
		market:   market,
		system:   system,
		inFlight: s.inFlight,
		reg:      s.reg,
	}
	for _, st := range s.reg.Ready(now) {
		if g := defs.gate(st, in); g != "" {
			rep.Skipped[st.ID] = g
			continue
		}
		if len(s.inFlight) >= cfg.MaxConcurrent {
			break
		}
		if err := s.dispatchLocked(ctx, st); err != nil {
			if errors.Is(err, errNoHook) {
				rep.Skipped[st.ID] = GateNoHook
			}
			continue
		}
		rep.Dispatched = append(rep.Dispatched, st.ID)
	}
	s.regMu.Unlock()

	s.applyPending()
	rep.Pruned = s.cleanup(now, cfg)
	if s.persistenceEnabled(cfg) {
		s.persist(ctx, cfg)
	}

	interval := Interval(cfg, market, system)
	rep.Next = cadence(interval).Next(now)
	s.markCycle(now)

	span.SetAttributes(
		attribute.Int("cycle.dispatched", len(rep.Dispatched)),
		attribute.Int("cycle.skipped", len(rep.Skipped)),
		attribute.Int("cycle.pruned", len(rep.Pruned)),
	)
	s.log.Debug("cycle complete",
		logx.String("cycle", rep.ID),
		logx.Int("recommended", rep.Recommended),
		logx.Int("dispatched", len(rep.Dispatched)),
		logx.Int("skipped", len(rep.Skipped)),
		logx.Duration("next_in", interval),
	)
	return rep, nil
}

var errNoHook = errors.New("no hook registered")

func (s *Service) dispatchLocked(ctx context.Context, st *model.State) error {
	hook, ok := s.hooks.Lookup(st.Category)
	if !ok {
		return errNoHook
	}
	runID := uuid.NewString()
	err := s.engine.Submit(ctx, engine.Job{
		RunID:    runID,
		TaskID:   st.ID,
		Category: st.Category,
		Priority: st.Priority,
		Params:   st.Params.Clone(),
		Hook:     hook,
		OnDone:   s.enqueueOutcome,
	})
	if err != nil {
		s.reportDispatchErrorLocked(st.ID, err)
		return err
	}
	s.inFlight[st.ID] = runID
	return nil
}

func (s *Service) reportDispatchErrorLocked(taskID string, err error) {
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("dispatch skipped", logx.String("task", taskID), logx.Err(err))
		return
	}
	now := s.now()
	if last, ok := s.lastDispWarn[taskID]; ok && now.Sub(last) < dispatchWarnThrottle {
		return
	}
	s.lastDispWarn[taskID] = now
	s.log.Warn("dispatch failed", logx.String("task", taskID), logx.Err(err))
}

// cleanup prunes chronically failing tasks and returns their ids.
func (s *Service) cleanup(now time.Time, cfg Config) []string {
	s.regMu.Lock()
	removed := s.reg.Prune(cfg.MinSamples, cfg.MaxFailureRate)
	s.regMu.Unlock()

	ids := make([]string, 0, len(removed))
	for _, st := range removed {
		ids = append(ids, st.ID)
		rate := st.FailureRate()
		s.log.Warn("task removed: failure rate too high",
			logx.String("task", st.ID),
			logx.Int("executions", st.ExecutionCount),
			logx.Float64("failure_rate", rate),
			logx.String("last_error", st.LastError),
		)
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: EventPruned, Time: now, Data: PruneEvent{
				TaskID:         st.ID,
				Category:       string(st.Category),
				ExecutionCount: st.ExecutionCount,
				FailureRate:    rate,
				LastError:      st.LastError,
			}})
		}
	}
	return ids
}

func (s *Service) markCycle(now time.Time) {
	s.regMu.Lock()
	s.lastCycle = now
	s.regMu.Unlock()
}
