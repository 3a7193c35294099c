package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"adaptived/internal/task/model"
	logx "adaptived/pkg/logx"
)

const DefaultMinConfidence = 0.6

// ErrOracle wraps any failure of the environment oracle.
var ErrOracle = errors.New("environment oracle failed")

// Oracle supplies the signal vectors for one cycle.
type Oracle interface {
	Analyze(ctx context.Context) (model.MarketCondition, model.SystemStatus, error)
}

type Config struct {
	MinConfidence float64
	DisabledRules []string
}

// Engine turns signals into recommendations via ordered threshold rules.
type Engine struct {
	oracle Oracle
	rules  []Rule
	log    logx.Logger

	mu       sync.RWMutex
	minConf  float64
	disabled map[string]bool
}

type Option func(*Engine)

func WithRules(rules []Rule) Option   { return func(e *Engine) { e.rules = rules } }
func WithLogger(l logx.Logger) Option { return func(e *Engine) { e.log = l } }

func New(oracle Oracle, cfg Config, opts ...Option) *Engine {
	e := &Engine{oracle: oracle, rules: DefaultRules()}
	for _, o := range opts {
		o(e)
	}
	e.Apply(cfg)
	return e
}

// Apply swaps the tunables. Safe for concurrent use with Recommend.
func (e *Engine) Apply(cfg Config) {
	minConf := cfg.MinConfidence
	if minConf <= 0 {
		minConf = DefaultMinConfidence
	}
	disabled := make(map[string]bool, len(cfg.DisabledRules))
	for _, n := range cfg.DisabledRules {
		disabled[strings.TrimSpace(n)] = true
	}
	e.mu.Lock()
	e.minConf = minConf
	e.disabled = disabled
	e.mu.Unlock()
}

func (e *Engine) MinConfidence() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.minConf
}

// Analyze delegates to the oracle. Errors are wrapped with ErrOracle.
func (e *Engine) Analyze(ctx context.Context) (model.MarketCondition, model.SystemStatus, error) {
	if e.oracle == nil {
		return model.MarketCondition{}, model.SystemStatus{}, fmt.Errorf("%w: no oracle configured", ErrOracle)
	}
	m, s, err := e.oracle.Analyze(ctx)
	if err != nil {
		return model.MarketCondition{}, model.SystemStatus{}, fmt.Errorf("%w: %w", ErrOracle, err)
	}
	return m, s, nil
}

// Recommend evaluates every enabled rule in order and drops recommendations
// below the confidence threshold. The result keeps rule order.
func (e *Engine) Recommend(m model.MarketCondition, s model.SystemStatus) []model.Recommendation {
	e.mu.RLock()
	minConf := e.minConf
	disabled := e.disabled
	e.mu.RUnlock()

	out := make([]model.Recommendation, 0, len(e.rules))
	for _, r := range e.rules {
		if r.Eval == nil || disabled[r.Name] {
			continue
		}
		rec, ok := r.Eval(m, s)
		if !ok {
			continue
		}
		rec.Rule = r.Name
		if rec.FrequencyMinutes < 1 {
			rec.FrequencyMinutes = 1
		}
		if rec.Confidence < minConf {
			e.log.Debug("recommendation rejected",
				logx.String("rule", r.Name),
				logx.String("task", rec.Key()),
				logx.Float64("confidence", rec.Confidence),
				logx.Float64("min_confidence", minConf),
			)
			continue
		}
		out = append(out, rec)
	}
	return out
}
