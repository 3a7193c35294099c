// Package oracle provides the environment signal sources the decision engine
// analyzes each cycle.
//
// The market vector is always simulated (gonum distributions); the system
// vector is either simulated or read from the host via gopsutil.
package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"adaptived/internal/task/model"
)

const (
	ModeSimulated = "simulated"
	ModeHost      = "host"
)

// SystemSource yields the host signal vector.
type SystemSource interface {
	System(ctx context.Context) (model.SystemStatus, error)
}

// Observer receives finished hook outcomes so the oracle can report the
// scheduler's own error rate and response time.
type Observer interface {
	Observe(ok bool, dur time.Duration)
}

type Config struct {
	Mode      string
	Seed      uint64
	DiskPath  string
	CPUSample time.Duration
}

// Composite pairs the market simulation with a system source.
type Composite struct {
	market *Market
	system SystemSource
}

// New builds the oracle selected by cfg.Mode.
func New(cfg Config) (*Composite, error) {
	market := NewMarket(cfg.Seed)
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", ModeSimulated:
		return NewComposite(market, NewSimulatedSystem(cfg.Seed)), nil
	case ModeHost:
		return NewComposite(market, NewHost(cfg.DiskPath, cfg.CPUSample)), nil
	default:
		return nil, fmt.Errorf("oracle: unknown mode %q", cfg.Mode)
	}
}

func NewComposite(market *Market, system SystemSource) *Composite {
	return &Composite{market: market, system: system}
}

func (c *Composite) Analyze(ctx context.Context) (model.MarketCondition, model.SystemStatus, error) {
	if err := ctx.Err(); err != nil {
		return model.MarketCondition{}, model.SystemStatus{}, err
	}
	sys, err := c.system.System(ctx)
	if err != nil {
		return model.MarketCondition{}, model.SystemStatus{}, fmt.Errorf("system signals: %w", err)
	}
	return c.market.Sample(), sys, nil
}

// Observe forwards to the system source when it tracks outcomes.
func (c *Composite) Observe(ok bool, dur time.Duration) {
	if o, isObs := c.system.(Observer); isObs {
		o.Observe(ok, dur)
	}
}

// Static returns fixed vectors. Err, when set, is returned instead.
type Static struct {
	Market model.MarketCondition
	System model.SystemStatus
	Err    error
}

func (s Static) Analyze(ctx context.Context) (model.MarketCondition, model.SystemStatus, error) {
	if s.Err != nil {
		return model.MarketCondition{}, model.SystemStatus{}, s.Err
	}
	return s.Market, s.System, nil
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
