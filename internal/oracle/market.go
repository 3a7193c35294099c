package oracle

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"adaptived/internal/task/model"
)

// Market samples a plausible market vector. Safe for concurrent use.
type Market struct {
	mu        sync.Mutex
	vol       distuv.Beta
	trend     distuv.Beta
	volume    distuv.Gamma
	sentiment distuv.Normal
	news      distuv.Exponential
}

// NewMarket seeds the distributions. A zero seed uses the clock.
func NewMarket(seed uint64) *Market {
	src := newSource(seed)
	return &Market{
		vol:       distuv.Beta{Alpha: 2, Beta: 5, Src: src},
		trend:     distuv.Beta{Alpha: 3, Beta: 3, Src: src},
		volume:    distuv.Gamma{Alpha: 2, Beta: 2, Src: src},
		sentiment: distuv.Normal{Mu: 0.5, Sigma: 0.2, Src: src},
		news:      distuv.Exponential{Rate: 1 / 0.3, Src: src},
	}
}

func (m *Market) Sample() model.MarketCondition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return model.MarketCondition{
		Volatility:     clamp(m.vol.Rand(), 0, 1),
		TrendStrength:  clamp(m.trend.Rand(), 0, 1),
		VolumeRatio:    clamp(m.volume.Rand(), 0, 5),
		SentimentScore: clamp(m.sentiment.Rand(), 0, 1),
		NewsImpact:     clamp(m.news.Rand(), 0, 1),
	}
}

// SimulatedSystem samples a host vector around a moderate load.
type SimulatedSystem struct {
	mu       sync.Mutex
	cpu      distuv.Normal
	memory   distuv.Normal
	conns    distuv.Poisson
	errRate  distuv.Exponential
	response distuv.Gamma
}

func NewSimulatedSystem(seed uint64) *SimulatedSystem {
	// Offset so market and system streams differ under the same seed.
	src := newSource(seed + 1)
	return &SimulatedSystem{
		cpu:      distuv.Normal{Mu: 40, Sigma: 15, Src: src},
		memory:   distuv.Normal{Mu: 55, Sigma: 10, Src: src},
		conns:    distuv.Poisson{Lambda: 100, Src: src},
		errRate:  distuv.Exponential{Rate: 100, Src: src},
		response: distuv.Gamma{Alpha: 4, Beta: 0.02, Src: src},
	}
}

func (s *SimulatedSystem) Sample() model.SystemStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.SystemStatus{
		CPUPct:            clamp(s.cpu.Rand(), 0, 100),
		MemoryPct:         clamp(s.memory.Rand(), 0, 100),
		DiskPct:           50,
		ActiveConnections: int(s.conns.Rand()),
		ErrorRate:         clamp(s.errRate.Rand(), 0, 1),
		ResponseTimeMS:    s.response.Rand(),
	}
}

func (s *SimulatedSystem) System(ctx context.Context) (model.SystemStatus, error) {
	return s.Sample(), nil
}

func newSource(seed uint64) rand.Source {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
}
