package hooks

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"adaptived/internal/task/model"
)

var ErrSimulatedFault = errors.New("simulated fault")

// Simulated stands in for real work: it sleeps a random duration in
// [Min, Max] and fails with probability FailureRate.
type Simulated struct {
	Min         time.Duration
	Max         time.Duration
	FailureRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulated(minDur, maxDur time.Duration, failureRate float64, seed uint64) *Simulated {
	if maxDur < minDur {
		maxDur = minDur
	}
	return &Simulated{
		Min:         minDur,
		Max:         maxDur,
		FailureRate: failureRate,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (s *Simulated) roll() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.Min
	if span := s.Max - s.Min; span > 0 {
		d += time.Duration(s.rng.Int64N(int64(span) + 1))
	}
	return d, s.rng.Float64() < s.FailureRate
}

func (s *Simulated) Execute(ctx context.Context, category model.Category, params model.Params) (Result, error) {
	d, fail := s.roll()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-t.C:
	}
	if fail {
		return Result{}, ErrSimulatedFault
	}
	return Result{OK: true, Payload: map[string]any{
		"category": string(category),
		"took_ms":  d.Milliseconds(),
		"params":   len(params),
	}}, nil
}
