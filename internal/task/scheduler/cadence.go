package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"

	"adaptived/internal/task/model"
)

// Interval computes the delay to the next cycle from the current signals:
// halve on high volatility, double when the market is calm and the host idle,
// then clamp to [min, max].
func Interval(cfg Config, m model.MarketCondition, s model.SystemStatus) time.Duration {
	cfg = cfg.withDefaults()
	d := cfg.BaseInterval
	switch {
	case m.Volatility > 0.8:
		d /= 2
	case m.Volatility < 0.3 && s.CPUPct < 50:
		d *= 2
	}
	return min(max(d, cfg.MinInterval), cfg.MaxInterval)
}

// cadence returns the schedule the loop sleeps on until the next cycle.
func cadence(d time.Duration) cron.Schedule {
	return cron.Every(d)
}
