package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

const (
	DefaultRunsMax = 1000
	DefaultRunsKey = "orchestrator:runs"
)

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	Addr     string // redis
	Password string
	DB       int

	// RunsKey is the redis list holding the run journal.
	RunsKey string
	// RunsMax bounds the run journal. 0 means DefaultRunsMax.
	RunsMax int
}

func (c Config) runsMax() int {
	if c.RunsMax <= 0 {
		return DefaultRunsMax
	}
	return c.RunsMax
}

// RunRecord is one finished hook invocation.
type RunRecord struct {
	RunID    string        `json:"run_id"`
	TaskID   string        `json:"task_id"`
	Category string        `json:"category"`
	Priority string        `json:"priority,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	TimedOut bool          `json:"timed_out,omitempty"`
}
