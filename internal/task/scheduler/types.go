package scheduler

import (
	"context"
	"time"

	"adaptived/internal/task/model"
)

const (
	DefaultBaseInterval  = 30 * time.Second
	DefaultMinInterval   = 10 * time.Second
	DefaultMaxInterval   = 120 * time.Second
	DefaultErrorInterval = 60 * time.Second
	DefaultMaxConcurrent = 3
	DefaultBackoffCap    = 30 * time.Minute
	DefaultMinSamples    = 5
	DefaultMaxFailure    = 0.8
	DefaultPersistKey    = "orchestrator:state"
	DefaultPersistTTL    = time.Hour
)

// EventPruned is published for every task removed by cleanup. Data is a PruneEvent.
const EventPruned = "task.pruned"

// Config holds the resolved scheduler tunables. Zero fields take defaults.
type Config struct {
	BaseInterval  time.Duration
	MinInterval   time.Duration
	MaxInterval   time.Duration
	ErrorInterval time.Duration

	MaxConcurrent int
	BackoffCap    time.Duration
	ExecTimeout   time.Duration
	HistorySize   int

	SkipBootstrap bool
	// Location is used to evaluate definition windows. nil means time.Local.
	Location *time.Location

	MinSamples     int
	MaxFailureRate float64

	PersistKey         string
	PersistTTL         time.Duration
	DisablePersistence bool
	SkipRestore        bool

	Definitions []model.Definition
}

func (c Config) withDefaults() Config {
	if c.BaseInterval <= 0 {
		c.BaseInterval = DefaultBaseInterval
	}
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = DefaultMaxInterval
	}
	if c.MinInterval > c.MaxInterval {
		c.MinInterval = c.MaxInterval
	}
	if c.ErrorInterval <= 0 {
		c.ErrorInterval = DefaultErrorInterval
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.MinSamples <= 0 {
		c.MinSamples = DefaultMinSamples
	}
	if c.MaxFailureRate <= 0 {
		c.MaxFailureRate = DefaultMaxFailure
	}
	if c.PersistKey == "" {
		c.PersistKey = DefaultPersistKey
	}
	if c.PersistTTL <= 0 {
		c.PersistTTL = DefaultPersistTTL
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// Decider is the decision engine as seen by the loop.
type Decider interface {
	Analyze(ctx context.Context) (model.MarketCondition, model.SystemStatus, error)
	Recommend(m model.MarketCondition, s model.SystemStatus) []model.Recommendation
}

// Status is the getStatus view.
type Status struct {
	Running         bool         `json:"running"`
	TotalTasks      int          `json:"total_tasks"`
	TotalExecutions int          `json:"total_executions"`
	SuccessRate     float64      `json:"success_rate"`
	InFlight        int          `json:"in_flight"`
	LastCycle       *time.Time   `json:"last_cycle,omitempty"`
	Tasks           []TaskStatus `json:"tasks"`
}

type TaskStatus struct {
	ID                      string  `json:"id"`
	Category                string  `json:"category"`
	Priority                string  `json:"priority_name"`
	NextExecution           string  `json:"next_execution"`
	FrequencyMinutes        int     `json:"frequency_minutes"`
	ExecutionCount          int     `json:"execution_count"`
	SuccessRate             float64 `json:"per_task_success_rate"`
	AvgExecutionTimeSeconds float64 `json:"avg_execution_time_seconds"`
	Reason                  string  `json:"reason"`
	LastError               string  `json:"last_error,omitempty"`
}

// CycleReport summarizes one Cycle call.
type CycleReport struct {
	ID          string
	At          time.Time
	Recommended int
	Created     []string
	Dispatched  []string
	Skipped     map[string]string // task id -> gate
	Pruned      []string
	// Next is when the loop runs the following cycle.
	Next time.Time
}

// PruneEvent is the bus payload for EventPruned.
type PruneEvent struct {
	TaskID         string  `json:"task_id"`
	Category       string  `json:"category"`
	ExecutionCount int     `json:"execution_count"`
	FailureRate    float64 `json:"failure_rate"`
	LastError      string  `json:"last_error,omitempty"`
}
