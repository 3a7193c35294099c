package model

import "time"

// Recommendation is the per-cycle output of the decision engine. Never persisted.
type Recommendation struct {
	Rule             string
	Category         Category
	Priority         Priority
	FrequencyMinutes int
	Reason           string
	Confidence       float64
	Params           Params
}

// Key is the registry id this recommendation merges into.
func (r Recommendation) Key() string { return TaskKey(r.Category, r.Priority) }

// State is the mutable scheduling record of one live task.
type State struct {
	ID               string
	Category         Category
	Priority         Priority
	NextExecution    time.Time
	FrequencyMinutes int
	Params           Params
	LastExecution    time.Time
	ExecutionCount   int
	SuccessCount     int
	FailureCount     int
	AvgExecutionTime float64 // seconds
	Reason           string
	LastError        string
}

func (s *State) Frequency() time.Duration {
	return time.Duration(s.FrequencyMinutes) * time.Minute
}

// FailureRate is failures over executions; 0 before the first execution.
func (s *State) FailureRate() float64 {
	if s.ExecutionCount == 0 {
		return 0
	}
	return float64(s.FailureCount) / float64(s.ExecutionCount)
}

// SuccessRate is a percentage in 0..100.
func (s *State) SuccessRate() float64 {
	if s.ExecutionCount == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.ExecutionCount) * 100
}

// Clone returns a deep copy safe to hand outside the scheduler loop.
func (s *State) Clone() State {
	cp := *s
	cp.Params = s.Params.Clone()
	return cp
}

// Definition holds the quasi-static gates for a task id or a category.
type Definition struct {
	ID               string
	Category         Category
	Priority         Priority
	FrequencyMinutes int
	Conditions       []Condition
	Dependencies     []string
	Cooldown         time.Duration
	PreferredWindows []Window
	AvoidWindows     []Window
}
