package registry

import (
	"encoding/json"
	"fmt"
	"time"

	"adaptived/internal/task/model"
)

// PersistedTask is the flattened projection of a task state.
type PersistedTask struct {
	Category         model.Category `json:"category"`
	Priority         model.Priority `json:"priority"`
	NextExecution    time.Time      `json:"next_execution"`
	FrequencyMinutes int            `json:"frequency_minutes"`
	ExecutionCount   int            `json:"execution_count"`
	SuccessCount     int            `json:"success_count"`
	FailureCount     int            `json:"failure_count"`
	AvgExecutionTime float64        `json:"avg_execution_time"`
	Reason           string         `json:"reason"`
	Params           model.Params   `json:"params,omitempty"`
	LastExecution    *time.Time     `json:"last_execution,omitempty"`
	LastError        string         `json:"last_error,omitempty"`
}

// Snapshot is the persisted form of the whole registry.
type Snapshot struct {
	Timestamp  time.Time                `json:"timestamp"`
	TasksCount int                      `json:"tasks_count"`
	Tasks      map[string]PersistedTask `json:"tasks"`
}

func (r *Registry) Snapshot(now time.Time) Snapshot {
	s := Snapshot{
		Timestamp:  now,
		TasksCount: len(r.tasks),
		Tasks:      make(map[string]PersistedTask, len(r.tasks)),
	}
	for id, st := range r.tasks {
		pt := PersistedTask{
			Category:         st.Category,
			Priority:         st.Priority,
			NextExecution:    st.NextExecution,
			FrequencyMinutes: st.FrequencyMinutes,
			ExecutionCount:   st.ExecutionCount,
			SuccessCount:     st.SuccessCount,
			FailureCount:     st.FailureCount,
			AvgExecutionTime: st.AvgExecutionTime,
			Reason:           st.Reason,
			Params:           st.Params.Clone(),
			LastError:        st.LastError,
		}
		if !st.LastExecution.IsZero() {
			le := st.LastExecution
			pt.LastExecution = &le
		}
		s.Tasks[id] = pt
	}
	return s
}

// Restore loads snapshot tasks, replacing any entries with the same id.
// It returns how many tasks were loaded.
func (r *Registry) Restore(s Snapshot) (int, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	for id, pt := range s.Tasks {
		st := &model.State{
			ID:               id,
			Category:         pt.Category,
			Priority:         pt.Priority,
			NextExecution:    pt.NextExecution,
			FrequencyMinutes: pt.FrequencyMinutes,
			Params:           pt.Params.Clone(),
			ExecutionCount:   pt.ExecutionCount,
			SuccessCount:     pt.SuccessCount,
			FailureCount:     pt.FailureCount,
			AvgExecutionTime: pt.AvgExecutionTime,
			Reason:           pt.Reason,
			LastError:        pt.LastError,
		}
		if pt.LastExecution != nil {
			st.LastExecution = *pt.LastExecution
		}
		r.tasks[id] = st
	}
	return len(s.Tasks), nil
}

// Validate rejects snapshots that would break registry invariants.
func (s Snapshot) Validate() error {
	for id, pt := range s.Tasks {
		if id == "" {
			return fmt.Errorf("snapshot: empty task id")
		}
		if !pt.Category.Valid() {
			return fmt.Errorf("snapshot: task %s: unknown category %q", id, pt.Category)
		}
		if !pt.Priority.Valid() {
			return fmt.Errorf("snapshot: task %s: invalid priority %d", id, int(pt.Priority))
		}
		if pt.FrequencyMinutes < 1 {
			return fmt.Errorf("snapshot: task %s: frequency_minutes must be >= 1", id)
		}
		if pt.SuccessCount+pt.FailureCount > pt.ExecutionCount {
			return fmt.Errorf("snapshot: task %s: counters exceed execution_count", id)
		}
	}
	return nil
}

func EncodeSnapshot(s Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeSnapshot(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Tasks == nil {
		s.Tasks = map[string]PersistedTask{}
	}
	return s, nil
}
