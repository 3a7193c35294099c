package scheduler

import (
	"math"
	"time"

	"adaptived/internal/task/model"
	"adaptived/internal/task/registry"
)

// StatusFromSnapshot renders a persisted snapshot in the Status shape.
// Running is always false.
func StatusFromSnapshot(snap registry.Snapshot) (Status, error) {
	reg := registry.New()
	if _, err := reg.Restore(snap); err != nil {
		return Status{}, err
	}
	list := reg.List()
	states := make([]model.State, 0, len(list))
	for _, st := range list {
		states = append(states, *st)
	}
	execs, successes := reg.Totals()
	out := buildStatus(states, execs, successes)
	if !snap.Timestamp.IsZero() {
		ts := snap.Timestamp
		out.LastCycle = &ts
	}
	return out, nil
}

// buildStatus expects states ordered by priority then id, and the registry
// totals taken under the same lock.
func buildStatus(states []model.State, executions, successes int) Status {
	out := Status{
		TotalTasks:      len(states),
		TotalExecutions: executions,
		Tasks:           make([]TaskStatus, 0, len(states)),
	}
	for i := range states {
		st := &states[i]
		out.Tasks = append(out.Tasks, TaskStatus{
			ID:                      st.ID,
			Category:                string(st.Category),
			Priority:                st.Priority.String(),
			NextExecution:           st.NextExecution.Format(time.RFC3339),
			FrequencyMinutes:        st.FrequencyMinutes,
			ExecutionCount:          st.ExecutionCount,
			SuccessRate:             round(st.SuccessRate(), 1),
			AvgExecutionTimeSeconds: round(st.AvgExecutionTime, 2),
			Reason:                  st.Reason,
			LastError:               st.LastError,
		})
	}
	if out.TotalExecutions > 0 {
		out.SuccessRate = round(float64(successes)/float64(out.TotalExecutions)*100, 1)
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
