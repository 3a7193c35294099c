// Package registry holds the live task states.
//
// A Registry does no locking. The scheduler serializes every access and only
// hands clones to other callers.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"adaptived/internal/task/model"
)

// NewTaskGrace delays the first run of a task created by a recommendation,
// so a fresh task never fires in the cycle that created it.
const NewTaskGrace = time.Minute

var ErrDuplicateID = errors.New("task id already registered")

type Registry struct {
	tasks map[string]*model.State
}

func New() *Registry {
	return &Registry{tasks: make(map[string]*model.State)}
}

func (r *Registry) Len() int { return len(r.tasks) }

func (r *Registry) Get(id string) (*model.State, bool) {
	st, ok := r.tasks[id]
	return st, ok
}

func (r *Registry) Has(id string) bool {
	_, ok := r.tasks[id]
	return ok
}

// Add inserts a new state. The id must be unique.
func (r *Registry) Add(st model.State) error {
	id := strings.TrimSpace(st.ID)
	if id == "" {
		return errors.New("task id is required")
	}
	if _, ok := r.tasks[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	if st.FrequencyMinutes < 1 {
		st.FrequencyMinutes = 1
	}
	st.ID = id
	r.tasks[id] = &st
	return nil
}

// List returns every task ordered by priority, then id.
func (r *Registry) List() []*model.State {
	out := make([]*model.State, 0, len(r.tasks))
	for _, st := range r.tasks {
		out = append(out, st)
	}
	sortByPriority(out)
	return out
}

// Ready returns tasks with next_execution <= now, ordered by priority then id.
func (r *Registry) Ready(now time.Time) []*model.State {
	out := make([]*model.State, 0, len(r.tasks))
	for _, st := range r.tasks {
		if !st.NextExecution.After(now) {
			out = append(out, st)
		}
	}
	sortByPriority(out)
	return out
}

func sortByPriority(s []*model.State) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Priority != s[j].Priority {
			return s[i].Priority < s[j].Priority
		}
		return s[i].ID < s[j].ID
	})
}

// Bootstrap seeds the fixed base tasks that are not already present and
// returns the ids it created.
func (r *Registry) Bootstrap(now time.Time) []string {
	seeds := []model.State{
		{
			ID:               "system_health_monitor",
			Category:         model.CategorySystemHealth,
			Priority:         model.PriorityCritical,
			FrequencyMinutes: 5,
			NextExecution:    now,
			Reason:           "base task: continuous system monitoring",
		},
		{
			ID:               "market_data_sync",
			Category:         model.CategoryDataSync,
			Priority:         model.PriorityHigh,
			FrequencyMinutes: 5,
			NextExecution:    now.Add(NewTaskGrace),
			Reason:           "base task: keep market data fresh",
		},
	}
	var created []string
	for _, st := range seeds {
		if r.Has(st.ID) {
			continue
		}
		_ = r.Add(st)
		created = append(created, st.ID)
	}
	return created
}

// Merge folds one recommendation into the registry. An existing task gets the
// new frequency, priority and reason, and its params merged last-write-wins.
// A new task is created with next_execution = now + NewTaskGrace.
func (r *Registry) Merge(rec model.Recommendation, now time.Time) (id string, created bool) {
	id = rec.Key()
	freq := max(rec.FrequencyMinutes, 1)
	if st, ok := r.tasks[id]; ok {
		st.FrequencyMinutes = freq
		st.Priority = rec.Priority
		st.Reason = rec.Reason
		st.Params = st.Params.Merge(rec.Params)
		return id, false
	}
	r.tasks[id] = &model.State{
		ID:               id,
		Category:         rec.Category,
		Priority:         rec.Priority,
		FrequencyMinutes: freq,
		NextExecution:    now.Add(NewTaskGrace),
		Params:           rec.Params.Clone(),
		Reason:           rec.Reason,
	}
	return id, true
}

// Collapse keeps only the last recommendation per task key. The survivor
// takes the slot of the key's first occurrence so output order is stable.
func Collapse(recs []model.Recommendation) []model.Recommendation {
	idx := make(map[string]int, len(recs))
	out := make([]model.Recommendation, 0, len(recs))
	for _, rec := range recs {
		k := rec.Key()
		if i, ok := idx[k]; ok {
			out[i] = rec
			continue
		}
		idx[k] = len(out)
		out = append(out, rec)
	}
	return out
}

// RecordSuccess applies a successful run finished at finished.
func (r *Registry) RecordSuccess(id string, finished time.Time, dur time.Duration) (*model.State, bool) {
	st, ok := r.tasks[id]
	if !ok {
		return nil, false
	}
	secs := dur.Seconds()
	st.ExecutionCount++
	st.SuccessCount++
	// Blend of last average and this run, not a running mean.
	if st.AvgExecutionTime == 0 {
		st.AvgExecutionTime = secs
	} else {
		st.AvgExecutionTime = (st.AvgExecutionTime + secs) / 2
	}
	st.LastExecution = finished
	st.LastError = ""
	st.NextExecution = finished.Add(st.Frequency())
	return st, true
}

// RecordFailure applies a failed run: next_execution backs off to
// finished + min(2*frequency, backoffCap).
//
// A failure counts as an execution and sets last_execution, so success
// rates use every run in the denominator and always-failing tasks reach the
// cleanup sample size.
func (r *Registry) RecordFailure(id string, finished time.Time, cause error, backoffCap time.Duration) (*model.State, bool) {
	st, ok := r.tasks[id]
	if !ok {
		return nil, false
	}
	st.ExecutionCount++
	st.FailureCount++
	st.LastExecution = finished
	if cause != nil {
		st.LastError = cause.Error()
	} else {
		st.LastError = "failed"
	}
	st.NextExecution = finished.Add(Backoff(st.Frequency(), backoffCap))
	return st, true
}

// Backoff is min(2*freq, cap). A non-positive cap means uncapped.
func Backoff(freq, backoffCap time.Duration) time.Duration {
	d := 2 * freq
	if backoffCap > 0 && d > backoffCap {
		d = backoffCap
	}
	return d
}

// Prune removes tasks with more than minSamples executions whose failure
// rate exceeds maxRate, and returns copies of what it removed.
func (r *Registry) Prune(minSamples int, maxRate float64) []model.State {
	var removed []model.State
	for id, st := range r.tasks {
		if st.ExecutionCount > minSamples && st.FailureRate() > maxRate {
			removed = append(removed, st.Clone())
			delete(r.tasks, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed
}

// Totals sums execution and success counters across all tasks.
func (r *Registry) Totals() (executions, successes int) {
	for _, st := range r.tasks {
		executions += st.ExecutionCount
		successes += st.SuccessCount
	}
	return executions, successes
}
