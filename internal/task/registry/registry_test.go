package registry

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"adaptived/internal/task/model"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMergeCreatesWithGraceAndUpdatesInPlace(t *testing.T) {
	t.Parallel()

	r := New()
	rec := model.Recommendation{
		Category:         model.CategoryMarketAnalysis,
		Priority:         model.PriorityHigh,
		FrequencyMinutes: 1,
		Reason:           "first",
		Params:           model.Params{"risk_mode": model.String("aggressive")},
	}
	id, created := r.Merge(rec, t0)
	if !created || id != "market_analysis_high" {
		t.Fatalf("merge=%s,%v", id, created)
	}
	st, _ := r.Get(id)
	if !st.NextExecution.Equal(t0.Add(time.Minute)) {
		t.Fatalf("new task next=%v want now+1m", st.NextExecution)
	}
	if len(r.Ready(t0)) != 0 {
		t.Fatalf("new task must not be ready in the creating cycle")
	}

	st.NextExecution = t0.Add(10 * time.Minute)
	rec.FrequencyMinutes = 4
	rec.Reason = "second"
	rec.Params = model.Params{"risk_mode": model.String("conservative"), "deep_analysis": model.Bool(true)}
	if _, created := r.Merge(rec, t0.Add(time.Second)); created {
		t.Fatalf("second merge should update")
	}
	st, _ = r.Get(id)
	if st.FrequencyMinutes != 4 || st.Reason != "second" {
		t.Fatalf("not updated: %+v", st)
	}
	if st.Params.Str("risk_mode", "") != "conservative" || !st.Params.Bool("deep_analysis") {
		t.Fatalf("params not merged: %v", st.Params)
	}
	if !st.NextExecution.Equal(t0.Add(10 * time.Minute)) {
		t.Fatalf("update must not move next_execution")
	}
}

func TestCollapseLastRecommendationWins(t *testing.T) {
	t.Parallel()

	recs := []model.Recommendation{
		{Rule: "load", Category: model.CategorySystemHealth, Priority: model.PriorityCritical, FrequencyMinutes: 1,
			Params: model.Params{"auto_healing": model.Bool(true)}},
		{Rule: "sync", Category: model.CategoryDataSync, Priority: model.PriorityMedium, FrequencyMinutes: 5},
		{Rule: "degraded", Category: model.CategorySystemHealth, Priority: model.PriorityCritical, FrequencyMinutes: 2,
			Params: model.Params{"diagnose": model.Bool(true)}},
	}
	got := Collapse(recs)
	if len(got) != 2 {
		t.Fatalf("len=%d", len(got))
	}
	if got[0].Rule != "degraded" || got[1].Rule != "sync" {
		t.Fatalf("unexpected order: %s, %s", got[0].Rule, got[1].Rule)
	}

	r := New()
	for _, rec := range got {
		r.Merge(rec, t0)
	}
	st, _ := r.Get("system_health_critical")
	if st.FrequencyMinutes != 2 || !st.Params.Bool("diagnose") || st.Params.Bool("auto_healing") {
		t.Fatalf("later recommendation should fully win: %+v", st)
	}
}

func TestReadyOrderPriorityThenID(t *testing.T) {
	t.Parallel()

	r := New()
	add := func(id string, p model.Priority, next time.Time) {
		if err := r.Add(model.State{ID: id, Category: model.CategoryDataSync, Priority: p, FrequencyMinutes: 5, NextExecution: next}); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	add("zeta", model.PriorityHigh, t0)
	add("alpha", model.PriorityLow, t0.Add(-time.Minute))
	add("beta", model.PriorityHigh, t0.Add(-time.Hour))
	add("crit", model.PriorityCritical, t0)
	add("later", model.PriorityCritical, t0.Add(time.Second))

	var ids []string
	for _, st := range r.Ready(t0) {
		ids = append(ids, st.ID)
	}
	want := []string{"crit", "beta", "zeta", "alpha"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("ready=%v want %v", ids, want)
	}

	if err := r.Add(model.State{ID: "zeta"}); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("duplicate add err=%v", err)
	}
}

func TestRecordOutcomes(t *testing.T) {
	t.Parallel()

	const backoffCap = 30 * time.Minute
	tests := []struct {
		name     string
		freq     int
		ok       bool
		wantNext time.Duration
	}{
		{"success", 5, true, 5 * time.Minute},
		{"failure doubles", 5, false, 10 * time.Minute},
		{"failure capped", 20, false, 30 * time.Minute},
		{"failure at cap", 15, false, 30 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()
			_ = r.Add(model.State{ID: "x", Category: model.CategoryDataSync, Priority: model.PriorityLow, FrequencyMinutes: tt.freq, NextExecution: t0})
			finished := t0.Add(7 * time.Second)
			var st *model.State
			if tt.ok {
				st, _ = r.RecordSuccess("x", finished, 2*time.Second)
			} else {
				st, _ = r.RecordFailure("x", finished, errors.New("boom"), backoffCap)
			}
			if !st.NextExecution.Equal(finished.Add(tt.wantNext)) {
				t.Fatalf("next=%v want %v", st.NextExecution, finished.Add(tt.wantNext))
			}
			if st.ExecutionCount != 1 || !st.LastExecution.Equal(finished) {
				t.Fatalf("bookkeeping: %+v", st)
			}
			if !tt.ok && (st.FailureCount != 1 || st.LastError != "boom") {
				t.Fatalf("failure bookkeeping: %+v", st)
			}
		})
	}
}

func TestAverageBlend(t *testing.T) {
	t.Parallel()

	r := New()
	_ = r.Add(model.State{ID: "x", Category: model.CategoryDataSync, Priority: model.PriorityLow, FrequencyMinutes: 1})
	r.RecordSuccess("x", t0, 4*time.Second)
	r.RecordSuccess("x", t0, 2*time.Second)
	st, _ := r.RecordSuccess("x", t0, 6*time.Second)
	// 4 -> (4+2)/2=3 -> (3+6)/2=4.5
	if st.AvgExecutionTime != 4.5 {
		t.Fatalf("avg=%v", st.AvgExecutionTime)
	}
	if _, ok := r.RecordSuccess("missing", t0, time.Second); ok {
		t.Fatalf("unknown id should report false")
	}
}

func TestPruneLaw(t *testing.T) {
	t.Parallel()

	r := New()
	_ = r.Add(model.State{ID: "flaky", Category: model.CategoryDataSync, Priority: model.PriorityLow, FrequencyMinutes: 1, ExecutionCount: 6, SuccessCount: 1, FailureCount: 5})
	_ = r.Add(model.State{ID: "young", Category: model.CategoryDataSync, Priority: model.PriorityLow, FrequencyMinutes: 1, ExecutionCount: 4, FailureCount: 4})
	_ = r.Add(model.State{ID: "healthy", Category: model.CategoryDataSync, Priority: model.PriorityLow, FrequencyMinutes: 1, ExecutionCount: 20, SuccessCount: 18, FailureCount: 2})

	removed := r.Prune(5, 0.8)
	if len(removed) != 1 || removed[0].ID != "flaky" {
		t.Fatalf("removed=%v", removed)
	}
	if r.Has("flaky") || !r.Has("young") || !r.Has("healthy") {
		t.Fatalf("wrong survivors")
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	t.Parallel()

	r := New()
	if got := r.Bootstrap(t0); len(got) != 2 {
		t.Fatalf("created=%v", got)
	}
	if got := r.Bootstrap(t0); len(got) != 0 {
		t.Fatalf("second bootstrap created=%v", got)
	}
	ready := r.Ready(t0)
	if len(ready) != 1 || ready[0].ID != "system_health_monitor" {
		t.Fatalf("only the health monitor should be ready at start")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	r := New()
	r.Bootstrap(t0)
	r.Merge(model.Recommendation{Category: model.CategoryAILearning, Priority: model.PriorityLow, FrequencyMinutes: 30,
		Params: model.Params{"epochs": model.Int(10)}, Reason: "idle"}, t0)
	r.RecordSuccess("system_health_monitor", t0.Add(time.Second), 1500*time.Millisecond)
	r.RecordFailure("market_data_sync", t0.Add(2*time.Second), errors.New("timeout"), 30*time.Minute)

	b, err := EncodeSnapshot(r.Snapshot(t0.Add(3 * time.Second)))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	snap, err := DecodeSnapshot(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.TasksCount != 3 {
		t.Fatalf("tasks_count=%d", snap.TasksCount)
	}

	restored := New()
	if n, err := restored.Restore(snap); err != nil || n != 3 {
		t.Fatalf("restore=%d,%v", n, err)
	}
	for _, want := range r.List() {
		got, ok := restored.Get(want.ID)
		if !ok {
			t.Fatalf("missing %s", want.ID)
		}
		if got.FrequencyMinutes != want.FrequencyMinutes ||
			got.ExecutionCount != want.ExecutionCount ||
			got.SuccessCount != want.SuccessCount ||
			got.FailureCount != want.FailureCount ||
			got.Priority != want.Priority ||
			got.Category != want.Category ||
			got.AvgExecutionTime != want.AvgExecutionTime ||
			!got.NextExecution.Equal(want.NextExecution) ||
			!got.LastExecution.Equal(want.LastExecution) {
			t.Fatalf("%s mismatch:\n got %+v\nwant %+v", want.ID, got, want)
		}
	}
	ai, _ := restored.Get("ai_learning_low")
	if v, _ := ai.Params["epochs"].Int(); v != 10 {
		t.Fatalf("params lost: %v", ai.Params)
	}
}

func TestSnapshotValidateRejectsBadTasks(t *testing.T) {
	t.Parallel()

	bad := []string{
		`{"tasks":{"x":{"category":"nope","priority":"high","frequency_minutes":1}}}`,
		`{"tasks":{"x":{"category":"data_sync","priority":"high","frequency_minutes":0}}}`,
		`{"tasks":{"x":{"category":"data_sync","priority":"high","frequency_minutes":1,"execution_count":1,"failure_count":2}}}`,
	}
	for _, raw := range bad {
		snap, err := DecodeSnapshot([]byte(raw))
		if err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
		if _, err := New().Restore(snap); err == nil {
			t.Errorf("%s: expected restore error", raw)
		}
	}
	if _, err := DecodeSnapshot([]byte(`{"tasks":{"x":{"priority":"urgent"}}}`)); err == nil {
		t.Fatalf("unknown priority name should fail decode")
	}
}
