package decision

import (
	"context"
	"errors"
	"testing"

	"adaptived/internal/task/model"
)

type fixedOracle struct {
	m   model.MarketCondition
	s   model.SystemStatus
	err error
}

func (f fixedOracle) Analyze(context.Context) (model.MarketCondition, model.SystemStatus, error) {
	return f.m, f.s, f.err
}

func find(recs []model.Recommendation, c model.Category) []model.Recommendation {
	var out []model.Recommendation
	for _, r := range recs {
		if r.Category == c {
			out = append(out, r)
		}
	}
	return out
}

func TestHighVolatilityEmitsFastAnalysis(t *testing.T) {
	t.Parallel()

	e := New(nil, Config{})
	recs := e.Recommend(model.MarketCondition{Volatility: 0.9, SentimentScore: 0.5}, model.SystemStatus{CPUPct: 30})

	ma := find(recs, model.CategoryMarketAnalysis)
	if len(ma) != 1 {
		t.Fatalf("expected 1 market_analysis rec, got %d", len(ma))
	}
	r := ma[0]
	if r.Priority != model.PriorityHigh || r.FrequencyMinutes != 1 || r.Confidence != 0.85 {
		t.Fatalf("unexpected rec: %+v", r)
	}
	if !r.Params.Bool("deep_analysis") {
		t.Fatalf("deep_analysis param missing")
	}
}

func TestLowVolatilityReplacesFastAnalysis(t *testing.T) {
	t.Parallel()

	e := New(nil, Config{})
	recs := e.Recommend(model.MarketCondition{Volatility: 0.2, SentimentScore: 0.5}, model.SystemStatus{CPUPct: 30})

	ma := find(recs, model.CategoryMarketAnalysis)
	if len(ma) != 1 {
		t.Fatalf("expected 1 market_analysis rec, got %d", len(ma))
	}
	r := ma[0]
	if r.Priority == model.PriorityHigh || r.FrequencyMinutes <= 1 {
		t.Fatalf("fast analysis should be absent, got %+v", r)
	}
	if r.Priority != model.PriorityLow || r.FrequencyMinutes != 15 {
		t.Fatalf("expected low/15m, got %s/%dm", r.Priority, r.FrequencyMinutes)
	}
	if len(find(recs, model.CategoryAILearning)) != 1 {
		t.Fatalf("calm idle host should recommend ai_learning")
	}
}

func TestConfidenceFilterRejects(t *testing.T) {
	t.Parallel()

	m := model.MarketCondition{Volatility: 0.5, VolumeRatio: 3, SentimentScore: 0.5}
	s := model.SystemStatus{CPUPct: 30}

	strict := New(nil, Config{})
	for _, r := range strict.Recommend(m, s) {
		if r.Rule == RuleTradingSpeculate {
			t.Fatalf("speculative rec should be rejected at default threshold")
		}
		if r.Confidence < DefaultMinConfidence {
			t.Fatalf("rec below threshold passed: %+v", r)
		}
	}

	lax := New(nil, Config{MinConfidence: 0.5})
	got := find(lax.Recommend(m, s), model.CategoryTradingExecution)
	if len(got) != 1 || got[0].Rule != RuleTradingSpeculate {
		t.Fatalf("expected speculative rec with lower threshold, got %+v", got)
	}
}

func TestOverlappingRulesShareKeyInOrder(t *testing.T) {
	t.Parallel()

	e := New(nil, Config{})
	recs := e.Recommend(model.MarketCondition{Volatility: 0.5, SentimentScore: 0.5}, model.SystemStatus{CPUPct: 90, ErrorRate: 0.2})

	sh := find(recs, model.CategorySystemHealth)
	if len(sh) != 2 {
		t.Fatalf("expected 2 system_health recs, got %d", len(sh))
	}
	if sh[0].Key() != sh[1].Key() {
		t.Fatalf("expected same key, got %s and %s", sh[0].Key(), sh[1].Key())
	}
	if sh[0].Rule != RuleSystemLoad || sh[1].Rule != RuleSystemDegraded {
		t.Fatalf("rule order broken: %s, %s", sh[0].Rule, sh[1].Rule)
	}
}

func TestDataSyncFrequency(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		vol  float64
		cpu  float64
		want int
	}{
		{"calm", 0.2, 10, 5},
		{"moderate", 0.6, 10, 3},
		{"volatile", 0.8, 10, 2},
		{"volatile+load", 0.8, 90, 4},
		{"calm+load", 0.2, 90, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DataSyncFrequency(model.MarketCondition{Volatility: tt.vol}, model.SystemStatus{CPUPct: tt.cpu})
			if got != tt.want {
				t.Fatalf("got %d want %d", got, tt.want)
			}
		})
	}
}

func TestDisabledRulesAndApply(t *testing.T) {
	t.Parallel()

	e := New(nil, Config{DisabledRules: []string{RuleDataSync}})
	m := model.MarketCondition{Volatility: 0.5, SentimentScore: 0.5}
	if len(find(e.Recommend(m, model.SystemStatus{}), model.CategoryDataSync)) != 0 {
		t.Fatalf("disabled rule still emitted")
	}
	e.Apply(Config{})
	if len(find(e.Recommend(m, model.SystemStatus{}), model.CategoryDataSync)) != 1 {
		t.Fatalf("re-enabled rule missing")
	}
}

func TestAnalyzeWrapsOracleError(t *testing.T) {
	t.Parallel()

	boom := errors.New("feed down")
	e := New(fixedOracle{err: boom}, Config{})
	_, _, err := e.Analyze(context.Background())
	if !errors.Is(err, ErrOracle) || !errors.Is(err, boom) {
		t.Fatalf("unexpected err: %v", err)
	}

	want := model.MarketCondition{Volatility: 0.4}
	e = New(fixedOracle{m: want}, Config{})
	m, _, err := e.Analyze(context.Background())
	if err != nil || m != want {
		t.Fatalf("analyze=%+v,%v", m, err)
	}
}
