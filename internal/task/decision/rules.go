package decision

import (
	"fmt"

	"adaptived/internal/task/model"
)

// Rule inspects the signals and emits at most one recommendation.
type Rule struct {
	Name string
	Eval func(m model.MarketCondition, s model.SystemStatus) (model.Recommendation, bool)
}

// Rule names, in evaluation order.
const (
	RuleMarketAnalysis   = "market_analysis"
	RuleTradingTrend     = "trading_trend"
	RuleSystemLoad       = "system_load"
	RuleSystemDegraded   = "system_degraded"
	RuleDataSync         = "data_sync"
	RuleRiskSentiment    = "risk_sentiment"
	RuleLearningWindow   = "learning_window"
	RuleTradingSpeculate = "trading_speculative"
)

// DefaultRules returns the built-in rules in evaluation order. Later rules
// that derive the same task key overwrite earlier ones on merge.
func DefaultRules() []Rule {
	return []Rule{
		{Name: RuleMarketAnalysis, Eval: marketAnalysis},
		{Name: RuleTradingTrend, Eval: tradingTrend},
		{Name: RuleSystemLoad, Eval: systemLoad},
		{Name: RuleSystemDegraded, Eval: systemDegraded},
		{Name: RuleDataSync, Eval: dataSync},
		{Name: RuleRiskSentiment, Eval: riskSentiment},
		{Name: RuleLearningWindow, Eval: learningWindow},
		{Name: RuleTradingSpeculate, Eval: tradingSpeculative},
	}
}

// RuleNames lists the names of DefaultRules.
func RuleNames() []string {
	rules := DefaultRules()
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Name
	}
	return out
}

func marketAnalysis(m model.MarketCondition, _ model.SystemStatus) (model.Recommendation, bool) {
	switch {
	case m.Volatility > 0.8:
		return model.Recommendation{
			Category:         model.CategoryMarketAnalysis,
			Priority:         model.PriorityHigh,
			FrequencyMinutes: 1,
			Confidence:       0.85,
			Reason:           fmt.Sprintf("high volatility (%.2f) requires continuous analysis", m.Volatility),
			Params: model.Params{
				"deep_analysis": model.Bool(true),
				"risk_mode":     model.String("conservative"),
			},
		}, true
	case m.Volatility >= 0.3:
		return model.Recommendation{
			Category:         model.CategoryMarketAnalysis,
			Priority:         model.PriorityMedium,
			FrequencyMinutes: 5,
			Confidence:       0.7,
			Reason:           fmt.Sprintf("moderate volatility (%.2f), standard analysis cadence", m.Volatility),
		}, true
	default:
		return model.Recommendation{
			Category:         model.CategoryMarketAnalysis,
			Priority:         model.PriorityLow,
			FrequencyMinutes: 15,
			Confidence:       0.7,
			Reason:           fmt.Sprintf("calm market (volatility %.2f), relaxed analysis cadence", m.Volatility),
		}, true
	}
}

func tradingTrend(m model.MarketCondition, _ model.SystemStatus) (model.Recommendation, bool) {
	if m.TrendStrength <= 0.6 {
		return model.Recommendation{}, false
	}
	return model.Recommendation{
		Category:         model.CategoryTradingExecution,
		Priority:         model.PriorityHigh,
		FrequencyMinutes: 3,
		Confidence:       0.85,
		Reason:           fmt.Sprintf("strong trend (%.2f) detected", m.TrendStrength),
		Params: model.Params{
			"position_size_multiplier": model.Float(1.2),
			"risk_tolerance":           model.String("medium"),
		},
	}, true
}

func systemLoad(_ model.MarketCondition, s model.SystemStatus) (model.Recommendation, bool) {
	if s.CPUPct > 80 {
		return model.Recommendation{
			Category:         model.CategorySystemHealth,
			Priority:         model.PriorityCritical,
			FrequencyMinutes: 1,
			Confidence:       0.95,
			Reason:           fmt.Sprintf("cpu at %.1f%%, watching closely", s.CPUPct),
			Params: model.Params{
				"auto_healing":          model.Bool(true),
				"resource_optimization": model.Bool(true),
			},
		}, true
	}
	return model.Recommendation{
		Category:         model.CategorySystemHealth,
		Priority:         model.PriorityLow,
		FrequencyMinutes: 10,
		Confidence:       0.8,
		Reason:           "system load nominal, routine health check",
	}, true
}

func systemDegraded(_ model.MarketCondition, s model.SystemStatus) (model.Recommendation, bool) {
	if s.ErrorRate <= 0.05 && s.ResponseTimeMS <= 1000 {
		return model.Recommendation{}, false
	}
	return model.Recommendation{
		Category:         model.CategorySystemHealth,
		Priority:         model.PriorityCritical,
		FrequencyMinutes: 2,
		Confidence:       0.9,
		Reason:           fmt.Sprintf("degraded service (error rate %.3f, response %.0fms)", s.ErrorRate, s.ResponseTimeMS),
		Params: model.Params{
			"diagnose":      model.Bool(true),
			"network_check": model.Bool(true),
		},
	}, true
}

// DataSyncFrequency shortens the sync interval with volatility and doubles it under load.
func DataSyncFrequency(m model.MarketCondition, s model.SystemStatus) int {
	freq := 5
	switch {
	case m.Volatility > 0.7:
		freq = 2
	case m.Volatility > 0.5:
		freq = 3
	}
	if s.CPUPct > 80 {
		freq *= 2
	}
	return max(freq, 1)
}

func dataSync(m model.MarketCondition, s model.SystemStatus) (model.Recommendation, bool) {
	freq := DataSyncFrequency(m, s)
	return model.Recommendation{
		Category:         model.CategoryDataSync,
		Priority:         model.PriorityMedium,
		FrequencyMinutes: freq,
		Confidence:       0.75,
		Reason:           fmt.Sprintf("sync every %dm for volatility %.2f and cpu %.1f%%", freq, m.Volatility, s.CPUPct),
	}, true
}

func riskSentiment(m model.MarketCondition, _ model.SystemStatus) (model.Recommendation, bool) {
	if m.NewsImpact <= 0.7 && m.SentimentScore >= 0.2 && m.SentimentScore <= 0.8 {
		return model.Recommendation{}, false
	}
	return model.Recommendation{
		Category:         model.CategoryRiskAssessment,
		Priority:         model.PriorityHigh,
		FrequencyMinutes: 5,
		Confidence:       0.8,
		Reason:           fmt.Sprintf("news impact %.2f, sentiment %.2f", m.NewsImpact, m.SentimentScore),
		Params: model.Params{
			"sentiment":   model.Float(m.SentimentScore),
			"news_impact": model.Float(m.NewsImpact),
		},
	}, true
}

func learningWindow(m model.MarketCondition, s model.SystemStatus) (model.Recommendation, bool) {
	if m.Volatility >= 0.3 || s.CPUPct >= 50 {
		return model.Recommendation{}, false
	}
	return model.Recommendation{
		Category:         model.CategoryAILearning,
		Priority:         model.PriorityLow,
		FrequencyMinutes: 30,
		Confidence:       0.6,
		Reason:           "stable market and idle host, good time to retrain",
		Params: model.Params{
			"epochs":      model.Int(10),
			"model_types": model.String("technical_analysis,sentiment"),
		},
	}, true
}

func tradingSpeculative(m model.MarketCondition, _ model.SystemStatus) (model.Recommendation, bool) {
	if m.VolumeRatio <= 2.5 {
		return model.Recommendation{}, false
	}
	return model.Recommendation{
		Category:         model.CategoryTradingExecution,
		Priority:         model.PriorityMedium,
		FrequencyMinutes: 5,
		Confidence:       0.55,
		Reason:           fmt.Sprintf("volume spike (%.2fx) without confirmed trend", m.VolumeRatio),
	}, true
}
