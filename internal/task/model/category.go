package model

import (
	"fmt"
	"strings"
)

// Category names a kind of work. Each category is served by one hook.
type Category string

const (
	CategoryMarketAnalysis   Category = "market_analysis"
	CategoryTradingExecution Category = "trading_execution"
	CategorySystemHealth     Category = "system_health"
	CategoryDataSync         Category = "data_sync"
	CategoryAILearning       Category = "ai_learning"
	CategoryRiskAssessment   Category = "risk_assessment"
)

// Categories lists every known category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryMarketAnalysis,
		CategoryTradingExecution,
		CategorySystemHealth,
		CategoryDataSync,
		CategoryAILearning,
		CategoryRiskAssessment,
	}
}

func (c Category) Valid() bool {
	for _, k := range Categories() {
		if c == k {
			return true
		}
	}
	return false
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// TaskKey derives the registry id for a recommendation: "<category>_<priority>".
func TaskKey(c Category, p Priority) string {
	return string(c) + "_" + p.String()
}
