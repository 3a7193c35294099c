package model

import (
	"fmt"
	"strings"
)

// MarketCondition is the market signal vector. Values are 0..1 except
// VolumeRatio (0..5).
type MarketCondition struct {
	Volatility     float64 `json:"volatility"`
	TrendStrength  float64 `json:"trend_strength"`
	VolumeRatio    float64 `json:"volume_ratio"`
	SentimentScore float64 `json:"sentiment_score"`
	NewsImpact     float64 `json:"news_impact"`
}

// SystemStatus is the host signal vector.
type SystemStatus struct {
	CPUPct            float64 `json:"cpu_pct"`
	MemoryPct         float64 `json:"memory_pct"`
	DiskPct           float64 `json:"disk_pct"`
	ActiveConnections int     `json:"active_connections"`
	ErrorRate         float64 `json:"error_rate"`
	ResponseTimeMS    float64 `json:"response_time_ms"`
}

// Condition is a named predicate over the current signals.
type Condition string

const (
	CondHighVolatility Condition = "high_volatility"
	CondLowVolatility  Condition = "low_volatility"
	CondTrending       Condition = "trending"
	CondHighVolume     Condition = "high_volume"
	CondHighLoad       Condition = "high_load"
	CondNewsEvent      Condition = "news_event"
)

func ParseCondition(s string) (Condition, error) {
	c := Condition(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case CondHighVolatility, CondLowVolatility, CondTrending, CondHighVolume, CondHighLoad, CondNewsEvent:
		return c, nil
	}
	return "", fmt.Errorf("unknown condition %q", s)
}

// Holds reports whether c is true for the given signals.
func (c Condition) Holds(m MarketCondition, s SystemStatus) bool {
	switch c {
	case CondHighVolatility:
		return m.Volatility > 0.7
	case CondLowVolatility:
		return m.Volatility < 0.3
	case CondTrending:
		return m.TrendStrength > 0.6
	case CondHighVolume:
		return m.VolumeRatio > 1.5
	case CondHighLoad:
		return s.CPUPct > 80
	case CondNewsEvent:
		return m.NewsImpact > 0.7
	}
	return false
}
