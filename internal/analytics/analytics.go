package analytics

import (
	"github.com/montanaflynn/stats"

	"github.com/0xc0d3d00d/tickerd/internal/domain"
)

// PriceStats summarizes a tick price series.
type PriceStats struct {
	Last float64 `json:"last"`
	High float64 `json:"high"`
	Low  float64 `json:"low"`
	Mean float64 `json:"mean"`
}

// Result is recomputed on demand from a symbol's recent tick series; it is
// never persisted. ZScore is nil when the series is shorter than the rolling
// window.
type Result struct {
	PriceStats *PriceStats `json:"price_stats,omitempty"`
	ZScore     *float64    `json:"zscore,omitempty"`
	Alerts     []Alert     `json:"alerts"`
}

// Engine computes rolling statistics over a price series and evaluates the
// alert rule table against the z-score.
type Engine struct {
	window int
	rules  *RuleTable
}

func NewEngine(window int, rules *RuleTable) *Engine {
	return &Engine{window: window, rules: rules}
}

// ComputePriceStats returns last/high/low/mean of the series' prices. An
// empty series yields ok=false, not an error.
func ComputePriceStats(ticks []domain.Tick) (PriceStats, bool) {
	if len(ticks) == 0 {
		return PriceStats{}, false
	}

	prices := make([]float64, len(ticks))
	for i, t := range ticks {
		prices[i] = t.Price
	}

	high, _ := stats.Max(prices)
	low, _ := stats.Min(prices)
	mean, _ := stats.Mean(prices)

	return PriceStats{
		Last: prices[len(prices)-1],
		High: high,
		Low:  low,
		Mean: mean,
	}, true
}

// ZScore measures how many sample standard deviations the latest price sits
// from the mean of the trailing window. Fewer than window samples yields
// ok=false; a zero standard deviation yields z=0 rather than dividing by
// zero. Only the last window samples matter, so older history never shifts
// the result.
func (e *Engine) ZScore(prices []float64) (float64, bool) {
	if len(prices) < e.window {
		return 0, false
	}

	recent := prices[len(prices)-e.window:]
	mean, err := stats.Mean(recent)
	if err != nil {
		return 0, false
	}
	stddev, err := stats.StandardDeviationSample(recent)
	if err != nil {
		return 0, false
	}
	if stddev == 0 {
		return 0, true
	}

	return (recent[len(recent)-1] - mean) / stddev, true
}

// Compute derives the z-score from the tick series and, when it is defined,
// evaluates the symbol's alert rules.
func (e *Engine) Compute(symbol string, ticks []domain.Tick) Result {
	var result Result

	if priceStats, ok := ComputePriceStats(ticks); ok {
		result.PriceStats = &priceStats
	}

	prices := make([]float64, len(ticks))
	for i, t := range ticks {
		prices[i] = t.Price
	}

	z, ok := e.ZScore(prices)
	if !ok {
		return result
	}

	result.ZScore = &z
	result.Alerts = e.rules.Evaluate(symbol, z)

	return result
}
