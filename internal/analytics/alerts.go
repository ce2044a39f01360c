package analytics

import (
	"fmt"
	"math"
)

const AlertTypeZScore = "Z_SCORE"

// Alert is produced per dispatch when a rule triggers; it is surfaced to the
// caller and never stored.
type Alert struct {
	Type    string  `json:"type"`
	Symbol  string  `json:"symbol"`
	Value   float64 `json:"value"`
	Message string  `json:"message"`
}

// Rules holds the threshold conditions configured for one symbol. New rule
// kinds extend this struct without changing the evaluation contract.
type Rules struct {
	ZGt float64
}

// RuleTable maps symbols to their configured rules. The table is fixed at
// startup; unknown symbols have no rules and never trigger alerts.
type RuleTable struct {
	rules map[string]Rules
}

func NewRuleTable(zThresholds map[string]float64) *RuleTable {
	rules := make(map[string]Rules, len(zThresholds))
	for symbol, threshold := range zThresholds {
		rules[symbol] = Rules{ZGt: threshold}
	}
	return &RuleTable{rules: rules}
}

// Evaluate returns the alerts triggered by z for the symbol. The caller
// gates on z being defined.
func (t *RuleTable) Evaluate(symbol string, z float64) []Alert {
	rules, ok := t.rules[symbol]
	if !ok {
		return nil
	}

	var alerts []Alert
	if math.Abs(z) >= rules.ZGt {
		alerts = append(alerts, Alert{
			Type:    AlertTypeZScore,
			Symbol:  symbol,
			Value:   z,
			Message: fmt.Sprintf("Z-score threshold breached: %.2f", z),
		})
	}

	return alerts
}
