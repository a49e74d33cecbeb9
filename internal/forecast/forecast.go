// Package forecast holds the typed forecast records produced by the policy
// agent and the two resolution algorithms that score them: deterministic
// hard-metric checks against final inventories and LLM-judged qualitative
// verdicts over a branch transcript.
package forecast

import (
	"fmt"

	"counterfact/internal/situation"
)

// Category separates auto-resolvable inventory forecasts from LLM-judged
// ones.
type Category string

const (
	CategoryHardMetric  Category = "hard_metric"
	CategoryQualitative Category = "qualitative"
)

// HardMetricCriteria is the machine-checkable resolution rule of a
// hard-metric forecast, evaluated against final inventories.
type HardMetricCriteria struct {
	AgentName string             `json:"agent_name"`
	ItemName  string             `json:"item_name"`
	Operator  situation.Operator `json:"operator"`
	Threshold int                `json:"threshold"`
}

// InterventionForecast is one probabilistic question about a branch's
// outcome. Resolution fields stay zero until a resolver scores it.
type InterventionForecast struct {
	QuestionTitle      string              `json:"question_title"`
	QuestionText       string              `json:"question_text"`
	ResolutionCriteria string              `json:"resolution_criteria"`
	Prediction         float64             `json:"prediction"`
	Reasoning          string              `json:"reasoning"`
	IsConditional      bool                `json:"is_conditional"`
	Category           Category            `json:"category"`
	HardMetricCriteria *HardMetricCriteria `json:"hard_metric_criteria,omitempty"`

	Resolved   bool     `json:"resolved"`
	Resolution *bool    `json:"resolution"`
	BrierScore *float64 `json:"brier_score"`
}

// Validate checks the structural invariants of an unresolved forecast
// against the situation it predicts about.
func (f *InterventionForecast) Validate(sit *situation.Situation) error {
	if f.Prediction < 0 || f.Prediction > 1 {
		return fmt.Errorf("prediction %v is not a probability", f.Prediction)
	}
	switch f.Category {
	case CategoryQualitative:
		return nil
	case CategoryHardMetric:
		c := f.HardMetricCriteria
		if c == nil {
			return fmt.Errorf("hard-metric forecast %q has no criteria", f.QuestionTitle)
		}
		if _, ok := sit.Agent(c.AgentName); !ok {
			return fmt.Errorf("hard-metric forecast %q references unknown agent %q", f.QuestionTitle, c.AgentName)
		}
		if !sit.HasItem(c.ItemName) {
			return fmt.Errorf("hard-metric forecast %q references unknown item %q", f.QuestionTitle, c.ItemName)
		}
		if !c.Operator.Valid() {
			return fmt.Errorf("hard-metric forecast %q uses unknown operator %q", f.QuestionTitle, c.Operator)
		}
		return nil
	default:
		return fmt.Errorf("forecast %q has unknown category %q", f.QuestionTitle, f.Category)
	}
}

// Brier returns the Brier score of a probability against a realized binary
// outcome. 0 is a perfect forecast, 1 the worst possible.
func Brier(prediction float64, outcome bool) float64 {
	realized := 0.0
	if outcome {
		realized = 1.0
	}
	diff := prediction - realized
	return diff * diff
}

// resolved returns a copy with the resolution fields populated. The input
// forecast is never mutated.
func (f InterventionForecast) resolved(outcome bool) InterventionForecast {
	score := Brier(f.Prediction, outcome)
	f.Resolved = true
	f.Resolution = &outcome
	f.BrierScore = &score
	return f
}
