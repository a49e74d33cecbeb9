// Package policy runs the policy agent: one model call over a mid-run state
// that yields an intervention instruction for a target agent plus sixteen
// scored-later forecasts, half baseline and half conditional.
package policy

import (
	"context"
	"fmt"
	"strings"

	"counterfact/internal/forecast"
	"counterfact/internal/llm"
	"counterfact/internal/logging"
	"counterfact/internal/prompts"
	"counterfact/internal/sim"
	"counterfact/internal/situation"
)

// Forecast-mix invariants of one policy result.
const (
	forecastsPerBranch  = 8
	hardMetricPerBranch = 3
)

// Result is the complete output of one policy-agent invocation.
type Result struct {
	TargetAgent          string                          `json:"target_agent"`
	GoalsAnalysis        string                          `json:"goals_analysis"`
	EvaluationCriteria   []string                        `json:"evaluation_criteria"`
	Intervention         string                          `json:"intervention"`
	ProposalMarkdown     string                          `json:"proposal_markdown"`
	BaselineForecasts    []forecast.InterventionForecast `json:"baseline_forecasts"`
	ConditionalForecasts []forecast.InterventionForecast `json:"conditional_forecasts"`
	ModelName            string                          `json:"model_name"`
}

// AllForecasts returns baseline then conditional forecasts as one slice.
func (r *Result) AllForecasts() []forecast.InterventionForecast {
	all := make([]forecast.InterventionForecast, 0, len(r.BaselineForecasts)+len(r.ConditionalForecasts))
	all = append(all, r.BaselineForecasts...)
	all = append(all, r.ConditionalForecasts...)
	return all
}

// Agent produces policy results with a single model call each.
type Agent struct {
	provider llm.Provider
	model    string
	logger   logging.Logger
}

// AgentOption configures a policy Agent.
type AgentOption func(*Agent)

// WithLogger sets the agent's logger.
func WithLogger(logger logging.Logger) AgentOption {
	return func(a *Agent) { a.logger = logger }
}

// NewAgent builds a policy agent bound to one model.
func NewAgent(provider llm.Provider, model string, opts ...AgentOption) *Agent {
	a := &Agent{provider: provider, model: model}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.OrNop(a.logger)
	return a
}

// Propose invokes the model once and extracts the typed result. Structural
// violations of the forecast contract are errors; the caller aborts the run.
func (a *Agent) Propose(ctx context.Context, sit *situation.Situation, state *sim.SimulationState, targetAgent string) (*Result, error) {
	client, err := a.provider.ClientFor(a.model)
	if err != nil {
		return nil, fmt.Errorf("no client for policy model %s: %w", a.model, err)
	}

	resp, err := client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			llm.SystemMessage(prompts.PolicySystem),
			llm.UserMessage(buildAnalystPrompt(sit, state, targetAgent)),
		},
		Temperature: 0.7,
		MaxTokens:   8192,
	})
	if err != nil {
		return nil, err
	}

	result, err := Extract(resp.Content, sit)
	if err != nil {
		return nil, fmt.Errorf("policy output rejected: %w", err)
	}
	result.TargetAgent = targetAgent
	result.ModelName = client.Model()
	a.logger.Info("policy agent proposed intervention on %s with %d forecasts",
		targetAgent, len(result.BaselineForecasts)+len(result.ConditionalForecasts))
	return result, nil
}

// buildAnalystPrompt gives the analyst the situation, the full transcript so
// far, the remaining horizon, and the designated target.
func buildAnalystPrompt(sit *situation.Situation, state *sim.SimulationState, targetAgent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Situation: %s\n%s\n\n## Rules\n%s\n", sit.Name, sit.Description, sit.RulesText)

	b.WriteString("\n## Agents\n")
	for i := range sit.Agents {
		agent := &sit.Agents[i]
		fmt.Fprintf(&b, "### %s\n", agent.Name)
		for _, entry := range agent.Persona {
			if entry.Hidden {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", entry.Key, entry.Value)
		}
	}

	b.WriteString("\n## Items\n")
	for _, item := range sit.Items {
		fmt.Fprintf(&b, "- %s: %s\n", item.Name, item.Description)
	}

	fmt.Fprintf(&b, "\n## History so far\n%s\n", forecast.RenderTranscript(state))
	fmt.Fprintf(&b, "\nSteps remaining after this point: %d\n", sit.MaxSteps-state.StepNumber)
	fmt.Fprintf(&b, "\nTARGET AGENT: %s\nYour intervention will be delivered to %s as a mandatory instruction.\n", targetAgent, targetAgent)
	return b.String()
}

// wireResult is the tolerant decode target for the model's JSON.
type wireResult struct {
	GoalsAnalysis        string                          `json:"goals_analysis"`
	EvaluationCriteria   []string                        `json:"evaluation_criteria"`
	BaselineForecasts    []forecast.InterventionForecast `json:"baseline_forecasts"`
	Intervention         string                          `json:"intervention"`
	ConditionalForecasts []forecast.InterventionForecast `json:"conditional_forecasts"`
}

// Extract converts the model's free-form reply into a validated Result:
// exactly eight forecasts per branch, three hard-metric and five qualitative
// in each, every hard-metric criteria referencing declared agents and items.
func Extract(content string, sit *situation.Situation) (*Result, error) {
	var wire wireResult
	if err := llm.DecodeJSON(content, &wire); err != nil {
		return nil, err
	}
	if strings.TrimSpace(wire.Intervention) == "" {
		return nil, fmt.Errorf("missing intervention text")
	}
	if n := len(wire.EvaluationCriteria); n < 4 || n > 6 {
		return nil, fmt.Errorf("expected 4-6 evaluation criteria, got %d", n)
	}
	if err := checkBranch(wire.BaselineForecasts, false, sit); err != nil {
		return nil, fmt.Errorf("baseline forecasts: %w", err)
	}
	if err := checkBranch(wire.ConditionalForecasts, true, sit); err != nil {
		return nil, fmt.Errorf("conditional forecasts: %w", err)
	}

	return &Result{
		GoalsAnalysis:        wire.GoalsAnalysis,
		EvaluationCriteria:   wire.EvaluationCriteria,
		Intervention:         wire.Intervention,
		ProposalMarkdown:     renderProposal(&wire),
		BaselineForecasts:    wire.BaselineForecasts,
		ConditionalForecasts: wire.ConditionalForecasts,
	}, nil
}

// checkBranch validates one branch's forecast mix and stamps the
// conditional flag; the flag comes from the phase the forecast appeared in,
// not from the model.
func checkBranch(forecasts []forecast.InterventionForecast, conditional bool, sit *situation.Situation) error {
	if len(forecasts) != forecastsPerBranch {
		return fmt.Errorf("expected %d forecasts, got %d", forecastsPerBranch, len(forecasts))
	}
	hard := 0
	for i := range forecasts {
		forecasts[i].IsConditional = conditional
		if err := forecasts[i].Validate(sit); err != nil {
			return err
		}
		if forecasts[i].Category == forecast.CategoryHardMetric {
			hard++
		}
	}
	if hard != hardMetricPerBranch {
		return fmt.Errorf("expected %d hard-metric forecasts, got %d", hardMetricPerBranch, hard)
	}
	return nil
}

// renderProposal formats the full policy output as the markdown stored in
// run records.
func renderProposal(wire *wireResult) string {
	var b strings.Builder
	b.WriteString("## Goals Analysis\n\n")
	b.WriteString(wire.GoalsAnalysis)
	b.WriteString("\n\n## Evaluation Criteria\n\n")
	for _, criterion := range wire.EvaluationCriteria {
		fmt.Fprintf(&b, "- %s\n", criterion)
	}
	b.WriteString("\n## Intervention\n\n")
	b.WriteString(wire.Intervention)
	b.WriteString("\n\n## Baseline Forecasts\n\n")
	writeForecastList(&b, wire.BaselineForecasts)
	b.WriteString("\n## Conditional Forecasts\n\n")
	writeForecastList(&b, wire.ConditionalForecasts)
	return b.String()
}

func writeForecastList(b *strings.Builder, forecasts []forecast.InterventionForecast) {
	for _, f := range forecasts {
		fmt.Fprintf(b, "- [%s] %s (p=%.2f)\n", f.Category, f.QuestionTitle, f.Prediction)
	}
}
