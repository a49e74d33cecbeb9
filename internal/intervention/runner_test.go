package intervention

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"counterfact/internal/forecast"
	"counterfact/internal/llm"
	"counterfact/internal/policy"
	"counterfact/internal/results"
	"counterfact/internal/sim"
	"counterfact/internal/situation"

	"github.com/stretchr/testify/require"
)

func bonusSituation() *situation.Situation {
	return &situation.Situation{
		Name:      "market",
		RulesText: "trade fairly",
		Items:     []situation.ItemDefinition{{Name: "gold", Tradable: true}},
		Agents: []situation.AgentDefinition{
			{Name: "Alice", StartingInventory: map[string]int{"gold": 10}},
			{Name: "Bob", StartingInventory: map[string]int{"gold": 10}},
		},
		Environment: situation.Environment{
			GlobalActions: []situation.ActionDefinition{{
				Name:        "claim_bonus",
				AvailableTo: situation.EveryoneSet(),
				Effects: situation.EffectList{
					situation.AddItem{Target: situation.TokenActor, ItemName: "gold", Quantity: situation.Qty(100)},
				},
			}},
		},
		MaxSteps: 4,
	}
}

// adviseeDecider claims the bonus only after receiving the advisor's DM, so
// the two branches diverge exactly when the intervention is delivered.
type adviseeDecider struct{}

func (adviseeDecider) DecideAction(ctx context.Context, sit *situation.Situation, agent *situation.AgentDefinition, state *sim.SimulationState) (*sim.AgentAction, error) {
	for _, msg := range state.MessageHistory {
		if msg.Sender == AdvisorName && msg.IsDM() && len(msg.Recipients) == 1 && msg.Recipients[0] == agent.Name {
			return &sim.AgentAction{ActionName: "claim_bonus"}, nil
		}
	}
	return &sim.AgentAction{ActionName: sim.ActionNoAction}, nil
}

func forecastJSON(hard bool) string {
	if hard {
		return `{"question_title":"gold","question_text":"target rich","resolution_criteria":"gold >= 100",
			"prediction":0.7,"reasoning":"bonus","category":"hard_metric",
			"hard_metric_criteria":{"agent_name":"Alice","item_name":"gold","operator":">=","threshold":100}}`
	}
	return `{"question_title":"mood","question_text":"calm ending","resolution_criteria":"no open conflict",
		"prediction":0.5,"reasoning":"quiet so far","category":"qualitative"}`
}

func policyReply() string {
	branch := fmt.Sprintf("[%s,%s,%s,%s,%s,%s,%s,%s]",
		forecastJSON(true), forecastJSON(true), forecastJSON(true),
		forecastJSON(false), forecastJSON(false), forecastJSON(false), forecastJSON(false), forecastJSON(false))
	return fmt.Sprintf(`{"goals_analysis":"both want gold",
		"evaluation_criteria":["wealth","fairness","calm","effort"],
		"baseline_forecasts":%s,
		"intervention":"Claim the bonus every remaining step.",
		"conditional_forecasts":%s}`, branch, branch)
}

func newTestRunner(t *testing.T, policyClient llm.Client, opts ...Option) *Runner {
	t.Helper()
	judge := llm.NewScripted("judge", `{"resolved_yes":true,"reasoning":"transcript supports it"}`)
	return NewRunner(
		adviseeDecider{},
		policy.NewAgent(llm.FixedProvider(policyClient), "policy-model"),
		forecast.NewResolver(llm.FixedProvider(judge), "judge"),
		Config{WarmupSteps: 2},
		append(opts, WithRNG(rand.New(rand.NewSource(11))))...,
	)
}

func TestExecuteResolvesBothBranches(t *testing.T) {
	writer, err := results.NewWriter(t.TempDir(), nil)
	require.NoError(t, err)
	defer writer.Close()

	runner := newTestRunner(t, llm.NewScripted("policy-model", policyReply()), WithWriter(writer))
	run, err := runner.Execute(context.Background(), bonusSituation())
	require.NoError(t, err)

	require.NotEmpty(t, run.RunID)
	require.Equal(t, 2, run.WarmupSteps)
	require.Equal(t, 4, run.TotalSteps)
	require.Contains(t, []string{"Alice", "Bob"}, run.TargetAgentName)
	require.Equal(t, "Claim the bonus every remaining step.", run.InterventionDescription)
	require.Len(t, run.EvaluationCriteria, 4)
	require.Len(t, run.Forecasts, 16)
	require.Empty(t, run.Error)

	for _, f := range run.Forecasts {
		require.True(t, f.Resolved)
		require.NotNil(t, f.Resolution)
		require.NotNil(t, f.BrierScore)
	}
	// Baseline first, conditional second.
	require.False(t, run.Forecasts[0].IsConditional)
	require.True(t, run.Forecasts[15].IsConditional)
}

func TestBranchIsolation(t *testing.T) {
	writer, err := results.NewWriter(t.TempDir(), nil)
	require.NoError(t, err)
	defer writer.Close()

	runner := newTestRunner(t, llm.NewScripted("policy-model", policyReply()), WithWriter(writer))
	run, err := runner.Execute(context.Background(), bonusSituation())
	require.NoError(t, err)

	statusQuo := readSimulation(t, writer.Root(), run, "status_quo_simulation.json")
	intervened := readSimulation(t, writer.Root(), run, "intervention_simulation.json")

	target := run.TargetAgentName
	require.Greater(t,
		intervened.FinalState.ItemCount(target, "gold"),
		statusQuo.FinalState.ItemCount(target, "gold"))

	// Pre-branch inventories are identical; the branches differ only by the
	// injected advisor DM until agents react to it.
	require.Equal(t,
		statusQuo.Steps[0].StateBefore.Inventories,
		intervened.Steps[0].StateBefore.Inventories)
	require.Equal(t, run.WarmupSteps+1, statusQuo.Steps[0].StepNumber)

	// The advisor DM exists only in the intervention branch.
	require.False(t, hasAdvisorDM(statusQuo.FinalState))
	require.True(t, hasAdvisorDM(intervened.FinalState))
}

func TestExecuteClampsWarmupBelowMaxSteps(t *testing.T) {
	runner := newTestRunner(t, llm.NewScripted("policy-model", policyReply()))
	runner.config.WarmupSteps = 99

	run, err := runner.Execute(context.Background(), bonusSituation())
	require.NoError(t, err)
	require.Equal(t, 3, run.WarmupSteps)
}

func TestExecuteRecordsPolicyFailure(t *testing.T) {
	failing := &llm.Scripted{ModelName: "policy-model", Script: func(llm.CompletionRequest) (string, error) {
		return "", fmt.Errorf("provider down")
	}}
	runner := newTestRunner(t, failing)

	run, err := runner.Execute(context.Background(), bonusSituation())
	require.Error(t, err)
	require.NotEmpty(t, run.RunID)
	require.Contains(t, run.Error, "policy agent failed")
}

func TestExecuteBatchIsolatesFailures(t *testing.T) {
	writer, err := results.NewWriter(t.TempDir(), nil)
	require.NoError(t, err)
	defer writer.Close()

	// Fail every other policy call; failing runs must not cancel the rest.
	calls := 0
	flaky := &llm.Scripted{ModelName: "policy-model", Script: func(llm.CompletionRequest) (string, error) {
		calls++
		if calls%2 == 0 {
			return "", fmt.Errorf("provider down")
		}
		return policyReply(), nil
	}}
	runner := newTestRunner(t, flaky, WithWriter(writer))

	runs := runner.ExecuteBatch(context.Background(),
		[]*situation.Situation{bonusSituation(), bonusSituation()},
		BatchConfig{RunsPerSituation: 2, Concurrency: 1})

	require.Len(t, runs, 4)
	succeeded, failed := 0, 0
	for _, run := range runs {
		require.NotNil(t, run)
		if run.Error == "" {
			succeeded++
		} else {
			failed++
		}
	}
	require.Equal(t, 2, succeeded)
	require.Equal(t, 2, failed)
}

func readSimulation(t *testing.T, root string, run *Run, name string) *sim.SimulationResult {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(root, fmt.Sprintf("%s_%s_*", run.SituationName, run.RunID), name))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	var result sim.SimulationResult
	require.NoError(t, json.Unmarshal(data, &result))
	return &result
}

func hasAdvisorDM(state *sim.SimulationState) bool {
	for _, msg := range state.MessageHistory {
		if msg.Sender == AdvisorName {
			return true
		}
	}
	return false
}
