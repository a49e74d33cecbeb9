// Package intervention orchestrates counterfactual tests: warm up a
// simulation, obtain a policy proposal with forecasts, fork the state into a
// status-quo branch and an intervention branch, run both tails in parallel,
// and score every forecast against the branch it predicted.
package intervention

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"counterfact/internal/cost"
	"counterfact/internal/forecast"
	"counterfact/internal/logging"
	"counterfact/internal/metrics"
	"counterfact/internal/policy"
	"counterfact/internal/results"
	"counterfact/internal/sim"
	"counterfact/internal/situation"
	id "counterfact/internal/utils/id"
)

// Advisor identity and framing of the injected instruction.
const (
	AdvisorName        = "Intervention Advisor"
	InstructionsPrefix = "MANDATORY INTERVENTION INSTRUCTIONS: "
)

// Run is the JSONL record of one finished intervention test.
type Run struct {
	RunID                   string                          `json:"run_id"`
	Timestamp               time.Time                       `json:"timestamp"`
	ModelName               string                          `json:"model_name"`
	SituationName           string                          `json:"situation_name"`
	TargetAgentName         string                          `json:"target_agent_name"`
	InterventionDescription string                          `json:"intervention_description"`
	PolicyProposalMarkdown  string                          `json:"policy_proposal_markdown"`
	EvaluationCriteria      []string                        `json:"evaluation_criteria"`
	WarmupSteps             int                             `json:"warmup_steps"`
	TotalSteps              int                             `json:"total_steps"`
	Forecasts               []forecast.InterventionForecast `json:"forecasts"`
	TotalCost               float64                         `json:"total_cost"`
	Error                   string                          `json:"error,omitempty"`
}

// Config holds the per-run knobs of the intervention runner.
type Config struct {
	WarmupSteps  int
	RunBudgetUSD float64
}

// Runner executes intervention tests. A single Runner may serve concurrent
// batch runs; only the random source needs guarding.
type Runner struct {
	decider     sim.Decider
	policyAgent *policy.Agent
	resolver    *forecast.Resolver
	writer      *results.Writer
	config      Config
	logger      logging.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// Option configures a Runner.
type Option func(*Runner)

// WithWriter enables artifact persistence for each run.
func WithWriter(writer *results.Writer) Option {
	return func(r *Runner) { r.writer = writer }
}

// WithLogger sets the runner's logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithRNG injects a seeded random source for reproducible target picks and
// branch seeds.
func WithRNG(rng *rand.Rand) Option {
	return func(r *Runner) { r.rng = rng }
}

// NewRunner builds an intervention runner from its collaborators.
func NewRunner(decider sim.Decider, policyAgent *policy.Agent, resolver *forecast.Resolver, config Config, opts ...Option) *Runner {
	r := &Runner{
		decider:     decider,
		policyAgent: policyAgent,
		resolver:    resolver,
		config:      config,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewSource(rand.Int63()))
	}
	r.logger = logging.OrNop(r.logger)
	return r
}

// branchOutcome carries one tail's result across the errgroup boundary.
type branchOutcome struct {
	result *sim.SimulationResult
	err    error
}

// Execute runs one full intervention test against a situation. The returned
// Run is complete on success; on failure it still carries identity fields
// and the error so batches can record it.
func (r *Runner) Execute(ctx context.Context, sit *situation.Situation) (*Run, error) {
	runID := id.NewRunID()
	run := &Run{
		RunID:         runID,
		Timestamp:     time.Now().UTC(),
		SituationName: sit.Name,
		TotalSteps:    sit.MaxSteps,
	}

	ctx, scope := cost.WithScope(ctx, "run-"+runID, r.config.RunBudgetUSD)
	defer func() {
		run.TotalCost = scope.Spent()
		if err := scope.Close(); err != nil {
			r.logger.Warn("run %s closed over budget: %v", runID, err)
		}
	}()

	err := r.execute(ctx, sit, run)
	if err != nil {
		run.Error = err.Error()
		metrics.InterventionRuns.WithLabelValues("error").Inc()
		return run, err
	}
	metrics.InterventionRuns.WithLabelValues("ok").Inc()
	return run, nil
}

func (r *Runner) execute(ctx context.Context, sit *situation.Situation, run *Run) error {
	warmup := r.config.WarmupSteps
	if limit := sit.MaxSteps - 1; warmup > limit {
		warmup = limit
	}
	if warmup < 0 {
		warmup = 0
	}
	run.WarmupSteps = warmup

	r.rngMu.Lock()
	warmupSeed, statusQuoSeed, interventionSeed := r.rng.Int63(), r.rng.Int63(), r.rng.Int63()
	targetIdx := r.rng.Intn(len(sit.Agents))
	r.rngMu.Unlock()

	simulator := sim.NewSimulator(sit, sim.NewInitialState(sit), r.decider,
		sim.WithRNG(rand.New(rand.NewSource(warmupSeed))), sim.WithLogger(r.logger))
	warmupResult, err := simulator.Run(ctx, warmup)
	if err != nil {
		return fmt.Errorf("warmup failed: %w", err)
	}

	target := sit.Agents[targetIdx].Name
	run.TargetAgentName = target
	r.logger.Info("run %s: warmed up %d steps, targeting %s", run.RunID, warmup, target)

	policyResult, err := r.policyAgent.Propose(ctx, sit, warmupResult.FinalState, target)
	if err != nil {
		return fmt.Errorf("policy agent failed: %w", err)
	}
	run.ModelName = policyResult.ModelName
	run.InterventionDescription = policyResult.Intervention
	run.PolicyProposalMarkdown = policyResult.ProposalMarkdown
	run.EvaluationCriteria = policyResult.EvaluationCriteria

	statusQuoState := warmupResult.FinalState.Clone()
	interventionState := warmupResult.FinalState.Clone()
	interventionSit := interventionSituation(sit, policyResult.Intervention)
	interventionState.MessageHistory = append(interventionState.MessageHistory, sim.Message{
		Step:       warmup,
		Sender:     AdvisorName,
		Channel:    nil,
		Recipients: []string{target},
		Content:    InstructionsPrefix + policyResult.Intervention,
	})

	remaining := sit.MaxSteps - warmup
	statusQuo := branchOutcome{}
	intervened := branchOutcome{}

	var group errgroup.Group
	group.Go(func() error {
		branch := sim.NewSimulator(sit, statusQuoState, r.decider,
			sim.WithRNG(rand.New(rand.NewSource(statusQuoSeed))), sim.WithLogger(r.logger))
		statusQuo.result, statusQuo.err = branch.Run(ctx, remaining)
		return nil
	})
	group.Go(func() error {
		branch := sim.NewSimulator(interventionSit, interventionState, r.decider,
			sim.WithRNG(rand.New(rand.NewSource(interventionSeed))), sim.WithLogger(r.logger))
		intervened.result, intervened.err = branch.Run(ctx, remaining)
		return nil
	})
	// Both branches always run to completion; failures are collected, not
	// propagated mid-flight.
	_ = group.Wait()

	if statusQuo.err != nil {
		return fmt.Errorf("status-quo branch failed: %w", statusQuo.err)
	}
	if intervened.err != nil {
		return fmt.Errorf("intervention branch failed: %w", intervened.err)
	}

	baseline, err := r.resolver.Resolve(ctx, policyResult.BaselineForecasts, statusQuo.result.FinalState)
	if err != nil {
		return fmt.Errorf("baseline resolution failed: %w", err)
	}
	conditional, err := r.resolver.Resolve(ctx, policyResult.ConditionalForecasts, intervened.result.FinalState)
	if err != nil {
		return fmt.Errorf("conditional resolution failed: %w", err)
	}
	run.Forecasts = append(append([]forecast.InterventionForecast{}, baseline...), conditional...)

	if r.writer != nil {
		if err := r.persist(run, policyResult, statusQuo.result, intervened.result); err != nil {
			r.logger.Warn("run %s: artifact persistence failed: %v", run.RunID, err)
		}
	}
	return nil
}

// interventionSituation copies the situation with the mandatory notice
// appended to its rules; the original is never touched.
func interventionSituation(sit *situation.Situation, interventionText string) *situation.Situation {
	branched := *sit
	branched.RulesText = sit.RulesText +
		"\n\nMANDATORY INTERVENTION NOTICE: an external advisor has issued a binding instruction to one agent this run. The instruction is: " +
		interventionText
	return &branched
}

// persist writes the per-run artifact files and appends the JSONL record.
func (r *Runner) persist(run *Run, policyResult *policy.Result, statusQuo, intervened *sim.SimulationResult) error {
	dir, err := r.writer.RunDir(run.SituationName, run.RunID)
	if err != nil {
		return err
	}
	if err := r.writer.WriteJSON(dir, "policy_result.json", policyResult); err != nil {
		return err
	}
	if err := r.writer.WriteJSON(dir, "status_quo_simulation.json", statusQuo); err != nil {
		return err
	}
	if err := r.writer.WriteJSON(dir, "intervention_simulation.json", intervened); err != nil {
		return err
	}
	if err := r.writer.WriteJSON(dir, "run_summary.json", run); err != nil {
		return err
	}
	return r.writer.AppendRecord(run)
}
