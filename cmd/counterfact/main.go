// Command counterfact runs multi-agent situation simulations and
// counterfactual intervention tests from the terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"counterfact/internal/agents"
	"counterfact/internal/config"
	cferrors "counterfact/internal/errors"
	"counterfact/internal/forecast"
	"counterfact/internal/intervention"
	"counterfact/internal/llm"
	"counterfact/internal/logging"
	"counterfact/internal/policy"
	"counterfact/internal/results"
	"counterfact/internal/sim"
	"counterfact/internal/situation"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

type cliFlags struct {
	configPath string
	steps      int
	warmup     int
	runs       int
	concurrent int
	dryRun     bool
	verbose    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red("error: ")+err.Error())
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &cliFlags{}
	root := &cobra.Command{
		Use:           "counterfact",
		Short:         "Multi-agent situation simulator with counterfactual intervention testing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default counterfact.yaml)")
	root.PersistentFlags().BoolVar(&flags.dryRun, "dry-run", false, "use a scripted model instead of a live provider")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	if !isTTY() {
		color.NoColor = true
	}

	root.AddCommand(newSimulateCommand(flags))
	root.AddCommand(newInterveneCommand(flags))
	root.AddCommand(newBatchCommand(flags))
	return root
}

func newSimulateCommand(flags *cliFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <situation-file>",
		Short: "Run one plain simulation and print the final state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(flags)
			if err != nil {
				return err
			}
			sit, err := situation.LoadFile(args[0])
			if err != nil {
				return err
			}

			ctx, stop := runContext()
			defer stop()

			steps := flags.steps
			if steps <= 0 {
				steps = sit.MaxSteps
			}
			fmt.Printf("%s %s (%d steps, %d agents)\n", bold("simulating"), cyan(sit.Name), steps, len(sit.Agents))

			simulator := sim.NewSimulator(sit, sim.NewInitialState(sit), env.decider, sim.WithLogger(env.logger))
			result, err := simulator.Run(ctx, steps)
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(result.FinalState, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			fmt.Printf("%s %d steps, %d messages, %d resolved trades\n",
				green("done:"), len(result.Steps), len(result.FinalState.MessageHistory), len(result.FinalState.TradeHistory))
			return nil
		},
	}
	cmd.Flags().IntVar(&flags.steps, "steps", 0, "steps to run (default situation max_steps)")
	return cmd
}

func newInterveneCommand(flags *cliFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "intervene <situation-file>",
		Short: "Run one intervention test: warmup, policy, dual branches, scoring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(flags)
			if err != nil {
				return err
			}
			sit, err := situation.LoadFile(args[0])
			if err != nil {
				return err
			}

			ctx, stop := runContext()
			defer stop()

			writer, err := results.NewWriter(env.cfg.ResultsDir, env.logger)
			if err != nil {
				return err
			}
			defer writer.Close()

			runner := env.newInterventionRunner(flags, writer)
			fmt.Printf("%s %s\n", bold("intervention test on"), cyan(sit.Name))

			run, err := runner.Execute(ctx, sit)
			if err != nil {
				return fmt.Errorf("run %s failed: %w", run.RunID, err)
			}
			printRunSummary(run)
			fmt.Printf("artifacts: %s\n", writer.Root())
			return nil
		},
	}
	cmd.Flags().IntVar(&flags.warmup, "warmup", -1, "warmup steps before the branch point (default from config)")
	return cmd
}

func newBatchCommand(flags *cliFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <situation-file>...",
		Short: "Run intervention tests across situations with bounded concurrency",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup(flags)
			if err != nil {
				return err
			}

			var situations []*situation.Situation
			for _, path := range args {
				sit, err := situation.LoadFile(path)
				if err != nil {
					return err
				}
				situations = append(situations, sit)
			}

			ctx, stop := runContext()
			defer stop()

			writer, err := results.NewWriter(env.cfg.ResultsDir, env.logger)
			if err != nil {
				return err
			}
			defer writer.Close()

			runs := flags.runs
			if runs <= 0 {
				runs = env.cfg.RunsPerSituation
			}
			concurrency := flags.concurrent
			if concurrency <= 0 {
				concurrency = env.cfg.BatchConcurrency
			}

			runner := env.newInterventionRunner(flags, writer)
			fmt.Printf("%s %d situations x %d runs (concurrency %d)\n", bold("batch:"), len(situations), runs, concurrency)

			records := runner.ExecuteBatch(ctx, situations, intervention.BatchConfig{
				RunsPerSituation: runs,
				Concurrency:      concurrency,
				BatchBudgetUSD:   env.cfg.BatchBudgetUSD,
			})

			succeeded := 0
			for _, record := range records {
				if record.Error == "" {
					succeeded++
				} else {
					fmt.Printf("%s run %s on %s: %s\n", red("failed"), record.RunID, record.SituationName, record.Error)
				}
			}
			fmt.Printf("%s %d/%d runs succeeded, results in %s\n", green("batch done:"), succeeded, len(records), writer.Root())
			return nil
		},
	}
	cmd.Flags().IntVar(&flags.runs, "runs", 0, "runs per situation (default from config)")
	cmd.Flags().IntVar(&flags.concurrent, "concurrency", 0, "parallel runs (default from config)")
	cmd.Flags().IntVar(&flags.warmup, "warmup", -1, "warmup steps before the branch point (default from config)")
	return cmd
}

// env bundles the wired collaborators every command needs.
type env struct {
	cfg      *config.Config
	logger   logging.Logger
	provider llm.Provider
	decider  sim.Decider
}

func setup(flags *cliFlags) (*env, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	if flags.verbose {
		logging.SetLevel(logging.LevelDebug)
	}
	logger := logging.NewComponentLogger("cli")

	var provider llm.Provider
	if flags.dryRun {
		provider = llm.FixedProvider(newDryRunClient())
	} else {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("no api_key configured; set COUNTERFACT_API_KEY or use --dry-run")
		}
		provider = llm.NewRegistry(llm.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Timeout:    cfg.TimeoutSeconds,
			MaxRetries: cfg.RetryAttempts,
		}, cferrors.RetryConfig{
			MaxAttempts: cfg.RetryAttempts,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		})
	}

	return &env{
		cfg:      cfg,
		logger:   logger,
		provider: provider,
		decider:  agents.NewRunner(provider, cfg.AgentModel, agents.WithLogger(logger)),
	}, nil
}

func (e *env) newInterventionRunner(flags *cliFlags, writer *results.Writer) *intervention.Runner {
	warmup := e.cfg.WarmupSteps
	if flags.warmup >= 0 {
		warmup = flags.warmup
	}
	return intervention.NewRunner(
		e.decider,
		policy.NewAgent(e.provider, e.cfg.PolicyModel, policy.WithLogger(e.logger)),
		forecast.NewResolver(e.provider, e.cfg.JudgeModel, forecast.WithLogger(e.logger)),
		intervention.Config{WarmupSteps: warmup, RunBudgetUSD: e.cfg.RunBudgetUSD},
		intervention.WithWriter(writer),
		intervention.WithLogger(e.logger),
	)
}

func runContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printRunSummary(run *intervention.Run) {
	fmt.Printf("%s %s  target=%s  warmup=%d/%d  cost=$%.4f\n",
		green("run"), bold(run.RunID), cyan(run.TargetAgentName), run.WarmupSteps, run.TotalSteps, run.TotalCost)
	fmt.Printf("%s %s\n", yellow("intervention:"), run.InterventionDescription)

	resolved := 0
	var brierSum float64
	for _, f := range run.Forecasts {
		if f.Resolved && f.BrierScore != nil {
			resolved++
			brierSum += *f.BrierScore
		}
	}
	if resolved > 0 {
		fmt.Printf("forecasts: %d/%d resolved, mean Brier %.3f\n", resolved, len(run.Forecasts), brierSum/float64(resolved))
	} else {
		fmt.Printf("forecasts: 0/%d resolved\n", len(run.Forecasts))
	}
}
