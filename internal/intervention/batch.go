package intervention

import (
	"context"

	"golang.org/x/sync/errgroup"

	"counterfact/internal/cost"
	"counterfact/internal/situation"
)

// BatchConfig controls a multi-situation fanout.
type BatchConfig struct {
	RunsPerSituation int
	Concurrency      int
	BatchBudgetUSD   float64
}

// ExecuteBatch runs every situation RunsPerSituation times with bounded
// concurrency. Each run carries its own nested cost scope inside the batch
// scope; a failed run is recorded in its own record and never cancels
// siblings. The returned slice holds one Run per attempt, ordered by
// situation then attempt.
func (r *Runner) ExecuteBatch(ctx context.Context, situations []*situation.Situation, config BatchConfig) []*Run {
	if config.RunsPerSituation <= 0 {
		config.RunsPerSituation = 1
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}

	ctx, scope := cost.WithScope(ctx, "batch", config.BatchBudgetUSD)
	defer func() {
		if err := scope.Close(); err != nil {
			r.logger.Warn("batch closed over budget: %v", err)
		}
	}()

	runs := make([]*Run, len(situations)*config.RunsPerSituation)
	var group errgroup.Group
	group.SetLimit(config.Concurrency)

	for i, sit := range situations {
		for j := 0; j < config.RunsPerSituation; j++ {
			slot := i*config.RunsPerSituation + j
			sit := sit
			group.Go(func() error {
				run, err := r.Execute(ctx, sit)
				if err != nil {
					r.logger.Error("run %s on %s failed: %v", run.RunID, sit.Name, err)
					if r.writer != nil {
						if writeErr := r.writer.AppendRecord(run); writeErr != nil {
							r.logger.Warn("could not record failed run %s: %v", run.RunID, writeErr)
						}
					}
				}
				runs[slot] = run
				return nil
			})
		}
	}
	_ = group.Wait()

	r.logger.Info("batch finished: %d runs, $%.4f spent", len(runs), scope.Spent())
	return runs
}
