package forecast

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"counterfact/internal/cost"
	"counterfact/internal/llm"
	"counterfact/internal/logging"
	"counterfact/internal/prompts"
	"counterfact/internal/sim"

	lru "github.com/hashicorp/golang-lru/v2"
)

// verdictCacheSize bounds the judge cache; a batch judges at most a few
// hundred distinct (transcript, criteria) pairs.
const verdictCacheSize = 512

// Resolver scores forecasts against a branch's final state. Hard-metric
// forecasts resolve deterministically; qualitative ones go through a judge
// model, with identical (transcript, criteria) pairs judged once.
type Resolver struct {
	provider   llm.Provider
	judgeModel string
	logger     logging.Logger
	cache      *lru.Cache[string, bool]
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the resolver's logger.
func WithLogger(logger logging.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// NewResolver builds a resolver that judges qualitative forecasts with the
// given model.
func NewResolver(provider llm.Provider, judgeModel string, opts ...ResolverOption) *Resolver {
	cache, _ := lru.New[string, bool](verdictCacheSize)
	r := &Resolver{
		provider:   provider,
		judgeModel: judgeModel,
		cache:      cache,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger)
	return r
}

// ResolveHardMetric scores one hard-metric forecast against final
// inventories. Missing agents and items count as zero; an invalid operator
// leaves the forecast unresolved.
func ResolveHardMetric(f InterventionForecast, state *sim.SimulationState, logger logging.Logger) InterventionForecast {
	c := f.HardMetricCriteria
	if c == nil {
		logging.OrNop(logger).Warn("hard-metric forecast %q has no criteria, leaving unresolved", f.QuestionTitle)
		return f
	}
	if !c.Operator.Valid() {
		logging.OrNop(logger).Warn("hard-metric forecast %q has unknown operator %q, leaving unresolved", f.QuestionTitle, c.Operator)
		return f
	}
	value := state.ItemCount(c.AgentName, c.ItemName)
	return f.resolved(c.Operator.Compare(value, c.Threshold))
}

// Resolve scores every forecast against the branch's final state and
// returns resolved copies in the same order. A forecast that cannot be
// judged stays unresolved and the rest continue; budget violations abort.
func (r *Resolver) Resolve(ctx context.Context, forecasts []InterventionForecast, state *sim.SimulationState) ([]InterventionForecast, error) {
	transcript := RenderTranscript(state)
	out := make([]InterventionForecast, 0, len(forecasts))
	for _, f := range forecasts {
		switch f.Category {
		case CategoryHardMetric:
			out = append(out, ResolveHardMetric(f, state, r.logger))
		case CategoryQualitative:
			resolved, err := r.judge(ctx, f, transcript)
			if err != nil {
				if cost.IsBudgetExceeded(err) || ctx.Err() != nil {
					return nil, err
				}
				r.logger.Warn("could not judge forecast %q, leaving unresolved: %v", f.QuestionTitle, err)
				out = append(out, f)
				continue
			}
			out = append(out, resolved)
		default:
			r.logger.Warn("forecast %q has unknown category %q, leaving unresolved", f.QuestionTitle, f.Category)
			out = append(out, f)
		}
	}
	return out, nil
}

type judgeVerdict struct {
	ResolvedYes bool   `json:"resolved_yes"`
	Reasoning   string `json:"reasoning"`
}

// judge asks the judge model for a strict yes/no verdict on one qualitative
// forecast, consulting the verdict cache first.
func (r *Resolver) judge(ctx context.Context, f InterventionForecast, transcript string) (InterventionForecast, error) {
	key := verdictKey(f.ResolutionCriteria, transcript)
	if outcome, ok := r.cache.Get(key); ok {
		return f.resolved(outcome), nil
	}

	client, err := r.provider.ClientFor(r.judgeModel)
	if err != nil {
		return f, err
	}
	resp, err := client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			llm.SystemMessage(prompts.JudgeSystem),
			llm.UserMessage("RESOLUTION CRITERIA:\n" + f.ResolutionCriteria + "\n\nQUESTION:\n" + f.QuestionText + "\n\nTRANSCRIPT:\n" + transcript),
		},
		Temperature: 0,
		MaxTokens:   512,
	})
	if err != nil {
		return f, err
	}

	var verdict judgeVerdict
	if err := llm.DecodeJSON(resp.Content, &verdict); err != nil {
		return f, err
	}
	r.cache.Add(key, verdict.ResolvedYes)
	return f.resolved(verdict.ResolvedYes), nil
}

func verdictKey(criteria, transcript string) string {
	sum := sha256.Sum256([]byte(criteria + "\x00" + transcript))
	return hex.EncodeToString(sum[:])
}
