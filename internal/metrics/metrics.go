// Package metrics exposes prometheus instrumentation for the simulator and
// the LLM client. Collectors register on the default registry; the external
// runner decides whether to serve them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LLMRequests counts completed LLM calls by model and outcome.
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "counterfact",
		Subsystem: "llm",
		Name:      "requests_total",
		Help:      "LLM completion requests by model and outcome.",
	}, []string{"model", "outcome"})

	// LLMTokens counts prompt and completion tokens by model.
	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "counterfact",
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Tokens consumed by LLM calls, split by direction.",
	}, []string{"model", "direction"})

	// LLMCostUSD accumulates observed LLM spend in USD.
	LLMCostUSD = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "counterfact",
		Subsystem: "llm",
		Name:      "cost_usd_total",
		Help:      "Observed LLM cost in USD by model.",
	}, []string{"model"})

	// LLMLatency observes LLM call latency in seconds.
	LLMLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "counterfact",
		Subsystem: "llm",
		Name:      "request_duration_seconds",
		Help:      "LLM completion latency.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"model"})

	// SimulationSteps counts executed simulation steps by situation.
	SimulationSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "counterfact",
		Subsystem: "sim",
		Name:      "steps_total",
		Help:      "Simulation steps executed.",
	}, []string{"situation"})

	// InterventionRuns counts finished intervention runs by outcome.
	InterventionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "counterfact",
		Subsystem: "intervention",
		Name:      "runs_total",
		Help:      "Intervention runs by outcome.",
	}, []string{"outcome"})
)
