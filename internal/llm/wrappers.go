package llm

import (
	"context"
	"time"

	"counterfact/internal/cost"
	cferrors "counterfact/internal/errors"
	"counterfact/internal/logging"
	"counterfact/internal/metrics"
)

// retryClient wraps an LLM client with retry logic and a circuit breaker.
type retryClient struct {
	underlying  Client
	retryConfig cferrors.RetryConfig
	breaker     *cferrors.CircuitBreaker
	logger      logging.Logger
}

// NewRetryClient wraps an LLM client with retry and circuit breaker logic.
func NewRetryClient(client Client, retryConfig cferrors.RetryConfig, breaker *cferrors.CircuitBreaker) Client {
	return &retryClient{
		underlying:  client,
		retryConfig: retryConfig,
		breaker:     breaker,
		logger:      logging.NewComponentLogger("llm-retry"),
	}
}

// Complete executes the completion with retry logic.
func (c *retryClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	resp, err := cferrors.RetryWithResult(ctx, c.retryConfig, func(ctx context.Context) (*CompletionResponse, error) {
		return cferrors.ExecuteFunc(c.breaker, ctx, func(ctx context.Context) (*CompletionResponse, error) {
			return c.underlying.Complete(ctx, req)
		})
	}, c.logger)
	if err != nil {
		c.logger.Warn("llm request failed after retries (took %v): %v", time.Since(start), err)
		return nil, err
	}
	return resp, nil
}

func (c *retryClient) Model() string {
	return c.underlying.Model()
}

// costTrackedClient enforces budget prechecks and charges observed spend to
// every active cost scope. It is the outermost wrapper so a budget rejection
// never burns a retry attempt.
type costTrackedClient struct {
	underlying Client
	logger     logging.Logger
}

// NewCostTrackedClient wraps a client with budget enforcement, cost
// accounting, and prometheus instrumentation.
func NewCostTrackedClient(client Client) Client {
	return &costTrackedClient{
		underlying: client,
		logger:     logging.NewComponentLogger("llm-cost"),
	}
}

func (c *costTrackedClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := c.underlying.Model()

	estimate := EstimateCost(model, req)
	if err := cost.Precheck(ctx, estimate); err != nil {
		c.logger.Warn("llm call aborted by budget: %v", err)
		metrics.LLMRequests.WithLabelValues(model, "budget_exceeded").Inc()
		return nil, err
	}

	start := time.Now()
	resp, err := c.underlying.Complete(ctx, req)
	metrics.LLMLatency.WithLabelValues(model).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMRequests.WithLabelValues(model, "error").Inc()
		return nil, err
	}

	usd := CostFromUsage(model, resp.Usage)
	resp.Usage.CostUSD = usd
	cost.Charge(ctx, usd)

	metrics.LLMRequests.WithLabelValues(model, "ok").Inc()
	metrics.LLMTokens.WithLabelValues(model, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.LLMTokens.WithLabelValues(model, "completion").Add(float64(resp.Usage.CompletionTokens))
	metrics.LLMCostUSD.WithLabelValues(model).Add(usd)
	return resp, nil
}

func (c *costTrackedClient) Model() string {
	return c.underlying.Model()
}
