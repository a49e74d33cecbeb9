package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// ModelPricing holds USD prices per million tokens.
type ModelPricing struct {
	PromptPerMTok     float64
	CompletionPerMTok float64
}

// Providers that report observed cost (OpenRouter) take precedence; this
// table backs the pre-call estimate and providers that only report tokens.
var defaultPricing = map[string]ModelPricing{
	"openai/gpt-4o":             {PromptPerMTok: 2.50, CompletionPerMTok: 10.00},
	"openai/gpt-4o-mini":        {PromptPerMTok: 0.15, CompletionPerMTok: 0.60},
	"openai/gpt-4.1":            {PromptPerMTok: 2.00, CompletionPerMTok: 8.00},
	"openai/gpt-4.1-mini":       {PromptPerMTok: 0.40, CompletionPerMTok: 1.60},
	"anthropic/claude-sonnet-4": {PromptPerMTok: 3.00, CompletionPerMTok: 15.00},
	"anthropic/claude-haiku-3.5": {
		PromptPerMTok: 0.80, CompletionPerMTok: 4.00,
	},
}

// fallbackPricing is used for models missing from the table so estimates
// stay conservative rather than zero.
var fallbackPricing = ModelPricing{PromptPerMTok: 5.00, CompletionPerMTok: 15.00}

var (
	pricingMu        sync.RWMutex
	pricingOverrides = map[string]ModelPricing{}
)

// SetPricing overrides the pricing table entry for a model.
func SetPricing(model string, pricing ModelPricing) {
	pricingMu.Lock()
	pricingOverrides[model] = pricing
	pricingMu.Unlock()
}

// PricingFor returns the pricing for a model, falling back to a conservative
// default for unknown models.
func PricingFor(model string) ModelPricing {
	pricingMu.RLock()
	if p, ok := pricingOverrides[model]; ok {
		pricingMu.RUnlock()
		return p
	}
	pricingMu.RUnlock()
	if p, ok := defaultPricing[model]; ok {
		return p
	}
	return fallbackPricing
}

// CostFromUsage converts token usage into USD for the given model. When the
// provider already reported an observed cost, that value wins.
func CostFromUsage(model string, usage TokenUsage) float64 {
	if usage.CostUSD > 0 {
		return usage.CostUSD
	}
	pricing := PricingFor(model)
	return float64(usage.PromptTokens)*pricing.PromptPerMTok/1e6 +
		float64(usage.CompletionTokens)*pricing.CompletionPerMTok/1e6
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// countTokens estimates the token count of text using the cl100k_base
// encoding. Falls back to a chars/4 heuristic when the encoding cannot be
// loaded (e.g. offline without a cached BPE file).
func countTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return len(text)/4 + 1
	}
	return len(encoding.Encode(text, nil, nil))
}

// EstimateCost computes a pre-call USD upper bound for a request: prompt
// tokens counted with tiktoken plus the full MaxTokens completion allowance.
func EstimateCost(model string, req CompletionRequest) float64 {
	var prompt strings.Builder
	for _, msg := range req.Messages {
		prompt.WriteString(msg.Content)
		prompt.WriteString("\n")
	}
	promptTokens := countTokens(prompt.String())
	completionTokens := req.MaxTokens
	if completionTokens <= 0 {
		completionTokens = 4096
	}
	pricing := PricingFor(model)
	return float64(promptTokens)*pricing.PromptPerMTok/1e6 +
		float64(completionTokens)*pricing.CompletionPerMTok/1e6
}
