package llm

import (
	"sync"

	cferrors "counterfact/internal/errors"
)

// Provider resolves model names to ready-to-use clients. Agents declare
// their own ai_model, so the simulator needs per-model resolution rather
// than a single client.
type Provider interface {
	ClientFor(model string) (Client, error)
}

// Registry builds and caches fully wrapped HTTP clients per model.
type Registry struct {
	config      Config
	retryConfig cferrors.RetryConfig

	mu      sync.Mutex
	clients map[string]Client
}

// NewRegistry creates a client registry sharing one provider configuration.
func NewRegistry(config Config, retryConfig cferrors.RetryConfig) *Registry {
	return &Registry{
		config:      config,
		retryConfig: retryConfig,
		clients:     make(map[string]Client),
	}
}

// ClientFor returns the cached client for a model, constructing it on first
// use. Clients are wrapped innermost-to-outermost as HTTP -> retry -> cost,
// so budget prechecks run before any retry attempt.
func (r *Registry) ClientFor(model string) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[model]; ok {
		return client, nil
	}

	base, err := NewOpenAIClient(model, r.config)
	if err != nil {
		return nil, err
	}
	breaker := cferrors.NewCircuitBreaker("llm-"+model, cferrors.DefaultCircuitBreakerConfig())
	client := NewCostTrackedClient(NewRetryClient(base, r.retryConfig, breaker))
	r.clients[model] = client
	return client, nil
}

// fixedProvider returns the same client regardless of requested model.
type fixedProvider struct {
	client Client
}

// FixedProvider wraps a single client as a Provider; used with scripted
// clients in tests and dry runs.
func FixedProvider(client Client) Provider {
	return fixedProvider{client: client}
}

func (p fixedProvider) ClientFor(string) (Client, error) {
	return p.client, nil
}
