package agents

import (
	"context"
	"fmt"
	"strconv"

	"counterfact/internal/llm"
	"counterfact/internal/logging"
	"counterfact/internal/sim"
	"counterfact/internal/situation"
)

// Runner is the LLM-backed sim.Decider: one completion per agent per step.
type Runner struct {
	provider     llm.Provider
	defaultModel string
	temperature  float64
	maxTokens    int
	logger       logging.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTemperature sets the sampling temperature for decision calls.
func WithTemperature(t float64) RunnerOption {
	return func(r *Runner) { r.temperature = t }
}

// WithMaxTokens caps the decision response length.
func WithMaxTokens(n int) RunnerOption {
	return func(r *Runner) { r.maxTokens = n }
}

// WithLogger sets the runner's logger.
func WithLogger(logger logging.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner builds a decision runner. defaultModel is used for agents whose
// definition does not name an ai_model.
func NewRunner(provider llm.Provider, defaultModel string, opts ...RunnerOption) *Runner {
	r := &Runner{
		provider:     provider,
		defaultModel: defaultModel,
		temperature:  0.7,
		maxTokens:    1024,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger)
	return r
}

// DecideAction prompts the agent's model and parses the reply into an
// action. Transport errors propagate to the caller (the simulator decides
// the fallback); parse failures degrade to no_action here because the model
// did answer, just not usably.
func (r *Runner) DecideAction(ctx context.Context, sit *situation.Situation, agent *situation.AgentDefinition, state *sim.SimulationState) (*sim.AgentAction, error) {
	model := agent.AIModel
	if model == "" {
		model = r.defaultModel
	}
	client, err := r.provider.ClientFor(model)
	if err != nil {
		return nil, fmt.Errorf("no client for model %s: %w", model, err)
	}

	resp, err := client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			llm.SystemMessage(BuildSystemPrompt()),
			llm.UserMessage(BuildUserPrompt(sit, agent, state)),
		},
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
	})
	if err != nil {
		return nil, err
	}

	action, err := ParseAction(resp.Content)
	if err != nil {
		r.logger.Warn("agent %s produced an unparseable action, using no_action: %v", agent.Name, err)
		return &sim.AgentAction{AgentName: agent.Name, ActionName: sim.ActionNoAction}, nil
	}
	action.AgentName = agent.Name
	return action, nil
}

// wireAction is the tolerant decode target for model output. Parameters
// arrive as arbitrary JSON scalars and are stringified for the effect
// engine's substitution.
type wireAction struct {
	ActionName        string             `json:"action_name"`
	Parameters        map[string]any     `json:"parameters"`
	MessagesToSend    []wireMessage      `json:"messages_to_send"`
	TradeProposal     *sim.TradeProposal `json:"trade_proposal"`
	TradeAcceptanceID string             `json:"trade_acceptance_id"`
}

type wireMessage struct {
	Channel    *string  `json:"channel"`
	Recipients []string `json:"recipients"`
	Content    string   `json:"content"`
}

// ParseAction decodes a model response into an AgentAction. Repairable JSON
// is repaired; a missing action_name is an error.
func ParseAction(content string) (*sim.AgentAction, error) {
	var wire wireAction
	if err := llm.DecodeJSON(content, &wire); err != nil {
		return nil, err
	}
	if wire.ActionName == "" {
		return nil, fmt.Errorf("response has no action_name")
	}

	action := &sim.AgentAction{
		ActionName:        wire.ActionName,
		TradeProposal:     wire.TradeProposal,
		TradeAcceptanceID: wire.TradeAcceptanceID,
	}
	if len(wire.Parameters) > 0 {
		action.Parameters = make(map[string]string, len(wire.Parameters))
		for key, value := range wire.Parameters {
			action.Parameters[key] = stringifyParam(value)
		}
	}
	for _, msg := range wire.MessagesToSend {
		action.MessagesToSend = append(action.MessagesToSend, sim.Message{
			Channel:    msg.Channel,
			Recipients: msg.Recipients,
			Content:    msg.Content,
		})
	}
	return action, nil
}

// stringifyParam normalizes JSON scalars to the string form the parameter
// substitution expects. Whole floats render without the trailing ".0" so
// integer quantities parse.
func stringifyParam(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
