package sim

import (
	"context"
	"fmt"
	"math/rand"

	"counterfact/internal/cost"
	"counterfact/internal/logging"
	"counterfact/internal/metrics"
	"counterfact/internal/situation"
	id "counterfact/internal/utils/id"
)

// Decider produces one AgentAction per agent per step. The LLM-backed
// implementation lives in the agents package; tests use scripted deciders.
type Decider interface {
	DecideAction(ctx context.Context, sit *situation.Situation, agent *situation.AgentDefinition, state *SimulationState) (*AgentAction, error)
}

// SimulationStep records one tick: every agent's action plus the state
// snapshots around them.
type SimulationStep struct {
	StepNumber          int              `json:"step_number"`
	AgentActions        []AgentAction    `json:"agent_actions"`
	TriggeredEffectsLog []string         `json:"triggered_effects_log"`
	StateBefore         *SimulationState `json:"state_before"`
	StateAfter          *SimulationState `json:"state_after"`
}

// SimulationResult is a completed run: the situation, every step, and the
// final state.
type SimulationResult struct {
	Situation  *situation.Situation `json:"situation"`
	Steps      []SimulationStep     `json:"steps"`
	FinalState *SimulationState     `json:"final_state"`
}

// Simulator drives the step loop: agents act strictly in declaration order,
// then trades expire and step-end rules fire.
type Simulator struct {
	sit     *situation.Situation
	state   *SimulationState
	engine  *Engine
	decider Decider
	logger  logging.Logger
}

// Option configures a Simulator.
type Option func(*simOptions)

type simOptions struct {
	rng    *rand.Rand
	logger logging.Logger
}

// WithRNG injects a seeded random source for reproducible random_outcome
// draws.
func WithRNG(rng *rand.Rand) Option {
	return func(o *simOptions) { o.rng = rng }
}

// WithLogger injects the simulator's logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *simOptions) { o.logger = logger }
}

// NewSimulator builds a simulator over an existing state. Use
// NewInitialState to start from step zero.
func NewSimulator(sit *situation.Situation, state *SimulationState, decider Decider, opts ...Option) *Simulator {
	options := simOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.rng == nil {
		options.rng = rand.New(rand.NewSource(rand.Int63()))
	}
	logger := logging.OrNop(options.logger)
	return &Simulator{
		sit:     sit,
		state:   state,
		engine:  NewEngine(sit, state, options.rng, logger),
		decider: decider,
		logger:  logger,
	}
}

// State returns the live simulation state.
func (s *Simulator) State() *SimulationState {
	return s.state
}

// RunStep executes one tick. Agent decision failures degrade to no_action;
// cost-budget violations and context cancellation abort the step.
func (s *Simulator) RunStep(ctx context.Context) (*SimulationStep, error) {
	s.state.StepNumber++
	stateBefore := s.state.Clone()

	step := &SimulationStep{
		StepNumber:  s.state.StepNumber,
		StateBefore: stateBefore,
	}

	for i := range s.sit.Agents {
		agent := &s.sit.Agents[i]
		action, err := s.decideWithFallback(ctx, agent)
		if err != nil {
			return nil, fmt.Errorf("agent %s decision failed hard: %w", agent.Name, err)
		}

		action.AgentName = agent.Name
		s.state.ActionLog = append(s.state.ActionLog, action.clone())
		step.AgentActions = append(step.AgentActions, action.clone())
		step.TriggeredEffectsLog = append(step.TriggeredEffectsLog, s.dispatch(agent, action)...)
		s.appendMessages(agent.Name, action.MessagesToSend)
	}

	step.TriggeredEffectsLog = append(step.TriggeredEffectsLog, s.engine.ExpireTrades()...)
	step.TriggeredEffectsLog = append(step.TriggeredEffectsLog, s.engine.ProcessStepEndRules()...)

	step.StateAfter = s.state.Clone()
	metrics.SimulationSteps.WithLabelValues(s.sit.Name).Inc()
	return step, nil
}

// decideWithFallback asks the decider for an action, substituting no_action
// on recoverable failures. Budget violations and context cancellation are
// hard errors and propagate.
func (s *Simulator) decideWithFallback(ctx context.Context, agent *situation.AgentDefinition) (*AgentAction, error) {
	action, err := s.decider.DecideAction(ctx, s.sit, agent, s.state)
	if err != nil {
		if cost.IsBudgetExceeded(err) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Warn("agent %s failed to decide, falling back to no_action: %v", agent.Name, err)
		return &AgentAction{AgentName: agent.Name, ActionName: ActionNoAction}, nil
	}
	if action == nil || action.ActionName == "" {
		return &AgentAction{AgentName: agent.Name, ActionName: ActionNoAction}, nil
	}
	return action, nil
}

// dispatch routes one action: built-ins first, then global actions filtered
// by permission, then the agent's special actions. Unknown names are a
// logged no-op.
func (s *Simulator) dispatch(agent *situation.AgentDefinition, action *AgentAction) []string {
	switch action.ActionName {
	case ActionNoAction:
		return nil

	case ActionTradePropose:
		return s.acceptProposal(agent.Name, action.TradeProposal)

	case ActionTradeAccept:
		ok, msg := s.engine.ResolveTrade(action.TradeAcceptanceID, agent.Name)
		if !ok {
			s.logger.Debug("trade_accept by %s failed: %s", agent.Name, msg)
		}
		return []string{msg}

	case ActionTradeReject:
		ok, msg := s.engine.RejectTrade(action.TradeAcceptanceID)
		if !ok {
			s.logger.Debug("trade_reject by %s failed: %s", agent.Name, msg)
		}
		return []string{msg}
	}

	if def, ok := s.lookupAction(agent, action.ActionName); ok {
		return s.engine.ApplyEffects(def.Effects, agent.Name, action.Parameters)
	}
	s.logger.Warn("agent %s invoked unknown action %q, ignoring", agent.Name, action.ActionName)
	return []string{fmt.Sprintf("unknown action %q by %s ignored", action.ActionName, agent.Name)}
}

// lookupAction resolves an action name: environment global actions the agent
// is entitled to first, then the agent's special actions.
func (s *Simulator) lookupAction(agent *situation.AgentDefinition, name string) (*situation.ActionDefinition, bool) {
	for i := range s.sit.Environment.GlobalActions {
		def := &s.sit.Environment.GlobalActions[i]
		if def.Name == name && def.AvailableTo.Contains(agent.Name) {
			return def, true
		}
	}
	for i := range agent.SpecialActions {
		def := &agent.SpecialActions[i]
		if def.Name == name {
			return def, true
		}
	}
	return nil, false
}

// acceptProposal validates and registers a trade proposal.
func (s *Simulator) acceptProposal(proposer string, proposal *TradeProposal) []string {
	if proposal == nil {
		s.logger.Warn("trade_propose by %s without a proposal, ignoring", proposer)
		return []string{fmt.Sprintf("empty trade proposal by %s ignored", proposer)}
	}
	p := proposal.clone()
	p.Proposer = proposer
	if p.ID == "" {
		p.ID = id.NewRunID()
	}
	if s.state.FindTrade(p.ID) != nil {
		p.ID = p.ID + "-" + id.NewRunID()
	}
	if p.ProposedAtStep == 0 {
		p.ProposedAtStep = s.state.StepNumber
	}
	if p.ExpiresAtStep < p.ProposedAtStep {
		p.ExpiresAtStep = p.ProposedAtStep
	}
	// Only declared agents other than the proposer can accept.
	var eligible []string
	for _, name := range p.EligibleAcceptors {
		if name == proposer {
			continue
		}
		if _, ok := s.sit.Agent(name); ok {
			eligible = append(eligible, name)
		}
	}
	p.EligibleAcceptors = eligible
	p.Status = TradePending
	s.state.PendingTrades = append(s.state.PendingTrades, p)
	return []string{fmt.Sprintf("%s proposed trade %s", proposer, p.ID)}
}

// appendMessages validates and appends a step's outgoing messages: channel
// messages must come from members of a declared channel, DMs must respect
// the blacklist and the two-party limit.
func (s *Simulator) appendMessages(sender string, messages []Message) {
	for _, msg := range messages {
		msg.Sender = sender
		msg.Step = s.state.StepNumber

		if msg.Channel != nil {
			channel, ok := s.sit.ChannelByName(*msg.Channel)
			if !ok {
				s.logger.Warn("%s sent to unknown channel %q, dropping", sender, *msg.Channel)
				continue
			}
			if !channel.Members.Contains(sender) {
				s.logger.Warn("%s is not a member of channel %q, dropping", sender, channel.Name)
				continue
			}
			msg.Recipients = s.channelRecipients(channel)
			s.state.MessageHistory = append(s.state.MessageHistory, msg.clone())
			continue
		}

		recipient, ok := s.dmRecipient(sender, msg.Recipients)
		if !ok {
			continue
		}
		msg.Recipients = []string{recipient}
		s.state.MessageHistory = append(s.state.MessageHistory, msg.clone())
	}
}

// channelRecipients expands a channel's member set against declared agents.
func (s *Simulator) channelRecipients(channel *situation.Channel) []string {
	if channel.Members.Everyone {
		return s.sit.AgentNames()
	}
	return append([]string{}, channel.Members.Names...)
}

// dmRecipient validates a DM recipient list down to a single declared,
// non-blacklisted counterparty.
func (s *Simulator) dmRecipient(sender string, recipients []string) (string, bool) {
	var counterparty string
	for _, name := range recipients {
		if name == sender {
			continue
		}
		if counterparty != "" && counterparty != name {
			s.logger.Warn("%s attempted a multi-recipient DM, dropping", sender)
			return "", false
		}
		counterparty = name
	}
	if counterparty == "" {
		s.logger.Warn("%s sent a DM with no recipient, dropping", sender)
		return "", false
	}
	if _, ok := s.sit.Agent(counterparty); !ok {
		s.logger.Warn("%s sent a DM to unknown agent %q, dropping", sender, counterparty)
		return "", false
	}
	if s.sit.DMBlocked(sender, counterparty) {
		s.logger.Warn("DM between %s and %s is blacklisted, dropping", sender, counterparty)
		return "", false
	}
	return counterparty, true
}

// Run executes up to steps ticks and returns the accumulated result. Run is
// expected to execute inside a cost scope; budget violations abort with the
// hard error.
func (s *Simulator) Run(ctx context.Context, steps int) (*SimulationResult, error) {
	if steps <= 0 {
		steps = s.sit.MaxSteps - s.state.StepNumber
	}
	result := &SimulationResult{Situation: s.sit}
	for i := 0; i < steps; i++ {
		step, err := s.RunStep(ctx)
		if err != nil {
			return nil, err
		}
		result.Steps = append(result.Steps, *step)
	}
	result.FinalState = s.state.Clone()
	return result, nil
}
