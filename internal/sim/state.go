// Package sim owns the mutable simulation state, the effect interpreter,
// and the step loop. The state is mutated only here; branches operate on
// structural deep copies that share nothing with the original.
package sim

import (
	"sort"

	"counterfact/internal/situation"
)

// TradeStatus is the lifecycle state of a trade proposal.
type TradeStatus string

const (
	TradePending  TradeStatus = "pending"
	TradeAccepted TradeStatus = "accepted"
	TradeRejected TradeStatus = "rejected"
	TradeExpired  TradeStatus = "expired"
)

// Message is one entry of the message history. A nil Channel means a direct
// message.
type Message struct {
	Step       int      `json:"step"`
	Sender     string   `json:"sender"`
	Channel    *string  `json:"channel"`
	Recipients []string `json:"recipients"`
	Content    string   `json:"content"`
}

// IsDM reports whether the message is a direct message.
func (m Message) IsDM() bool {
	return m.Channel == nil
}

// TradeProposal is an open offer from one agent to a set of eligible
// acceptors.
type TradeProposal struct {
	ID                string         `json:"id"`
	Proposer          string         `json:"proposer"`
	EligibleAcceptors []string       `json:"eligible_acceptors"`
	Offering          map[string]int `json:"offering"`
	Requesting        map[string]int `json:"requesting"`
	ProposedAtStep    int            `json:"proposed_at_step"`
	ExpiresAtStep     int            `json:"expires_at_step"`
	Status            TradeStatus    `json:"status"`
}

// TradeRecord is one directed item movement of a resolved trade.
type TradeRecord struct {
	ItemName  string `json:"item_name"`
	Quantity  int    `json:"quantity"`
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent"`
	Step      int    `json:"step"`
	TradeID   string `json:"trade_id"`
}

// AgentAction is the decoded decision of one agent for one step.
type AgentAction struct {
	AgentName         string            `json:"agent_name"`
	ActionName        string            `json:"action_name"`
	Parameters        map[string]string `json:"parameters,omitempty"`
	MessagesToSend    []Message         `json:"messages_to_send,omitempty"`
	TradeProposal     *TradeProposal    `json:"trade_proposal,omitempty"`
	TradeAcceptanceID string            `json:"trade_acceptance_id,omitempty"`
}

// Built-in action names every agent always has.
const (
	ActionNoAction     = "no_action"
	ActionTradePropose = "trade_propose"
	ActionTradeAccept  = "trade_accept"
	ActionTradeReject  = "trade_reject"
)

// SimulationState is the single mutable carrier of simulation progress.
// Inventory counts are strictly positive; items at count zero are removed.
type SimulationState struct {
	StepNumber           int                       `json:"step_number"`
	Inventories          map[string]map[string]int `json:"inventories"`
	EnvironmentInventory map[string]int            `json:"environment_inventory"`
	MessageHistory       []Message                 `json:"message_history"`
	PendingTrades        []TradeProposal           `json:"pending_trades"`
	TradeHistory         []TradeRecord             `json:"trade_history"`
	ActionLog            []AgentAction             `json:"action_log"`
}

// NewInitialState builds a step-0 state from the situation's starting
// inventories, dropping zero and negative entries.
func NewInitialState(sit *situation.Situation) *SimulationState {
	state := &SimulationState{
		StepNumber:           0,
		Inventories:          make(map[string]map[string]int, len(sit.Agents)),
		EnvironmentInventory: copyPositive(sit.Environment.Inventory),
		MessageHistory:       []Message{},
		PendingTrades:        []TradeProposal{},
		TradeHistory:         []TradeRecord{},
		ActionLog:            []AgentAction{},
	}
	for _, agent := range sit.Agents {
		state.Inventories[agent.Name] = copyPositive(agent.StartingInventory)
	}
	return state
}

// ItemCount returns the count of an item in an agent's inventory; missing
// agents and items count as zero.
func (s *SimulationState) ItemCount(agent, item string) int {
	return s.Inventories[agent][item]
}

// InventoryOf returns the live inventory map for an agent, creating it if
// absent. The environment token resolves to the environment inventory.
func (s *SimulationState) InventoryOf(name string) map[string]int {
	if name == situation.TokenEnvironment {
		return s.EnvironmentInventory
	}
	inv, ok := s.Inventories[name]
	if !ok {
		inv = map[string]int{}
		s.Inventories[name] = inv
	}
	return inv
}

// FindTrade returns the pending-trade slot with the given ID.
func (s *SimulationState) FindTrade(id string) *TradeProposal {
	for i := range s.PendingTrades {
		if s.PendingTrades[i].ID == id {
			return &s.PendingTrades[i]
		}
	}
	return nil
}

// Clone returns a structural deep copy sharing no references with the
// receiver. Branch isolation depends on this.
func (s *SimulationState) Clone() *SimulationState {
	clone := &SimulationState{
		StepNumber:           s.StepNumber,
		Inventories:          make(map[string]map[string]int, len(s.Inventories)),
		EnvironmentInventory: copyCounts(s.EnvironmentInventory),
		MessageHistory:       make([]Message, len(s.MessageHistory)),
		PendingTrades:        make([]TradeProposal, len(s.PendingTrades)),
		TradeHistory:         append([]TradeRecord{}, s.TradeHistory...),
		ActionLog:            make([]AgentAction, len(s.ActionLog)),
	}
	for agent, inv := range s.Inventories {
		clone.Inventories[agent] = copyCounts(inv)
	}
	for i, msg := range s.MessageHistory {
		clone.MessageHistory[i] = msg.clone()
	}
	for i, trade := range s.PendingTrades {
		clone.PendingTrades[i] = trade.clone()
	}
	for i, action := range s.ActionLog {
		clone.ActionLog[i] = action.clone()
	}
	return clone
}

func (m Message) clone() Message {
	clone := m
	if m.Channel != nil {
		channel := *m.Channel
		clone.Channel = &channel
	}
	clone.Recipients = copyStrings(m.Recipients)
	return clone
}

func (p TradeProposal) clone() TradeProposal {
	clone := p
	clone.EligibleAcceptors = copyStrings(p.EligibleAcceptors)
	clone.Offering = copyCounts(p.Offering)
	clone.Requesting = copyCounts(p.Requesting)
	return clone
}

func (a AgentAction) clone() AgentAction {
	clone := a
	if a.Parameters != nil {
		clone.Parameters = make(map[string]string, len(a.Parameters))
		for k, v := range a.Parameters {
			clone.Parameters[k] = v
		}
	}
	if a.MessagesToSend != nil {
		clone.MessagesToSend = make([]Message, len(a.MessagesToSend))
		for i, msg := range a.MessagesToSend {
			clone.MessagesToSend[i] = msg.clone()
		}
	}
	if a.TradeProposal != nil {
		proposal := a.TradeProposal.clone()
		clone.TradeProposal = &proposal
	}
	return clone
}

// copyStrings deep-copies a string slice, preserving nil.
func copyStrings(src []string) []string {
	if src == nil {
		return nil
	}
	return append([]string{}, src...)
}

// copyCounts deep-copies a count map, preserving nil.
func copyCounts(src map[string]int) map[string]int {
	if src == nil {
		return nil
	}
	dst := make(map[string]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copyPositive(src map[string]int) map[string]int {
	dst := make(map[string]int, len(src))
	for k, v := range src {
		if v > 0 {
			dst[k] = v
		}
	}
	return dst
}

// sortedItems returns inventory item names in stable order for transcripts
// and logs.
func sortedItems(inv map[string]int) []string {
	items := make([]string, 0, len(inv))
	for item := range inv {
		items = append(items, item)
	}
	sort.Strings(items)
	return items
}

// ChannelName boxes a channel name for Message.Channel.
func ChannelName(name string) *string {
	return &name
}
