// Package agents turns situation state into per-agent LLM decisions: a
// visibility filter over messages and personas, deterministic prompt
// assembly, and tolerant parsing of the model's action JSON.
package agents

import (
	"counterfact/internal/sim"
	"counterfact/internal/situation"
)

// VisibleMessages returns the messages an agent is allowed to see: channel
// messages where the agent is a member of the channel, and direct messages
// addressed to or sent by the agent.
func VisibleMessages(agent string, sit *situation.Situation, state *sim.SimulationState) []sim.Message {
	var visible []sim.Message
	for _, msg := range state.MessageHistory {
		if msg.Channel != nil {
			channel, ok := sit.ChannelByName(*msg.Channel)
			if ok && channel.Members.Contains(agent) {
				visible = append(visible, msg)
			}
			continue
		}
		if msg.Sender == agent {
			visible = append(visible, msg)
			continue
		}
		for _, recipient := range msg.Recipients {
			if recipient == agent {
				visible = append(visible, msg)
				break
			}
		}
	}
	return visible
}

// VisiblePersona returns the persona entries of target that viewer may see.
// Hidden entries are visible only to the target itself; this is the sole
// hidden-information mechanism.
func VisiblePersona(viewer string, target *situation.AgentDefinition) []situation.PersonaEntry {
	var visible []situation.PersonaEntry
	for _, entry := range target.Persona {
		if !entry.Hidden || viewer == target.Name {
			visible = append(visible, entry)
		}
	}
	return visible
}

// AcceptableTrades returns the pending, unexpired trades the agent is
// eligible to accept.
func AcceptableTrades(agent string, state *sim.SimulationState) []sim.TradeProposal {
	var trades []sim.TradeProposal
	for _, trade := range state.PendingTrades {
		if trade.Status != sim.TradePending || state.StepNumber > trade.ExpiresAtStep {
			continue
		}
		for _, name := range trade.EligibleAcceptors {
			if name == agent {
				trades = append(trades, trade)
				break
			}
		}
	}
	return trades
}
