package agents

import (
	"fmt"
	"sort"
	"strings"

	"counterfact/internal/prompts"
	"counterfact/internal/sim"
	"counterfact/internal/situation"
)

// BuildSystemPrompt returns the fixed framing for agent decision calls.
func BuildSystemPrompt() string {
	return prompts.AgentSystem
}

// BuildUserPrompt assembles the agent's complete view of the world for one
// decision. The output is fully data-derived and deterministic for a given
// (situation, agent, state) triple; nothing hidden from the agent appears
// in it.
func BuildUserPrompt(sit *situation.Situation, agent *situation.AgentDefinition, state *sim.SimulationState) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Situation: %s\n", sit.Name)
	if sit.Description != "" {
		fmt.Fprintf(&b, "%s\n", sit.Description)
	}
	fmt.Fprintf(&b, "\n## Rules\n%s\n", sit.RulesText)
	fmt.Fprintf(&b, "\nCurrent step: %d of %d\n", state.StepNumber, sit.MaxSteps)

	fmt.Fprintf(&b, "\n## You are %s\n", agent.Name)
	for _, entry := range agent.Persona {
		marker := ""
		if entry.Hidden {
			marker = " (known only to you)"
		}
		fmt.Fprintf(&b, "- %s: %s%s\n", entry.Key, entry.Value, marker)
	}

	b.WriteString("\n## Other agents\n")
	for i := range sit.Agents {
		other := &sit.Agents[i]
		if other.Name == agent.Name {
			continue
		}
		fmt.Fprintf(&b, "### %s\n", other.Name)
		for _, entry := range VisiblePersona(agent.Name, other) {
			fmt.Fprintf(&b, "- %s: %s\n", entry.Key, entry.Value)
		}
	}

	b.WriteString("\n## Your inventory\n")
	writeInventory(&b, state.Inventories[agent.Name])
	b.WriteString("\n## Environment inventory\n")
	writeInventory(&b, state.EnvironmentInventory)

	b.WriteString("\n## Channels you can use\n")
	for _, channel := range sit.Communication.Channels {
		if !channel.Members.Contains(agent.Name) {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", channel.Name, channel.Description)
	}

	b.WriteString("\n## Messages you can see\n")
	visible := VisibleMessages(agent.Name, sit, state)
	if len(visible) == 0 {
		b.WriteString("(none yet)\n")
	}
	for _, msg := range visible {
		if msg.IsDM() {
			fmt.Fprintf(&b, "[step %d] DM %s -> %s: %s\n", msg.Step, msg.Sender, strings.Join(msg.Recipients, ","), msg.Content)
		} else {
			fmt.Fprintf(&b, "[step %d] #%s %s: %s\n", msg.Step, *msg.Channel, msg.Sender, msg.Content)
		}
	}

	b.WriteString("\n## Available actions\n")
	b.WriteString("- no_action: do nothing this step\n")
	b.WriteString("- trade_propose: offer a trade (attach trade_proposal)\n")
	b.WriteString("- trade_accept: accept a pending trade by id (attach trade_acceptance_id)\n")
	b.WriteString("- trade_reject: reject a pending trade by id (attach trade_acceptance_id)\n")
	for i := range sit.Environment.GlobalActions {
		def := &sit.Environment.GlobalActions[i]
		if def.AvailableTo.Contains(agent.Name) {
			writeActionCatalogEntry(&b, def)
		}
	}
	for i := range agent.SpecialActions {
		writeActionCatalogEntry(&b, &agent.SpecialActions[i])
	}

	b.WriteString("\n## Trades you may accept\n")
	trades := AcceptableTrades(agent.Name, state)
	if len(trades) == 0 {
		b.WriteString("(none)\n")
	}
	for _, trade := range trades {
		fmt.Fprintf(&b, "- id %s from %s: they give %s, you give %s (expires step %d)\n",
			trade.ID, trade.Proposer, formatBundle(trade.Offering), formatBundle(trade.Requesting), trade.ExpiresAtStep)
	}

	b.WriteString("\nChoose your action now.\n")
	return b.String()
}

func writeActionCatalogEntry(b *strings.Builder, def *situation.ActionDefinition) {
	fmt.Fprintf(b, "- %s: %s", def.Name, def.Description)
	if len(def.Parameters) > 0 {
		var params []string
		for _, p := range def.Parameters {
			params = append(params, fmt.Sprintf("%s (%s)", p.Name, p.Type))
		}
		fmt.Fprintf(b, " [parameters: %s]", strings.Join(params, ", "))
	}
	b.WriteString("\n")
}

func writeInventory(b *strings.Builder, inv map[string]int) {
	if len(inv) == 0 {
		b.WriteString("(empty)\n")
		return
	}
	names := make([]string, 0, len(inv))
	for name := range inv {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(b, "- %s: %d\n", name, inv[name])
	}
}

func formatBundle(bundle map[string]int) string {
	if len(bundle) == 0 {
		return "nothing"
	}
	names := make([]string, 0, len(bundle))
	for name := range bundle {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%d %s", bundle[name], name))
	}
	return strings.Join(parts, ", ")
}
