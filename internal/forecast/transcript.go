package forecast

import (
	"fmt"
	"sort"
	"strings"

	"counterfact/internal/sim"
)

// RenderTranscript flattens a branch's final state into the plain-text
// record the qualitative judge sees. It is the judge's entire evidence, so
// it carries inventories, the full message history with DMs flagged, the
// action log, and the trade history.
func RenderTranscript(state *sim.SimulationState) string {
	var b strings.Builder

	fmt.Fprintf(&b, "FINAL STATE AFTER STEP %d\n", state.StepNumber)

	b.WriteString("\n== Inventories ==\n")
	agents := make([]string, 0, len(state.Inventories))
	for name := range state.Inventories {
		agents = append(agents, name)
	}
	sort.Strings(agents)
	for _, name := range agents {
		fmt.Fprintf(&b, "%s: %s\n", name, formatInventory(state.Inventories[name]))
	}
	fmt.Fprintf(&b, "environment: %s\n", formatInventory(state.EnvironmentInventory))

	b.WriteString("\n== Messages ==\n")
	if len(state.MessageHistory) == 0 {
		b.WriteString("(none)\n")
	}
	for _, msg := range state.MessageHistory {
		if msg.IsDM() {
			fmt.Fprintf(&b, "[step %d] DM %s -> %s: %s\n", msg.Step, msg.Sender, strings.Join(msg.Recipients, ","), msg.Content)
		} else {
			fmt.Fprintf(&b, "[step %d] #%s %s: %s\n", msg.Step, *msg.Channel, msg.Sender, msg.Content)
		}
	}

	b.WriteString("\n== Actions ==\n")
	if len(state.ActionLog) == 0 {
		b.WriteString("(none)\n")
	}
	for _, action := range state.ActionLog {
		fmt.Fprintf(&b, "%s: %s", action.AgentName, action.ActionName)
		if len(action.Parameters) > 0 {
			keys := make([]string, 0, len(action.Parameters))
			for k := range action.Parameters {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				parts = append(parts, fmt.Sprintf("%s=%s", k, action.Parameters[k]))
			}
			fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
		}
		if action.TradeAcceptanceID != "" {
			fmt.Fprintf(&b, " trade=%s", action.TradeAcceptanceID)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n== Trades ==\n")
	if len(state.TradeHistory) == 0 {
		b.WriteString("(none)\n")
	}
	for _, record := range state.TradeHistory {
		fmt.Fprintf(&b, "[step %d] %s -> %s: %d %s (trade %s)\n",
			record.Step, record.FromAgent, record.ToAgent, record.Quantity, record.ItemName, record.TradeID)
	}

	return b.String()
}

func formatInventory(inv map[string]int) string {
	if len(inv) == 0 {
		return "(empty)"
	}
	items := make([]string, 0, len(inv))
	for item := range inv {
		items = append(items, item)
	}
	sort.Strings(items)
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%s=%d", item, inv[item]))
	}
	return strings.Join(parts, ", ")
}
