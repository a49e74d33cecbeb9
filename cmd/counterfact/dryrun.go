package main

import (
	"encoding/json"
	"strings"

	"counterfact/internal/llm"
)

// newDryRunClient serves every model role from canned replies so the full
// pipeline runs offline: agents idle, the policy phase emits a minimal valid
// proposal, and the judge resolves no.
func newDryRunClient() llm.Client {
	return &llm.Scripted{ModelName: "dry-run", Script: func(req llm.CompletionRequest) (string, error) {
		system := req.Messages[0].Content
		switch {
		case strings.Contains(system, "policy analyst"):
			return dryRunPolicyReply(req.Messages[len(req.Messages)-1].Content), nil
		case strings.Contains(system, "resolving a forecast"):
			return `{"resolved_yes": false, "reasoning": "dry run judge resolves no"}`, nil
		default:
			return `{"action_name": "no_action"}`, nil
		}
	}}
}

// dryRunPolicyReply builds a contract-satisfying proposal by reading the
// target agent and one declared item back out of the analyst prompt.
func dryRunPolicyReply(prompt string) string {
	target := scanAfter(prompt, "TARGET AGENT: ")
	item := scanItem(prompt)

	hard := map[string]any{
		"question_title":      "dry-run inventory check",
		"question_text":       "will " + target + " hold any " + item,
		"resolution_criteria": target + " ends with " + item + " >= 1",
		"prediction":          0.5,
		"reasoning":           "dry run",
		"category":            "hard_metric",
		"hard_metric_criteria": map[string]any{
			"agent_name": target, "item_name": item, "operator": ">=", "threshold": 1,
		},
	}
	qualitative := map[string]any{
		"question_title":      "dry-run qualitative check",
		"question_text":       "will anything notable happen",
		"resolution_criteria": "the transcript shows a notable event",
		"prediction":          0.5,
		"reasoning":           "dry run",
		"category":            "qualitative",
	}
	branch := []any{hard, hard, hard, qualitative, qualitative, qualitative, qualitative, qualitative}

	data, _ := json.Marshal(map[string]any{
		"goals_analysis":        "dry run: no live analysis",
		"evaluation_criteria":   []string{"wealth", "cooperation", "stability", "fairness"},
		"baseline_forecasts":    branch,
		"intervention":          "Continue as you were; this is a dry run.",
		"conditional_forecasts": branch,
	})
	return string(data)
}

// scanAfter returns the remainder of the first line containing the marker.
func scanAfter(text, marker string) string {
	idx := strings.Index(text, marker)
	if idx < 0 {
		return ""
	}
	rest := text[idx+len(marker):]
	if end := strings.IndexByte(rest, '\n'); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// scanItem returns the first declared item name from the analyst prompt.
func scanItem(prompt string) string {
	idx := strings.Index(prompt, "## Items")
	if idx < 0 {
		return ""
	}
	for _, line := range strings.Split(prompt[idx:], "\n")[1:] {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") {
			name := strings.TrimPrefix(line, "- ")
			if colon := strings.IndexByte(name, ':'); colon >= 0 {
				name = name[:colon]
			}
			return strings.TrimSpace(name)
		}
	}
	return ""
}
