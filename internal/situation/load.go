package situation

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and validates a situation from a .json or .yaml/.yml file.
func LoadFile(path string) (*Situation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read situation file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(data)
	default:
		return LoadJSON(data)
	}
}

// LoadJSON parses and validates a situation from JSON.
func LoadJSON(data []byte) (*Situation, error) {
	var s Situation
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid situation JSON: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadYAML parses and validates a situation from YAML by bridging through
// the JSON shape, so the custom JSON unmarshalers stay the single source of
// schema truth.
func LoadYAML(data []byte) (*Situation, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid situation YAML: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid situation YAML structure: %w", err)
	}
	return LoadJSON(jsonData)
}

// Validate fails fast on configuration errors: duplicate agent names,
// dangling references, out-of-range probabilities, and malformed operators.
func (s *Situation) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("situation name is required")
	}
	if s.MaxSteps < 1 {
		return fmt.Errorf("situation %q: max_steps must be >= 1, got %d", s.Name, s.MaxSteps)
	}
	if len(s.Agents) == 0 {
		return fmt.Errorf("situation %q: at least one agent is required", s.Name)
	}

	items := map[string]bool{}
	for _, item := range s.Items {
		if item.Name == "" {
			return fmt.Errorf("situation %q: item with empty name", s.Name)
		}
		if items[item.Name] {
			return fmt.Errorf("situation %q: duplicate item %q", s.Name, item.Name)
		}
		items[item.Name] = true
	}

	agents := map[string]bool{}
	for _, agent := range s.Agents {
		if agent.Name == "" {
			return fmt.Errorf("situation %q: agent with empty name", s.Name)
		}
		if agents[agent.Name] {
			return fmt.Errorf("situation %q: duplicate agent %q", s.Name, agent.Name)
		}
		agents[agent.Name] = true
	}

	for _, agent := range s.Agents {
		for item := range agent.StartingInventory {
			if !items[item] {
				return fmt.Errorf("agent %q: starting inventory references undeclared item %q", agent.Name, item)
			}
		}
		for _, action := range agent.SpecialActions {
			if err := validateAction(action, agents); err != nil {
				return fmt.Errorf("agent %q: %w", agent.Name, err)
			}
		}
		for _, rule := range agent.InventoryRules {
			if err := validateRule(rule); err != nil {
				return fmt.Errorf("agent %q: %w", agent.Name, err)
			}
		}
	}

	for item := range s.Environment.Inventory {
		if !items[item] {
			return fmt.Errorf("environment inventory references undeclared item %q", item)
		}
	}
	for _, action := range s.Environment.GlobalActions {
		if err := validateAction(action, agents); err != nil {
			return fmt.Errorf("global action: %w", err)
		}
	}
	for _, rule := range s.Environment.InventoryRules {
		if err := validateRule(rule); err != nil {
			return fmt.Errorf("environment rule: %w", err)
		}
	}

	channels := map[string]bool{}
	for _, ch := range s.Communication.Channels {
		if ch.Name == "" {
			return fmt.Errorf("channel with empty name")
		}
		if channels[ch.Name] {
			return fmt.Errorf("duplicate channel %q", ch.Name)
		}
		channels[ch.Name] = true
		for _, member := range ch.Members.Names {
			if !agents[member] {
				return fmt.Errorf("channel %q: undeclared member %q", ch.Name, member)
			}
		}
	}
	for _, pair := range s.Communication.DMBlacklist {
		for _, name := range pair {
			if !agents[name] {
				return fmt.Errorf("dm_blacklist references undeclared agent %q", name)
			}
		}
	}

	return nil
}

func validateAction(action ActionDefinition, agents map[string]bool) error {
	if action.Name == "" {
		return fmt.Errorf("action with empty name")
	}
	for _, param := range action.Parameters {
		if !param.Type.Valid() {
			return fmt.Errorf("action %q: parameter %q has invalid type %q", action.Name, param.Name, param.Type)
		}
	}
	for _, member := range action.AvailableTo.Names {
		if !agents[member] {
			return fmt.Errorf("action %q: available_to references undeclared agent %q", action.Name, member)
		}
	}
	return validateEffects(action.Name, action.Effects)
}

func validateRule(rule InventoryRule) error {
	if rule.Name == "" {
		return fmt.Errorf("inventory rule with empty name")
	}
	for _, cond := range rule.Conditions {
		if !cond.Operator.Valid() {
			return fmt.Errorf("rule %q: invalid operator %q", rule.Name, cond.Operator)
		}
	}
	return validateEffects(rule.Name, rule.Effects)
}

func validateEffects(owner string, effects EffectList) error {
	for _, eff := range effects {
		random, ok := eff.(RandomOutcome)
		if !ok {
			continue
		}
		if len(random.Outcomes) == 0 {
			return fmt.Errorf("%q: random_outcome with no outcomes", owner)
		}
		for _, outcome := range random.Outcomes {
			if outcome.Probability < 0 || outcome.Probability > 1 {
				return fmt.Errorf("%q: outcome probability %v out of [0,1]", owner, outcome.Probability)
			}
			if err := validateEffects(owner, outcome.Effects); err != nil {
				return err
			}
		}
	}
	return nil
}
