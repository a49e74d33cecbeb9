// Package situation holds the static, declarative blueprint of a multi-agent
// world: items, agents, channels, actions, and inventory rules. Values here
// are never mutated during a run; all simulation progress lives in the sim
// package's state.
package situation

import (
	"encoding/json"
	"fmt"
)

// Reserved target tokens resolved at effect-application time.
const (
	// TokenActor resolves to the agent invoking the action.
	TokenActor = "actor"
	// TokenEnvironment resolves to the shared environment inventory.
	TokenEnvironment = "environment"
)

// Situation is the static input of a simulation run.
type Situation struct {
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	RulesText     string            `json:"rules_text"`
	Items         []ItemDefinition  `json:"items"`
	Agents        []AgentDefinition `json:"agents"`
	Environment   Environment       `json:"environment"`
	Communication Communication     `json:"communication"`
	MaxSteps      int               `json:"max_steps"`
}

// ItemDefinition declares an item; item names are the keyspace for
// inventories.
type ItemDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Tradable    bool   `json:"tradable"`
}

// PersonaEntry is one key/value pair of an agent's persona. Hidden entries
// are visible only to the agent itself.
type PersonaEntry struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Hidden bool   `json:"hidden"`
}

// AgentDefinition declares a participant. Agent names are unique and used as
// addresses in messages, trades, and effects.
type AgentDefinition struct {
	Name              string             `json:"name"`
	Persona           []PersonaEntry     `json:"persona"`
	StartingInventory map[string]int     `json:"starting_inventory"`
	SpecialActions    []ActionDefinition `json:"special_actions"`
	InventoryRules    []InventoryRule    `json:"inventory_rules"`
	AIModel           string             `json:"ai_model"`
}

// Environment declares the shared world inventory and globally available
// actions and rules.
type Environment struct {
	Description    string             `json:"description"`
	Inventory      map[string]int     `json:"inventory"`
	GlobalActions  []ActionDefinition `json:"global_actions"`
	InventoryRules []InventoryRule    `json:"inventory_rules"`
}

// Communication declares channels and the DM blacklist.
type Communication struct {
	Channels    []Channel   `json:"channels"`
	DMBlacklist [][2]string `json:"dm_blacklist"`
}

// Channel is a named group broadcast.
type Channel struct {
	Name        string    `json:"name"`
	Members     MemberSet `json:"members"`
	Description string    `json:"description"`
}

// MemberSet is either the literal "everyone" or an explicit set of agent
// names. The JSON form is the string "everyone" or an array of names.
type MemberSet struct {
	Everyone bool
	Names    []string
}

// Everyone is the member set covering all agents.
func EveryoneSet() MemberSet {
	return MemberSet{Everyone: true}
}

// MembersOf builds an explicit member set.
func MembersOf(names ...string) MemberSet {
	return MemberSet{Names: names}
}

// Contains reports whether the set includes the given agent name.
func (m MemberSet) Contains(name string) bool {
	if m.Everyone {
		return true
	}
	for _, n := range m.Names {
		if n == name {
			return true
		}
	}
	return false
}

// MarshalJSON emits "everyone" or the explicit name array.
func (m MemberSet) MarshalJSON() ([]byte, error) {
	if m.Everyone {
		return json.Marshal("everyone")
	}
	if m.Names == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(m.Names)
}

// UnmarshalJSON accepts "everyone" or an array of agent names.
func (m *MemberSet) UnmarshalJSON(data []byte) error {
	var everyone string
	if err := json.Unmarshal(data, &everyone); err == nil {
		if everyone != "everyone" {
			return fmt.Errorf("invalid member set %q: expected \"everyone\" or a name array", everyone)
		}
		*m = MemberSet{Everyone: true}
		return nil
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("invalid member set: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	*m = MemberSet{Names: names}
	return nil
}

// ActionDefinition is a named, parameterized bundle of effects.
type ActionDefinition struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parameters  []ActionParameter `json:"parameters"`
	Effects     EffectList        `json:"effects"`
	AvailableTo MemberSet         `json:"available_to"`
}

// ActionParameter declares one parameter of an action.
type ActionParameter struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Type        ParameterType `json:"type"`
}

// ParameterType enumerates the allowed parameter types.
type ParameterType string

const (
	ParamString    ParameterType = "string"
	ParamInt       ParameterType = "int"
	ParamFloat     ParameterType = "float"
	ParamAgentName ParameterType = "agent_name"
	ParamItemName  ParameterType = "item_name"
)

// Valid reports whether the parameter type is one of the declared kinds.
func (p ParameterType) Valid() bool {
	switch p {
	case ParamString, ParamInt, ParamFloat, ParamAgentName, ParamItemName:
		return true
	default:
		return false
	}
}

// InventoryRule fires its effects at step end when all conditions hold.
type InventoryRule struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Conditions  []InventoryCondition `json:"conditions"`
	Effects     EffectList           `json:"effects"`
}

// InventoryCondition compares an item count against a threshold. An empty
// condition list on a rule means always-true.
type InventoryCondition struct {
	ItemName  string   `json:"item_name"`
	Operator  Operator `json:"operator"`
	Threshold int      `json:"threshold"`
}

// Operator is a comparison operator shared by inventory conditions and
// hard-metric forecast criteria.
type Operator string

const (
	OpGTE Operator = ">="
	OpLTE Operator = "<="
	OpEQ  Operator = "=="
	OpGT  Operator = ">"
	OpLT  Operator = "<"
	OpNEQ Operator = "!="
)

// Valid reports whether the operator is in the supported set.
func (o Operator) Valid() bool {
	switch o {
	case OpGTE, OpLTE, OpEQ, OpGT, OpLT, OpNEQ:
		return true
	default:
		return false
	}
}

// Compare evaluates `value <op> threshold`, returning false for unknown
// operators.
func (o Operator) Compare(value, threshold int) bool {
	switch o {
	case OpGTE:
		return value >= threshold
	case OpLTE:
		return value <= threshold
	case OpEQ:
		return value == threshold
	case OpGT:
		return value > threshold
	case OpLT:
		return value < threshold
	case OpNEQ:
		return value != threshold
	default:
		return false
	}
}

// Agent returns the declared agent with the given name.
func (s *Situation) Agent(name string) (*AgentDefinition, bool) {
	for i := range s.Agents {
		if s.Agents[i].Name == name {
			return &s.Agents[i], true
		}
	}
	return nil, false
}

// AgentNames returns all agent names in declaration order.
func (s *Situation) AgentNames() []string {
	names := make([]string, 0, len(s.Agents))
	for _, a := range s.Agents {
		names = append(names, a.Name)
	}
	return names
}

// HasItem reports whether the item is declared.
func (s *Situation) HasItem(name string) bool {
	for _, item := range s.Items {
		if item.Name == name {
			return true
		}
	}
	return false
}

// ChannelByName returns the declared channel with the given name.
func (s *Situation) ChannelByName(name string) (*Channel, bool) {
	for i := range s.Communication.Channels {
		if s.Communication.Channels[i].Name == name {
			return &s.Communication.Channels[i], true
		}
	}
	return nil, false
}

// DMBlocked reports whether direct messages between two agents are
// blacklisted, in either order.
func (s *Situation) DMBlocked(a, b string) bool {
	for _, pair := range s.Communication.DMBlacklist {
		if (pair[0] == a && pair[1] == b) || (pair[0] == b && pair[1] == a) {
			return true
		}
	}
	return false
}
