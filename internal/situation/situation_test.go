package situation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleSituation() *Situation {
	return &Situation{
		Name:        "market",
		Description: "a small market",
		RulesText:   "trade fairly",
		Items: []ItemDefinition{
			{Name: "gold", Description: "currency", Tradable: true},
			{Name: "sword", Description: "a sword", Tradable: true},
		},
		Agents: []AgentDefinition{
			{
				Name: "Alice",
				Persona: []PersonaEntry{
					{Key: "role", Value: "merchant"},
					{Key: "secret", Value: "hoards gold", Hidden: true},
				},
				StartingInventory: map[string]int{"gold": 10, "sword": 1},
				SpecialActions: []ActionDefinition{{
					Name:        "forge",
					Description: "forge a sword for gold",
					Parameters: []ActionParameter{
						{Name: "amount", Description: "gold to spend", Type: ParamInt},
					},
					Effects: EffectList{
						RemoveItem{Target: TokenActor, ItemName: "gold", Quantity: QtyParam("{amount}")},
						AddItem{Target: TokenActor, ItemName: "sword", Quantity: Qty(1)},
					},
					AvailableTo: EveryoneSet(),
				}},
				AIModel: "openai/gpt-4o-mini",
			},
			{
				Name:              "Bob",
				StartingInventory: map[string]int{"gold": 20},
				AIModel:           "openai/gpt-4o-mini",
			},
		},
		Environment: Environment{
			Description: "the market square",
			Inventory:   map[string]int{"gold": 100},
			GlobalActions: []ActionDefinition{{
				Name:        "beg",
				Description: "ask the market for gold",
				Effects: EffectList{
					RandomOutcome{Outcomes: []OutcomeBranch{
						{Probability: 0.5, Description: "success", Effects: EffectList{
							TransferItem{Source: TokenEnvironment, Target: TokenActor, ItemName: "gold", Quantity: Qty(1)},
						}},
						{Probability: 0.5, Description: "nothing happens"},
					}},
				},
				AvailableTo: EveryoneSet(),
			}},
		},
		Communication: Communication{
			Channels: []Channel{
				{Name: "town-square", Members: EveryoneSet(), Description: "public"},
				{Name: "back-room", Members: MembersOf("Alice"), Description: "private"},
			},
		},
		MaxSteps: 10,
	}
}

func TestSituationJSONRoundTrip(t *testing.T) {
	original := sampleSituation()

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Situation
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, *original, decoded)
}

func TestEffectListUsesTypeDiscriminator(t *testing.T) {
	effects := EffectList{
		AddItem{Target: "Alice", ItemName: "gold", Quantity: Qty(5)},
		TransferItem{Source: TokenActor, Target: TokenEnvironment, ItemName: "gold", Quantity: QtyParam("{amount}")},
		MessageEffect{Target: "Alice", MessageText: "done"},
	}

	data, err := json.Marshal(effects)
	require.NoError(t, err)

	var raw []map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Equal(t, "add_item", raw[0]["type"])
	require.Equal(t, float64(5), raw[0]["quantity"])
	require.Equal(t, "transfer_item", raw[1]["type"])
	require.Equal(t, "{amount}", raw[1]["quantity"])
	require.Equal(t, "message", raw[2]["type"])

	var decoded EffectList
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, effects, decoded)
}

func TestEffectListRejectsUnknownType(t *testing.T) {
	var decoded EffectList
	err := json.Unmarshal([]byte(`[{"type":"teleport"}]`), &decoded)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown effect type")
}

func TestMemberSetJSON(t *testing.T) {
	data, err := json.Marshal(EveryoneSet())
	require.NoError(t, err)
	require.JSONEq(t, `"everyone"`, string(data))

	var m MemberSet
	require.NoError(t, json.Unmarshal([]byte(`"everyone"`), &m))
	require.True(t, m.Everyone)
	require.True(t, m.Contains("anyone"))

	require.NoError(t, json.Unmarshal([]byte(`["Alice","Bob"]`), &m))
	require.True(t, m.Contains("Alice"))
	require.False(t, m.Contains("Carol"))

	require.Error(t, json.Unmarshal([]byte(`"someone"`), &m))
}

func TestValidateCatchesConfigurationErrors(t *testing.T) {
	dup := sampleSituation()
	dup.Agents = append(dup.Agents, AgentDefinition{Name: "Alice"})
	require.ErrorContains(t, dup.Validate(), "duplicate agent")

	badItem := sampleSituation()
	badItem.Agents[0].StartingInventory["rune"] = 1
	require.ErrorContains(t, badItem.Validate(), "undeclared item")

	badMember := sampleSituation()
	badMember.Communication.Channels[1].Members = MembersOf("Nobody")
	require.ErrorContains(t, badMember.Validate(), "undeclared member")

	badAvailable := sampleSituation()
	badAvailable.Environment.GlobalActions[0].AvailableTo = MembersOf("Ghost")
	require.ErrorContains(t, badAvailable.Validate(), "available_to")

	badProb := sampleSituation()
	badProb.Environment.GlobalActions[0].Effects = EffectList{
		RandomOutcome{Outcomes: []OutcomeBranch{{Probability: 1.5}}},
	}
	require.ErrorContains(t, badProb.Validate(), "out of [0,1]")

	badSteps := sampleSituation()
	badSteps.MaxSteps = 0
	require.ErrorContains(t, badSteps.Validate(), "max_steps")

	require.NoError(t, sampleSituation().Validate())
}

func TestLoadFileJSONAndYAML(t *testing.T) {
	dir := t.TempDir()

	jsonData, err := json.Marshal(sampleSituation())
	require.NoError(t, err)
	jsonPath := filepath.Join(dir, "market.json")
	require.NoError(t, os.WriteFile(jsonPath, jsonData, 0o644))

	fromJSON, err := LoadFile(jsonPath)
	require.NoError(t, err)
	require.Equal(t, "market", fromJSON.Name)
	require.Len(t, fromJSON.Agents, 2)

	yamlPath := filepath.Join(dir, "market.yaml")
	yamlData := []byte(`
name: tiny
description: tiny world
rules_text: be nice
items:
  - {name: gold, description: currency, tradable: true}
agents:
  - name: Solo
    persona: []
    starting_inventory: {gold: 3}
    special_actions: []
    inventory_rules: []
    ai_model: openai/gpt-4o-mini
environment:
  description: empty
  inventory: {}
  global_actions: []
  inventory_rules: []
communication:
  channels:
    - {name: all, members: everyone, description: public}
  dm_blacklist: []
max_steps: 2
`)
	require.NoError(t, os.WriteFile(yamlPath, yamlData, 0o644))

	fromYAML, err := LoadFile(yamlPath)
	require.NoError(t, err)
	require.Equal(t, "tiny", fromYAML.Name)
	require.Equal(t, 3, fromYAML.Agents[0].StartingInventory["gold"])
	require.True(t, fromYAML.Communication.Channels[0].Members.Everyone)
}

func TestOperatorCompare(t *testing.T) {
	cases := []struct {
		op        Operator
		value     int
		threshold int
		want      bool
	}{
		{OpGTE, 5, 5, true},
		{OpLTE, 4, 5, true},
		{OpEQ, 5, 5, true},
		{OpGT, 5, 5, false},
		{OpLT, 4, 5, true},
		{OpNEQ, 4, 5, true},
		{Operator("~="), 4, 5, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.op.Compare(tc.value, tc.threshold), "%s %d %d", tc.op, tc.value, tc.threshold)
	}
	require.False(t, Operator("~=").Valid())
	require.True(t, OpGTE.Valid())
}

func TestDMBlocked(t *testing.T) {
	s := sampleSituation()
	s.Communication.DMBlacklist = [][2]string{{"Alice", "Bob"}}
	require.True(t, s.DMBlocked("Alice", "Bob"))
	require.True(t, s.DMBlocked("Bob", "Alice"))
	require.False(t, s.DMBlocked("Alice", "Alice"))
}
