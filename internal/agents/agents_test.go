package agents

import (
	"context"
	"strings"
	"testing"

	"counterfact/internal/llm"
	"counterfact/internal/sim"
	"counterfact/internal/situation"

	"github.com/stretchr/testify/require"
)

func villageSituation() *situation.Situation {
	return &situation.Situation{
		Name:      "village",
		RulesText: "barter and survive",
		Items: []situation.ItemDefinition{
			{Name: "gold", Tradable: true},
			{Name: "bread", Tradable: true},
		},
		Agents: []situation.AgentDefinition{
			{
				Name: "Alice",
				Persona: []situation.PersonaEntry{
					{Key: "role", Value: "baker"},
					{Key: "secret", Value: "hoards gold", Hidden: true},
				},
				StartingInventory: map[string]int{"gold": 10},
			},
			{Name: "Bob", Persona: []situation.PersonaEntry{{Key: "role", Value: "miner"}}},
			{Name: "Carol"},
		},
		Environment: situation.Environment{Inventory: map[string]int{"bread": 3}},
		Communication: situation.Communication{
			Channels: []situation.Channel{
				{Name: "square", Members: situation.EveryoneSet(), Description: "public square"},
				{Name: "guild", Members: situation.MembersOf("Alice", "Bob"), Description: "guild hall"},
			},
		},
		MaxSteps: 5,
	}
}

func villageState(sit *situation.Situation) *sim.SimulationState {
	state := sim.NewInitialState(sit)
	state.StepNumber = 2
	state.MessageHistory = append(state.MessageHistory,
		sim.Message{Step: 1, Sender: "Alice", Channel: sim.ChannelName("square"), Recipients: []string{"Alice", "Bob", "Carol"}, Content: "hello square"},
		sim.Message{Step: 1, Sender: "Alice", Channel: sim.ChannelName("guild"), Recipients: []string{"Alice", "Bob"}, Content: "guild only"},
		sim.Message{Step: 2, Sender: "Bob", Channel: nil, Recipients: []string{"Carol"}, Content: "psst carol"},
	)
	return state
}

func TestVisibleMessages(t *testing.T) {
	sit := villageSituation()
	state := villageState(sit)

	carol := VisibleMessages("Carol", sit, state)
	require.Len(t, carol, 2)
	require.Equal(t, "hello square", carol[0].Content)
	require.Equal(t, "psst carol", carol[1].Content)

	// Bob sees the guild channel and his own outgoing DM.
	bob := VisibleMessages("Bob", sit, state)
	require.Len(t, bob, 3)

	alice := VisibleMessages("Alice", sit, state)
	require.Len(t, alice, 2)
	for _, msg := range alice {
		require.NotEqual(t, "psst carol", msg.Content)
	}
}

func TestVisiblePersonaHidesHiddenEntries(t *testing.T) {
	sit := villageSituation()
	alice, _ := sit.Agent("Alice")

	forBob := VisiblePersona("Bob", alice)
	require.Len(t, forBob, 1)
	require.Equal(t, "role", forBob[0].Key)

	forSelf := VisiblePersona("Alice", alice)
	require.Len(t, forSelf, 2)
}

func TestAcceptableTradesFiltering(t *testing.T) {
	sit := villageSituation()
	state := villageState(sit)
	state.PendingTrades = []sim.TradeProposal{
		{ID: "open", Proposer: "Alice", EligibleAcceptors: []string{"Bob"}, ExpiresAtStep: 5, Status: sim.TradePending},
		{ID: "stale", Proposer: "Alice", EligibleAcceptors: []string{"Bob"}, ExpiresAtStep: 1, Status: sim.TradePending},
		{ID: "done", Proposer: "Alice", EligibleAcceptors: []string{"Bob"}, ExpiresAtStep: 5, Status: sim.TradeAccepted},
		{ID: "other", Proposer: "Alice", EligibleAcceptors: []string{"Carol"}, ExpiresAtStep: 5, Status: sim.TradePending},
	}

	trades := AcceptableTrades("Bob", state)
	require.Len(t, trades, 1)
	require.Equal(t, "open", trades[0].ID)
}

func TestBuildUserPromptIsDeterministicAndLeakFree(t *testing.T) {
	sit := villageSituation()
	state := villageState(sit)
	alice, _ := sit.Agent("Alice")
	bob, _ := sit.Agent("Bob")

	alicePrompt := BuildUserPrompt(sit, alice, state)
	require.Equal(t, alicePrompt, BuildUserPrompt(sit, alice, state))

	// Alice sees her own hidden persona; Bob must not.
	require.Contains(t, alicePrompt, "hoards gold")
	require.NotContains(t, BuildUserPrompt(sit, bob, state), "hoards gold")

	// Carol is outside the guild channel and the catalog reflects it.
	carol, _ := sit.Agent("Carol")
	carolPrompt := BuildUserPrompt(sit, carol, state)
	require.NotContains(t, carolPrompt, "guild only")
	require.Contains(t, carolPrompt, "psst carol")
	require.Contains(t, carolPrompt, "no_action")
}

func TestBuildUserPromptListsEntitledActionsOnly(t *testing.T) {
	sit := villageSituation()
	sit.Environment.GlobalActions = []situation.ActionDefinition{
		{Name: "forage", Description: "gather bread", AvailableTo: situation.EveryoneSet()},
		{Name: "mine", Description: "dig gold", AvailableTo: situation.MembersOf("Bob")},
	}
	sit.Agents[0].SpecialActions = []situation.ActionDefinition{
		{Name: "bake", Description: "turn gold into bread", Parameters: []situation.ActionParameter{
			{Name: "loaves", Type: situation.ParamInt},
		}},
	}
	state := villageState(sit)
	alice, _ := sit.Agent("Alice")

	prompt := BuildUserPrompt(sit, alice, state)
	require.Contains(t, prompt, "forage")
	require.Contains(t, prompt, "bake")
	require.Contains(t, prompt, "loaves (int)")
	require.NotContains(t, prompt, "mine: dig gold")
}

func TestParseActionCleanAndFenced(t *testing.T) {
	action, err := ParseAction(`{"action_name":"no_action"}`)
	require.NoError(t, err)
	require.Equal(t, sim.ActionNoAction, action.ActionName)

	fenced := "Here is my choice:\n```json\n" +
		`{"action_name":"bake","parameters":{"loaves":3},"messages_to_send":[{"channel":"square","recipients":[],"content":"fresh bread"}]}` +
		"\n```"
	action, err = ParseAction(fenced)
	require.NoError(t, err)
	require.Equal(t, "bake", action.ActionName)
	require.Equal(t, map[string]string{"loaves": "3"}, action.Parameters)
	require.Len(t, action.MessagesToSend, 1)
	require.Equal(t, "square", *action.MessagesToSend[0].Channel)
}

func TestParseActionRepairsBrokenJSON(t *testing.T) {
	action, err := ParseAction(`{"action_name": "trade_accept", "trade_acceptance_id": "t1",}`)
	require.NoError(t, err)
	require.Equal(t, sim.ActionTradeAccept, action.ActionName)
	require.Equal(t, "t1", action.TradeAcceptanceID)
}

func TestParseActionRejectsNonsense(t *testing.T) {
	_, err := ParseAction("I think I will just wait this turn.")
	require.Error(t, err)

	_, err = ParseAction(`{"parameters":{}}`)
	require.Error(t, err)
}

func TestRunnerDecidesViaModel(t *testing.T) {
	sit := villageSituation()
	state := villageState(sit)
	alice, _ := sit.Agent("Alice")

	client := llm.NewScripted("test-model",
		`{"action_name":"trade_propose","trade_proposal":{"eligible_acceptors":["Bob"],"offering":{"gold":2},"requesting":{"bread":1},"expires_at_step":4}}`)
	runner := NewRunner(llm.FixedProvider(client), "test-model")

	action, err := runner.DecideAction(context.Background(), sit, alice, state)
	require.NoError(t, err)
	require.Equal(t, "Alice", action.AgentName)
	require.Equal(t, sim.ActionTradePropose, action.ActionName)
	require.Equal(t, map[string]int{"gold": 2}, action.TradeProposal.Offering)
	require.Equal(t, 1, client.Calls())
}

func TestRunnerFallsBackOnUnparseableReply(t *testing.T) {
	sit := villageSituation()
	state := villageState(sit)
	alice, _ := sit.Agent("Alice")

	client := llm.NewScripted("test-model", "sorry, I cannot decide")
	runner := NewRunner(llm.FixedProvider(client), "test-model")

	action, err := runner.DecideAction(context.Background(), sit, alice, state)
	require.NoError(t, err)
	require.Equal(t, sim.ActionNoAction, action.ActionName)
}

func TestRunnerSendsSituationView(t *testing.T) {
	sit := villageSituation()
	state := villageState(sit)
	alice, _ := sit.Agent("Alice")

	client := &llm.Scripted{ModelName: "test-model", Script: func(req llm.CompletionRequest) (string, error) {
		require.Len(t, req.Messages, 2)
		require.True(t, strings.Contains(req.Messages[1].Content, "village"))
		require.True(t, strings.Contains(req.Messages[1].Content, "gold: 10"))
		return `{"action_name":"no_action"}`, nil
	}}
	runner := NewRunner(llm.FixedProvider(client), "test-model")

	_, err := runner.DecideAction(context.Background(), sit, alice, state)
	require.NoError(t, err)
}
