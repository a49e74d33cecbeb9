package sim

import (
	"math/rand"
	"testing"

	"counterfact/internal/situation"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, seed int64) (*Engine, *SimulationState) {
	t.Helper()
	sit := marketSituation()
	state := NewInitialState(sit)
	return NewEngine(sit, state, rand.New(rand.NewSource(seed)), nil), state
}

func TestApplyEffectsAddRemoveTransfer(t *testing.T) {
	engine, state := newTestEngine(t, 1)

	log := engine.ApplyEffects(situation.EffectList{
		situation.AddItem{Target: "Alice", ItemName: "gold", Quantity: situation.Qty(5)},
		situation.RemoveItem{Target: "Bob", ItemName: "gold", Quantity: situation.Qty(30)},
		situation.TransferItem{Source: situation.TokenEnvironment, Target: situation.TokenActor, ItemName: "gold", Quantity: situation.Qty(7)},
	}, "Alice", nil)

	require.Len(t, log, 3)
	require.Equal(t, 22, state.ItemCount("Alice", "gold"))
	// remove_item never goes negative: only the 20 held are removed.
	require.Equal(t, 0, state.ItemCount("Bob", "gold"))
	require.NotContains(t, state.Inventories["Bob"], "gold")
	require.Equal(t, 93, state.EnvironmentInventory["gold"])
	require.Contains(t, log[1], "lost 20 gold")
}

func TestApplyEffectsActorAndParameterResolution(t *testing.T) {
	engine, state := newTestEngine(t, 1)

	engine.ApplyEffects(situation.EffectList{
		situation.TransferItem{Source: situation.TokenActor, Target: "{buyer}", ItemName: "{item}", Quantity: situation.QtyParam("{amount}")},
	}, "Alice", map[string]string{"buyer": "Bob", "item": "sword", "amount": "1"})

	require.Equal(t, 0, state.ItemCount("Alice", "sword"))
	require.Equal(t, 1, state.ItemCount("Bob", "sword"))
}

func TestApplyEffectsMalformedQuantityDefaultsToZero(t *testing.T) {
	engine, state := newTestEngine(t, 1)

	engine.ApplyEffects(situation.EffectList{
		situation.AddItem{Target: "Alice", ItemName: "gold", Quantity: situation.QtyParam("{amount}")},
	}, "Alice", map[string]string{"amount": "lots"})

	require.Equal(t, 10, state.ItemCount("Alice", "gold"))
}

func TestApplyEffectsUnknownTargetIsLoggedNoOp(t *testing.T) {
	engine, state := newTestEngine(t, 1)

	log := engine.ApplyEffects(situation.EffectList{
		situation.AddItem{Target: "Mallory", ItemName: "gold", Quantity: situation.Qty(5)},
	}, "Alice", nil)

	require.Contains(t, log[0], "unknown target")
	require.NotContains(t, state.Inventories, "Mallory")
}

func TestRandomOutcomeDeterministicUnderSeed(t *testing.T) {
	outcome := situation.RandomOutcome{Outcomes: []situation.OutcomeBranch{
		{Probability: 0.5, Description: "win", Effects: situation.EffectList{
			situation.AddItem{Target: "Alice", ItemName: "gold", Quantity: situation.Qty(10)},
		}},
		{Probability: 0.5, Description: "lose", Effects: situation.EffectList{
			situation.RemoveItem{Target: "Alice", ItemName: "gold", Quantity: situation.Qty(5)},
		}},
	}}

	run := func() int {
		engine, state := newTestEngine(t, 42)
		engine.ApplyEffects(situation.EffectList{outcome}, "Alice", nil)
		return state.ItemCount("Alice", "gold")
	}

	first := run()
	require.Contains(t, []int{20, 5}, first)
	for i := 0; i < 5; i++ {
		require.Equal(t, first, run())
	}
}

func TestRandomOutcomeFallsBackToLastOutcome(t *testing.T) {
	// Probabilities sum to 0.1; nearly every draw lands past the cumulative
	// range and must use the last outcome.
	outcome := situation.RandomOutcome{Outcomes: []situation.OutcomeBranch{
		{Probability: 0.05, Description: "rare", Effects: situation.EffectList{
			situation.AddItem{Target: "Alice", ItemName: "gold", Quantity: situation.Qty(100)},
		}},
		{Probability: 0.05, Description: "fallback", Effects: situation.EffectList{
			situation.AddItem{Target: "Alice", ItemName: "gold", Quantity: situation.Qty(1)},
		}},
	}}

	sawFallback := false
	for seed := int64(0); seed < 20 && !sawFallback; seed++ {
		engine, state := newTestEngine(t, seed)
		engine.ApplyEffects(situation.EffectList{outcome}, "Alice", nil)
		if state.ItemCount("Alice", "gold") == 11 {
			sawFallback = true
		}
	}
	require.True(t, sawFallback)
}

func TestResolveTradeSuccess(t *testing.T) {
	engine, state := newTestEngine(t, 1)
	state.StepNumber = 2
	state.PendingTrades = append(state.PendingTrades, TradeProposal{
		ID: "t1", Proposer: "Alice", EligibleAcceptors: []string{"Bob"},
		Offering: map[string]int{"sword": 1}, Requesting: map[string]int{"gold": 15},
		ProposedAtStep: 1, ExpiresAtStep: 3, Status: TradePending,
	})

	ok, msg := engine.ResolveTrade("t1", "Bob")
	require.True(t, ok, msg)

	require.Equal(t, map[string]int{"gold": 25}, state.Inventories["Alice"])
	require.Equal(t, map[string]int{"gold": 5, "sword": 1}, state.Inventories["Bob"])
	require.Equal(t, TradeAccepted, state.FindTrade("t1").Status)
	require.Len(t, state.TradeHistory, 2)
	require.Equal(t, "sword", state.TradeHistory[0].ItemName)
	require.Equal(t, "Alice", state.TradeHistory[0].FromAgent)
	require.Equal(t, "gold", state.TradeHistory[1].ItemName)
	require.Equal(t, "Bob", state.TradeHistory[1].FromAgent)
}

func TestResolveTradeFailures(t *testing.T) {
	proposal := TradeProposal{
		ID: "t1", Proposer: "Alice", EligibleAcceptors: []string{"Bob"},
		Offering: map[string]int{"sword": 1}, Requesting: map[string]int{"gold": 15},
		ProposedAtStep: 1, ExpiresAtStep: 3, Status: TradePending,
	}

	t.Run("not found", func(t *testing.T) {
		engine, _ := newTestEngine(t, 1)
		ok, msg := engine.ResolveTrade("missing", "Bob")
		require.False(t, ok)
		require.Contains(t, msg, "not found")
	})

	t.Run("not pending", func(t *testing.T) {
		engine, state := newTestEngine(t, 1)
		p := proposal
		p.Status = TradeRejected
		state.PendingTrades = append(state.PendingTrades, p)
		ok, msg := engine.ResolveTrade("t1", "Bob")
		require.False(t, ok)
		require.Contains(t, msg, "not pending")
	})

	t.Run("ineligible acceptor", func(t *testing.T) {
		engine, state := newTestEngine(t, 1)
		state.PendingTrades = append(state.PendingTrades, proposal)
		ok, msg := engine.ResolveTrade("t1", "Alice")
		require.False(t, ok)
		require.Contains(t, msg, "not an eligible acceptor")
	})

	t.Run("proposer cannot fulfill expires the trade", func(t *testing.T) {
		engine, state := newTestEngine(t, 1)
		state.PendingTrades = append(state.PendingTrades, proposal)
		delete(state.Inventories["Alice"], "sword")
		ok, _ := engine.ResolveTrade("t1", "Bob")
		require.False(t, ok)
		require.Equal(t, TradeExpired, state.FindTrade("t1").Status)
	})

	t.Run("acceptor lacks requested items", func(t *testing.T) {
		engine, state := newTestEngine(t, 1)
		state.PendingTrades = append(state.PendingTrades, proposal)
		state.Inventories["Bob"]["gold"] = 5
		ok, msg := engine.ResolveTrade("t1", "Bob")
		require.False(t, ok)
		require.Contains(t, msg, "does not hold")
		require.Equal(t, TradePending, state.FindTrade("t1").Status)
		require.Empty(t, state.TradeHistory)
	})
}

func TestRejectTrade(t *testing.T) {
	engine, state := newTestEngine(t, 1)
	state.PendingTrades = append(state.PendingTrades, TradeProposal{
		ID: "t1", Proposer: "Alice", EligibleAcceptors: []string{"Bob"}, Status: TradePending,
	})

	ok, _ := engine.RejectTrade("t1")
	require.True(t, ok)
	require.Equal(t, TradeRejected, state.FindTrade("t1").Status)

	ok, msg := engine.RejectTrade("t1")
	require.False(t, ok)
	require.Contains(t, msg, "not pending")
}

func TestExpireTrades(t *testing.T) {
	engine, state := newTestEngine(t, 1)
	state.PendingTrades = append(state.PendingTrades,
		TradeProposal{ID: "old", Proposer: "Alice", ProposedAtStep: 1, ExpiresAtStep: 3, Status: TradePending},
		TradeProposal{ID: "fresh", Proposer: "Alice", ProposedAtStep: 5, ExpiresAtStep: 9, Status: TradePending},
		TradeProposal{ID: "done", Proposer: "Alice", ProposedAtStep: 1, ExpiresAtStep: 3, Status: TradeAccepted},
	)
	state.StepNumber = 6

	log := engine.ExpireTrades()
	require.Len(t, log, 1)
	require.Equal(t, TradeExpired, state.FindTrade("old").Status)
	require.Equal(t, TradePending, state.FindTrade("fresh").Status)
	require.Equal(t, TradeAccepted, state.FindTrade("done").Status)
}

func TestProcessStepEndRulesFiresOncePerStep(t *testing.T) {
	sit := marketSituation()
	sit.Agents[0].InventoryRules = []situation.InventoryRule{{
		Name: "forge",
		Conditions: []situation.InventoryCondition{
			{ItemName: "gold", Operator: situation.OpGTE, Threshold: 5},
		},
		Effects: situation.EffectList{
			situation.RemoveItem{Target: situation.TokenActor, ItemName: "gold", Quantity: situation.Qty(5)},
			situation.AddItem{Target: situation.TokenActor, ItemName: "sword", Quantity: situation.Qty(1)},
		},
	}}
	state := NewInitialState(sit)
	engine := NewEngine(sit, state, rand.New(rand.NewSource(1)), nil)

	log := engine.ProcessStepEndRules()
	require.NotEmpty(t, log)
	require.Equal(t, map[string]int{"gold": 5, "sword": 2}, state.Inventories["Alice"])
}

func TestProcessStepEndRulesMissingItemsCountAsZero(t *testing.T) {
	sit := marketSituation()
	sit.Agents[1].InventoryRules = []situation.InventoryRule{{
		Name: "broke",
		Conditions: []situation.InventoryCondition{
			{ItemName: "sword", Operator: situation.OpEQ, Threshold: 0},
		},
		Effects: situation.EffectList{
			situation.AddItem{Target: situation.TokenActor, ItemName: "gold", Quantity: situation.Qty(1)},
		},
	}}
	state := NewInitialState(sit)
	engine := NewEngine(sit, state, rand.New(rand.NewSource(1)), nil)

	engine.ProcessStepEndRules()
	require.Equal(t, 21, state.ItemCount("Bob", "gold"))
}

func TestProcessStepEndRulesEnvironmentActor(t *testing.T) {
	sit := marketSituation()
	sit.Environment.InventoryRules = []situation.InventoryRule{{
		Name: "tax",
		Conditions: []situation.InventoryCondition{
			{ItemName: "gold", Operator: situation.OpGT, Threshold: 50},
		},
		Effects: situation.EffectList{
			situation.TransferItem{Source: situation.TokenActor, Target: "Alice", ItemName: "gold", Quantity: situation.Qty(10)},
		},
	}}
	state := NewInitialState(sit)
	engine := NewEngine(sit, state, rand.New(rand.NewSource(1)), nil)

	engine.ProcessStepEndRules()
	require.Equal(t, 90, state.EnvironmentInventory["gold"])
	require.Equal(t, 20, state.ItemCount("Alice", "gold"))
}

func TestEmptyConditionListAlwaysFires(t *testing.T) {
	sit := marketSituation()
	sit.Agents[0].InventoryRules = []situation.InventoryRule{{
		Name: "drip",
		Effects: situation.EffectList{
			situation.AddItem{Target: situation.TokenActor, ItemName: "gold", Quantity: situation.Qty(1)},
		},
	}}
	state := NewInitialState(sit)
	engine := NewEngine(sit, state, rand.New(rand.NewSource(1)), nil)

	engine.ProcessStepEndRules()
	require.Equal(t, 11, state.ItemCount("Alice", "gold"))
}
