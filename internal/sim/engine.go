package sim

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"counterfact/internal/logging"
	"counterfact/internal/situation"
)

// Engine interprets effects, resolves trades, and fires step-end rules
// against one SimulationState. It is best-effort by design: unknown targets,
// unknown items, and malformed parameter references are clamped or logged,
// never raised. Trade failures come back as (false, reason) values.
type Engine struct {
	sit    *situation.Situation
	state  *SimulationState
	rng    *rand.Rand
	logger logging.Logger
}

// NewEngine builds an effect engine bound to a situation and state. The rng
// drives random_outcome draws; pass a seeded source for reproducible runs.
func NewEngine(sit *situation.Situation, state *SimulationState, rng *rand.Rand, logger logging.Logger) *Engine {
	return &Engine{
		sit:    sit,
		state:  state,
		rng:    rng,
		logger: logging.OrNop(logger),
	}
}

// ApplyEffects evaluates each effect in order with the given actor and
// parameter bindings, returning one human-readable log line per applied
// effect for transcript assembly.
func (e *Engine) ApplyEffects(effects situation.EffectList, actor string, params map[string]string) []string {
	var log []string
	for _, eff := range effects {
		log = append(log, e.applyEffect(eff, actor, params)...)
	}
	return log
}

func (e *Engine) applyEffect(eff situation.Effect, actor string, params map[string]string) []string {
	switch effect := eff.(type) {
	case situation.AddItem:
		target := e.resolveTarget(effect.Target, actor, params)
		item := substituteParams(effect.ItemName, params)
		quantity := e.resolveQuantity(effect.Quantity, params)
		if quantity <= 0 {
			return []string{fmt.Sprintf("%s gains nothing (%s x%d)", target, item, quantity)}
		}
		inv, ok := e.inventoryFor(target)
		if !ok {
			e.logger.Warn("add_item: unknown target %q, skipping", target)
			return []string{fmt.Sprintf("add_item skipped: unknown target %s", target)}
		}
		inv[item] += quantity
		return []string{fmt.Sprintf("%s gained %d %s", target, quantity, item)}

	case situation.RemoveItem:
		target := e.resolveTarget(effect.Target, actor, params)
		item := substituteParams(effect.ItemName, params)
		quantity := e.resolveQuantity(effect.Quantity, params)
		inv, ok := e.inventoryFor(target)
		if !ok {
			e.logger.Warn("remove_item: unknown target %q, skipping", target)
			return []string{fmt.Sprintf("remove_item skipped: unknown target %s", target)}
		}
		removed := removeClamped(inv, item, quantity)
		return []string{fmt.Sprintf("%s lost %d %s", target, removed, item)}

	case situation.TransferItem:
		source := e.resolveTarget(effect.Source, actor, params)
		target := e.resolveTarget(effect.Target, actor, params)
		item := substituteParams(effect.ItemName, params)
		quantity := e.resolveQuantity(effect.Quantity, params)
		sourceInv, sourceOK := e.inventoryFor(source)
		targetInv, targetOK := e.inventoryFor(target)
		if !sourceOK || !targetOK {
			e.logger.Warn("transfer_item: unknown source %q or target %q, skipping", source, target)
			return []string{fmt.Sprintf("transfer_item skipped: %s -> %s", source, target)}
		}
		moved := removeClamped(sourceInv, item, quantity)
		if moved > 0 {
			targetInv[item] += moved
		}
		return []string{fmt.Sprintf("%s transferred %d %s to %s", source, moved, item, target)}

	case situation.RandomOutcome:
		outcome, ok := e.drawOutcome(effect)
		if !ok {
			return []string{"random_outcome with no outcomes, skipped"}
		}
		log := []string{fmt.Sprintf("random outcome: %s", outcome.Description)}
		return append(log, e.ApplyEffects(outcome.Effects, actor, params)...)

	case situation.MessageEffect:
		target := e.resolveTarget(effect.Target, actor, params)
		text := substituteParams(effect.MessageText, params)
		return []string{fmt.Sprintf("message to %s: %s", target, text)}

	default:
		e.logger.Warn("unknown effect type %T, skipping", eff)
		return []string{fmt.Sprintf("unknown effect %T skipped", eff)}
	}
}

// drawOutcome picks the first branch whose cumulative probability covers a
// uniform draw in [0,1). When the probabilities sum to less than 1 and no
// branch matches, the last branch is the fallback.
func (e *Engine) drawOutcome(effect situation.RandomOutcome) (situation.OutcomeBranch, bool) {
	if len(effect.Outcomes) == 0 {
		return situation.OutcomeBranch{}, false
	}
	draw := e.rng.Float64()
	cumulative := 0.0
	for _, outcome := range effect.Outcomes {
		cumulative += outcome.Probability
		if draw < cumulative {
			return outcome, true
		}
	}
	return effect.Outcomes[len(effect.Outcomes)-1], true
}

// resolveTarget maps a target/source string to an inventory owner name:
// the actor token, the environment token, a parameter reference, or a
// literal agent name.
func (e *Engine) resolveTarget(raw, actor string, params map[string]string) string {
	switch raw {
	case situation.TokenActor:
		return actor
	case situation.TokenEnvironment:
		return situation.TokenEnvironment
	}
	return substituteParams(raw, params)
}

// inventoryFor returns the inventory for a resolved owner. Only declared
// agents (and the environment) have inventories; anything else is unknown.
func (e *Engine) inventoryFor(owner string) (map[string]int, bool) {
	if owner == situation.TokenEnvironment {
		return e.state.EnvironmentInventory, true
	}
	if owner == situation.TokenActor {
		// The actor token resolves before lookup; seeing it here means the
		// caller passed it as a literal.
		return nil, false
	}
	if _, ok := e.sit.Agent(owner); !ok {
		return nil, false
	}
	return e.state.InventoryOf(owner), true
}

// resolveQuantity materializes a quantity: literal values pass through,
// parameter references substitute then parse; parse failure yields 0 with a
// warning.
func (e *Engine) resolveQuantity(q situation.Quantity, params map[string]string) int {
	if !q.IsParam() {
		return q.Value
	}
	substituted := substituteParams(q.Param, params)
	n, err := strconv.Atoi(strings.TrimSpace(substituted))
	if err != nil {
		e.logger.Warn("quantity %q resolved to non-integer %q, using 0", q.Param, substituted)
		return 0
	}
	return n
}

// substituteParams replaces each "{name}" token with its bound value. This
// is deliberately a toy template language: single-token substitution only.
func substituteParams(s string, params map[string]string) string {
	if len(params) == 0 || !strings.Contains(s, "{") {
		return s
	}
	for name, value := range params {
		s = strings.ReplaceAll(s, "{"+name+"}", value)
	}
	return s
}

// removeClamped removes min(current, quantity) of an item, deleting the key
// when the count reaches zero, and returns the amount actually removed.
func removeClamped(inv map[string]int, item string, quantity int) int {
	if quantity <= 0 {
		return 0
	}
	current := inv[item]
	removed := quantity
	if removed > current {
		removed = current
	}
	if removed == 0 {
		return 0
	}
	if current-removed == 0 {
		delete(inv, item)
	} else {
		inv[item] = current - removed
	}
	return removed
}

// normalizeInventories drops zero and negative entries so the invariant
// "counts are positive, zero entries absent" holds after every step.
func (e *Engine) normalizeInventories() {
	normalizeCounts(e.state.EnvironmentInventory)
	for _, inv := range e.state.Inventories {
		normalizeCounts(inv)
	}
}

func normalizeCounts(inv map[string]int) {
	for item, count := range inv {
		if count <= 0 {
			delete(inv, item)
		}
	}
}
