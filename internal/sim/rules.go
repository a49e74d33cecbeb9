package sim

import (
	"fmt"

	"counterfact/internal/situation"
)

// ProcessStepEndRules fires inventory rules once per step: every agent in
// declaration order, every rule in declaration order, then the environment.
// Conditions are evaluated against the live state as the pass proceeds, but
// the pass never repeats, so a rule's effects cannot re-trigger rules within
// the same step.
func (e *Engine) ProcessStepEndRules() []string {
	var log []string
	for _, agent := range e.sit.Agents {
		for _, rule := range agent.InventoryRules {
			log = append(log, e.fireRuleIfSatisfied(rule, agent.Name)...)
		}
	}
	for _, rule := range e.sit.Environment.InventoryRules {
		log = append(log, e.fireRuleIfSatisfied(rule, situation.TokenEnvironment)...)
	}
	e.normalizeInventories()
	return log
}

// fireRuleIfSatisfied applies the rule's effects with the owner as actor
// when all conditions hold against the owner's inventory. Missing items
// count as zero; an empty condition list is always true.
func (e *Engine) fireRuleIfSatisfied(rule situation.InventoryRule, owner string) []string {
	inv, ok := e.inventoryFor(owner)
	if !ok {
		return nil
	}
	for _, cond := range rule.Conditions {
		if !cond.Operator.Compare(inv[cond.ItemName], cond.Threshold) {
			return nil
		}
	}
	log := []string{fmt.Sprintf("rule %q fired for %s", rule.Name, owner)}
	return append(log, e.ApplyEffects(rule.Effects, owner, nil)...)
}
