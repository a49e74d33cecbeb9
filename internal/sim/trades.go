package sim

import (
	"fmt"
)

// ResolveTrade attempts to execute a pending trade on behalf of an acceptor.
// Both bundles move atomically; failure leaves inventories untouched and is
// reported as (false, reason).
func (e *Engine) ResolveTrade(proposalID, acceptor string) (bool, string) {
	proposal := e.state.FindTrade(proposalID)
	if proposal == nil {
		return false, fmt.Sprintf("trade %s not found", proposalID)
	}
	if proposal.Status != TradePending {
		return false, fmt.Sprintf("trade %s is %s, not pending", proposalID, proposal.Status)
	}
	eligible := false
	for _, name := range proposal.EligibleAcceptors {
		if name == acceptor {
			eligible = true
			break
		}
	}
	if !eligible {
		return false, fmt.Sprintf("%s is not an eligible acceptor of trade %s", acceptor, proposalID)
	}

	proposerInv := e.state.InventoryOf(proposal.Proposer)
	if !holdsBundle(proposerInv, proposal.Offering) {
		// The offer can no longer be honored; the proposal dies rather than
		// lingering as an impossible trade.
		proposal.Status = TradeExpired
		return false, fmt.Sprintf("proposer %s no longer holds the offered items", proposal.Proposer)
	}
	acceptorInv := e.state.InventoryOf(acceptor)
	if !holdsBundle(acceptorInv, proposal.Requesting) {
		return false, fmt.Sprintf("%s does not hold the requested items", acceptor)
	}

	e.transferBundle(proposal.Proposer, acceptor, proposal.Offering, proposal.ID)
	e.transferBundle(acceptor, proposal.Proposer, proposal.Requesting, proposal.ID)
	proposal.Status = TradeAccepted
	return true, fmt.Sprintf("trade %s resolved between %s and %s", proposalID, proposal.Proposer, acceptor)
}

// RejectTrade marks a pending trade rejected.
func (e *Engine) RejectTrade(proposalID string) (bool, string) {
	proposal := e.state.FindTrade(proposalID)
	if proposal == nil {
		return false, fmt.Sprintf("trade %s not found", proposalID)
	}
	if proposal.Status != TradePending {
		return false, fmt.Sprintf("trade %s is %s, not pending", proposalID, proposal.Status)
	}
	proposal.Status = TradeRejected
	return true, fmt.Sprintf("trade %s rejected", proposalID)
}

// ExpireTrades expires every pending trade whose expiry step has passed.
func (e *Engine) ExpireTrades() []string {
	var log []string
	for i := range e.state.PendingTrades {
		proposal := &e.state.PendingTrades[i]
		if proposal.Status == TradePending && e.state.StepNumber > proposal.ExpiresAtStep {
			proposal.Status = TradeExpired
			log = append(log, fmt.Sprintf("trade %s from %s expired", proposal.ID, proposal.Proposer))
		}
	}
	return log
}

// holdsBundle reports whether the inventory covers every item count of the
// bundle.
func holdsBundle(inv map[string]int, bundle map[string]int) bool {
	for item, count := range bundle {
		if inv[item] < count {
			return false
		}
	}
	return true
}

// transferBundle moves a bundle between agents and appends one TradeRecord
// per item. Callers must have verified the source holds the bundle.
func (e *Engine) transferBundle(from, to string, bundle map[string]int, tradeID string) {
	fromInv := e.state.InventoryOf(from)
	toInv := e.state.InventoryOf(to)
	for _, item := range sortedItems(bundle) {
		count := bundle[item]
		if count <= 0 {
			continue
		}
		removeClamped(fromInv, item, count)
		toInv[item] += count
		e.state.TradeHistory = append(e.state.TradeHistory, TradeRecord{
			ItemName:  item,
			Quantity:  count,
			FromAgent: from,
			ToAgent:   to,
			Step:      e.state.StepNumber,
			TradeID:   tradeID,
		})
	}
}
