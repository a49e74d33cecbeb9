// Package cost implements scoped monetary budgets for LLM spend.
//
// A Scope is attached to a context; nested scopes form a chain. Every
// observed LLM cost is charged to the innermost scope and all of its
// ancestors, so a batch budget and a per-run budget accumulate
// independently. A pre-call check against an estimate turns an
// about-to-be-exceeded budget into a hard error before the money is spent.
package cost

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// BudgetExceededError is the hard-limit error raised when a charge or
// pre-check would push a scope past its budget.
type BudgetExceededError struct {
	Scope     string
	BudgetUSD float64
	SpentUSD  float64
	DeltaUSD  float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("cost budget exceeded in scope %q: spent $%.4f + $%.4f > budget $%.4f",
		e.Scope, e.SpentUSD, e.DeltaUSD, e.BudgetUSD)
}

// IsBudgetExceeded reports whether err is a budget violation.
func IsBudgetExceeded(err error) bool {
	var budgetErr *BudgetExceededError
	return errors.As(err, &budgetErr)
}

// Scope tracks USD spend against an optional hard budget.
type Scope struct {
	name   string
	parent *Scope
	budget float64 // <= 0 means unlimited

	mu    sync.Mutex
	spent float64
}

type ctxKey struct{}

// WithScope pushes a new cost scope onto the context. budgetUSD <= 0 means
// the scope only accumulates and never rejects.
func WithScope(ctx context.Context, name string, budgetUSD float64) (context.Context, *Scope) {
	scope := &Scope{
		name:   name,
		parent: FromContext(ctx),
		budget: budgetUSD,
	}
	return context.WithValue(ctx, ctxKey{}, scope), scope
}

// FromContext returns the innermost active scope, or nil.
func FromContext(ctx context.Context) *Scope {
	scope, _ := ctx.Value(ctxKey{}).(*Scope)
	return scope
}

// Charge records an observed cost on every scope in the chain. Observed
// spend is always recorded, even when it lands past a budget; enforcement
// happens in Precheck and Close.
func Charge(ctx context.Context, usd float64) {
	for scope := FromContext(ctx); scope != nil; scope = scope.parent {
		scope.mu.Lock()
		scope.spent += usd
		scope.mu.Unlock()
	}
}

// Precheck returns a BudgetExceededError if adding estimateUSD would exceed
// any enclosing budget. A nil error means the caller may proceed.
func Precheck(ctx context.Context, estimateUSD float64) error {
	for scope := FromContext(ctx); scope != nil; scope = scope.parent {
		if err := scope.check(estimateUSD); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scope) check(delta float64) error {
	if s.budget <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spent+delta > s.budget {
		return &BudgetExceededError{
			Scope:     s.name,
			BudgetUSD: s.budget,
			SpentUSD:  s.spent,
			DeltaUSD:  delta,
		}
	}
	return nil
}

// Spent returns the total USD recorded on this scope.
func (s *Scope) Spent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spent
}

// Name returns the scope's name.
func (s *Scope) Name() string {
	return s.name
}

// Close performs the final budget check on scope exit.
func (s *Scope) Close() error {
	if s.budget <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spent > s.budget {
		return &BudgetExceededError{
			Scope:     s.name,
			BudgetUSD: s.budget,
			SpentUSD:  s.spent,
		}
	}
	return nil
}
