package core

import "sync/atomic"

// CreditAllocator owns the configured weights and the per-tick credits.
//
// weights is shared: any goroutine may swap it. credits belongs to the
// consumer goroutine and is never touched elsewhere.
type CreditAllocator struct {
	weights atomic.Pointer[Weights]

	credits [numPriorities]int
}

func NewCreditAllocator(w Weights) *CreditAllocator {
	a := &CreditAllocator{}
	a.Configure(w)
	return a
}

// Configure clamps w and installs it for the next Replenish.
func (a *CreditAllocator) Configure(w Weights) Weights {
	clamped := w.Clamp()
	a.weights.Store(&clamped)
	return clamped
}

func (a *CreditAllocator) Weights() Weights {
	return *a.weights.Load()
}

// Replenish sets credits to an exact copy of the current weights.
func (a *CreditAllocator) Replenish() Weights {
	w := a.Weights()
	for _, p := range Priorities {
		a.credits[p] = w.Of(p)
	}
	return w
}

func (a *CreditAllocator) Credits(p Priority) int {
	return a.credits[p]
}

func (a *CreditAllocator) Has(p Priority) bool {
	return a.credits[p] > 0
}

// Spend consumes one credit of class p, reporting false when none is left.
func (a *CreditAllocator) Spend(p Priority) bool {
	if a.credits[p] <= 0 {
		return false
	}
	a.credits[p]--
	return true
}

func (a *CreditAllocator) Unspent() int {
	total := 0
	for _, c := range a.credits {
		total += c
	}
	return total
}

// Redistribute splits the unspent credits evenly across the classes that
// still have pending work. The remainder goes one credit at a time starting
// from HIGH. Credits are zero afterwards.
func (a *CreditAllocator) Redistribute(pending [numPriorities]bool) [numPriorities]int {
	var extra [numPriorities]int

	unused := a.Unspent()
	a.Reset()
	if unused == 0 {
		return extra
	}

	available := 0
	for _, ok := range pending {
		if ok {
			available++
		}
	}
	if available == 0 {
		return extra
	}

	per := unused / available
	remainder := unused % available
	for _, p := range Priorities {
		if !pending[p] {
			continue
		}
		extra[p] = per
		if remainder > 0 {
			extra[p]++
			remainder--
		}
	}
	return extra
}

func (a *CreditAllocator) Reset() {
	a.credits = [numPriorities]int{}
}
