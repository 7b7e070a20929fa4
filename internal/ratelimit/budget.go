package ratelimit

import (
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ErrBudgetExhausted is returned, without touching the network, when the
// quota-constrained provider has no calls left this cycle.
var ErrBudgetExhausted = errors.New("finmind api budget exhausted")

// Budget is the remaining-call allowance for the quota-constrained provider
// within one cycle. The zero value is unlimited. It is safe for concurrent
// use and is shared by every limiter of one process.
type Budget struct {
	mu        sync.Mutex
	limited   bool
	remaining int
}

// NewBudget returns an unlimited budget.
func NewBudget() *Budget { return &Budget{} }

// Set limits the budget to n calls. Negative values count as zero.
func (b *Budget) Set(n int) {
	if n < 0 {
		n = 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limited = true
	b.remaining = n
	log.Infof("finmind api budget set: %d calls", n)
}

// Reset clears the budget back to unlimited.
func (b *Budget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limited = false
	b.remaining = 0
}

// Remaining reports the calls left and whether a limit is in force.
func (b *Budget) Remaining() (n int, limited bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining, b.limited
}

// reserve takes one call from the budget before it is attempted, so that
// concurrent callers can never overshoot. A reservation that does not end
// in a successful call must be handed back with refund.
func (b *Budget) reserve() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.limited {
		return nil
	}
	if b.remaining <= 0 {
		return ErrBudgetExhausted
	}
	b.remaining--
	return nil
}

func (b *Budget) refund() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limited {
		b.remaining++
	}
}
