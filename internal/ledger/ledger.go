// Package ledger implements the funds-transfer primitive: an account book
// of native-currency balances with single transfers and all-or-nothing
// multi-move batches. A settlement that fails on any move leaves every
// balance untouched.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/paddock/race-engine/internal/model"
)

var (
	// ErrInsufficientFunds is returned when a move exceeds the source balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrNegativeAmount is returned for moves or credits below zero.
	// Zero-amount moves are legal: a reward multiplier may floor to zero.
	ErrNegativeAmount = errors.New("ledger: negative amount")
)

// Move is one transfer inside a batch.
type Move struct {
	From   model.Address
	To     model.Address
	Amount decimal.Decimal
}

// Book is the transfer primitive consumed by the race controller.
// Apply must be atomic: either every move commits or none do.
type Book interface {
	// Credit adds funds to an account (deposits, faucet).
	Credit(addr model.Address, amount decimal.Decimal) error

	// Balance returns the current balance of an account (zero if unknown).
	Balance(addr model.Address) decimal.Decimal

	// Transfer moves amount from one account to another.
	Transfer(from, to model.Address, amount decimal.Decimal) error

	// Apply commits a batch of moves all-or-nothing, in order.
	Apply(moves []Move) error
}

// MemoryBook implements Book with an in-memory balance map.
type MemoryBook struct {
	mu       sync.RWMutex
	balances map[model.Address]decimal.Decimal
}

// NewMemoryBook creates an empty account book.
func NewMemoryBook() *MemoryBook {
	return &MemoryBook{balances: make(map[model.Address]decimal.Decimal)}
}

func (b *MemoryBook) Credit(addr model.Address, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[addr] = b.balances[addr].Add(amount)
	return nil
}

func (b *MemoryBook) Balance(addr model.Address) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.balances[addr]
}

func (b *MemoryBook) Transfer(from, to model.Address, amount decimal.Decimal) error {
	return b.Apply([]Move{{From: from, To: to, Amount: amount}})
}

// Apply stages the touched balances, validates every move in order, and
// only then commits. A failed move aborts the whole batch.
func (b *MemoryBook) Apply(moves []Move) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	staged := make(map[model.Address]decimal.Decimal, len(moves)*2)
	get := func(addr model.Address) decimal.Decimal {
		if v, ok := staged[addr]; ok {
			return v
		}
		return b.balances[addr]
	}

	for _, m := range moves {
		if m.Amount.IsNegative() {
			return ErrNegativeAmount
		}
		next := get(m.From).Sub(m.Amount)
		if next.IsNegative() {
			return ErrInsufficientFunds
		}
		staged[m.From] = next
		staged[m.To] = get(m.To).Add(m.Amount)
	}

	for addr, v := range staged {
		b.balances[addr] = v
	}
	return nil
}
