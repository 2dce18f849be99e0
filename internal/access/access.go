// Package access provides the capability checks gating every state-changing
// operation: an operator allow-list and a global pause switch. It replaces
// inheritance-style role/pausable mixins with explicit guard calls at the
// top of each handler.
package access

import (
	"errors"
	"sync"

	"github.com/paddock/race-engine/internal/model"
)

var (
	// ErrNotOperator is returned when the caller lacks the operator capability.
	ErrNotOperator = errors.New("access: caller is not an operator")

	// ErrPaused is returned while the engine is paused.
	ErrPaused = errors.New("access: engine is paused")
)

// Guard holds the operator set and the paused flag.
type Guard struct {
	mu        sync.RWMutex
	operators map[model.Address]bool
	paused    bool
}

// NewGuard creates a guard with the given initial operators.
func NewGuard(operators ...model.Address) *Guard {
	g := &Guard{operators: make(map[model.Address]bool, len(operators))}
	for _, op := range operators {
		if !op.IsNull() {
			g.operators[op] = true
		}
	}
	return g
}

// IsOperator reports whether addr holds the operator capability.
func (g *Guard) IsOperator(addr model.Address) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.operators[addr]
}

// RequireOperator returns ErrNotOperator unless addr is an operator.
func (g *Guard) RequireOperator(addr model.Address) error {
	if !g.IsOperator(addr) {
		return ErrNotOperator
	}
	return nil
}

// Paused reports the pause switch.
func (g *Guard) Paused() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.paused
}

// RequireActive returns ErrPaused while the engine is paused.
func (g *Guard) RequireActive() error {
	if g.Paused() {
		return ErrPaused
	}
	return nil
}

// AddOperator grants the operator capability. Operator-only.
func (g *Guard) AddOperator(caller, addr model.Address) error {
	if err := g.RequireOperator(caller); err != nil {
		return err
	}
	if addr.IsNull() {
		return model.ErrInvalidAddress
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.operators[addr] = true
	return nil
}

// Pause stops all state-changing operations. Operator-only.
func (g *Guard) Pause(caller model.Address) error {
	if err := g.RequireOperator(caller); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = true
	return nil
}

// Resume lifts the pause. Operator-only.
func (g *Guard) Resume(caller model.Address) error {
	if err := g.RequireOperator(caller); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.paused = false
	return nil
}
