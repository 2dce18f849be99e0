// Package model defines the core domain types shared across the race engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reward is one entry of a payout scheme: the finishing place it pays and
// the multiplier applied to the race bet amount. Multipliers are fixed-point
// values scaled by 100 (150 means ×1.5).
type Reward struct {
	Place      int             `json:"place" db:"place"`
	Multiplier decimal.Decimal `json:"multiplier" db:"multiplier"`
}

// Scheme is a reusable payout template held by the scheme registry.
// Mutable in the registry until a race snapshots it; races always operate
// on their own copy.
type Scheme struct {
	ID           uint64    `json:"id" db:"id"`
	PlayersCount int       `json:"players_count" db:"players_count"`
	Rewards      []Reward  `json:"rewards"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Snapshot returns a value copy of the scheme for embedding into a race.
// The rewards slice is deep-copied so later registry edits never reach
// already-created races.
func (s *Scheme) Snapshot() RaceScheme {
	rewards := make([]Reward, len(s.Rewards))
	copy(rewards, s.Rewards)
	return RaceScheme{
		ID:           s.ID,
		PlayersCount: s.PlayersCount,
		Rewards:      rewards,
	}
}

// RaceScheme is the immutable scheme copy a race was created against.
type RaceScheme struct {
	ID           uint64   `json:"id"`
	PlayersCount int      `json:"players_count"`
	Rewards      []Reward `json:"rewards"`
}

// Race is one wagering event. Races are append-only historical records:
// created exactly once, mutated only through the controller's guarded
// transitions, never deleted.
type Race struct {
	ID        uint64          `json:"id" db:"id"`
	BetAmount decimal.Decimal `json:"bet_amount" db:"bet_amount"` // fixed stake per player, whole units
	Duration  int64           `json:"duration" db:"duration"`     // declared length in seconds
	StartTime int64           `json:"start_time" db:"start_time"` // unix seconds, 0 until started
	EndTime   int64           `json:"end_time" db:"end_time"`     // unix seconds, 0 until finished

	Started   bool `json:"started" db:"started"`
	Finished  bool `json:"finished" db:"finished"`
	Cancelled bool `json:"cancelled" db:"cancelled"`

	Scheme RaceScheme `json:"scheme"`

	PlayersAssigned int              `json:"players_assigned" db:"players_assigned"`
	Bettors         map[Address]bool `json:"bettors"` // who has placed a bet
	Revoked         map[Address]bool `json:"revoked"` // who has been refunded after cancel

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// HasBet reports whether the player already placed a bet on this race.
func (r *Race) HasBet(player Address) bool {
	return r.Bettors[player]
}

// HasRevoked reports whether the player already claimed a refund.
func (r *Race) HasRevoked(player Address) bool {
	return r.Revoked[player]
}

// Clone returns a deep copy of the race, including membership sets.
func (r *Race) Clone() *Race {
	cp := *r
	cp.Scheme.Rewards = make([]Reward, len(r.Scheme.Rewards))
	copy(cp.Scheme.Rewards, r.Scheme.Rewards)
	cp.Bettors = make(map[Address]bool, len(r.Bettors))
	for a := range r.Bettors {
		cp.Bettors[a] = true
	}
	cp.Revoked = make(map[Address]bool, len(r.Revoked))
	for a := range r.Revoked {
		cp.Revoked[a] = true
	}
	return &cp
}
