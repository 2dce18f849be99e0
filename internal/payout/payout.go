// Package payout implements the settlement arithmetic for a finished race:
// per-place rewards from the scheme's multiplier table and the residual
// commission swept to the treasury.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Multipliers are fixed-point values scaled by 100 (150 means ×1.5) and
// rewards truncate: reward = floor(bet × multiplier / 100).
package payout

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/paddock/race-engine/internal/model"
)

var (
	// ErrNoRewards is returned for an empty reward table.
	ErrNoRewards = errors.New("payout: reward table is empty")

	// ErrInvalidStake is returned when bet or player count is not positive.
	ErrInvalidStake = errors.New("payout: bet amount and player count must be positive")

	// ErrNoCommission is returned when the reward table would pay out the
	// whole pot or more. A valid scheme always retains a strictly positive
	// commission; this is the economic safety valve checked at finish time.
	ErrNoCommission = errors.New("payout: rewards meet or exceed the total pot")
)

var hundred = decimal.NewFromInt(100)

// Settlement is the full payout plan for one race.
type Settlement struct {
	Pot        decimal.Decimal   // players × bet
	Rewards    []decimal.Decimal // per reward entry, in stored place order
	Total      decimal.Decimal   // Σ rewards
	Commission decimal.Decimal   // pot − total, strictly positive
}

// Pot returns the total amount wagered: players × bet.
func Pot(players int, bet decimal.Decimal) decimal.Decimal {
	return bet.Mul(decimal.NewFromInt(int64(players)))
}

// Reward returns floor(bet × multiplier / 100).
func Reward(bet, multiplier decimal.Decimal) decimal.Decimal {
	return bet.Mul(multiplier).Div(hundred).Floor()
}

// Settle computes the payout plan for a race with the given fixed bet
// amount, required player count, and reward table. It fails if the table
// is empty or if the summed rewards do not leave a positive commission;
// on failure no partial plan is returned.
func Settle(bet decimal.Decimal, players int, rewards []model.Reward) (*Settlement, error) {
	if players <= 0 || !bet.IsPositive() {
		return nil, ErrInvalidStake
	}
	if len(rewards) == 0 {
		return nil, ErrNoRewards
	}

	s := &Settlement{
		Pot:     Pot(players, bet),
		Rewards: make([]decimal.Decimal, len(rewards)),
	}
	for i, r := range rewards {
		amount := Reward(bet, r.Multiplier)
		s.Rewards[i] = amount
		s.Total = s.Total.Add(amount)
	}

	if s.Total.GreaterThanOrEqual(s.Pot) {
		return nil, ErrNoCommission
	}
	s.Commission = s.Pot.Sub(s.Total)
	return s, nil
}
