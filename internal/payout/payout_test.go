package payout

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/paddock/race-engine/internal/model"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func rewards(multipliers ...float64) []model.Reward {
	out := make([]model.Reward, len(multipliers))
	for i, m := range multipliers {
		out[i] = model.Reward{Place: i + 1, Multiplier: d(m)}
	}
	return out
}

// --- Reward arithmetic ---

func TestReward_ScaledByHundred(t *testing.T) {
	// multiplier 150 means ×1.5.
	got := Reward(d(10), d(150))
	if !got.Equal(d(15)) {
		t.Errorf("expected reward 15, got %s", got)
	}
}

func TestReward_TruncatesDown(t *testing.T) {
	tests := []struct {
		bet, multiplier, want float64
	}{
		{10, 125, 12},  // 12.5 → 12
		{10, 199, 19},  // 19.9 → 19
		{3, 133, 3},    // 3.99 → 3
		{7, 1, 0},        // 0.07 → 0
		{100, 100, 100},  // exact
	}
	for _, tt := range tests {
		got := Reward(d(tt.bet), d(tt.multiplier))
		if !got.Equal(d(tt.want)) {
			t.Errorf("Reward(%v, %v) = %s, want %v", tt.bet, tt.multiplier, got, tt.want)
		}
	}
}

func TestPot(t *testing.T) {
	if got := Pot(4, d(25)); !got.Equal(d(100)) {
		t.Errorf("expected pot 100, got %s", got)
	}
}

// --- Settle ---

func TestSettle_TwoPlayerSingleWinner(t *testing.T) {
	// The canonical case: 2 players × 10, one 150 reward.
	s, err := Settle(d(10), 2, rewards(150))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Pot.Equal(d(20)) {
		t.Errorf("pot = %s, want 20", s.Pot)
	}
	if len(s.Rewards) != 1 || !s.Rewards[0].Equal(d(15)) {
		t.Errorf("rewards = %v, want [15]", s.Rewards)
	}
	if !s.Commission.Equal(d(5)) {
		t.Errorf("commission = %s, want 5", s.Commission)
	}
}

func TestSettle_MultiPlace_OrderPreserved(t *testing.T) {
	s, err := Settle(d(100), 5, rewards(200, 150, 100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float64{200, 150, 100}
	for i, w := range want {
		if !s.Rewards[i].Equal(d(w)) {
			t.Errorf("reward[%d] = %s, want %v", i, s.Rewards[i], w)
		}
	}
	if !s.Total.Equal(d(450)) {
		t.Errorf("total = %s, want 450", s.Total)
	}
	if !s.Commission.Equal(d(50)) {
		t.Errorf("commission = %s, want 50", s.Commission)
	}
}

func TestSettle_ConservesMoney(t *testing.T) {
	s, err := Settle(d(13), 7, rewards(137, 250, 99, 301))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Total.Add(s.Commission).Equal(s.Pot) {
		t.Errorf("total %s + commission %s != pot %s", s.Total, s.Commission, s.Pot)
	}
	if !s.Commission.IsPositive() {
		t.Errorf("commission must be strictly positive, got %s", s.Commission)
	}
}

func TestSettle_RejectsFullPayout(t *testing.T) {
	// 2 players × 10 = 20 pot; a single 200 reward pays the whole pot.
	if _, err := Settle(d(10), 2, rewards(200)); err != ErrNoCommission {
		t.Errorf("expected ErrNoCommission for exact payout, got %v", err)
	}
}

func TestSettle_RejectsOverPayout(t *testing.T) {
	if _, err := Settle(d(10), 2, rewards(150, 150)); err != ErrNoCommission {
		t.Errorf("expected ErrNoCommission for over-payout, got %v", err)
	}
}

func TestSettle_RejectsEmptyRewards(t *testing.T) {
	if _, err := Settle(d(10), 2, nil); err != ErrNoRewards {
		t.Errorf("expected ErrNoRewards, got %v", err)
	}
}

func TestSettle_RejectsInvalidStake(t *testing.T) {
	if _, err := Settle(d(0), 2, rewards(150)); err != ErrInvalidStake {
		t.Errorf("expected ErrInvalidStake for zero bet, got %v", err)
	}
	if _, err := Settle(d(10), 0, rewards(150)); err != ErrInvalidStake {
		t.Errorf("expected ErrInvalidStake for zero players, got %v", err)
	}
}
