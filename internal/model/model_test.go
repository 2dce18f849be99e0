package model

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestAddress_HexRoundTrip(t *testing.T) {
	a := BytesToAddress([]byte{0xde, 0xad, 0xbe, 0xef})

	parsed, err := ParseAddress(a.Hex())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != a {
		t.Errorf("round trip: %s != %s", parsed, a)
	}

	// Bare hex without the 0x prefix parses too.
	parsed, err = ParseAddress(a.Hex()[2:])
	if err != nil || parsed != a {
		t.Errorf("bare hex parse failed: %v", err)
	}
}

func TestAddress_ParseRejectsBadInput(t *testing.T) {
	for _, in := range []string{"", "0x1234", "0x" + string(make([]byte, 40)), "zz"} {
		if _, err := ParseAddress(in); err == nil {
			t.Errorf("ParseAddress(%q) should fail", in)
		}
	}
}

func TestAddress_JSONMapKey(t *testing.T) {
	a := BytesToAddress([]byte{0x01})
	in := map[Address]bool{a: true}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[Address]bool
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out[a] {
		t.Error("address map key did not survive a JSON round trip")
	}
}

func TestScheme_SnapshotIsDeepCopy(t *testing.T) {
	scheme := &Scheme{
		ID:           1,
		PlayersCount: 2,
		Rewards:      []Reward{{Place: 1, Multiplier: decimal.NewFromInt(150)}},
	}
	snap := scheme.Snapshot()

	// Registry edits after the snapshot must not reach the copy.
	scheme.Rewards[0].Multiplier = decimal.NewFromInt(999)
	scheme.Rewards = append(scheme.Rewards, Reward{Place: 2, Multiplier: decimal.NewFromInt(50)})
	scheme.PlayersCount = 10

	if len(snap.Rewards) != 1 {
		t.Fatalf("snapshot rewards len = %d, want 1", len(snap.Rewards))
	}
	if !snap.Rewards[0].Multiplier.Equal(decimal.NewFromInt(150)) {
		t.Errorf("snapshot multiplier mutated to %s", snap.Rewards[0].Multiplier)
	}
	if snap.PlayersCount != 2 {
		t.Errorf("snapshot players count mutated to %d", snap.PlayersCount)
	}
}

func TestRace_CloneIsolatesSets(t *testing.T) {
	p1 := Address{0x01}
	p2 := Address{0x02}
	race := &Race{
		ID:        7,
		BetAmount: decimal.NewFromInt(10),
		Scheme:    RaceScheme{ID: 1, PlayersCount: 2, Rewards: []Reward{{Place: 1, Multiplier: decimal.NewFromInt(150)}}},
		Bettors:   map[Address]bool{p1: true},
		Revoked:   map[Address]bool{},
	}

	cp := race.Clone()
	cp.Bettors[p2] = true
	cp.Revoked[p1] = true
	cp.Scheme.Rewards[0].Multiplier = decimal.NewFromInt(1)

	if race.HasBet(p2) {
		t.Error("clone bettor leaked into original")
	}
	if race.HasRevoked(p1) {
		t.Error("clone revocation leaked into original")
	}
	if !race.Scheme.Rewards[0].Multiplier.Equal(decimal.NewFromInt(150)) {
		t.Error("clone reward mutation leaked into original")
	}
}
