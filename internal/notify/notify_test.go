package notify

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/paddock/race-engine/internal/model"
)

type countingNotifier struct {
	placed, revoked int
}

func (n *countingNotifier) BetPlaced(context.Context, uint64, model.Address)  { n.placed++ }
func (n *countingNotifier) BetRevoked(context.Context, uint64, model.Address) { n.revoked++ }

func TestMulti_FansOutToEveryNotifier(t *testing.T) {
	a := &countingNotifier{}
	b := &countingNotifier{}
	m := Multi{a, b}

	ctx := context.Background()
	player := model.Address{0x01}
	m.BetPlaced(ctx, 7, player)
	m.BetPlaced(ctx, 7, player)
	m.BetRevoked(ctx, 7, player)

	for _, n := range []*countingNotifier{a, b} {
		if n.placed != 2 || n.revoked != 1 {
			t.Errorf("notifier saw placed=%d revoked=%d, want 2/1", n.placed, n.revoked)
		}
	}
}

func TestMulti_EmptyIsNoop(t *testing.T) {
	var m Multi
	m.BetPlaced(context.Background(), 7, model.Address{0x01})
	m.BetRevoked(context.Background(), 7, model.Address{0x01})
}

func TestEvent_JSONShape(t *testing.T) {
	e := Event{
		EventID:  "id-1",
		Type:     "bet_placed",
		RaceID:   7,
		Player:   model.Address{0x01},
		TsUnixMs: 1234,
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"event_id", "type", "race_id", "player", "ts_unix_ms"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("event payload missing %q", key)
		}
	}
	if decoded["player"] != (model.Address{0x01}).Hex() {
		t.Errorf("player encoded as %v", decoded["player"])
	}
}
