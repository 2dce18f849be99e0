// Package notify publishes bet lifecycle events for the off-system
// operator process that tracks fill progress and refund completion.
// Delivery is best-effort: a committed bet is never rolled back because
// a broker is down.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/paddock/race-engine/internal/engine"
	"github.com/paddock/race-engine/internal/model"
)

// Kafka topics.
const (
	TopicBetPlaced  = "race_bet_placed"
	TopicBetRevoked = "race_bet_revoked"
)

// Event is the payload published for both topics.
type Event struct {
	EventID  string        `json:"event_id"`
	Type     string        `json:"type"` // "bet_placed" or "bet_revoked"
	RaceID   uint64        `json:"race_id"`
	Player   model.Address `json:"player"`
	TsUnixMs int64         `json:"ts_unix_ms"`
}

// NewWriter builds a Kafka writer for one topic.
func NewWriter(brokers, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

// KafkaNotifier publishes events to the bet-placed and bet-revoked topics.
type KafkaNotifier struct {
	placed  *kafka.Writer
	revoked *kafka.Writer
}

// NewKafkaNotifier creates a notifier against a broker list ("a:9092,b:9092").
func NewKafkaNotifier(brokers string) *KafkaNotifier {
	return &KafkaNotifier{
		placed:  NewWriter(brokers, TopicBetPlaced),
		revoked: NewWriter(brokers, TopicBetRevoked),
	}
}

// Close flushes and closes the underlying writers.
func (n *KafkaNotifier) Close() {
	n.placed.Close()
	n.revoked.Close()
}

func (n *KafkaNotifier) BetPlaced(ctx context.Context, raceID uint64, player model.Address) {
	n.publish(ctx, n.placed, "bet_placed", raceID, player)
}

func (n *KafkaNotifier) BetRevoked(ctx context.Context, raceID uint64, player model.Address) {
	n.publish(ctx, n.revoked, "bet_revoked", raceID, player)
}

func (n *KafkaNotifier) publish(ctx context.Context, w *kafka.Writer, typ string, raceID uint64, player model.Address) {
	e := Event{
		EventID:  uuid.New().String(),
		Type:     typ,
		RaceID:   raceID,
		Player:   player,
		TsUnixMs: time.Now().UnixMilli(),
	}
	payload, _ := json.Marshal(e)
	msg := kafka.Message{
		Key:   []byte(player.Hex()),
		Value: payload,
		Time:  time.Now(),
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		slog.Error("kafka publish failed", "topic", w.Topic, "race_id", raceID, "err", err)
	}
}

// Multi fans one event out to several notifiers.
type Multi []engine.Notifier

func (m Multi) BetPlaced(ctx context.Context, raceID uint64, player model.Address) {
	for _, n := range m {
		n.BetPlaced(ctx, raceID, player)
	}
}

func (m Multi) BetRevoked(ctx context.Context, raceID uint64, player model.Address) {
	for _, n := range m {
		n.BetRevoked(ctx, raceID, player)
	}
}
