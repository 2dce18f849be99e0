// Package store defines the persistence interface for the race and scheme
// registries. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing and development).
package store

import (
	"context"
	"errors"

	"github.com/paddock/race-engine/internal/model"
)

var (
	// ErrSchemeNotFound is returned when a scheme id is unknown.
	ErrSchemeNotFound = errors.New("store: scheme not found")

	// ErrRaceNotFound is returned when a race id is unknown.
	ErrRaceNotFound = errors.New("store: race not found")

	// ErrRaceExists is returned when creating a race with a used id.
	// Race ids are allocated exactly once and never reused.
	ErrRaceExists = errors.New("store: race already exists")
)

// Store holds both registries. PostgreSQL is the source of truth in
// production; Redis provides a read-through cache layer.
type Store interface {
	// --- Scheme registry ---

	// UpsertScheme writes a scheme, replacing any existing one with the
	// same id (rewards replaced, not appended).
	UpsertScheme(ctx context.Context, scheme *model.Scheme) error

	// GetScheme retrieves a scheme by id.
	GetScheme(ctx context.Context, id uint64) (*model.Scheme, error)

	// ListSchemes returns all schemes.
	ListSchemes(ctx context.Context) ([]model.Scheme, error)

	// --- Race registry ---

	// CreateRace persists a new race; fails with ErrRaceExists on a
	// duplicate id without touching the stored race.
	CreateRace(ctx context.Context, race *model.Race) error

	// GetRace retrieves a race with its membership sets loaded.
	GetRace(ctx context.Context, id uint64) (*model.Race, error)

	// ListRaces returns all races.
	ListRaces(ctx context.Context) ([]model.Race, error)

	// RecordBet adds a player to the race's bettor set and increments the
	// assigned-player counter.
	RecordBet(ctx context.Context, raceID uint64, player model.Address) error

	// RecordRevocation adds a player to the race's revocation set.
	RecordRevocation(ctx context.Context, raceID uint64, player model.Address) error

	// SetStarted records the start time and flips the started flag.
	SetStarted(ctx context.Context, raceID uint64, startTime int64) error

	// SetCancelled flips the cancelled flag.
	SetCancelled(ctx context.Context, raceID uint64) error

	// SetFinished records the end time and flips the finished flag.
	SetFinished(ctx context.Context, raceID uint64, endTime int64) error
}
