package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paddock/race-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for race and scheme reads. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) UpsertScheme(ctx context.Context, scheme *model.Scheme) error {
	if err := s.primary.UpsertScheme(ctx, scheme); err != nil {
		return err
	}
	s.rdb.Del(ctx, schemeKey(scheme.ID))
	return nil
}

func (s *CachedStore) CreateRace(ctx context.Context, race *model.Race) error {
	if err := s.primary.CreateRace(ctx, race); err != nil {
		return err
	}
	s.cacheRace(ctx, race)
	return nil
}

func (s *CachedStore) RecordBet(ctx context.Context, raceID uint64, player model.Address) error {
	if err := s.primary.RecordBet(ctx, raceID, player); err != nil {
		return err
	}
	s.rdb.Del(ctx, raceKey(raceID))
	return nil
}

func (s *CachedStore) RecordRevocation(ctx context.Context, raceID uint64, player model.Address) error {
	if err := s.primary.RecordRevocation(ctx, raceID, player); err != nil {
		return err
	}
	s.rdb.Del(ctx, raceKey(raceID))
	return nil
}

func (s *CachedStore) SetStarted(ctx context.Context, raceID uint64, startTime int64) error {
	if err := s.primary.SetStarted(ctx, raceID, startTime); err != nil {
		return err
	}
	s.rdb.Del(ctx, raceKey(raceID))
	return nil
}

func (s *CachedStore) SetCancelled(ctx context.Context, raceID uint64) error {
	if err := s.primary.SetCancelled(ctx, raceID); err != nil {
		return err
	}
	s.rdb.Del(ctx, raceKey(raceID))
	return nil
}

func (s *CachedStore) SetFinished(ctx context.Context, raceID uint64, endTime int64) error {
	if err := s.primary.SetFinished(ctx, raceID, endTime); err != nil {
		return err
	}
	s.rdb.Del(ctx, raceKey(raceID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetScheme(ctx context.Context, id uint64) (*model.Scheme, error) {
	data, err := s.rdb.Get(ctx, schemeKey(id)).Bytes()
	if err == nil {
		var sc model.Scheme
		if json.Unmarshal(data, &sc) == nil {
			return &sc, nil
		}
	}

	sc, err := s.primary.GetScheme(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(sc); err == nil {
		s.rdb.Set(ctx, schemeKey(id), data, s.ttl)
	}
	return sc, nil
}

func (s *CachedStore) GetRace(ctx context.Context, id uint64) (*model.Race, error) {
	data, err := s.rdb.Get(ctx, raceKey(id)).Bytes()
	if err == nil {
		var r model.Race
		if json.Unmarshal(data, &r) == nil {
			return &r, nil
		}
	}

	r, err := s.primary.GetRace(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheRace(ctx, r)
	return r, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListSchemes(ctx context.Context) ([]model.Scheme, error) {
	return s.primary.ListSchemes(ctx)
}

func (s *CachedStore) ListRaces(ctx context.Context) ([]model.Race, error) {
	return s.primary.ListRaces(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheRace(ctx context.Context, r *model.Race) {
	if data, err := json.Marshal(r); err == nil {
		s.rdb.Set(ctx, raceKey(r.ID), data, s.ttl)
	}
}

func raceKey(id uint64) string   { return fmt.Sprintf("race:%d", id) }
func schemeKey(id uint64) string { return fmt.Sprintf("scheme:%d", id) }
