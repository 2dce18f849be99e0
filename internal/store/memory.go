package store

import (
	"context"
	"sort"
	"sync"

	"github.com/paddock/race-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	schemes map[uint64]*model.Scheme
	races   map[uint64]*model.Race
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schemes: make(map[uint64]*model.Scheme),
		races:   make(map[uint64]*model.Race),
	}
}

func (s *MemoryStore) UpsertScheme(_ context.Context, scheme *model.Scheme) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	cp := *scheme
	cp.Rewards = make([]model.Reward, len(scheme.Rewards))
	copy(cp.Rewards, scheme.Rewards)
	s.schemes[scheme.ID] = &cp
	return nil
}

func (s *MemoryStore) GetScheme(_ context.Context, id uint64) (*model.Scheme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.schemes[id]
	if !ok {
		return nil, ErrSchemeNotFound
	}
	cp := *sc
	cp.Rewards = make([]model.Reward, len(sc.Rewards))
	copy(cp.Rewards, sc.Rewards)
	return &cp, nil
}

func (s *MemoryStore) ListSchemes(_ context.Context) ([]model.Scheme, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schemes := make([]model.Scheme, 0, len(s.schemes))
	for _, sc := range s.schemes {
		cp := *sc
		cp.Rewards = make([]model.Reward, len(sc.Rewards))
		copy(cp.Rewards, sc.Rewards)
		schemes = append(schemes, cp)
	}
	sort.Slice(schemes, func(i, j int) bool { return schemes[i].ID < schemes[j].ID })
	return schemes, nil
}

func (s *MemoryStore) CreateRace(_ context.Context, race *model.Race) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.races[race.ID]; exists {
		return ErrRaceExists
	}
	s.races[race.ID] = race.Clone()
	return nil
}

func (s *MemoryStore) GetRace(_ context.Context, id uint64) (*model.Race, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.races[id]
	if !ok {
		return nil, ErrRaceNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) ListRaces(_ context.Context) ([]model.Race, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	races := make([]model.Race, 0, len(s.races))
	for _, r := range s.races {
		races = append(races, *r.Clone())
	}
	sort.Slice(races, func(i, j int) bool { return races[i].ID < races[j].ID })
	return races, nil
}

func (s *MemoryStore) RecordBet(_ context.Context, raceID uint64, player model.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.races[raceID]
	if !ok {
		return ErrRaceNotFound
	}
	r.Bettors[player] = true
	r.PlayersAssigned++
	return nil
}

func (s *MemoryStore) RecordRevocation(_ context.Context, raceID uint64, player model.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.races[raceID]
	if !ok {
		return ErrRaceNotFound
	}
	r.Revoked[player] = true
	return nil
}

func (s *MemoryStore) SetStarted(_ context.Context, raceID uint64, startTime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.races[raceID]
	if !ok {
		return ErrRaceNotFound
	}
	r.Started = true
	r.StartTime = startTime
	return nil
}

func (s *MemoryStore) SetCancelled(_ context.Context, raceID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.races[raceID]
	if !ok {
		return ErrRaceNotFound
	}
	r.Cancelled = true
	return nil
}

func (s *MemoryStore) SetFinished(_ context.Context, raceID uint64, endTime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.races[raceID]
	if !ok {
		return ErrRaceNotFound
	}
	r.Finished = true
	r.EndTime = endTime
	return nil
}
