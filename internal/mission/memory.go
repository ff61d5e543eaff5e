package mission

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sentinelops/backend/internal/core"
)

// MemoryStore is the in-process Store used by tests and ephemeral demos.
type MemoryStore struct {
	mu       sync.RWMutex
	missions map[string]core.Mission
	runs     map[string]core.Run
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		missions: make(map[string]core.Mission),
		runs:     make(map[string]core.Run),
	}
}

func (s *MemoryStore) CreateMission(_ context.Context, m core.Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missions[m.ID] = m
	return nil
}

func (s *MemoryStore) GetMission(_ context.Context, id string) (core.Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.missions[id]
	if !ok {
		return core.Mission{}, ErrNotFound
	}
	return m, nil
}

func (s *MemoryStore) ListMissions(_ context.Context) ([]core.Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Mission, 0, len(s.missions))
	for _, m := range s.missions {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateMission(_ context.Context, m core.Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.missions[m.ID]; !ok {
		return ErrNotFound
	}
	s.missions[m.ID] = m
	return nil
}

func (s *MemoryStore) DeleteMission(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.missions[id]; !ok {
		return ErrNotFound
	}
	delete(s.missions, id)
	return nil
}

func (s *MemoryStore) SetMissionStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return ErrNotFound
	}
	m.Status = status
	s.missions[id] = m
	return nil
}

func (s *MemoryStore) CreateRun(_ context.Context, r core.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return core.Run{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) ListRunsByMission(_ context.Context, missionID string) ([]core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []core.Run{}
	for _, r := range s.runs {
		if r.MissionID == missionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) RunningRuns(_ context.Context) ([]core.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []core.Run{}
	for _, r := range s.runs {
		if r.Status == core.RunRunning {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) SetRunStatus(_ context.Context, id string, status core.RunStatus, endedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	r.EndedAt = endedAt
	s.runs[id] = r
	return nil
}
