package eventlog

import (
	"context"
	"sync"

	"github.com/sentinelops/backend/internal/core"
)

// MemoryStore is an in-process Store used in tests and single-node demo
// deployments without a database.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string][]core.Event
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string][]core.Event)}
}

func (s *MemoryStore) Insert(_ context.Context, e *core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.runs[e.RunID]
	if len(events) > 0 && events[len(events)-1].Seq >= e.Seq {
		return ErrConcurrentAppend
	}
	cp := *e
	cp.Payload = append([]byte(nil), e.Payload...)
	s.runs[e.RunID] = append(events, cp)
	return nil
}

func (s *MemoryStore) Last(_ context.Context, runID string) (*core.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.runs[runID]
	if len(events) == 0 {
		return nil, nil
	}
	cp := events[len(events)-1]
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, runID string, sinceSeq int64) ([]core.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Event
	for _, e := range s.runs[runID] {
		if e.Seq > sinceSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

// Tamper overwrites the stored payload of (runID, seq) in place. Test hook
// for chain-break detection; storage has no integrity of its own.
func (s *MemoryStore) Tamper(runID string, seq int64, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.runs[runID]
	for i := range events {
		if events[i].Seq == seq {
			events[i].Payload = append([]byte(nil), payload...)
			return true
		}
	}
	return false
}

// TamperHash rewrites the stored hash column of (runID, seq). Test hook.
func (s *MemoryStore) TamperHash(runID string, seq int64, hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.runs[runID]
	for i := range events {
		if events[i].Seq == seq {
			events[i].Hash = hash
			return true
		}
	}
	return false
}
