package config

import "sync/atomic"

// Store holds the active policy snapshot behind an atomic pointer so the
// engine reads a consistent set of thresholds every tick while an operator
// swap never blocks evaluation.
type Store struct {
	p atomic.Pointer[PolicySnapshot]
}

// NewStore seeds a store with the given snapshot.
func NewStore(snap PolicySnapshot) *Store {
	s := &Store{}
	s.p.Store(&snap)
	return s
}

// Snapshot returns the current immutable snapshot. Callers must not mutate
// the returned value.
func (s *Store) Snapshot() *PolicySnapshot {
	return s.p.Load()
}

// Swap atomically replaces the active snapshot.
func (s *Store) Swap(snap PolicySnapshot) {
	s.p.Store(&snap)
}
