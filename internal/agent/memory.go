// Package agent produces action proposals: a deterministic per-tick planner
// for the run loop and a bounded tool-calling loop for synchronous API calls.
package agent

import (
	"github.com/sentinelops/backend/internal/core"
)

const memoryRing = 10

// Entry is one governed proposal the agent remembers.
type Entry struct {
	Proposal core.ActionProposal
	Decision core.GovernanceDecision
	Executed bool
}

// Summary is the operator-visible view of the agent's memory.
type Summary struct {
	TotalEntries int `json:"total_entries"`
	Approved     int `json:"approved"`
	Denied       int `json:"denied"`
	// DenialCount is the current consecutive-denial streak.
	DenialCount int `json:"denial_count"`
}

// Memory keeps the last few governed proposals plus running tallies. Not
// concurrency safe; each run loop or agentic call owns its own.
type Memory struct {
	ring []Entry

	total       int
	approved    int
	denied      int
	denialCount int
}

// NewMemory returns an empty memory.
func NewMemory() *Memory {
	return &Memory{ring: make([]Entry, 0, memoryRing)}
}

// Record stores one governed outcome.
func (m *Memory) Record(prop core.ActionProposal, dec core.GovernanceDecision, executed bool) {
	if len(m.ring) == memoryRing {
		copy(m.ring, m.ring[1:])
		m.ring = m.ring[:memoryRing-1]
	}
	m.ring = append(m.ring, Entry{Proposal: prop, Decision: dec, Executed: executed})

	m.total++
	switch dec.Decision {
	case core.DecisionApproved:
		m.approved++
		m.denialCount = 0
	case core.DecisionDenied:
		m.denied++
		m.denialCount++
	default:
		m.denialCount = 0
	}
}

// Recent returns the ring contents, oldest first.
func (m *Memory) Recent() []Entry {
	out := make([]Entry, len(m.ring))
	copy(out, m.ring)
	return out
}

// DenialStreak returns the consecutive-denial count.
func (m *Memory) DenialStreak() int { return m.denialCount }

// Summary returns the tallies.
func (m *Memory) Summary() Summary {
	return Summary{
		TotalEntries: m.total,
		Approved:     m.approved,
		Denied:       m.denied,
		DenialCount:  m.denialCount,
	}
}
