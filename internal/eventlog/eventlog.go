// Package eventlog implements the per-run chain of trust: an append-only
// sequence of canonical-JSON event payloads bound together by a SHA-256
// hash chain. Appends are serialized per run; reads see snapshot state.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sentinelops/backend/internal/canonical"
	"github.com/sentinelops/backend/internal/core"
)

// ErrConcurrentAppend is returned by a Store when two appenders race on the
// same (run_id, seq). Under the single-writer-per-run discipline the Log
// retries once and the caller never sees it.
var ErrConcurrentAppend = errors.New("eventlog: concurrent append on run")

// Store is the persistence contract for event rows. Implementations must
// enforce the (run_id, seq) primary key.
type Store interface {
	Insert(ctx context.Context, e *core.Event) error
	Last(ctx context.Context, runID string) (*core.Event, error)
	List(ctx context.Context, runID string, sinceSeq int64) ([]core.Event, error)
}

// Log allocates sequence numbers, links hashes, and persists events.
type Log struct {
	store  Store
	logger *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-run append locks
	now   func() time.Time
}

// New creates a Log over the given store.
func New(store Store) *Log {
	return &Log{
		store:  store,
		logger: log.New(log.Writer(), "[EVENTLOG] ", log.LstdFlags),
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

func (l *Log) runLock(runID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[runID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[runID] = m
	}
	return m
}

// preimage is the hash preimage of an event: exactly the six fields the
// spec binds into the chain, in canonical JSON form.
func preimage(e *core.Event) map[string]interface{} {
	return map[string]interface{}{
		"seq":       e.Seq,
		"run_id":    e.RunID,
		"ts":        e.TS.UTC().Format(time.RFC3339Nano),
		"type":      string(e.Type),
		"payload":   json.RawMessage(e.Payload),
		"prev_hash": e.PrevHash,
	}
}

// ComputeHash returns the lowercase hex SHA-256 of the event's canonical
// preimage.
func ComputeHash(e *core.Event) (string, error) {
	return canonical.HashHex(preimage(e))
}

// Append atomically allocates the next seq for the run, links prev_hash,
// computes the hash, and persists the row. On a concurrent-append conflict
// the operation is retried once.
func (l *Log) Append(ctx context.Context, runID string, typ core.EventType, payload interface{}) (*core.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("eventlog: payload: %w", err)
	}

	m := l.runLock(runID)
	m.Lock()
	defer m.Unlock()

	for attempt := 0; ; attempt++ {
		e, err := l.appendOnce(ctx, runID, typ, raw)
		if errors.Is(err, ErrConcurrentAppend) && attempt == 0 {
			l.logger.Printf("concurrent append on %s, retrying once", runID)
			continue
		}
		return e, err
	}
}

func (l *Log) appendOnce(ctx context.Context, runID string, typ core.EventType, raw []byte) (*core.Event, error) {
	prev, err := l.store.Last(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("eventlog: read last: %w", err)
	}

	e := &core.Event{
		Seq:      1,
		ID:       core.NewID("evt"),
		RunID:    runID,
		TS:       l.now().UTC(),
		Type:     typ,
		Payload:  raw,
		PrevHash: canonical.ZeroHash,
	}
	if prev != nil {
		e.Seq = prev.Seq + 1
		e.PrevHash = prev.Hash
		// ts is monotonic within a chain: if the wall clock stepped back,
		// clamp to prev_ts + 1µs.
		if !e.TS.After(prev.TS) {
			e.TS = prev.TS.Add(time.Microsecond)
		}
	}

	h, err := ComputeHash(e)
	if err != nil {
		return nil, err
	}
	e.Hash = h

	if err := l.store.Insert(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// List returns a run's events ordered by seq ascending, optionally starting
// after sinceSeq.
func (l *Log) List(ctx context.Context, runID string, sinceSeq int64) ([]core.Event, error) {
	return l.store.List(ctx, runID, sinceSeq)
}

// VerifyResult is the outcome of a chain verification.
type VerifyResult struct {
	OK      bool  `json:"ok"`
	BreakAt int64 `json:"break_at,omitempty"`
}

// Verify recomputes every hash in the run's chain and checks the prev-hash
// links and seq contiguity. A mutation of an interior event (payload or
// stored hash column) surfaces at its successor, whose prev_hash no longer
// matches; the final event has no successor, so its stored hash is checked
// against the recomputed value directly. Together the two checks bind every
// stored hash to its canonical preimage.
func (l *Log) Verify(ctx context.Context, runID string) (VerifyResult, error) {
	events, err := l.store.List(ctx, runID, 0)
	if err != nil {
		return VerifyResult{}, err
	}
	if len(events) == 0 {
		return VerifyResult{OK: true}, nil
	}

	prevStored := canonical.ZeroHash
	prevComputed := canonical.ZeroHash
	prevSeq := int64(0)
	var computed string
	for i := range events {
		e := &events[i]
		if e.Seq != prevSeq+1 {
			return VerifyResult{OK: false, BreakAt: e.Seq}, nil
		}
		if e.PrevHash != prevComputed || e.PrevHash != prevStored {
			return VerifyResult{OK: false, BreakAt: e.Seq}, nil
		}
		computed, err = ComputeHash(e)
		if err != nil {
			return VerifyResult{}, err
		}
		prevComputed = computed
		prevStored = e.Hash
		prevSeq = e.Seq
	}

	if last := &events[len(events)-1]; last.Hash != computed {
		return VerifyResult{OK: false, BreakAt: last.Seq}, nil
	}
	return VerifyResult{OK: true}, nil
}
