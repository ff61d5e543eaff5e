package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sentinelops/backend/internal/core"
)

// SQLStore persists event rows in a relational store (Postgres via lib/pq
// or embedded sqlite via modernc). The primary key (run_id, seq) turns a
// racing append into a constraint violation, surfaced as
// ErrConcurrentAppend.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database handle. Schema creation is handled by
// database.Migrate.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Insert(ctx context.Context, e *core.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (run_id, seq, id, ts, type, payload, prev_hash, hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.RunID, e.Seq, e.ID, e.TS.UTC().Format(time.RFC3339Nano),
		string(e.Type), string(e.Payload), e.PrevHash, e.Hash)
	if err != nil && isUniqueViolation(err) {
		return ErrConcurrentAppend
	}
	if err != nil {
		return fmt.Errorf("eventlog: insert: %w", err)
	}
	return nil
}

func (s *SQLStore) Last(ctx context.Context, runID string) (*core.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, seq, id, ts, type, payload, prev_hash, hash
		 FROM events WHERE run_id = $1 ORDER BY seq DESC LIMIT 1`, runID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (s *SQLStore) List(ctx context.Context, runID string, sinceSeq int64) ([]core.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, id, ts, type, payload, prev_hash, hash
		 FROM events WHERE run_id = $1 AND seq > $2 ORDER BY seq ASC`, runID, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("eventlog: list: %w", err)
	}
	defer rows.Close()

	var out []core.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(r rowScanner) (*core.Event, error) {
	var e core.Event
	var ts, typ, payload string
	if err := r.Scan(&e.RunID, &e.Seq, &e.ID, &ts, &typ, &payload, &e.PrevHash, &e.Hash); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("eventlog: bad ts %q: %w", ts, err)
	}
	e.TS = t
	e.Type = core.EventType(typ)
	e.Payload = []byte(payload)
	return &e, nil
}

// isUniqueViolation matches the driver-specific duplicate-key errors of
// lib/pq (23505) and modernc sqlite without importing either here.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key")
}
