package run

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sentinelops/backend/internal/core"
)

// TelemetrySink stores a thinned telemetry stream per run for replay.
type TelemetrySink interface {
	Sample(ctx context.Context, runID string, tel core.Telemetry) error
}

// NopSink discards samples.
type NopSink struct{}

func (NopSink) Sample(context.Context, string, core.Telemetry) error { return nil }

// SQLSink writes samples to the telemetry_samples table.
type SQLSink struct {
	db *sql.DB
}

// NewSQLSink wraps an open database handle.
func NewSQLSink(db *sql.DB) *SQLSink {
	return &SQLSink{db: db}
}

func (s *SQLSink) Sample(ctx context.Context, runID string, tel core.Telemetry) error {
	payload, err := json.Marshal(tel)
	if err != nil {
		return fmt.Errorf("telemetry sink: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO telemetry_samples (run_id, ts, payload) VALUES ($1, $2, $3)`,
		runID, time.Now().UTC().Format(time.RFC3339Nano), payload)
	if err != nil {
		return fmt.Errorf("telemetry sink: insert: %w", err)
	}
	return nil
}

// Samples reads back the stored stream in time order.
func (s *SQLSink) Samples(ctx context.Context, runID string) ([]core.Telemetry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM telemetry_samples WHERE run_id = $1 ORDER BY ts`, runID)
	if err != nil {
		return nil, fmt.Errorf("telemetry sink: query: %w", err)
	}
	defer rows.Close()

	out := []core.Telemetry{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var tel core.Telemetry
		if err := json.Unmarshal(raw, &tel); err != nil {
			return nil, fmt.Errorf("telemetry sink: decode: %w", err)
		}
		out = append(out, tel)
	}
	return out, rows.Err()
}
