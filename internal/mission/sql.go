package mission

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sentinelops/backend/internal/core"
)

// SQLStore persists missions and runs in the relational database. Works
// against both Postgres and the embedded sqlite backend.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) CreateMission(ctx context.Context, m core.Mission) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO missions (id, title, goal_x, goal_y, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Title, m.Goal.X, m.Goal.Y, m.Status, m.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("mission: create: %w", err)
	}
	return nil
}

func (s *SQLStore) GetMission(ctx context.Context, id string) (core.Mission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, goal_x, goal_y, status, created_at FROM missions WHERE id = $1`, id)
	return scanMission(row)
}

func (s *SQLStore) ListMissions(ctx context.Context) ([]core.Mission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, goal_x, goal_y, status, created_at FROM missions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("mission: list: %w", err)
	}
	defer rows.Close()

	out := []core.Mission{}
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateMission(ctx context.Context, m core.Mission) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE missions SET title = $1, goal_x = $2, goal_y = $3, status = $4 WHERE id = $5`,
		m.Title, m.Goal.X, m.Goal.Y, m.Status, m.ID)
	if err != nil {
		return fmt.Errorf("mission: update: %w", err)
	}
	return requireRow(res)
}

func (s *SQLStore) DeleteMission(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM missions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mission: delete: %w", err)
	}
	return requireRow(res)
}

func (s *SQLStore) SetMissionStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE missions SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("mission: set status: %w", err)
	}
	return requireRow(res)
}

func (s *SQLStore) CreateRun(ctx context.Context, r core.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, mission_id, status, started_at, ended_at) VALUES ($1, $2, $3, $4, NULL)`,
		r.ID, r.MissionID, r.Status, r.StartedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("run: create: %w", err)
	}
	return nil
}

func (s *SQLStore) GetRun(ctx context.Context, id string) (core.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, mission_id, status, started_at, ended_at FROM runs WHERE id = $1`, id)
	return scanRun(row)
}

func (s *SQLStore) ListRunsByMission(ctx context.Context, missionID string) ([]core.Run, error) {
	return s.queryRuns(ctx,
		`SELECT id, mission_id, status, started_at, ended_at FROM runs WHERE mission_id = $1 ORDER BY started_at`, missionID)
}

func (s *SQLStore) RunningRuns(ctx context.Context) ([]core.Run, error) {
	return s.queryRuns(ctx,
		`SELECT id, mission_id, status, started_at, ended_at FROM runs WHERE status = $1`, string(core.RunRunning))
}

func (s *SQLStore) SetRunStatus(ctx context.Context, id string, status core.RunStatus, endedAt *time.Time) error {
	var ended interface{}
	if endedAt != nil {
		ended = endedAt.UTC().Format(time.RFC3339Nano)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = $1, ended_at = $2 WHERE id = $3`, string(status), ended, id)
	if err != nil {
		return fmt.Errorf("run: set status: %w", err)
	}
	return requireRow(res)
}

func (s *SQLStore) queryRuns(ctx context.Context, query string, args ...interface{}) ([]core.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("run: query: %w", err)
	}
	defer rows.Close()

	out := []core.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMission(row rowScanner) (core.Mission, error) {
	var m core.Mission
	var created string
	err := row.Scan(&m.ID, &m.Title, &m.Goal.X, &m.Goal.Y, &m.Status, &created)
	if err == sql.ErrNoRows {
		return core.Mission{}, ErrNotFound
	}
	if err != nil {
		return core.Mission{}, fmt.Errorf("mission: scan: %w", err)
	}
	m.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return core.Mission{}, fmt.Errorf("mission: created_at: %w", err)
	}
	return m, nil
}

func scanRun(row rowScanner) (core.Run, error) {
	var r core.Run
	var status, started string
	var ended sql.NullString
	err := row.Scan(&r.ID, &r.MissionID, &status, &started, &ended)
	if err == sql.ErrNoRows {
		return core.Run{}, ErrNotFound
	}
	if err != nil {
		return core.Run{}, fmt.Errorf("run: scan: %w", err)
	}
	r.Status = core.RunStatus(status)
	r.StartedAt, err = time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return core.Run{}, fmt.Errorf("run: started_at: %w", err)
	}
	if ended.Valid {
		t, err := time.Parse(time.RFC3339Nano, ended.String)
		if err != nil {
			return core.Run{}, fmt.Errorf("run: ended_at: %w", err)
		}
		r.EndedAt = &t
	}
	return r, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
