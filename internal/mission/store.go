// Package mission persists missions and runs. Two implementations share one
// interface: SQLStore over the relational database and MemoryStore for tests.
package mission

import (
	"context"
	"errors"
	"time"

	"github.com/sentinelops/backend/internal/core"
)

// ErrNotFound is returned when a mission or run does not exist.
var ErrNotFound = errors.New("not found")

// Mission lifecycle states.
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusPaused    = "paused"
	StatusCompleted = "completed"
)

// Store is the persistence surface for missions and runs.
type Store interface {
	CreateMission(ctx context.Context, m core.Mission) error
	GetMission(ctx context.Context, id string) (core.Mission, error)
	ListMissions(ctx context.Context) ([]core.Mission, error)
	UpdateMission(ctx context.Context, m core.Mission) error
	DeleteMission(ctx context.Context, id string) error
	SetMissionStatus(ctx context.Context, id, status string) error

	CreateRun(ctx context.Context, r core.Run) error
	GetRun(ctx context.Context, id string) (core.Run, error)
	ListRunsByMission(ctx context.Context, missionID string) ([]core.Run, error)
	// RunningRuns lists rows still marked running; used by auto-resume.
	RunningRuns(ctx context.Context) ([]core.Run, error)
	SetRunStatus(ctx context.Context, id string, status core.RunStatus, endedAt *time.Time) error
}
