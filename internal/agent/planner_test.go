package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/backend/internal/config"
	"github.com/sentinelops/backend/internal/core"
)

func testStore() *config.Store {
	return config.NewStore(config.DefaultPolicy())
}

func tick(x, y float64) core.Telemetry {
	return core.Telemetry{X: x, Y: y, Zone: "aisle", NearestObstacleM: 10}
}

func TestPropose_DirectRoute(t *testing.T) {
	p := NewPlanner(testStore())
	prop := p.Propose(tick(0, 0), core.Point{X: 15, Y: 7}, nil, nil)

	require.Equal(t, core.IntentMoveTo, prop.Intent)
	assert.Equal(t, 15.0, prop.Params["x"])
	assert.Equal(t, 7.0, prop.Params["y"])
	assert.Equal(t, 0.5, prop.Params["max_speed"])
}

func TestPropose_StopAtGoal(t *testing.T) {
	p := NewPlanner(testStore())
	prop := p.Propose(tick(14.9, 7.1), core.Point{X: 15, Y: 7}, nil, nil)
	assert.Equal(t, core.IntentStop, prop.Intent)
}

func TestPropose_WaitUnderStopState(t *testing.T) {
	p := NewPlanner(testStore())
	last := &core.GovernanceDecision{Decision: core.DecisionDenied, PolicyState: core.StateStop}
	prop := p.Propose(tick(2, 2), core.Point{X: 10, Y: 5}, last, nil)
	assert.Equal(t, core.IntentWait, prop.Intent)
}

func TestPropose_SlowStateUsesRequiredAction(t *testing.T) {
	p := NewPlanner(testStore())
	last := &core.GovernanceDecision{
		Decision:       core.DecisionNeedsReview,
		PolicyState:    core.StateSlow,
		RequiredAction: "reduce speed to 0.3",
	}
	prop := p.Propose(tick(2, 2), core.Point{X: 10, Y: 5}, last, nil)
	require.Equal(t, core.IntentMoveTo, prop.Intent)
	assert.Equal(t, 0.3, prop.Params["max_speed"])
}

func TestPropose_ReplanInsertsDetourWaypoint(t *testing.T) {
	world := &core.World{
		Geofence:  core.Geofence{MinX: 0, MaxX: 30, MinY: 0, MaxY: 20},
		Obstacles: []core.Obstacle{{X: 5, Y: 5, R: 0.6}},
	}
	p := NewPlanner(testStore())
	last := &core.GovernanceDecision{Decision: core.DecisionDenied, PolicyState: core.StateReplan}

	prop := p.Propose(tick(0, 5), core.Point{X: 10, Y: 5}, last, world)
	require.Equal(t, core.IntentMoveTo, prop.Intent)

	// Waypoint sits beside the obstacle, offset by the detour distance.
	assert.InDelta(t, 5.0, prop.Params["x"], 0.01)
	assert.InDelta(t, 0.8, absFloat(prop.Params["y"]-5.0), 0.01)
}

func TestPropose_ReplanBudgetExhausts(t *testing.T) {
	world := &core.World{
		Geofence:  core.Geofence{MinX: 0, MaxX: 30, MinY: 0, MaxY: 20},
		Obstacles: []core.Obstacle{{X: 5, Y: 5, R: 0.6}},
	}
	p := NewPlanner(testStore())
	last := &core.GovernanceDecision{Decision: core.DecisionDenied, PolicyState: core.StateReplan}

	for i := 0; i < 3; i++ {
		prop := p.Propose(tick(0, 5), core.Point{X: 10, Y: 5}, last, world)
		require.Equal(t, core.IntentMoveTo, prop.Intent, "replan %d within budget", i+1)
	}
	prop := p.Propose(tick(0, 5), core.Point{X: 10, Y: 5}, last, world)
	assert.Equal(t, core.IntentWait, prop.Intent)

	// A non-REPLAN tick restores the budget.
	p.Propose(tick(0, 5), core.Point{X: 10, Y: 5}, nil, world)
	prop = p.Propose(tick(0, 5), core.Point{X: 10, Y: 5}, last, world)
	assert.Equal(t, core.IntentMoveTo, prop.Intent)
}

func TestPropose_SpeedClampedToZoneLimit(t *testing.T) {
	store := config.NewStore(func() config.PolicySnapshot {
		s := config.DefaultPolicy()
		s.DefaultSpeed = 0.9
		return s
	}())
	p := NewPlanner(store)

	prop := p.Propose(tick(0, 0), core.Point{X: 15, Y: 7}, nil, nil)
	assert.Equal(t, 0.5, prop.Params["max_speed"], "aisle limit caps the default speed")
}

func TestPlanPath_StraightWhenClear(t *testing.T) {
	snap := config.DefaultPolicy()
	path := PlanPath(core.Point{X: 0, Y: 0}, core.Point{X: 15, Y: 7}, &core.World{}, &snap)
	assert.Equal(t, []core.Point{{X: 15, Y: 7}}, path)
}

func TestPlanPath_DetourClearsObstacle(t *testing.T) {
	snap := config.DefaultPolicy()
	world := &core.World{
		Geofence:  core.Geofence{MinX: 0, MaxX: 30, MinY: 0, MaxY: 20},
		Obstacles: []core.Obstacle{{X: 5, Y: 5, R: 0.6}},
	}
	path := PlanPath(core.Point{X: 0, Y: 5}, core.Point{X: 10, Y: 5}, world, &snap)

	require.Len(t, path, 2)
	assert.InDelta(t, 5.0, path[0].X, 0.01)
	assert.InDelta(t, 0.8, absFloat(path[0].Y-5.0), 0.01)
	assert.Equal(t, core.Point{X: 10, Y: 5}, path[1])
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
