package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/backend/internal/config"
	"github.com/sentinelops/backend/internal/core"
)

func defaultEngine() *Engine {
	return NewEngine(config.NewStore(config.DefaultPolicy()))
}

func clearTelemetry() core.Telemetry {
	return core.Telemetry{
		X: 1, Y: 1, Zone: "aisle",
		NearestObstacleM: 10,
	}
}

func moveTo(x, y, speed float64) core.ActionProposal {
	return core.ActionProposal{
		Intent:    core.IntentMoveTo,
		Params:    map[string]float64{"x": x, "y": y, "max_speed": speed},
		Rationale: "test",
	}
}

func TestEvaluate_ClearPathApproved(t *testing.T) {
	dec := defaultEngine().Evaluate(clearTelemetry(), moveTo(15, 7, 0.5), nil)
	assert.Equal(t, core.DecisionApproved, dec.Decision)
	assert.Equal(t, core.StateSafe, dec.PolicyState)
	assert.Empty(t, dec.PolicyHits)
	assert.Zero(t, dec.RiskScore)
}

func TestEvaluate_HumanAtStopRadiusBoundary(t *testing.T) {
	tel := clearTelemetry()
	tel.HumanDetected = true
	tel.HumanConf = 0.9
	tel.HumanDistanceM = 1.00 // exactly the default stop radius

	dec := defaultEngine().Evaluate(tel, moveTo(10, 5, 0.5), nil)
	assert.Equal(t, core.DecisionDenied, dec.Decision)
	assert.Equal(t, core.StateStop, dec.PolicyState)
	assert.Equal(t, []string{"HUMAN_PROX_01"}, dec.PolicyHits)
	assert.GreaterOrEqual(t, dec.RiskScore, 0.9)
	assert.Equal(t, "halt", dec.RequiredAction)
}

func TestEvaluate_HumanJustOutsideStopRadius(t *testing.T) {
	tel := clearTelemetry()
	tel.HumanDetected = true
	tel.HumanConf = 0.9
	tel.HumanDistanceM = 1.01

	// Compliant speed: approved, state SLOW.
	dec := defaultEngine().Evaluate(tel, moveTo(10, 5, 0.3), nil)
	assert.Equal(t, core.DecisionApproved, dec.Decision)
	assert.Equal(t, core.StateSlow, dec.PolicyState)
	assert.Contains(t, dec.PolicyHits, "HUMAN_PROX_02")

	// Too fast: review with the slow-speed remediation.
	dec = defaultEngine().Evaluate(tel, moveTo(10, 5, 0.45), nil)
	assert.Equal(t, core.DecisionNeedsReview, dec.Decision)
	assert.Equal(t, core.StateSlow, dec.PolicyState)
	assert.Equal(t, "reduce speed to 0.3", dec.RequiredAction)
}

func TestEvaluate_HumanApproachingSlowBand(t *testing.T) {
	tel := clearTelemetry()
	tel.HumanDetected = true
	tel.HumanConf = 0.9
	tel.HumanDistanceM = 2.4

	dec := defaultEngine().Evaluate(tel, moveTo(10, 5, 0.8), nil)
	assert.Equal(t, core.DecisionNeedsReview, dec.Decision)
	assert.Equal(t, core.StateSlow, dec.PolicyState)
	assert.Equal(t, "reduce speed to 0.3", dec.RequiredAction)

	// Resubmission at the slow limit passes.
	dec = defaultEngine().Evaluate(tel, moveTo(10, 5, 0.3), nil)
	assert.Equal(t, core.DecisionApproved, dec.Decision)
}

func TestEvaluate_TargetJustOutsideGeofence(t *testing.T) {
	dec := defaultEngine().Evaluate(clearTelemetry(), moveTo(-0.001, 5, 0.5), nil)
	assert.Equal(t, core.DecisionDenied, dec.Decision)
	assert.Equal(t, core.StateStop, dec.PolicyState)
	assert.Contains(t, dec.PolicyHits, "GEOFENCE_01")
	assert.Equal(t, 1.0, dec.RiskScore)
}

func TestEvaluate_SpeedJustOverZoneLimit(t *testing.T) {
	dec := defaultEngine().Evaluate(clearTelemetry(), moveTo(10, 5, 0.5001), nil)
	assert.Equal(t, core.DecisionNeedsReview, dec.Decision)
	assert.Contains(t, dec.PolicyHits, "SPEED_LIMIT_01")

	tel := clearTelemetry()
	tel.Zone = "loading_bay"
	dec = defaultEngine().Evaluate(tel, moveTo(10, 5, 0.45), nil)
	assert.Contains(t, dec.PolicyHits, "SPEED_LIMIT_01", "loading_bay limit is 0.4")
}

func TestEvaluate_ReviewFloorTracksApproveThreshold(t *testing.T) {
	p := config.DefaultPolicy()
	p.RiskApproveMax = 0.85
	engine := NewEngine(config.NewStore(p))

	dec := engine.Evaluate(clearTelemetry(), moveTo(10, 5, 0.8), nil)
	assert.Equal(t, core.DecisionNeedsReview, dec.Decision)
	assert.Equal(t, []string{"SPEED_LIMIT_01"}, dec.PolicyHits)
	assert.Equal(t, 0.85, dec.RiskScore, "review floor follows the tuned threshold")

	dec = defaultEngine().Evaluate(clearTelemetry(), moveTo(10, 5, 0.8), nil)
	assert.Equal(t, 0.70, dec.RiskScore)
}

func TestEvaluate_PathBlockedThenDetourClears(t *testing.T) {
	world := &core.World{
		Geofence:  core.Geofence{MinX: 0, MaxX: 30, MinY: 0, MaxY: 20},
		Obstacles: []core.Obstacle{{X: 5, Y: 5, R: 0.6}},
	}
	tel := clearTelemetry()
	tel.X, tel.Y = 0, 5

	dec := defaultEngine().Evaluate(tel, moveTo(10, 5, 0.5), world)
	assert.Equal(t, core.DecisionDenied, dec.Decision)
	assert.Equal(t, core.StateReplan, dec.PolicyState)
	assert.Contains(t, dec.PolicyHits, "PATH_BLOCKED_01")

	// Detour waypoint perpendicular to the obstacle clears the rule.
	dec = defaultEngine().Evaluate(tel, moveTo(5, 5.8, 0.5), world)
	assert.Equal(t, core.DecisionApproved, dec.Decision)
}

func TestEvaluate_CollisionRadius(t *testing.T) {
	tel := clearTelemetry()
	tel.NearestObstacleM = 0.4

	dec := defaultEngine().Evaluate(tel, moveTo(10, 5, 0.5), nil)
	assert.Equal(t, core.DecisionDenied, dec.Decision)
	assert.Equal(t, core.StateReplan, dec.PolicyState)
	assert.Contains(t, dec.PolicyHits, "COLLISION_01")
	assert.GreaterOrEqual(t, dec.RiskScore, 0.85)
}

func TestEvaluate_StopAndWaitExemptFromMotionRules(t *testing.T) {
	tel := clearTelemetry()
	tel.HumanDetected = true
	tel.HumanConf = 0.9
	tel.HumanDistanceM = 0.5
	tel.NearestObstacleM = 0.2

	for _, intent := range []core.Intent{core.IntentStop, core.IntentWait} {
		dec := defaultEngine().Evaluate(tel, core.ActionProposal{Intent: intent, Params: map[string]float64{}}, nil)
		assert.Equal(t, core.DecisionApproved, dec.Decision, "intent %s must stay approvable", intent)
	}
}

func TestEvaluate_BatteryAdvisory(t *testing.T) {
	tel := clearTelemetry()
	tel.Battery = 15

	dec := defaultEngine().Evaluate(tel, moveTo(10, 5, 0.5), nil)
	assert.Equal(t, core.DecisionApproved, dec.Decision)
	assert.Contains(t, dec.PolicyHits, "BATTERY_01")
	assert.Equal(t, "schedule recharge", dec.RequiredAction)
}

func TestEvaluate_MalformedProposalFailsClosed(t *testing.T) {
	dec := defaultEngine().Evaluate(clearTelemetry(), core.ActionProposal{Intent: "TELEPORT"}, nil)
	assert.Equal(t, core.DecisionDenied, dec.Decision)
	assert.Equal(t, core.StateStop, dec.PolicyState)
	assert.Equal(t, 1.0, dec.RiskScore)
}

func TestEvaluate_MalformedTelemetryFailsClosed(t *testing.T) {
	tel := clearTelemetry()
	tel.HumanConf = 3.5
	dec := defaultEngine().Evaluate(tel, moveTo(10, 5, 0.5), nil)
	assert.Equal(t, core.DecisionDenied, dec.Decision)
	assert.Equal(t, 1.0, dec.RiskScore)
}

func TestEvaluate_Deterministic(t *testing.T) {
	tel := clearTelemetry()
	tel.HumanDetected = true
	tel.HumanConf = 0.8
	tel.HumanDistanceM = 2.0
	prop := moveTo(12, 9, 0.8)

	first := defaultEngine().Evaluate(tel, prop, nil)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, defaultEngine().Evaluate(tel, prop, nil))
	}
}

func TestEvaluate_LatencyBudget(t *testing.T) {
	eng := defaultEngine()
	tel := clearTelemetry()
	tel.HumanDetected = true
	tel.HumanConf = 0.8
	tel.HumanDistanceM = 2.0
	world := &core.World{Obstacles: []core.Obstacle{{X: 5, Y: 5, R: 0.6}, {X: 8, Y: 2, R: 0.3}}}
	prop := moveTo(12, 9, 0.8)

	start := time.Now()
	const n = 1000
	for i := 0; i < n; i++ {
		eng.Evaluate(tel, prop, world)
	}
	perCall := time.Since(start) / n
	require.Less(t, perCall, 10*time.Millisecond, "evaluation must stay within the 10ms typical budget")
}
