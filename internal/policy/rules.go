package policy

import (
	"fmt"

	"github.com/sentinelops/backend/internal/config"
	"github.com/sentinelops/backend/internal/core"
	"github.com/sentinelops/backend/internal/geometry"
)

// effect is what a single rule asks for when it fires.
type effect int

const (
	effectAllow  effect = iota // hit recorded, execution may proceed
	effectReview               // hold for operator review
	effectDeny                 // block execution
)

// hit is one fired rule with its contribution to the aggregate decision.
type hit struct {
	PolicyID string
	Severity core.Severity
	State    core.PolicyState
	Effect   effect
	Reason   string
	Action   string
	// Floor is the minimum aggregate risk this hit forces, independent of
	// the severity weight sum.
	Floor float64
}

// ruleInput bundles the immutable inputs each rule sees.
type ruleInput struct {
	tel   core.Telemetry
	prop  core.ActionProposal
	world *core.World
	snap  *config.PolicySnapshot
}

// motion reports whether executing the proposal could increase exposure.
// STOP and WAIT never do; they must stay approvable under a STOP state or
// the loop can never recover.
func (in *ruleInput) motion() bool {
	return in.prop.Intent == core.IntentMoveTo || in.prop.Intent == core.IntentModifySpeed
}

// humanPresent requires both the detection flag and enough confidence to
// trust it. Low-confidence detections do not trip the proximity rules.
func (in *ruleInput) humanPresent() bool {
	return in.tel.HumanDetected && in.tel.HumanConf >= in.snap.MinHumanConf
}

func (in *ruleInput) geofence() core.Geofence {
	if in.world != nil && (in.world.Geofence != core.Geofence{}) {
		return in.world.Geofence
	}
	return in.snap.Geofence
}

// rules in catalog order. Each returns nil when the rule does not fire.
var rules = []func(*ruleInput) *hit{
	ruleGeofence,
	ruleHumanStop,
	ruleHumanSlow,
	ruleSpeedLimit,
	ruleCollision,
	rulePathBlocked,
	ruleBattery,
}

func ruleGeofence(in *ruleInput) *hit {
	target, ok := in.prop.Target()
	if !ok {
		return nil
	}
	fence := in.geofence()
	if fence.Contains(target) {
		return nil
	}
	return &hit{
		PolicyID: "GEOFENCE_01",
		Severity: core.SeverityHigh,
		State:    core.StateStop,
		Effect:   effectDeny,
		Reason:   fmt.Sprintf("target (%.2f,%.2f) outside geofence x[%.1f,%.1f] y[%.1f,%.1f]", target.X, target.Y, fence.MinX, fence.MaxX, fence.MinY, fence.MaxY),
		Action:   "halt",
		Floor:    1.0,
	}
}

func ruleHumanStop(in *ruleInput) *hit {
	if !in.motion() || !in.humanPresent() {
		return nil
	}
	if in.tel.HumanDistanceM > in.snap.StopRadiusM {
		return nil
	}
	return &hit{
		PolicyID: "HUMAN_PROX_01",
		Severity: core.SeverityHigh,
		State:    core.StateStop,
		Effect:   effectDeny,
		Reason:   fmt.Sprintf("human at %.2fm inside stop radius %.2fm", in.tel.HumanDistanceM, in.snap.StopRadiusM),
		Action:   "halt",
		Floor:    0.9,
	}
}

func ruleHumanSlow(in *ruleInput) *hit {
	if !in.motion() || !in.humanPresent() {
		return nil
	}
	d := in.tel.HumanDistanceM
	if d <= in.snap.StopRadiusM || d >= in.snap.SlowRadiusM {
		return nil
	}
	h := &hit{
		PolicyID: "HUMAN_PROX_02",
		Severity: core.SeverityMedium,
		State:    core.StateSlow,
		Effect:   effectAllow,
		Reason:   fmt.Sprintf("human at %.2fm inside slow radius %.2fm", d, in.snap.SlowRadiusM),
	}
	if in.prop.MaxSpeed() > in.snap.SlowSpeed {
		h.Effect = effectReview
		h.Reason = fmt.Sprintf("human at %.2fm; max_speed %.2f exceeds slow limit %.2f", d, in.prop.MaxSpeed(), in.snap.SlowSpeed)
		h.Action = fmt.Sprintf("reduce speed to %.1f", in.snap.SlowSpeed)
		// Review hits pin the risk at the approval boundary so the decision
		// cannot land in the auto-approve band.
		h.Floor = in.snap.RiskApproveMax
	}
	return h
}

func ruleSpeedLimit(in *ruleInput) *hit {
	if !in.motion() {
		return nil
	}
	limit := in.snap.ZoneLimit(in.tel.Zone)
	if in.prop.MaxSpeed() <= limit {
		return nil
	}
	return &hit{
		PolicyID: "SPEED_LIMIT_01",
		Severity: core.SeverityMedium,
		State:    core.StateSlow,
		Effect:   effectReview,
		Reason:   fmt.Sprintf("max_speed %.4f exceeds %q zone limit %.2f", in.prop.MaxSpeed(), in.tel.Zone, limit),
		Action:   fmt.Sprintf("reduce speed to %.1f", limit),
		Floor:    in.snap.RiskApproveMax,
	}
}

func ruleCollision(in *ruleInput) *hit {
	if !in.motion() {
		return nil
	}
	if in.tel.NearestObstacleM >= in.snap.CollisionRadius {
		return nil
	}
	return &hit{
		PolicyID: "COLLISION_01",
		Severity: core.SeverityHigh,
		State:    core.StateReplan,
		Effect:   effectDeny,
		Reason:   fmt.Sprintf("obstacle at %.2fm inside collision radius %.2fm", in.tel.NearestObstacleM, in.snap.CollisionRadius),
		Action:   "replan around nearby obstacle",
		Floor:    0.85,
	}
}

func rulePathBlocked(in *ruleInput) *hit {
	target, ok := in.prop.Target()
	if !ok || in.world == nil || len(in.world.Obstacles) == 0 {
		return nil
	}
	from := core.Point{X: in.tel.X, Y: in.tel.Y}
	ob, blocked := geometry.FirstBlockingObstacle(from, target, in.world.Obstacles, in.snap.MinClearanceM)
	if !blocked {
		return nil
	}
	return &hit{
		PolicyID: "PATH_BLOCKED_01",
		Severity: core.SeverityMedium,
		State:    core.StateReplan,
		Effect:   effectDeny,
		Reason:   fmt.Sprintf("obstacle at (%.1f,%.1f) r=%.1f blocks the segment to (%.1f,%.1f)", ob.X, ob.Y, ob.R, target.X, target.Y),
		Action:   fmt.Sprintf("replan around obstacle at (%.1f,%.1f)", ob.X, ob.Y),
		Floor:    0.75,
	}
}

func ruleBattery(in *ruleInput) *hit {
	// Battery zero means the simulator did not report charge.
	if in.tel.Battery <= 0 || in.tel.Battery >= in.snap.BatteryMinPct {
		return nil
	}
	return &hit{
		PolicyID: "BATTERY_01",
		Severity: core.SeverityLow,
		State:    core.StateSafe,
		Effect:   effectAllow,
		Reason:   fmt.Sprintf("battery at %.0f%% below %.0f%% reserve", in.tel.Battery, in.snap.BatteryMinPct),
		Action:   "schedule recharge",
	}
}
