// Package core holds the shared domain types for the runtime governance
// layer: telemetry, world geometry, action proposals, governance decisions,
// chain-of-trust events, missions, and runs.
package core

import (
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// ENUMS
// ============================================================================

// Intent is the closed set of actions a planner may propose.
type Intent string

const (
	IntentMoveTo      Intent = "MOVE_TO"
	IntentStop        Intent = "STOP"
	IntentWait        Intent = "WAIT"
	IntentModifySpeed Intent = "MODIFY_SPEED"
)

// ValidIntent reports whether the intent belongs to the closed set.
func ValidIntent(i Intent) bool {
	switch i {
	case IntentMoveTo, IntentStop, IntentWait, IntentModifySpeed:
		return true
	}
	return false
}

// Decision is the governance verdict for a proposal.
type Decision string

const (
	DecisionApproved    Decision = "APPROVED"
	DecisionDenied      Decision = "DENIED"
	DecisionNeedsReview Decision = "NEEDS_REVIEW"
)

// PolicyState is the coarse severity label accompanying a decision.
// Severity order: STOP > REPLAN > SLOW > SAFE.
type PolicyState string

const (
	StateSafe   PolicyState = "SAFE"
	StateSlow   PolicyState = "SLOW"
	StateStop   PolicyState = "STOP"
	StateReplan PolicyState = "REPLAN"
)

// StateRank returns the severity rank of a policy state for tie-breaking.
func StateRank(s PolicyState) int {
	switch s {
	case StateStop:
		return 3
	case StateReplan:
		return 2
	case StateSlow:
		return 1
	default:
		return 0
	}
}

// Severity classifies a policy rule.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// EventType tags a chain-of-trust event.
type EventType string

const (
	EventTelemetry  EventType = "TELEMETRY"
	EventDecision   EventType = "DECISION"
	EventExecution  EventType = "EXECUTION"
	EventStagnation EventType = "STAGNATION"
	EventPlan       EventType = "PLAN"
	EventAlert      EventType = "ALERT"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunStopped   RunStatus = "stopped"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether a run status is final. Terminal states never
// re-open.
func (s RunStatus) Terminal() bool {
	return s == RunStopped || s == RunCompleted || s == RunFailed
}

// ============================================================================
// TELEMETRY & WORLD
// ============================================================================

// Point is a 2D position in meters.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Telemetry is one snapshot produced by the simulator per tick.
type Telemetry struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
	Speed float64 `json:"speed"`

	Zone             string  `json:"zone"`
	NearestObstacleM float64 `json:"nearest_obstacle_m"`

	HumanDetected  bool    `json:"human_detected"`
	HumanConf      float64 `json:"human_conf"`
	HumanDistanceM float64 `json:"human_distance_m"`

	// Battery is a charge percentage in [0,100]. Zero means the simulator
	// did not report battery state.
	Battery float64 `json:"battery,omitempty"`

	Target *Point   `json:"target,omitempty"`
	Events []string `json:"events,omitempty"`
}

// Validate rejects telemetry outside the schema ranges. Malformed telemetry
// is a protocol mismatch and the tick is treated as DENIED/STOP upstream.
func (t *Telemetry) Validate() error {
	if t.Speed < 0 {
		return fmt.Errorf("telemetry: negative speed %.3f", t.Speed)
	}
	if t.HumanConf < 0 || t.HumanConf > 1 {
		return fmt.Errorf("telemetry: human_conf %.3f outside [0,1]", t.HumanConf)
	}
	if t.NearestObstacleM < 0 {
		return fmt.Errorf("telemetry: negative nearest_obstacle_m %.3f", t.NearestObstacleM)
	}
	if t.HumanDetected && t.HumanDistanceM < 0 {
		return fmt.Errorf("telemetry: negative human_distance_m %.3f", t.HumanDistanceM)
	}
	return nil
}

// Geofence is the axis-aligned operating boundary.
type Geofence struct {
	MinX float64 `json:"min_x"`
	MaxX float64 `json:"max_x"`
	MinY float64 `json:"min_y"`
	MaxY float64 `json:"max_y"`
}

// Contains reports whether a point lies inside the fence (inclusive).
func (g Geofence) Contains(p Point) bool {
	return p.X >= g.MinX && p.X <= g.MaxX && p.Y >= g.MinY && p.Y <= g.MaxY
}

// ZoneRect is the bounding rectangle of a named zone.
type ZoneRect struct {
	MinX float64 `json:"min_x"`
	MaxX float64 `json:"max_x"`
	MinY float64 `json:"min_y"`
	MaxY float64 `json:"max_y"`
}

// Zone is a named area with its own speed limit semantics.
type Zone struct {
	Name string   `json:"name"`
	Rect ZoneRect `json:"rect"`
}

// Obstacle is a circular static obstacle.
type Obstacle struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	R float64 `json:"r"`
}

// Bay is a docking/loading position.
type Bay struct {
	ID   string  `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Type string  `json:"type"`
}

// World is the static-ish map published by the simulator.
type World struct {
	Geofence  Geofence   `json:"geofence"`
	Zones     []Zone     `json:"zones,omitempty"`
	Obstacles []Obstacle `json:"obstacles,omitempty"`
	Human     *Point     `json:"human,omitempty"`
	Bays      []Bay      `json:"bays,omitempty"`
}

// ============================================================================
// PROPOSAL & DECISION
// ============================================================================

// ActionProposal is a planner-produced candidate action before governance.
// Params is intent-dependent: MOVE_TO carries x, y, max_speed; MODIFY_SPEED
// carries max_speed; STOP and WAIT carry nothing.
type ActionProposal struct {
	Intent    Intent             `json:"intent"`
	Params    map[string]float64 `json:"params"`
	Rationale string             `json:"rationale"`
}

// ErrBadProposal indicates a proposal outside the closed schema.
var ErrBadProposal = errors.New("malformed action proposal")

// Validate enforces the tagged-variant schema at the boundary. Unknown
// intents and missing intent-specific params are rejected.
func (p *ActionProposal) Validate() error {
	if !ValidIntent(p.Intent) {
		return fmt.Errorf("%w: unknown intent %q", ErrBadProposal, p.Intent)
	}
	switch p.Intent {
	case IntentMoveTo:
		for _, k := range []string{"x", "y", "max_speed"} {
			if _, ok := p.Params[k]; !ok {
				return fmt.Errorf("%w: MOVE_TO missing param %q", ErrBadProposal, k)
			}
		}
		if p.Params["max_speed"] <= 0 {
			return fmt.Errorf("%w: MOVE_TO max_speed must be positive", ErrBadProposal)
		}
	case IntentModifySpeed:
		if _, ok := p.Params["max_speed"]; !ok {
			return fmt.Errorf("%w: MODIFY_SPEED missing param max_speed", ErrBadProposal)
		}
	}
	return nil
}

// Target returns the MOVE_TO destination, if any.
func (p *ActionProposal) Target() (Point, bool) {
	if p.Intent != IntentMoveTo {
		return Point{}, false
	}
	return Point{X: p.Params["x"], Y: p.Params["y"]}, true
}

// MaxSpeed returns the proposed speed ceiling, or zero for intents that do
// not carry one.
func (p *ActionProposal) MaxSpeed() float64 {
	return p.Params["max_speed"]
}

// GovernanceDecision is the policy engine's verdict on one proposal.
type GovernanceDecision struct {
	Decision       Decision    `json:"decision"`
	PolicyState    PolicyState `json:"policy_state"`
	PolicyHits     []string    `json:"policy_hits"`
	Reasons        []string    `json:"reasons"`
	RequiredAction string      `json:"required_action,omitempty"`
	RiskScore      float64     `json:"risk_score"`
}

// ============================================================================
// COMMANDS
// ============================================================================

// Command is the actuator payload forwarded to the simulator after approval.
type Command struct {
	Intent Intent             `json:"intent"`
	Params map[string]float64 `json:"params"`
}

// CommandResult is the simulator's acknowledgement.
type CommandResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// ============================================================================
// CHAIN-OF-TRUST EVENTS
// ============================================================================

// Event is one immutable record in a run's hash chain. Hash covers the
// canonical JSON of {seq, run_id, ts, type, payload, prev_hash}.
type Event struct {
	Seq      int64     `json:"seq"`
	ID       string    `json:"id"`
	RunID    string    `json:"run_id"`
	TS       time.Time `json:"ts"`
	Type     EventType `json:"type"`
	Payload  []byte    `json:"-"`
	PrevHash string    `json:"prev_hash"`
	Hash     string    `json:"hash"`
}

// ============================================================================
// RUNS & MISSIONS
// ============================================================================

// Run is one governed execution of a mission.
type Run struct {
	ID        string     `json:"id"`
	MissionID string     `json:"mission_id"`
	Status    RunStatus  `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Mission is an operator-defined task; Title doubles as the natural-language
// goal handed to the planner.
type Mission struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Goal      Point     `json:"goal"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
