package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sentinelops/backend/internal/agent"
	"github.com/sentinelops/backend/internal/config"
	"github.com/sentinelops/backend/internal/core"
	"github.com/sentinelops/backend/internal/eventlog"
	"github.com/sentinelops/backend/internal/geometry"
	"github.com/sentinelops/backend/internal/mission"
	"github.com/sentinelops/backend/internal/policy"
	"github.com/sentinelops/backend/internal/run"
	"github.com/sentinelops/backend/internal/sim"
)

// ErrBadRequest marks facade failures caused by the caller.
var ErrBadRequest = errors.New("bad request")

// Facade bundles the synchronous decision endpoints: they compose the engine,
// planner, sim, and event log without depending on a running loop.
type Facade struct {
	policies *config.Store
	engine   *policy.Engine
	sim      sim.Adapter
	events   *eventlog.Log
	store    mission.Store
	loop     *agent.Loop
}

// NewFacade wires the facade.
func NewFacade(policies *config.Store, engine *policy.Engine, adapter sim.Adapter, events *eventlog.Log, store mission.Store, loop *agent.Loop) *Facade {
	return &Facade{
		policies: policies,
		engine:   engine,
		sim:      adapter,
		events:   events,
		store:    store,
		loop:     loop,
	}
}

// ============================================================================
// POLICY TEST
// ============================================================================

// PolicyTestRequest is the /policies/test body.
type PolicyTestRequest struct {
	Telemetry core.Telemetry      `json:"telemetry"`
	Proposal  core.ActionProposal `json:"proposal"`
}

// PolicyTest evaluates one proposal with no side effects.
func (f *Facade) PolicyTest(_ context.Context, req PolicyTestRequest) core.GovernanceDecision {
	return f.engine.Evaluate(req.Telemetry, req.Proposal, nil)
}

// ============================================================================
// PLAN GENERATE
// ============================================================================

// PlanGenerateRequest is the /plan/generate body.
type PlanGenerateRequest struct {
	Instruction string      `json:"instruction"`
	Goal        *core.Point `json:"goal,omitempty"`
	Model       string      `json:"model,omitempty"`
}

// PlanWaypoint is one leg of a generated plan.
type PlanWaypoint struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	MaxSpeed float64 `json:"max_speed"`
}

// PlanGenerateResponse carries the plan plus a per-waypoint governance
// preview.
type PlanGenerateResponse struct {
	Waypoints      []PlanWaypoint            `json:"waypoints"`
	Rationale      string                    `json:"rationale"`
	Governance     []core.GovernanceDecision `json:"governance"`
	AllApproved    bool                      `json:"all_approved"`
	EstimatedTimeS float64                   `json:"estimated_time_s"`
}

// PlanGenerate routes to the goal and governs every waypoint against a
// projected telemetry (position advanced to the previous waypoint). No side
// effects.
func (f *Facade) PlanGenerate(ctx context.Context, req PlanGenerateRequest) (*PlanGenerateResponse, error) {
	if req.Goal == nil {
		return nil, fmt.Errorf("%w: goal required", ErrBadRequest)
	}

	tel, err := f.sim.GetTelemetry(ctx)
	if err != nil {
		return nil, err
	}
	world, err := f.sim.GetWorld(ctx)
	if err != nil {
		return nil, err
	}

	snap := f.policies.Snapshot()
	points := agent.PlanPath(core.Point{X: tel.X, Y: tel.Y}, *req.Goal, &world, snap)

	resp := &PlanGenerateResponse{
		Waypoints:   make([]PlanWaypoint, 0, len(points)),
		Rationale:   fmt.Sprintf("route to (%.1f,%.1f) for %q", req.Goal.X, req.Goal.Y, req.Instruction),
		AllApproved: true,
	}

	projected := tel
	prev := core.Point{X: tel.X, Y: tel.Y}
	for _, p := range points {
		speed := snap.DefaultSpeed
		if limit := snap.ZoneLimit(projected.Zone); speed > limit {
			speed = limit
		}
		wp := PlanWaypoint{X: p.X, Y: p.Y, MaxSpeed: speed}
		resp.Waypoints = append(resp.Waypoints, wp)

		dec := f.engine.Evaluate(projected, moveProposal(wp, "plan leg"), &world)
		resp.Governance = append(resp.Governance, dec)
		if dec.Decision != core.DecisionApproved {
			resp.AllApproved = false
		}

		resp.EstimatedTimeS += geometry.Dist(prev, p) / speed
		prev = p
		projected.X, projected.Y = p.X, p.Y
	}
	return resp, nil
}

// ============================================================================
// PLAN EXECUTE
// ============================================================================

// PlanExecuteRequest is the /plan/execute body. RunID is optional; absent, a
// synthetic run is created to host the chain events.
type PlanExecuteRequest struct {
	Instruction string         `json:"instruction"`
	Waypoints   []PlanWaypoint `json:"waypoints"`
	Rationale   string         `json:"rationale"`
	RunID       string         `json:"run_id,omitempty"`
}

// PlanExecuteStep is the outcome of one waypoint.
type PlanExecuteStep struct {
	WaypointIndex      int              `json:"waypoint_index"`
	Executed           bool             `json:"executed"`
	GovernanceDecision core.Decision    `json:"governance_decision"`
	PolicyState        core.PolicyState `json:"policy_state"`
}

// Plan execution statuses.
const (
	PlanCompleted    = "completed"
	PlanWithWarnings = "completed_with_warnings"
	PlanBlocked      = "blocked"
)

// PlanExecuteResponse reports per-waypoint outcomes plus the audit anchor.
type PlanExecuteResponse struct {
	Status    string            `json:"status"`
	Steps     []PlanExecuteStep `json:"steps"`
	AuditHash string            `json:"audit_hash"`
	RunID     string            `json:"run_id"`
}

// PlanExecute governs and executes each waypoint in order. Denied waypoints
// are recorded and skipped; the chain keeps the full account either way.
func (f *Facade) PlanExecute(ctx context.Context, req PlanExecuteRequest) (*PlanExecuteResponse, error) {
	if len(req.Waypoints) == 0 {
		return nil, fmt.Errorf("%w: waypoints required", ErrBadRequest)
	}

	runID := req.RunID
	synthetic := runID == ""
	if synthetic {
		r := core.Run{
			ID:        core.NewID("run"),
			MissionID: "plan",
			Status:    core.RunRunning,
			StartedAt: time.Now().UTC(),
		}
		if err := f.store.CreateRun(ctx, r); err != nil {
			return nil, err
		}
		runID = r.ID
	}

	points := make([]core.Point, len(req.Waypoints))
	for i, wp := range req.Waypoints {
		points[i] = core.Point{X: wp.X, Y: wp.Y}
	}
	last, err := f.events.Append(ctx, runID, core.EventPlan, run.PlanPayload{Waypoints: points, Source: "plan.execute"})
	if err != nil {
		return nil, err
	}

	executed, blocked := 0, 0
	resp := &PlanExecuteResponse{RunID: runID}
	for i, wp := range req.Waypoints {
		tel, err := f.sim.GetTelemetry(ctx)
		if err != nil {
			return nil, err
		}
		world, err := f.sim.GetWorld(ctx)
		if err != nil {
			return nil, err
		}

		prop := moveProposal(wp, req.Rationale)
		dec := f.engine.Evaluate(tel, prop, &world)

		last, err = f.events.Append(ctx, runID, core.EventDecision, run.DecisionPayload{
			Context:    run.DecisionContext{Telemetry: tel, MissionGoal: core.Point{X: wp.X, Y: wp.Y}},
			Proposal:   prop,
			Governance: dec,
		})
		if err != nil {
			return nil, err
		}

		step := PlanExecuteStep{
			WaypointIndex:      i,
			GovernanceDecision: dec.Decision,
			PolicyState:        dec.PolicyState,
		}
		if dec.Decision == core.DecisionApproved {
			res, err := f.sim.SendCommand(ctx, core.Command{Intent: prop.Intent, Params: prop.Params})
			if err != nil {
				return nil, err
			}
			last, err = f.events.Append(ctx, runID, core.EventExecution, run.ExecutionPayload{
				Command: core.Command{Intent: prop.Intent, Params: prop.Params},
				Result:  res,
			})
			if err != nil {
				return nil, err
			}
			step.Executed = res.Accepted
			executed++
		} else {
			blocked++
		}
		resp.Steps = append(resp.Steps, step)
	}

	switch {
	case blocked == 0:
		resp.Status = PlanCompleted
	case executed == 0:
		resp.Status = PlanBlocked
	default:
		resp.Status = PlanWithWarnings
	}
	resp.AuditHash = last.Hash

	if synthetic {
		now := time.Now().UTC()
		if err := f.store.SetRunStatus(ctx, runID, core.RunCompleted, &now); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// ============================================================================
// AGENTIC PROPOSE
// ============================================================================

// AgentProposeRequest is the /agent/propose body.
type AgentProposeRequest struct {
	Instruction string      `json:"instruction"`
	Goal        *core.Point `json:"goal,omitempty"`
}

// AgenticPropose runs the bounded agent loop against live telemetry.
func (f *Facade) AgenticPropose(ctx context.Context, req AgentProposeRequest) (*agent.Result, error) {
	tel, err := f.sim.GetTelemetry(ctx)
	if err != nil {
		return nil, err
	}
	world, err := f.sim.GetWorld(ctx)
	if err != nil {
		return nil, err
	}

	goal := core.Point{X: tel.X, Y: tel.Y}
	switch {
	case req.Goal != nil:
		goal = *req.Goal
	case tel.Target != nil:
		goal = *tel.Target
	}

	res := f.loop.Run(ctx, req.Instruction, goal, tel, &world)
	return &res, nil
}

func moveProposal(wp PlanWaypoint, rationale string) core.ActionProposal {
	return core.ActionProposal{
		Intent: core.IntentMoveTo,
		Params: map[string]float64{
			"x":         wp.X,
			"y":         wp.Y,
			"max_speed": wp.MaxSpeed,
		},
		Rationale: rationale,
	}
}
