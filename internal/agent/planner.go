package agent

import (
	"fmt"
	"strings"

	"github.com/sentinelops/backend/internal/config"
	"github.com/sentinelops/backend/internal/core"
	"github.com/sentinelops/backend/internal/geometry"
)

// Planner is the deterministic per-tick proposer. One instance per run; the
// replan budget carries across consecutive REPLAN ticks and resets when
// governance reports any other state.
type Planner struct {
	cfg     *config.Store
	replans int
}

// NewPlanner creates a planner over the live policy snapshot.
func NewPlanner(cfg *config.Store) *Planner {
	return &Planner{cfg: cfg}
}

// Propose maps the current situation to one action. last is the previous
// tick's governance verdict, nil on the first tick.
func (p *Planner) Propose(tel core.Telemetry, goal core.Point, last *core.GovernanceDecision, world *core.World) core.ActionProposal {
	snap := p.cfg.Snapshot()
	pos := core.Point{X: tel.X, Y: tel.Y}

	if geometry.Dist(pos, goal) <= snap.ArriveEps {
		p.replans = 0
		return core.ActionProposal{
			Intent:    core.IntentStop,
			Params:    map[string]float64{},
			Rationale: "goal reached",
		}
	}

	if last != nil {
		switch last.PolicyState {
		case core.StateStop:
			p.replans = 0
			return core.ActionProposal{
				Intent:    core.IntentWait,
				Params:    map[string]float64{},
				Rationale: "holding for STOP policy state",
			}
		case core.StateReplan:
			return p.replanProposal(tel, pos, goal, world, snap)
		case core.StateSlow:
			p.replans = 0
			speed := requiredSpeed(last.RequiredAction, snap.SlowSpeed)
			return p.moveTo(goal, speed, tel.Zone, snap, "reduced speed for SLOW policy state")
		}
	}

	p.replans = 0
	return p.moveTo(goal, snap.DefaultSpeed, tel.Zone, snap, "direct route to goal")
}

func (p *Planner) replanProposal(tel core.Telemetry, pos, goal core.Point, world *core.World, snap *config.PolicySnapshot) core.ActionProposal {
	if p.replans >= snap.MaxReplans {
		return core.ActionProposal{
			Intent:    core.IntentWait,
			Params:    map[string]float64{},
			Rationale: "replan budget exhausted, waiting",
		}
	}
	p.replans++

	path := PlanPath(pos, goal, world, snap)
	next := path[0]
	return p.moveTo(next, snap.DefaultSpeed, tel.Zone, snap,
		fmt.Sprintf("detour via (%.1f,%.1f)", next.X, next.Y))
}

func (p *Planner) moveTo(target core.Point, speed float64, zone string, snap *config.PolicySnapshot, rationale string) core.ActionProposal {
	return core.ActionProposal{
		Intent: core.IntentMoveTo,
		Params: map[string]float64{
			"x":         target.X,
			"y":         target.Y,
			"max_speed": clampSpeed(speed, zone, snap),
		},
		Rationale: rationale,
	}
}

// requiredSpeed parses "reduce speed to X" remediations; anything else falls
// back to def.
func requiredSpeed(action string, def float64) float64 {
	if !strings.HasPrefix(action, "reduce speed to ") {
		return def
	}
	var v float64
	if _, err := fmt.Sscanf(action, "reduce speed to %f", &v); err != nil || v <= 0 {
		return def
	}
	return v
}
