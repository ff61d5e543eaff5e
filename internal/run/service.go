package run

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sentinelops/backend/internal/agent"
	"github.com/sentinelops/backend/internal/config"
	"github.com/sentinelops/backend/internal/core"
	"github.com/sentinelops/backend/internal/eventlog"
	"github.com/sentinelops/backend/internal/geometry"
	"github.com/sentinelops/backend/internal/hub"
	"github.com/sentinelops/backend/internal/metrics"
	"github.com/sentinelops/backend/internal/mission"
	"github.com/sentinelops/backend/internal/policy"
	"github.com/sentinelops/backend/internal/sim"
)

// telemetrySampleEvery thins the stored telemetry stream; the hub still sees
// every tick.
const telemetrySampleEvery = 5

// worldTTL caps how stale the cached world snapshot may get.
const worldTTL = time.Second

// DecisionPayload is the DECISION event body.
type DecisionPayload struct {
	Context    DecisionContext         `json:"context"`
	Proposal   core.ActionProposal     `json:"proposal"`
	Governance core.GovernanceDecision `json:"governance"`
}

// DecisionContext captures what the planner saw.
type DecisionContext struct {
	Telemetry   core.Telemetry `json:"telemetry"`
	MissionGoal core.Point     `json:"mission_goal"`
}

// ExecutionPayload is the EXECUTION event body.
type ExecutionPayload struct {
	Command core.Command       `json:"command"`
	Result  core.CommandResult `json:"result"`
}

// PlanPayload is the PLAN event body.
type PlanPayload struct {
	Waypoints []core.Point `json:"waypoints"`
	Source    string       `json:"source"`
}

// ReasoningPayload is the agent_reasoning hub message body.
type ReasoningPayload struct {
	Intent    core.Intent `json:"intent"`
	Rationale string      `json:"rationale"`
}

// AlertPayload is the ALERT event body.
type AlertPayload struct {
	Kind  string `json:"kind"`
	Error string `json:"error,omitempty"`
}

// EventSummary is the hub-visible digest of an appended DECISION.
type EventSummary struct {
	Seq            int64            `json:"seq"`
	Type           core.EventType   `json:"type"`
	Intent         core.Intent      `json:"intent"`
	Decision       core.Decision    `json:"decision"`
	PolicyState    core.PolicyState `json:"policy_state"`
	RiskScore      float64          `json:"risk_score"`
	RequiredAction string           `json:"required_action,omitempty"`
	Executed       bool             `json:"executed"`
}

// Service owns run lifecycle and the per-run control loops.
type Service struct {
	cfg      *config.Config
	policies *config.Store
	engine   *policy.Engine
	sim      sim.Adapter
	events   *eventlog.Log
	store    mission.Store
	bus      hub.Broadcaster
	reg      *Registry
	met      *metrics.Metrics
	sink     TelemetrySink
	logger   *log.Logger

	mu    sync.Mutex
	plans map[string][]core.Point // remaining waypoints per run
	paths map[string][]core.Point // latest full plan per run, for preview
}

// NewService wires the run service.
func NewService(cfg *config.Config, policies *config.Store, engine *policy.Engine, adapter sim.Adapter, events *eventlog.Log, store mission.Store, bus hub.Broadcaster, met *metrics.Metrics, sink TelemetrySink) *Service {
	if sink == nil {
		sink = NopSink{}
	}
	return &Service{
		cfg:      cfg,
		policies: policies,
		engine:   engine,
		sim:      adapter,
		events:   events,
		store:    store,
		bus:      bus,
		reg:      NewRegistry(),
		met:      met,
		sink:     sink,
		logger:   log.New(log.Writer(), "[RUN] ", log.LstdFlags),
		plans:    make(map[string][]core.Point),
		paths:    make(map[string][]core.Point),
	}
}

// Registry exposes the task registry for shutdown handling.
func (s *Service) Registry() *Registry { return s.reg }

// StartRun creates a run for the mission and spawns its loop.
func (s *Service) StartRun(ctx context.Context, missionID string) (string, error) {
	m, err := s.store.GetMission(ctx, missionID)
	if err != nil {
		return "", err
	}

	r := core.Run{
		ID:        core.NewID("run"),
		MissionID: m.ID,
		Status:    core.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := s.store.CreateRun(ctx, r); err != nil {
		return "", err
	}
	if err := s.store.SetMissionStatus(ctx, m.ID, mission.StatusActive); err != nil {
		return "", err
	}

	s.spawn(r, m)
	s.logger.Printf("run %s started for mission %s", r.ID, m.ID)
	return r.ID, nil
}

// StopRun requests an orderly stop. When no loop task is live (stale row),
// the row is committed stopped directly.
func (s *Service) StopRun(ctx context.Context, runID string) error {
	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status.Terminal() {
		return nil
	}
	if s.reg.Stop(runID) {
		return nil
	}
	return s.commitStatus(ctx, runID, core.RunStopped)
}

// Resume respawns the loop of every run row still marked running. Plans are
// rehydrated from the latest PLAN event.
func (s *Service) Resume(ctx context.Context) error {
	running, err := s.store.RunningRuns(ctx)
	if err != nil {
		return err
	}
	for _, r := range running {
		if s.reg.Running(r.ID) {
			continue
		}
		m, err := s.store.GetMission(ctx, r.MissionID)
		if err != nil {
			s.logger.Printf("resume %s: mission %s gone: %v", r.ID, r.MissionID, err)
			continue
		}
		s.rehydratePlan(ctx, r.ID)
		s.spawn(r, m)
		s.logger.Printf("resumed run %s", r.ID)
	}
	return nil
}

// RunStatus resolves a run's status for the websocket endpoint.
func (s *Service) RunStatus(runID string) (core.RunStatus, bool) {
	r, err := s.store.GetRun(context.Background(), runID)
	if err != nil {
		return "", false
	}
	return r.Status, true
}

// AttachPlan records a waypoint plan for the run: a PLAN chain event plus the
// in-memory queues driving the loop and the path preview.
func (s *Service) AttachPlan(ctx context.Context, runID string, waypoints []core.Point, source string) error {
	if _, err := s.events.Append(ctx, runID, core.EventPlan, PlanPayload{Waypoints: waypoints, Source: source}); err != nil {
		return err
	}
	s.met.EventsAppended.Inc()

	s.mu.Lock()
	s.plans[runID] = append([]core.Point(nil), waypoints...)
	s.paths[runID] = append([]core.Point(nil), waypoints...)
	s.mu.Unlock()
	return nil
}

// PathPreview returns the latest plan polyline for the run.
func (s *Service) PathPreview(runID string) ([]core.Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.paths[runID]
	if !ok {
		return nil, false
	}
	return append([]core.Point(nil), p...), true
}

// rehydratePlan restores the waypoint queue from the latest PLAN event.
func (s *Service) rehydratePlan(ctx context.Context, runID string) {
	events, err := s.events.List(ctx, runID, 0)
	if err != nil {
		s.logger.Printf("rehydrate %s: %v", runID, err)
		return
	}
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type != core.EventPlan {
			continue
		}
		var p PlanPayload
		if err := json.Unmarshal(events[i].Payload, &p); err != nil {
			s.logger.Printf("rehydrate %s: bad PLAN payload at seq %d: %v", runID, events[i].Seq, err)
			return
		}
		s.mu.Lock()
		s.plans[runID] = append([]core.Point(nil), p.Waypoints...)
		s.paths[runID] = append([]core.Point(nil), p.Waypoints...)
		s.mu.Unlock()
		return
	}
}

func (s *Service) spawn(r core.Run, m core.Mission) {
	s.reg.Spawn(r.ID, func(ctx context.Context) {
		s.met.ActiveRuns.Inc()
		defer s.met.ActiveRuns.Dec()
		s.loop(ctx, r, m)
	})
}

// ============================================================================
// CONTROL LOOP
// ============================================================================

func (s *Service) loop(ctx context.Context, r core.Run, m core.Mission) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Printf("run %s: loop panic: %v", r.ID, rec)
			s.fail(r.ID, fmt.Sprintf("%v", rec))
		}
	}()

	snapCfg := s.policies.Snapshot()
	planner := agent.NewPlanner(s.policies)
	mem := agent.NewMemory()
	stag := newStagnationDetector(s.cfg.StagnationCycles, s.cfg.StagnationEps, s.cfg.StagnationMinDist)

	var lastGov *core.GovernanceDecision
	var world *core.World
	var worldAt time.Time
	tickN := 0

	for {
		if ctx.Err() != nil {
			s.finish(r.ID, m.ID, core.RunStopped, "")
			return
		}
		tickStart := time.Now()
		tickN++

		tel, err := s.sim.GetTelemetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.finish(r.ID, m.ID, core.RunStopped, "")
				return
			}
			s.met.SimErrors.Inc()
			s.bus.Publish(r.ID, hub.Message{Kind: hub.KindAlert, Data: AlertPayload{Kind: "telemetry_unavailable", Error: err.Error()}})
			s.sleep(ctx)
			continue
		}

		if world == nil || time.Since(worldAt) > worldTTL {
			if w, err := s.sim.GetWorld(ctx); err == nil {
				world = &w
				worldAt = time.Now()
			} else {
				s.met.SimErrors.Inc()
			}
		}

		s.bus.Publish(r.ID, hub.Message{Kind: hub.KindTelemetry, Data: tel})
		for _, e := range tel.Events {
			s.bus.Publish(r.ID, hub.Message{Kind: hub.KindAlert, Data: AlertPayload{Kind: e}})
		}
		if tickN%telemetrySampleEvery == 1 {
			if err := s.sink.Sample(ctx, r.ID, tel); err != nil {
				s.logger.Printf("run %s: telemetry sample: %v", r.ID, err)
			}
		}

		goal := s.currentGoal(r.ID, tel, m.Goal, snapCfg.ArriveEps)

		prop := planner.Propose(tel, goal, lastGov, world)
		if prop.Rationale != "" {
			s.bus.Publish(r.ID, hub.Message{Kind: hub.KindAgentReasoning, Data: ReasoningPayload{
				Intent:    prop.Intent,
				Rationale: prop.Rationale,
			}})
		}

		evalStart := time.Now()
		dec := s.engine.Evaluate(tel, prop, world)
		s.met.PolicyLatency.Observe(time.Since(evalStart).Seconds())
		s.met.Decisions.WithLabelValues(string(dec.Decision)).Inc()

		decEvent, err := s.events.Append(ctx, r.ID, core.EventDecision, DecisionPayload{
			Context:    DecisionContext{Telemetry: tel, MissionGoal: m.Goal},
			Proposal:   prop,
			Governance: dec,
		})
		if err != nil {
			s.logger.Printf("run %s: append DECISION: %v", r.ID, err)
			s.fail(r.ID, err.Error())
			return
		}
		s.met.EventsAppended.Inc()

		executed := false
		if dec.Decision == core.DecisionApproved {
			res, err := s.sim.SendCommand(ctx, core.Command{Intent: prop.Intent, Params: prop.Params})
			if err != nil {
				s.met.SimErrors.Inc()
				s.bus.Publish(r.ID, hub.Message{Kind: hub.KindAlert, Data: AlertPayload{Kind: "command_failed", Error: err.Error()}})
			} else {
				executed = res.Accepted
				if _, err := s.events.Append(ctx, r.ID, core.EventExecution, ExecutionPayload{
					Command: core.Command{Intent: prop.Intent, Params: prop.Params},
					Result:  res,
				}); err != nil {
					s.logger.Printf("run %s: append EXECUTION: %v", r.ID, err)
					s.fail(r.ID, err.Error())
					return
				}
				s.met.EventsAppended.Inc()
			}
		}

		mem.Record(prop, dec, executed)
		d := dec
		lastGov = &d

		if executed {
			dist := geometry.Dist(core.Point{X: tel.X, Y: tel.Y}, goal)
			if stag.Update(dist) {
				s.met.StagnationAlerts.Inc()
				if _, err := s.events.Append(ctx, r.ID, core.EventStagnation, map[string]interface{}{
					"goal_distance": dist,
					"cycles":        s.cfg.StagnationCycles,
				}); err == nil {
					s.met.EventsAppended.Inc()
				}
				s.bus.Publish(r.ID, hub.Message{Kind: hub.KindAlert, Data: AlertPayload{Kind: "stagnation"}})
			}
		}

		s.bus.Publish(r.ID, hub.Message{Kind: hub.KindEvent, Data: EventSummary{
			Seq:            decEvent.Seq,
			Type:           core.EventDecision,
			Intent:         prop.Intent,
			Decision:       dec.Decision,
			PolicyState:    dec.PolicyState,
			RiskScore:      dec.RiskScore,
			RequiredAction: dec.RequiredAction,
			Executed:       executed,
		}})

		if prop.Intent == core.IntentStop && dec.Decision == core.DecisionApproved {
			s.finish(r.ID, m.ID, core.RunCompleted, mission.StatusCompleted)
			s.met.TickDuration.Observe(time.Since(tickStart).Seconds())
			return
		}

		s.met.TickDuration.Observe(time.Since(tickStart).Seconds())
		s.sleep(ctx)
	}
}

// currentGoal pops plan waypoints as the robot reaches them; the mission goal
// is the terminal target.
func (s *Service) currentGoal(runID string, tel core.Telemetry, missionGoal core.Point, arriveEps float64) core.Point {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.plans[runID]
	pos := core.Point{X: tel.X, Y: tel.Y}
	for len(queue) > 0 && geometry.Dist(pos, queue[0]) <= arriveEps {
		queue = queue[1:]
	}
	s.plans[runID] = queue
	if len(queue) > 0 {
		return queue[0]
	}
	return missionGoal
}

func (s *Service) sleep(ctx context.Context) {
	t := time.NewTimer(s.cfg.TickPeriod)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// finish commits a terminal run status and, when given, the mission status.
func (s *Service) finish(runID, missionID string, status core.RunStatus, missionStatus string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.commitStatus(ctx, runID, status); err != nil {
		s.logger.Printf("run %s: commit %s: %v", runID, status, err)
	}
	if missionStatus != "" {
		if err := s.store.SetMissionStatus(ctx, missionID, missionStatus); err != nil {
			s.logger.Printf("run %s: mission status: %v", runID, err)
		}
	}
	s.logger.Printf("run %s %s", runID, status)
}

// fail appends the loop_error alert before the status flips so the audit log
// stays complete.
func (s *Service) fail(runID, errMsg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.events.Append(ctx, runID, core.EventAlert, AlertPayload{Kind: "loop_error", Error: errMsg}); err != nil {
		s.logger.Printf("run %s: append loop_error: %v", runID, err)
	} else {
		s.met.EventsAppended.Inc()
	}
	if err := s.commitStatus(ctx, runID, core.RunFailed); err != nil {
		s.logger.Printf("run %s: commit failed: %v", runID, err)
	}
}

func (s *Service) commitStatus(ctx context.Context, runID string, status core.RunStatus) error {
	now := time.Now().UTC()
	if err := s.store.SetRunStatus(ctx, runID, status, &now); err != nil {
		return err
	}
	s.bus.Publish(runID, hub.Message{Kind: hub.KindStatus, Data: hub.StatusUpdate{RunID: runID, Status: status}})
	return nil
}
