// Package tests exercises the full governance stack end to end: HTTP API,
// run loop, policy engine, hash-chained event log on sqlite, the sim HTTP
// adapter, and the websocket stream.
package tests

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/backend/internal/agent"
	"github.com/sentinelops/backend/internal/api"
	"github.com/sentinelops/backend/internal/config"
	"github.com/sentinelops/backend/internal/core"
	"github.com/sentinelops/backend/internal/database"
	"github.com/sentinelops/backend/internal/eventlog"
	"github.com/sentinelops/backend/internal/hub"
	"github.com/sentinelops/backend/internal/metrics"
	"github.com/sentinelops/backend/internal/mission"
	"github.com/sentinelops/backend/internal/policy"
	"github.com/sentinelops/backend/internal/run"
	"github.com/sentinelops/backend/internal/sim"
)

var testMetrics = metrics.New()

// simServer is an HTTP robot simulator: MOVE_TO advances the robot up to
// half a meter per command, scenarios toggle a crossing human.
type simServer struct {
	mu    sync.Mutex
	pos   core.Point
	human bool
	world core.World
}

func newSimServer() *simServer {
	return &simServer{
		pos: core.Point{X: 1, Y: 1},
		world: core.World{
			Geofence: core.Geofence{MinX: 0, MaxX: 30, MinY: 0, MaxY: 20},
		},
	}
}

func (s *simServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/telemetry", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		tel := core.Telemetry{
			X: s.pos.X, Y: s.pos.Y, Zone: "aisle", NearestObstacleM: 10,
		}
		if s.human {
			tel.HumanDetected = true
			tel.HumanConf = 0.92
			tel.HumanDistanceM = 0.8
		}
		s.mu.Unlock()
		json.NewEncoder(w).Encode(tel)
	})
	mux.HandleFunc("/world", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		world := s.world
		s.mu.Unlock()
		json.NewEncoder(w).Encode(world)
	})
	mux.HandleFunc("/command", func(w http.ResponseWriter, r *http.Request) {
		var cmd core.Command
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		if cmd.Intent == core.IntentMoveTo {
			dx, dy := cmd.Params["x"]-s.pos.X, cmd.Params["y"]-s.pos.Y
			d := math.Hypot(dx, dy)
			if d > 0 {
				step := math.Min(d, 0.5)
				s.pos.X += dx / d * step
				s.pos.Y += dy / d * step
			}
		}
		s.mu.Unlock()
		json.NewEncoder(w).Encode(core.CommandResult{Accepted: true})
	})
	mux.HandleFunc("/scenario", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
			http.Error(w, "name required", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.human = req.Name == "human_crossing"
		s.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	return mux
}

type stack struct {
	api    *httptest.Server
	sim    *simServer
	events *eventlog.Log
	sink   *run.SQLSink
	runs   *run.Service
}

func newStack(t *testing.T) *stack {
	t.Helper()

	robot := newSimServer()
	simTS := httptest.NewServer(robot.handler())
	t.Cleanup(simTS.Close)

	cfg := &config.Config{
		SimBaseURL:        simTS.URL,
		SimTimeout:        time.Second,
		CommandTimeout:    time.Second,
		TickPeriod:        2 * time.Millisecond,
		AgentMaxSteps:     6,
		AgentWall:         5 * time.Second,
		StagnationCycles:  30,
		StagnationEps:     0.02,
		StagnationMinDist: 0.4,
		Policy:            config.DefaultPolicy(),
	}

	db, err := database.Open("sqlite://" + t.TempDir() + "/e2e.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))

	policies := config.NewStore(cfg.Policy)
	engine := policy.NewEngine(policies)
	events := eventlog.New(eventlog.NewSQLStore(db))
	store := mission.NewSQLStore(db)
	h := hub.New(256, 8)
	adapter := sim.NewClient(cfg)
	sink := run.NewSQLSink(db)

	runs := run.NewService(cfg, policies, engine, adapter, events, store, h, testMetrics, sink)
	loop := agent.NewLoop(policies, engine, nil, cfg.AgentMaxSteps, cfg.AgentWall)
	facade := api.NewFacade(policies, engine, adapter, events, store, loop)
	ws := hub.NewWSServer(h, runs.RunStatus, false)
	server := api.NewServer(cfg, store, events, runs, adapter, facade, ws)

	ts := httptest.NewServer(server.Router())
	t.Cleanup(func() {
		runs.Registry().StopAll()
		ts.Close()
	})
	return &stack{api: ts, sim: robot, events: events, sink: sink, runs: runs}
}

func (s *stack) post(t *testing.T, path string, body, out interface{}) *http.Response {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	resp, err := http.Post(s.api.URL+path, "application/json", reader)
	require.NoError(t, err)
	if out != nil {
		defer resp.Body.Close()
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (s *stack) get(t *testing.T, path string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(s.api.URL + path)
	require.NoError(t, err)
	if out != nil {
		defer resp.Body.Close()
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (s *stack) waitTerminal(t *testing.T, runID string) core.Run {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var row core.Run
		s.get(t, "/runs/"+runID, &row)
		if row.Status.Terminal() {
			return row
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s never reached a terminal status", runID)
	return core.Run{}
}

func TestMissionRunEndToEnd(t *testing.T) {
	s := newStack(t)

	var m core.Mission
	resp := s.post(t, "/missions", map[string]interface{}{
		"title": "cross the aisle",
		"goal":  map[string]float64{"x": 4, "y": 1},
	}, &m)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var started map[string]string
	resp = s.post(t, "/missions/"+m.ID+"/start", nil, &started)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runID := started["run_id"]

	row := s.waitTerminal(t, runID)
	assert.Equal(t, core.RunCompleted, row.Status)
	require.NotNil(t, row.EndedAt)

	// The robot physically arrived.
	s.sim.mu.Lock()
	pos := s.sim.pos
	s.sim.mu.Unlock()
	assert.InDelta(t, 4.0, pos.X, 0.5)
	assert.InDelta(t, 1.0, pos.Y, 0.5)

	// The chain survived a real sqlite round trip.
	var verify eventlog.VerifyResult
	s.get(t, "/runs/"+runID+"/verify", &verify)
	assert.True(t, verify.OK)

	var events []api.EventView
	s.get(t, "/runs/"+runID+"/events", &events)
	require.NotEmpty(t, events)
	assert.Equal(t, int64(1), events[0].Seq)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Seq, "seq is contiguous")
	}

	// The thinned telemetry stream was persisted.
	samples, err := s.sink.Samples(context.Background(), runID)
	require.NoError(t, err)
	assert.NotEmpty(t, samples)

	got, _ := s.events.Verify(context.Background(), runID)
	assert.True(t, got.OK)
}

func TestWebsocketStreamsRunToTerminal(t *testing.T) {
	s := newStack(t)

	var m core.Mission
	s.post(t, "/missions", map[string]interface{}{
		"title": "short hop",
		"goal":  map[string]float64{"x": 2, "y": 1},
	}, &m)
	var started map[string]string
	s.post(t, "/missions/"+m.ID+"/start", nil, &started)
	runID := started["run_id"]

	wsURL := "ws" + strings.TrimPrefix(s.api.URL, "http") + "/ws/runs/" + runID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The socket streams frames until the terminal status closes it.
	sawStatus, frames := false, 0
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var frame struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		frames++
		if frame.Kind == string(hub.KindStatus) {
			sawStatus = true
		}
	}
	assert.True(t, sawStatus, "status frames streamed")
	assert.Greater(t, frames, 0)

	row := s.waitTerminal(t, runID)
	assert.Equal(t, core.RunCompleted, row.Status)
}

func TestWebsocketUnknownRunRejected(t *testing.T) {
	s := newStack(t)
	wsURL := "ws" + strings.TrimPrefix(s.api.URL, "http") + "/ws/runs/run-ghost"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHumanCrossingDeniesMotion(t *testing.T) {
	s := newStack(t)

	var out map[string]string
	resp := s.post(t, "/sim/scenario", map[string]string{"scenario": "human_crossing"}, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res agent.Result
	s.post(t, "/agent/propose", api.AgentProposeRequest{
		Instruction: "keep moving",
		Goal:        &core.Point{X: 10, Y: 1},
	}, &res)

	// With a confirmed human at 0.8m the loop must settle on a safe action.
	assert.Equal(t, core.DecisionApproved, res.Governance.Decision)
	assert.NotEqual(t, core.IntentMoveTo, res.Proposal.Intent)

	var test core.GovernanceDecision
	s.post(t, "/policies/test", api.PolicyTestRequest{
		Telemetry: core.Telemetry{
			X: 1, Y: 1, Zone: "aisle", NearestObstacleM: 10,
			HumanDetected: true, HumanConf: 0.92, HumanDistanceM: 0.8,
		},
		Proposal: core.ActionProposal{
			Intent: core.IntentMoveTo,
			Params: map[string]float64{"x": 10, "y": 1, "max_speed": 0.5},
		},
	}, &test)
	assert.Equal(t, core.DecisionDenied, test.Decision)
	assert.Equal(t, core.StateStop, test.PolicyState)
	assert.Contains(t, test.PolicyHits, "HUMAN_PROX_01")
}

func TestPlanExecuteOverLiveSim(t *testing.T) {
	s := newStack(t)
	s.sim.mu.Lock()
	s.sim.world.Obstacles = []core.Obstacle{{X: 5, Y: 1, R: 0.6}}
	s.sim.mu.Unlock()

	var gen api.PlanGenerateResponse
	resp := s.post(t, "/plan/generate", api.PlanGenerateRequest{
		Instruction: "go to the far bay",
		Goal:        &core.Point{X: 10, Y: 1},
	}, &gen)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, gen.Waypoints, 2, "detour around the obstacle")
	assert.True(t, gen.AllApproved)

	var exec api.PlanExecuteResponse
	resp = s.post(t, "/plan/execute", api.PlanExecuteRequest{
		Instruction: "go to the far bay",
		Waypoints:   gen.Waypoints,
		Rationale:   gen.Rationale,
	}, &exec)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEqual(t, api.PlanBlocked, exec.Status)
	require.NotEmpty(t, exec.AuditHash)

	got, err := s.events.Verify(context.Background(), exec.RunID)
	require.NoError(t, err)
	assert.True(t, got.OK)
}
