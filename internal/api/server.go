// Package api exposes the governance layer over REST/JSON and websocket for
// the operator UI.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinelops/backend/internal/config"
	"github.com/sentinelops/backend/internal/core"
	"github.com/sentinelops/backend/internal/eventlog"
	"github.com/sentinelops/backend/internal/hub"
	"github.com/sentinelops/backend/internal/mission"
	"github.com/sentinelops/backend/internal/policy"
	"github.com/sentinelops/backend/internal/run"
	"github.com/sentinelops/backend/internal/sim"
)

// Server is the HTTP surface of the governance layer.
type Server struct {
	cfg      *config.Config
	store    mission.Store
	events   *eventlog.Log
	runs     *run.Service
	sim      sim.Adapter
	facade   *Facade
	ws       *hub.WSServer
	logger   *log.Logger
}

// NewServer wires the HTTP surface.
func NewServer(cfg *config.Config, store mission.Store, events *eventlog.Log, runs *run.Service, adapter sim.Adapter, facade *Facade, ws *hub.WSServer) *Server {
	return &Server{
		cfg:    cfg,
		store:  store,
		events: events,
		runs:   runs,
		sim:    adapter,
		facade: facade,
		ws:     ws,
		logger: log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// CORS Middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Use(s.logging)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	r.HandleFunc("/missions", s.handleCreateMission).Methods("POST")
	r.HandleFunc("/missions", s.handleListMissions).Methods("GET")
	r.HandleFunc("/missions/{id}", s.handleGetMission).Methods("GET")
	r.HandleFunc("/missions/{id}", s.handlePatchMission).Methods("PATCH")
	r.HandleFunc("/missions/{id}", s.handleDeleteMission).Methods("DELETE")
	r.HandleFunc("/missions/{id}/start", s.handleStartMission).Methods("POST")
	r.HandleFunc("/missions/{id}/pause", s.handlePauseMission).Methods("POST")
	r.HandleFunc("/missions/{id}/resume", s.handleResumeMission).Methods("POST")

	r.HandleFunc("/runs/{id}", s.handleGetRun).Methods("GET")
	r.HandleFunc("/runs/{id}/events", s.handleRunEvents).Methods("GET")
	r.HandleFunc("/runs/{id}/stop", s.handleStopRun).Methods("POST")
	r.HandleFunc("/runs/{id}/path_preview", s.handlePathPreview).Methods("GET")
	r.HandleFunc("/runs/{id}/timeline", s.handleTimeline).Methods("GET")
	r.HandleFunc("/runs/{id}/verify", s.handleVerify).Methods("GET")

	r.HandleFunc("/sim/world", s.handleSimWorld).Methods("GET")
	r.HandleFunc("/sim/scenario", s.handleSimScenario).Methods("POST")

	r.HandleFunc("/policies", s.handlePolicies).Methods("GET")
	r.HandleFunc("/policies/test", s.handlePolicyTest).Methods("POST")
	r.HandleFunc("/plan/generate", s.handlePlanGenerate).Methods("POST")
	r.HandleFunc("/plan/execute", s.handlePlanExecute).Methods("POST")
	r.HandleFunc("/agent/propose", s.handleAgentPropose).Methods("POST")

	r.HandleFunc("/ws/runs/{run_id}", s.ws.Handle).Methods("GET")

	return r
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Printf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

// ============================================================================
// HEALTH & SIM
// ============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":              true,
		"planner_enabled": s.cfg.PlannerEnabled,
	})
}

func (s *Server) handleSimWorld(w http.ResponseWriter, r *http.Request) {
	world, err := s.sim.GetWorld(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, world)
}

func (s *Server) handleSimScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scenario string `json:"scenario"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Scenario == "" {
		writeError(w, http.StatusBadRequest, "scenario required")
		return
	}
	if err := s.sim.TriggerScenario(r.Context(), req.Scenario); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"scenario": req.Scenario, "status": "triggered"})
}

// ============================================================================
// MISSIONS
// ============================================================================

func (s *Server) handleCreateMission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string     `json:"title"`
		Goal  core.Point `json:"goal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeError(w, http.StatusBadRequest, "title and goal required")
		return
	}

	m := core.Mission{
		ID:        core.NewID("mis"),
		Title:     req.Title,
		Goal:      req.Goal,
		Status:    mission.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateMission(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListMissions(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListMissions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetMission(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMission(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handlePatchMission(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMission(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var req struct {
		Title *string     `json:"title"`
		Goal  *core.Point `json:"goal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if req.Title != nil {
		m.Title = *req.Title
	}
	if req.Goal != nil {
		m.Goal = *req.Goal
	}
	if err := s.store.UpdateMission(r.Context(), m); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMission(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteMission(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartMission(w http.ResponseWriter, r *http.Request) {
	runID, err := s.runs.StartRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"run_id": runID})
}

func (s *Server) handlePauseMission(w http.ResponseWriter, r *http.Request) {
	s.setMissionStatus(w, r, mission.StatusPaused)
}

func (s *Server) handleResumeMission(w http.ResponseWriter, r *http.Request) {
	s.setMissionStatus(w, r, mission.StatusActive)
}

func (s *Server) setMissionStatus(w http.ResponseWriter, r *http.Request, status string) {
	id := mux.Vars(r)["id"]
	if err := s.store.SetMissionStatus(r.Context(), id, status); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": status})
}

// ============================================================================
// RUNS
// ============================================================================

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	row, err := s.store.GetRun(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.events.List(r.Context(), mux.Vars(r)["id"], 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, eventViews(events))
}

func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.runs.StopRun(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "stopping"})
}

func (s *Server) handlePathPreview(w http.ResponseWriter, r *http.Request) {
	points, ok := s.runs.PathPreview(mux.Vars(r)["id"])
	if !ok {
		points = []core.Point{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"points": points})
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	events, err := s.events.List(r.Context(), id, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	res, err := s.events.Verify(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":      id,
		"events":      eventViews(events),
		"chain_valid": res.OK,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	res, err := s.events.Verify(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ============================================================================
// POLICIES & FACADE
// ============================================================================

func (s *Server) handlePolicies(w http.ResponseWriter, r *http.Request) {
	catalog, err := policy.Catalog()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, catalog)
}

func (s *Server) handlePolicyTest(w http.ResponseWriter, r *http.Request) {
	var req PolicyTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	writeJSON(w, http.StatusOK, s.facade.PolicyTest(r.Context(), req))
}

func (s *Server) handlePlanGenerate(w http.ResponseWriter, r *http.Request) {
	var req PlanGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	res, err := s.facade.PlanGenerate(r.Context(), req)
	if err != nil {
		writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePlanExecute(w http.ResponseWriter, r *http.Request) {
	var req PlanExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	res, err := s.facade.PlanExecute(r.Context(), req)
	if err != nil {
		writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAgentPropose(w http.ResponseWriter, r *http.Request) {
	var req AgentProposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	res, err := s.facade.AgenticPropose(r.Context(), req)
	if err != nil {
		writeFacadeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ============================================================================
// HELPERS
// ============================================================================

// EventView is the JSON shape of a chain event, payload included.
type EventView struct {
	Seq      int64           `json:"seq"`
	ID       string          `json:"id"`
	RunID    string          `json:"run_id"`
	TS       time.Time       `json:"ts"`
	Type     core.EventType  `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	PrevHash string          `json:"prev_hash"`
	Hash     string          `json:"hash"`
}

func eventViews(events []core.Event) []EventView {
	out := make([]EventView, len(events))
	for i, e := range events {
		out[i] = EventView{
			Seq:      e.Seq,
			ID:       e.ID,
			RunID:    e.RunID,
			TS:       e.TS,
			Type:     e.Type,
			Payload:  json.RawMessage(e.Payload),
			PrevHash: e.PrevHash,
			Hash:     e.Hash,
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, mission.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeFacadeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrBadRequest) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

// Serve runs the HTTP server until ctx is canceled, then drains connections.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
