package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/sentinelops/backend/internal/agent"
	"github.com/sentinelops/backend/internal/api"
	"github.com/sentinelops/backend/internal/config"
	"github.com/sentinelops/backend/internal/database"
	"github.com/sentinelops/backend/internal/eventlog"
	"github.com/sentinelops/backend/internal/hub"
	"github.com/sentinelops/backend/internal/metrics"
	"github.com/sentinelops/backend/internal/mission"
	"github.com/sentinelops/backend/internal/policy"
	"github.com/sentinelops/backend/internal/run"
	"github.com/sentinelops/backend/internal/sim"
)

func main() {
	logger := log.New(log.Writer(), "[SERVER] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Printf("configuration error: %v", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Printf("database open failed: %v", err)
		os.Exit(2)
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		logger.Printf("migration failed: %v", err)
		os.Exit(2)
	}

	policies := config.NewStore(cfg.Policy)
	engine := policy.NewEngine(policies)
	events := eventlog.New(eventlog.NewSQLStore(db))
	store := mission.NewSQLStore(db)
	met := metrics.New()
	simClient := sim.NewClient(cfg)

	h := hub.New(cfg.SubscriberBuffer, cfg.SlowSubEvict)
	h.Instrument(met.HubDrops.Inc, met.HubEvictions.Inc)
	var bus hub.Broadcaster = h
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		bridge := hub.NewBridge(h, rdb)
		defer bridge.Close()
		bus = bridge
		logger.Printf("redis bridge active (%s)", cfg.RedisAddr)
	}

	runSvc := run.NewService(cfg, policies, engine, simClient, events, store, bus, met, run.NewSQLSink(db))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runSvc.Resume(ctx); err != nil {
		logger.Printf("auto-resume: %v", err)
	}

	// No external model is configured in this build, so the agentic endpoints
	// run the deterministic planner. PlannerEnabled still gates /health.
	loop := agent.NewLoop(policies, engine, nil, cfg.AgentMaxSteps, cfg.AgentWall)
	facade := api.NewFacade(policies, engine, simClient, events, store, loop)
	ws := hub.NewWSServer(h, runSvc.RunStatus, cfg.KeepOpenAfterTerminal)
	server := api.NewServer(cfg, store, events, runSvc, simClient, facade, ws)

	logger.Printf("governance layer starting: env=%s sim=%s", cfg.Env, cfg.SimBaseURL)
	if err := server.Serve(ctx, ":"+cfg.Port); err != nil {
		logger.Printf("server failed: %v", err)
		os.Exit(2)
	}

	logger.Printf("draining run loops")
	runSvc.Registry().StopAll()
	logger.Printf("shutdown complete")
}
