// Package config loads process configuration from the environment (with
// optional .env file) and owns the immutable policy snapshot that the
// engine reads every tick.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/sentinelops/backend/internal/core"
)

// Config is the full process configuration, loaded once at startup.
// Live-reload of server settings is out of scope; policy thresholds are the
// exception and live in a Store for atomic swap.
type Config struct {
	Port string
	Env  string // development | staging | production

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SimBaseURL     string
	SimToken       string
	SimTimeout     time.Duration
	CommandTimeout time.Duration

	PlannerEnabled bool
	PlannerTimeout time.Duration
	AgentMaxSteps  int
	AgentWall      time.Duration

	TickPeriod time.Duration

	SubscriberBuffer int
	SlowSubEvict     int

	StagnationCycles  int
	StagnationEps     float64
	StagnationMinDist float64

	KeepOpenAfterTerminal bool

	Policy PolicySnapshot
}

// PolicySnapshot holds every tunable the policy engine and planner read.
// Snapshots are immutable; to change thresholds, build a new snapshot and
// swap it through a Store.
type PolicySnapshot struct {
	StopRadiusM     float64
	SlowRadiusM     float64
	SlowSpeed       float64
	DefaultSpeed    float64
	ArriveEps       float64
	CollisionRadius float64
	MinClearanceM   float64
	DetourOffsetM   float64
	MaxReplans      int

	BatteryMinPct float64
	MinHumanConf  float64

	WeightHigh     float64
	WeightMedium   float64
	WeightLow      float64
	RiskApproveMax float64
	RiskDenyMin    float64

	ZoneSpeedLimits  map[string]float64
	DefaultZoneLimit float64

	// Geofence used when the world snapshot does not carry one.
	Geofence core.Geofence
}

// ZoneLimit returns the speed limit for a zone name.
func (p *PolicySnapshot) ZoneLimit(zone string) float64 {
	if v, ok := p.ZoneSpeedLimits[zone]; ok {
		return v
	}
	return p.DefaultZoneLimit
}

// DefaultPolicy returns the snapshot with the documented defaults.
func DefaultPolicy() PolicySnapshot {
	return PolicySnapshot{
		StopRadiusM:     1.0,
		SlowRadiusM:     3.0,
		SlowSpeed:       0.3,
		DefaultSpeed:    0.5,
		ArriveEps:       0.3,
		CollisionRadius: 0.5,
		MinClearanceM:   0.1,
		DetourOffsetM:   0.8,
		MaxReplans:      3,
		BatteryMinPct:   20.0,
		MinHumanConf:    0.65,
		WeightHigh:      0.5,
		WeightMedium:    0.25,
		WeightLow:       0.1,
		RiskApproveMax:  0.70,
		RiskDenyMin:     0.95,
		ZoneSpeedLimits: map[string]float64{
			"aisle":       0.5,
			"loading_bay": 0.4,
			"corridor":    0.7,
		},
		DefaultZoneLimit: 0.5,
		Geofence:         core.Geofence{MinX: 0, MaxX: 30, MinY: 0, MaxY: 20},
	}
}

// Load reads .env (best effort) and the process environment.
// Returns an error on unparseable values so the caller can exit 1.
func Load() (*Config, error) {
	_ = godotenv.Load() // missing .env is fine

	var errs []error
	cfg := &Config{
		Port:        envStr("PORT", "8080"),
		Env:         envStr("ENVIRONMENT", "development"),
		DatabaseURL: envStr("DATABASE_URL", "sqlite://./data/sentinel.db"),

		RedisAddr:     envStr("REDIS_ADDR", ""),
		RedisPassword: envStr("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0, &errs),

		SimBaseURL:     envStr("SIM_BASE_URL", "http://localhost:8090"),
		SimToken:       envStr("SIM_TOKEN", ""),
		SimTimeout:     envMS("SIM_TIMEOUT_MS", 1000, &errs),
		CommandTimeout: envMS("SIM_COMMAND_TIMEOUT_MS", 2000, &errs),

		PlannerEnabled: envBool("PLANNER_ENABLED", false, &errs),
		PlannerTimeout: envMS("PLANNER_TIMEOUT_MS", 10000, &errs),
		AgentMaxSteps:  envInt("AGENT_MAX_STEPS", 6, &errs),
		AgentWall:      envMS("AGENT_WALL_MS", 5000, &errs),

		TickPeriod: envMS("TICK_PERIOD_MS", 100, &errs),

		SubscriberBuffer: envInt("SUBSCRIBER_BUFFER", 64, &errs),
		SlowSubEvict:     envInt("SLOW_SUB_EVICT", 8, &errs),

		StagnationCycles:  envInt("STAGNATION_CYCLES", 30, &errs),
		StagnationEps:     envFloat("STAGNATION_EPS", 0.02, &errs),
		StagnationMinDist: envFloat("STAGNATION_MIN_DIST", 0.4, &errs),

		KeepOpenAfterTerminal: envBool("KEEP_OPEN_AFTER_TERMINAL", false, &errs),
	}

	p := DefaultPolicy()
	p.StopRadiusM = envFloat("STOP_RADIUS_M", p.StopRadiusM, &errs)
	p.SlowRadiusM = envFloat("SLOW_RADIUS_M", p.SlowRadiusM, &errs)
	p.SlowSpeed = envFloat("SLOW_SPEED", p.SlowSpeed, &errs)
	p.DefaultSpeed = envFloat("DEFAULT_SPEED", p.DefaultSpeed, &errs)
	p.ArriveEps = envFloat("ARRIVE_EPS", p.ArriveEps, &errs)
	p.CollisionRadius = envFloat("COLLISION_RADIUS", p.CollisionRadius, &errs)
	p.WeightHigh = envFloat("RISK_WEIGHTS_HIGH", p.WeightHigh, &errs)
	p.WeightMedium = envFloat("RISK_WEIGHTS_MEDIUM", p.WeightMedium, &errs)
	p.WeightLow = envFloat("RISK_WEIGHTS_LOW", p.WeightLow, &errs)
	p.RiskApproveMax = envFloat("RISK_APPROVE_MAX", p.RiskApproveMax, &errs)
	p.RiskDenyMin = envFloat("RISK_DENY_MIN", p.RiskDenyMin, &errs)
	cfg.Policy = p

	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %v", errs[0])
	}
	if cfg.TickPeriod <= 0 {
		return nil, fmt.Errorf("config: TICK_PERIOD_MS must be positive")
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q: %w", key, v, err))
		return def
	}
	return n
}

func envFloat(key string, def float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q: %w", key, v, err))
		return def
	}
	return f
}

func envBool(key string, def bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q: %w", key, v, err))
		return def
	}
	return b
}

func envMS(key string, defMS int, errs *[]error) time.Duration {
	return time.Duration(envInt(key, defMS, errs)) * time.Millisecond
}
