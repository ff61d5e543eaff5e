// Package sim is the HTTP adapter for the robot simulator. It is the only
// component that talks to the robot side; everything upstream sees typed
// telemetry, world snapshots, and command results.
package sim

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/sentinelops/backend/internal/circuitbreaker"
	"github.com/sentinelops/backend/internal/config"
	"github.com/sentinelops/backend/internal/core"
)

// Adapter is the interface the run loop and API facade consume. Satisfied by
// Client in production and by fakes in tests.
type Adapter interface {
	GetTelemetry(ctx context.Context) (core.Telemetry, error)
	GetWorld(ctx context.Context) (core.World, error)
	SendCommand(ctx context.Context, cmd core.Command) (core.CommandResult, error)
	TriggerScenario(ctx context.Context, name string) error
}

// Client talks to the simulator over HTTP. The connection pool is shared
// across runs; per-run command ordering is the caller's responsibility.
type Client struct {
	baseURL        string
	token          string
	simTimeout     time.Duration
	commandTimeout time.Duration

	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *log.Logger
}

// NewClient builds the adapter from config.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:        cfg.SimBaseURL,
		token:          cfg.SimToken,
		simTimeout:     cfg.SimTimeout,
		commandTimeout: cfg.CommandTimeout,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker: circuitbreaker.New(circuitbreaker.ForSim()),
		logger:  log.New(log.Writer(), "[SIM] ", log.LstdFlags),
	}
}

// GetTelemetry fetches the current telemetry snapshot.
func (c *Client) GetTelemetry(ctx context.Context) (core.Telemetry, error) {
	var tel core.Telemetry
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.simTimeout)
		defer cancel()
		return c.getJSON(ctx, "/telemetry", &tel)
	})
	if err != nil {
		return core.Telemetry{}, fmt.Errorf("sim: telemetry: %w", err)
	}
	if err := tel.Validate(); err != nil {
		return core.Telemetry{}, fmt.Errorf("sim: %w", err)
	}
	return tel, nil
}

// GetWorld fetches the world snapshot. Callers cache it; the loop uses a 1s
// TTL.
func (c *Client) GetWorld(ctx context.Context) (core.World, error) {
	var world core.World
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.simTimeout)
		defer cancel()
		return c.getJSON(ctx, "/world", &world)
	})
	if err != nil {
		return core.World{}, fmt.Errorf("sim: world: %w", err)
	}
	return world, nil
}

// SendCommand forwards an approved command to the actuators. Not idempotent;
// never retried here.
func (c *Client) SendCommand(ctx context.Context, cmd core.Command) (core.CommandResult, error) {
	var res core.CommandResult
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.commandTimeout)
		defer cancel()
		return c.postJSON(ctx, "/command", cmd, &res)
	})
	if err != nil {
		return core.CommandResult{}, fmt.Errorf("sim: command: %w", err)
	}
	return res, nil
}

// TriggerScenario asks the simulator to inject a named scenario. Used for
// demos and tests.
func (c *Client) TriggerScenario(ctx context.Context, name string) error {
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, c.commandTimeout)
		defer cancel()
		return c.postJSON(ctx, "/scenario", map[string]string{"name": name}, nil)
	})
	if err != nil {
		return fmt.Errorf("sim: scenario %q: %w", name, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("X-Sim-Token", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, snippet)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
