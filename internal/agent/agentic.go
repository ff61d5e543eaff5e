package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sentinelops/backend/internal/circuitbreaker"
	"github.com/sentinelops/backend/internal/config"
	"github.com/sentinelops/backend/internal/core"
	"github.com/sentinelops/backend/internal/policy"
)

// LLMPlanner produces candidate actions from a natural-language instruction.
// Implementations wrap an external model; when none is configured the loop
// falls back to the deterministic planner.
type LLMPlanner interface {
	// ProposeAction returns a candidate for the instruction. hint carries the
	// previous denial's required_action, empty on the first attempt.
	ProposeAction(ctx context.Context, instruction string, tel core.Telemetry, world *core.World, hint string) (core.ActionProposal, error)
	Model() string
}

// Result is the outcome of one agentic call.
type Result struct {
	Proposal       core.ActionProposal     `json:"proposal"`
	Governance     core.GovernanceDecision `json:"governance"`
	ThoughtChain   []string                `json:"thought_chain"`
	MemorySummary  Summary                 `json:"memory_summary"`
	ReplanningUsed bool                    `json:"replanning_used"`
	ModelUsed      string                  `json:"model_used"`
}

// Loop is the bounded tool-calling agent behind /agent/propose.
type Loop struct {
	cfg      *config.Store
	engine   *policy.Engine
	llm      LLMPlanner // nil means deterministic only
	breaker  *circuitbreaker.CircuitBreaker
	maxSteps int
	wall     time.Duration
	logger   *log.Logger
}

// NewLoop builds the agentic loop. llm may be nil.
func NewLoop(cfg *config.Store, engine *policy.Engine, llm LLMPlanner, maxSteps int, wall time.Duration) *Loop {
	if maxSteps <= 0 {
		maxSteps = 6
	}
	if wall <= 0 {
		wall = 5 * time.Second
	}
	return &Loop{
		cfg:      cfg,
		engine:   engine,
		llm:      llm,
		breaker:  circuitbreaker.New(circuitbreaker.ForPlanner()),
		maxSteps: maxSteps,
		wall:     wall,
		logger:   log.New(log.Writer(), "[AGENT] ", log.LstdFlags),
	}
}

// Run executes up to maxSteps tool calls and returns the final governed
// proposal. Three consecutive denials force a graceful stop; so does the
// wall-clock cap.
func (l *Loop) Run(ctx context.Context, instruction string, goal core.Point, tel core.Telemetry, world *core.World) Result {
	ctx, cancel := context.WithTimeout(ctx, l.wall)
	defer cancel()

	snap := l.cfg.Snapshot()
	mem := NewMemory()
	planner := NewPlanner(l.cfg)

	var chain []string
	chain = append(chain, fmt.Sprintf("%s: %s", toolAssess, assessEnvironment(tel, world, snap)))

	hint := ""
	replanned := false
	model := "deterministic"

	var lastDec *core.GovernanceDecision
	for step := 1; step < l.maxSteps; step++ {
		if ctx.Err() != nil {
			chain = append(chain, fmt.Sprintf("%s: wall clock exceeded", toolGracefulStop))
			return l.stop(ctx, "wall clock exceeded", tel, chain, mem, replanned, model)
		}

		candidate, usedModel := l.candidate(ctx, instruction, tel, world, goal, lastDec, planner, hint)
		if usedModel != "" {
			model = usedModel
		}

		dec := l.engine.Evaluate(tel, candidate, world)
		chain = append(chain, fmt.Sprintf("%s: %s -> %s (risk %.2f)", toolCheckPolicy, candidate.Intent, dec.Decision, dec.RiskScore))
		mem.Record(candidate, dec, false)

		if dec.Decision == core.DecisionApproved {
			chain = append(chain, fmt.Sprintf("%s: %s", toolSubmitAction, candidate.Intent))
			return Result{
				Proposal:       candidate,
				Governance:     dec,
				ThoughtChain:   chain,
				MemorySummary:  mem.Summary(),
				ReplanningUsed: replanned,
				ModelUsed:      model,
			}
		}

		if mem.DenialStreak() >= 3 {
			chain = append(chain, fmt.Sprintf("%s: %d consecutive denials", toolGracefulStop, mem.DenialStreak()))
			res := l.stop(ctx, "repeated denials", tel, chain, mem, replanned, model)
			return res
		}

		hint = dec.RequiredAction
		replanned = true
		d := dec
		lastDec = &d
		chain = append(chain, fmt.Sprintf("%s: %s", toolReplan, denialHint(dec)))
	}

	chain = append(chain, fmt.Sprintf("%s: step budget exhausted", toolGracefulStop))
	return l.stop(ctx, "step budget exhausted", tel, chain, mem, replanned, model)
}

// candidate asks the LLM when configured, falling back to the deterministic
// planner on error, breaker-open, or absence. Model calls run behind the
// planner breaker so a flapping provider stops being probed every step.
func (l *Loop) candidate(ctx context.Context, instruction string, tel core.Telemetry, world *core.World, goal core.Point, last *core.GovernanceDecision, planner *Planner, hint string) (core.ActionProposal, string) {
	if l.llm != nil {
		var prop core.ActionProposal
		err := l.breaker.Do(ctx, func(ctx context.Context) error {
			p, err := l.llm.ProposeAction(ctx, instruction, tel, world, hint)
			if err != nil {
				return err
			}
			prop = p
			return nil
		})
		if err == nil {
			if verr := prop.Validate(); verr == nil {
				return prop, l.llm.Model()
			}
			l.logger.Printf("model produced invalid proposal, falling back: %v", prop.Intent)
		} else {
			l.logger.Printf("model call failed, falling back: %v", err)
		}
	}
	return planner.Propose(tel, goal, last, world), ""
}

// stop submits the terminal WAIT proposal and governs it so the result always
// carries a real decision.
func (l *Loop) stop(ctx context.Context, reason string, tel core.Telemetry, chain []string, mem *Memory, replanned bool, model string) Result {
	prop := core.ActionProposal{
		Intent:    core.IntentWait,
		Params:    map[string]float64{},
		Rationale: reason,
	}
	dec := l.engine.Evaluate(tel, prop, nil)
	mem.Record(prop, dec, false)
	return Result{
		Proposal:       prop,
		Governance:     dec,
		ThoughtChain:   chain,
		MemorySummary:  mem.Summary(),
		ReplanningUsed: replanned,
		ModelUsed:      model,
	}
}

func denialHint(dec core.GovernanceDecision) string {
	if dec.RequiredAction != "" {
		return dec.RequiredAction
	}
	if len(dec.Reasons) > 0 {
		return dec.Reasons[0]
	}
	return string(dec.PolicyState)
}
