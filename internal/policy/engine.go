// Package policy is the deterministic governance engine: a pure mapping
// from (telemetry, proposal, thresholds) to a decision with policy hits,
// a risk score, and a required action. No I/O, no locks; identical inputs
// always produce bit-identical decisions.
package policy

import (
	"log"
	"math"
	"sort"

	"github.com/sentinelops/backend/internal/config"
	"github.com/sentinelops/backend/internal/core"
)

// Engine evaluates proposals against the active policy snapshot.
type Engine struct {
	cfg    *config.Store
	logger *log.Logger
}

// NewEngine creates an engine over the snapshot store.
func NewEngine(cfg *config.Store) *Engine {
	return &Engine{
		cfg:    cfg,
		logger: log.New(log.Writer(), "[POLICY] ", log.LstdFlags),
	}
}

// Evaluate governs one proposal. Any panic inside the rules fails closed:
// the action is denied with risk 1.0.
func (e *Engine) Evaluate(tel core.Telemetry, prop core.ActionProposal, world *core.World) (dec core.GovernanceDecision) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Printf("engine panic, failing closed: %v", r)
			dec = FailClosed()
		}
	}()

	if err := tel.Validate(); err != nil {
		return protocolMismatch(err.Error())
	}
	if err := prop.Validate(); err != nil {
		return protocolMismatch(err.Error())
	}
	return EvaluateWith(tel, prop, world, e.cfg.Snapshot())
}

// FailClosed is the decision emitted when the engine itself errors.
func FailClosed() core.GovernanceDecision {
	return core.GovernanceDecision{
		Decision:    core.DecisionDenied,
		PolicyState: core.StateStop,
		PolicyHits:  []string{},
		Reasons:     []string{"engine_error"},
		RiskScore:   1.0,
	}
}

func protocolMismatch(reason string) core.GovernanceDecision {
	return core.GovernanceDecision{
		Decision:    core.DecisionDenied,
		PolicyState: core.StateStop,
		PolicyHits:  []string{},
		Reasons:     []string{reason},
		RiskScore:   1.0,
	}
}

// EvaluateWith is the pure evaluation core. Exported for property tests and
// for callers that carry their own snapshot.
func EvaluateWith(tel core.Telemetry, prop core.ActionProposal, world *core.World, snap *config.PolicySnapshot) core.GovernanceDecision {
	in := &ruleInput{tel: tel, prop: prop, world: world, snap: snap}

	var hits []hit
	for _, rule := range rules {
		if h := rule(in); h != nil {
			hits = append(hits, *h)
		}
	}

	dec := core.GovernanceDecision{
		Decision:    core.DecisionApproved,
		PolicyState: core.StateSafe,
		PolicyHits:  []string{},
		Reasons:     []string{},
	}

	if len(hits) == 0 {
		return dec
	}

	var (
		weightSum float64
		floor     float64
		anyDeny   bool
		anyReview bool
	)
	for _, h := range hits {
		dec.PolicyHits = append(dec.PolicyHits, h.PolicyID)
		dec.Reasons = append(dec.Reasons, h.Reason)
		weightSum += severityWeight(h.Severity, snap)
		floor = math.Max(floor, h.Floor)
		if core.StateRank(h.State) > core.StateRank(dec.PolicyState) {
			dec.PolicyState = h.State
		}
		switch h.Effect {
		case effectDeny:
			anyDeny = true
		case effectReview:
			anyReview = true
		}
	}

	dec.RiskScore = clamp01(math.Max(weightSum, floor))
	dec.RequiredAction = pickAction(hits)

	switch {
	case anyDeny || dec.RiskScore >= snap.RiskDenyMin:
		dec.Decision = core.DecisionDenied
	case anyReview:
		dec.Decision = core.DecisionNeedsReview
	default:
		dec.Decision = core.DecisionApproved
	}
	return dec
}

func severityWeight(s core.Severity, snap *config.PolicySnapshot) float64 {
	switch s {
	case core.SeverityHigh:
		return snap.WeightHigh
	case core.SeverityMedium:
		return snap.WeightMedium
	default:
		return snap.WeightLow
	}
}

// pickAction selects the most specific remediation: highest severity first,
// then lexicographic policy id for determinism.
func pickAction(hits []hit) string {
	sorted := make([]hit, len(hits))
	copy(sorted, hits)
	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := severityRank(sorted[i].Severity), severityRank(sorted[j].Severity)
		if ri != rj {
			return ri > rj
		}
		return sorted[i].PolicyID < sorted[j].PolicyID
	})
	for _, h := range sorted {
		if h.Action != "" {
			return h.Action
		}
	}
	return ""
}

func severityRank(s core.Severity) int {
	switch s {
	case core.SeverityHigh:
		return 2
	case core.SeverityMedium:
		return 1
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
