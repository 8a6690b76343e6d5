// Package reputation implements C2: a pure, deterministic function from
// an agent's job-outcome history to a 0-100 score. The score is never
// mutated in place — it is always recomputed from the append-only
// outcome log, which gives replay safety (invariant 6 in spec.md §3).
package reputation

import (
	"context"

	"github.com/mbd888/missionengine/internal/outcome"
)

// Constants per the single adopted constants table (DESIGN.md Open
// Question 4): outlier penalty is -10 reputation and a 100% bond slash
// (the slash fraction lives in internal/bonds; only the reputation delta
// is declared here).
const (
	base = 50.0

	workerPassDelta    = 2.0
	workerFailDelta    = -15.0
	verifierAlignDelta = 1.0
	verifierOutlierDelta = -10.0

	// ratingNeutral is the rating value that contributes zero delta.
	ratingNeutral = 3
)

// Breakdown explains how a score was assembled, so callers (dashboards,
// audits) can show their work instead of trusting an opaque number.
type Breakdown struct {
	Base        float64
	Settlements float64 // worker PASS/FAIL deltas
	Ratings     float64 // rating-weighted adjustment atop PASS deltas
	Failures    float64 // verifier OUTLIER deltas (failures of alignment)
	Alignment   float64 // verifier aligned-with-consensus deltas
}

// Sum returns the unclamped total of all components.
func (b Breakdown) Sum() float64 {
	return b.Base + b.Settlements + b.Ratings + b.Failures + b.Alignment
}

// Score is the computed reputation for one agent.
type Score struct {
	AgentID   string
	Value     int // clamped 0-100
	Breakdown Breakdown
}

func clamp(v float64, lo, hi int) int {
	if v < float64(lo) {
		return lo
	}
	if v > float64(hi) {
		return hi
	}
	return int(v)
}

// roundRatingDelta implements round((rating-3)*1) from spec §4.2.
func roundRatingDelta(rating int) float64 {
	d := float64(rating - ratingNeutral)
	if d >= 0 {
		return float64(int(d + 0.5))
	}
	return -float64(int(-d + 0.5))
}

// Calculate recomputes an agent's reputation from its full JobOutcome
// history. The result does not depend on the order of rows (invariant 6:
// sum is commutative), so replaying the outcome log in any order yields
// the same score.
func Calculate(agentID string, outcomes []*outcome.JobOutcome) Score {
	b := Breakdown{Base: base}

	for _, o := range outcomes {
		if o.AgentID != agentID {
			continue
		}
		switch {
		case o.Role == "worker" && o.Verdict == outcome.Pass:
			b.Settlements += workerPassDelta
			if o.Rating != nil {
				b.Ratings += roundRatingDelta(*o.Rating)
			}
		case o.Role == "worker" && o.Verdict == outcome.Fail:
			b.Settlements += workerFailDelta
		case o.Role == "verifier" && o.Verdict == outcome.Pass:
			b.Alignment += verifierAlignDelta
		case o.Role == "verifier" && o.Verdict == outcome.Outlier:
			b.Failures += verifierOutlierDelta
		}
		// Any other (role, verdict) pair contributes 0, per spec:
		// "uninvoked events contribute 0".
	}

	return Score{
		AgentID:   agentID,
		Value:     clamp(b.Sum(), 0, 100),
		Breakdown: b,
	}
}

// Provider recomputes reputation on demand from a durable outcome store.
type Provider struct {
	outcomes outcome.Store
}

// NewProvider constructs a Provider over an outcome store.
func NewProvider(store outcome.Store) *Provider {
	return &Provider{outcomes: store}
}

// Get recomputes and returns the current reputation for agentID.
func (p *Provider) Get(ctx context.Context, agentID string) (Score, error) {
	rows, err := p.outcomes.ListByAgent(ctx, agentID)
	if err != nil {
		return Score{}, err
	}
	return Calculate(agentID, rows), nil
}
