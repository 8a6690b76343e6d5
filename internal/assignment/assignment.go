// Package assignment implements C4: selecting agent(s) for a mission
// under one of three policies (autopilot, bidding, direct hire), plus
// verifier selection shared by all three.
package assignment

import (
	"errors"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/mbd888/missionengine/internal/amount"
	"github.com/mbd888/missionengine/internal/registry"
)

var (
	ErrNoEligibleAgents = errors.New("assignment: no eligible agents after reputation floor relaxation")
	ErrNoBidders        = errors.New("assignment: no valid bids at window close")
	ErrInvalidDirectHire = errors.New("assignment: direct hire target failed capability or reputation checks")
)

// Defaults per spec §4.4.
const (
	DefaultReputationFloor   = 30
	ReputationFloorRelax     = 10
	DefaultBiddingThreshold  = amount.Amount(100)
	DefaultBiddingWindow     = 10 * time.Minute
	DefaultVerifierBudgetBps = int64(500) // bps of reward reserved for verifier fees (5%)
	FairnessWindow           = 20         // recent assignments considered per specialty
)

// Bid is one worker's offer in bidding mode (spec §4.4).
type Bid struct {
	AgentID     string
	Price       amount.Amount
	ETA         time.Duration
	BondPledge  amount.Amount
	SubmittedAt time.Time
}

// filterCandidates returns active workers with every specialty tag and
// reputation >= floor, per spec §4.4's candidate-set definition.
func filterCandidates(agents []*registry.Agent, specialties []string, floor int) []*registry.Agent {
	var out []*registry.Agent
	for _, a := range agents {
		if !a.Active || a.Role != registry.RoleWorker {
			continue
		}
		if a.Reputation < floor {
			continue
		}
		if !a.HasCapabilities(specialties) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Candidates applies the spec's two-pass floor relaxation: if the
// initial floor yields nothing, retry once with floor-10.
func Candidates(agents []*registry.Agent, specialties []string, floor int) ([]*registry.Agent, error) {
	out := filterCandidates(agents, specialties, floor)
	if len(out) > 0 {
		return out, nil
	}
	out = filterCandidates(agents, specialties, floor-ReputationFloorRelax)
	if len(out) == 0 {
		return nil, ErrNoEligibleAgents
	}
	return out, nil
}

// seededRand derives a deterministic source from missionID so Autopilot
// selection is reproducible given the same candidate set and mission.
func seededRand(missionID string) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(missionID))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

// fairness implements spec §4.4: 1 / (1 + recent assignments in window).
func fairness(recentAssignments int) float64 {
	return 1.0 / (1.0 + float64(recentAssignments))
}

// Autopilot performs weighted-random selection with a deterministic
// seed (mission_id) and a (highest reputation, lowest agent_id)
// tie-break. recentAssignments maps agent_id to the count of
// assignments it received in the trailing fairness window.
func Autopilot(missionID string, candidates []*registry.Agent, recentAssignments map[string]int) (*registry.Agent, error) {
	if len(candidates) == 0 {
		return nil, ErrNoEligibleAgents
	}

	ordered := make([]*registry.Agent, len(candidates))
	copy(ordered, candidates)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Reputation != ordered[j].Reputation {
			return ordered[i].Reputation > ordered[j].Reputation
		}
		return ordered[i].AgentID < ordered[j].AgentID
	})

	weights := make([]float64, len(ordered))
	total := 0.0
	for i, a := range ordered {
		w := float64(a.Reputation) * fairness(recentAssignments[a.AgentID])
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return ordered[0], nil
	}

	r := seededRand(missionID).Float64() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return ordered[i], nil
		}
	}
	return ordered[len(ordered)-1], nil
}

// score implements spec §4.4's bidding formula: reputation * (1/price) * (1/eta).
func score(reputation int, price amount.Amount, eta time.Duration) float64 {
	if price <= 0 || eta <= 0 {
		return 0
	}
	return float64(reputation) * (1.0 / float64(price)) * (1.0 / eta.Seconds())
}

// Bidding picks the winning bid: highest score, tie-break (highest
// reputation, earliest bid). reputationOf must return the bidder's
// current reputation; bids exceeding reward are rejected as invalid.
func Bidding(bids []Bid, reward amount.Amount, reputationOf map[string]int) (*Bid, error) {
	var valid []Bid
	for _, b := range bids {
		if b.Price > 0 && b.Price <= reward && b.ETA > 0 {
			valid = append(valid, b)
		}
	}
	if len(valid) == 0 {
		return nil, ErrNoBidders
	}

	best := valid[0]
	bestRep := reputationOf[best.AgentID]
	bestScore := score(bestRep, best.Price, best.ETA)
	for _, b := range valid[1:] {
		rep := reputationOf[b.AgentID]
		s := score(rep, b.Price, b.ETA)
		switch {
		case s > bestScore:
			best, bestRep, bestScore = b, rep, s
		case s == bestScore && rep > bestRep:
			best, bestRep, bestScore = b, rep, s
		case s == bestScore && rep == bestRep && b.SubmittedAt.Before(best.SubmittedAt):
			best, bestRep, bestScore = b, rep, s
		}
	}
	return &best, nil
}

// DirectHire validates a requester-specified worker against capability
// and reputation-floor requirements.
func DirectHire(agent *registry.Agent, specialties []string, floor int) error {
	if agent == nil || !agent.Active || agent.Role != registry.RoleWorker {
		return ErrInvalidDirectHire
	}
	if agent.Reputation < floor {
		return ErrInvalidDirectHire
	}
	if !agent.HasCapabilities(specialties) {
		return ErrInvalidDirectHire
	}
	return nil
}

// Verifiers selects up to n verifiers: matching capabilities, operator
// diversity (no two sharing RegisteredBy), fee-reasonableness against
// the mission's verifier budget, sorted by reputation descending.
func Verifiers(agents []*registry.Agent, specialties []string, n int, reward amount.Amount, budgetBps int64) []*registry.Agent {
	budget := amount.FracBps(reward, budgetBps)

	var eligible []*registry.Agent
	for _, a := range agents {
		if !a.Active || a.Role != registry.RoleVerifier {
			continue
		}
		if !a.HasCapabilities(specialties) {
			continue
		}
		if a.MinFee > budget {
			continue
		}
		eligible = append(eligible, a)
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Reputation != eligible[j].Reputation {
			return eligible[i].Reputation > eligible[j].Reputation
		}
		return eligible[i].AgentID < eligible[j].AgentID
	})

	var picked []*registry.Agent
	seenOperators := map[string]bool{}
	for _, a := range eligible {
		if len(picked) >= n {
			break
		}
		if a.RegisteredBy != "" && seenOperators[a.RegisteredBy] {
			continue
		}
		picked = append(picked, a)
		if a.RegisteredBy != "" {
			seenOperators[a.RegisteredBy] = true
		}
	}
	return picked
}
