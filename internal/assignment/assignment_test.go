package assignment

import (
	"testing"
	"time"

	"github.com/mbd888/missionengine/internal/amount"
	"github.com/mbd888/missionengine/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func worker(id string, reputation int, caps ...string) *registry.Agent {
	return &registry.Agent{AgentID: id, Role: registry.RoleWorker, Active: true, Reputation: reputation, Capabilities: caps}
}

func verifier(id string, reputation int, registeredBy string, minFee amount.Amount, caps ...string) *registry.Agent {
	return &registry.Agent{AgentID: id, Role: registry.RoleVerifier, Active: true, Reputation: reputation, RegisteredBy: registeredBy, MinFee: minFee, Capabilities: caps}
}

func TestCandidatesRelaxesFloorOnce(t *testing.T) {
	agents := []*registry.Agent{worker("w1", 25, "code")}
	out, err := Candidates(agents, []string{"code"}, DefaultReputationFloor)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "w1", out[0].AgentID)
}

func TestCandidatesNoEligibleAgents(t *testing.T) {
	agents := []*registry.Agent{worker("w1", 10, "code")}
	_, err := Candidates(agents, []string{"code"}, DefaultReputationFloor)
	assert.ErrorIs(t, err, ErrNoEligibleAgents)
}

func TestAutopilotDeterministicGivenSeed(t *testing.T) {
	agents := []*registry.Agent{worker("w1", 80, "code"), worker("w2", 80, "code")}
	picked1, err := Autopilot("mission-1", agents, nil)
	require.NoError(t, err)
	picked2, err := Autopilot("mission-1", agents, nil)
	require.NoError(t, err)
	assert.Equal(t, picked1.AgentID, picked2.AgentID)
}

func TestAutopilotPicksSoleCandidateDespiteFairnessPenalty(t *testing.T) {
	agents := []*registry.Agent{worker("w1", 50, "code")}
	recent := map[string]int{"w1": 19}
	picked, err := Autopilot("mission-1", agents, recent)
	require.NoError(t, err)
	assert.Equal(t, "w1", picked.AgentID)
}

func TestBiddingPicksHighestScore(t *testing.T) {
	bids := []Bid{
		{AgentID: "w1", Price: 50, ETA: time.Hour, SubmittedAt: time.Unix(1, 0)},
		{AgentID: "w2", Price: 40, ETA: time.Hour, SubmittedAt: time.Unix(2, 0)},
	}
	rep := map[string]int{"w1": 50, "w2": 50}
	winner, err := Bidding(bids, 100, rep)
	require.NoError(t, err)
	assert.Equal(t, "w2", winner.AgentID)
}

func TestBiddingRejectsOverpriced(t *testing.T) {
	bids := []Bid{{AgentID: "w1", Price: 150, ETA: time.Hour}}
	_, err := Bidding(bids, 100, map[string]int{"w1": 50})
	assert.ErrorIs(t, err, ErrNoBidders)
}

func TestBiddingTieBreakEarliestBid(t *testing.T) {
	bids := []Bid{
		{AgentID: "w1", Price: 50, ETA: time.Hour, SubmittedAt: time.Unix(10, 0)},
		{AgentID: "w2", Price: 50, ETA: time.Hour, SubmittedAt: time.Unix(1, 0)},
	}
	rep := map[string]int{"w1": 50, "w2": 50}
	winner, err := Bidding(bids, 100, rep)
	require.NoError(t, err)
	assert.Equal(t, "w2", winner.AgentID)
}

func TestDirectHireValidation(t *testing.T) {
	w := worker("w1", 50, "code")
	assert.NoError(t, DirectHire(w, []string{"code"}, 30))
	assert.ErrorIs(t, DirectHire(w, []string{"image"}, 30), ErrInvalidDirectHire)
	assert.ErrorIs(t, DirectHire(w, []string{"code"}, 60), ErrInvalidDirectHire)
}

func TestVerifiersEnforceDiversityAndFeeBudget(t *testing.T) {
	agents := []*registry.Agent{
		verifier("v1", 90, "op-a", 1, "code"),
		verifier("v2", 80, "op-a", 1, "code"), // same operator as v1, excluded
		verifier("v3", 70, "op-b", 1, "code"),
		verifier("v4", 60, "op-c", 50, "code"), // exceeds fee budget
	}
	picked := Verifiers(agents, []string{"code"}, 3, 100, DefaultVerifierBudgetBps)
	require.Len(t, picked, 2)
	assert.Equal(t, "v1", picked[0].AgentID)
	assert.Equal(t, "v3", picked[1].AgentID)
}
