package settlement

import (
	"context"
	"testing"

	"github.com/mbd888/missionengine/internal/amount"
	"github.com/mbd888/missionengine/internal/bonds"
	"github.com/mbd888/missionengine/internal/consensus"
	"github.com/mbd888/missionengine/internal/escrow"
	"github.com/mbd888/missionengine/internal/ledger"
	"github.com/mbd888/missionengine/internal/outcome"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	ledger   *ledger.Ledger
	store    *ledger.MemoryStore
	escrow   *escrow.Service
	bonds    *bonds.Service
	outcomes *outcome.MemoryStore
	svc      *Service
}

func newHarness(t *testing.T) *harness {
	store := ledger.NewMemoryStore()
	l := ledger.New(store, nil)
	e := escrow.NewService(l)
	b := bonds.NewService(l)
	o := outcome.NewMemoryStore()
	return &harness{
		ledger: l, store: store, escrow: e, bonds: b, outcomes: o,
		svc: NewService(l, e, b, o, DefaultConfig()),
	}
}

// TestApplyPassSingleVerifier reproduces spec scenario S1.
func TestApplyPassSingleVerifier(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.Seed("requester", 1000)
	h.store.Seed("worker", 50)

	h.store.Seed("v1", 5)
	require.NoError(t, h.escrow.Lock(ctx, "m1", "requester", 100, 0))
	require.NoError(t, h.bonds.StakeWorker(ctx, "m1", "worker", 20))
	require.NoError(t, h.bonds.StakeVerifier(ctx, "m1", "v1", 5))

	err := h.svc.Apply(ctx, Input{
		MissionID:     "m1",
		Requester:     "requester",
		Worker:        "worker",
		ClawgerAddr:   "treasury",
		Reward:        100,
		WorkerBondAmt: 20,
		Outcome:       consensus.OutcomePass,
		Voters:        []Voter{{AgentID: "v1", BondAmt: 5}},
	})
	require.NoError(t, err)

	// worker starts at 50, receives the 100 escrow release, then pays out
	// the clawger + verifier fee pool (15), netting 135.
	workerBal, _ := h.store.Balance(ctx, "worker")
	assert.Equal(t, amount.Amount(135), workerBal)

	v1Bal, _ := h.store.Balance(ctx, "v1")
	assert.Equal(t, amount.Amount(10), v1Bal) // 5 staked (returned) + 5 fee share

	reqAvail, _ := h.ledger.Available(ctx, "requester")
	assert.Equal(t, amount.Amount(900), reqAvail)

	rows, _ := h.outcomes.ListByMission(ctx, "m1")
	require.Len(t, rows, 2)
}

// TestApplyPassRefundsProposalBond covers escrow holding reward+bond: on
// PASS the worker must net exactly reward-minus-fees, with the proposal
// bond returning to the requester rather than sticking to the worker.
func TestApplyPassRefundsProposalBond(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.Seed("requester", 1000)
	h.store.Seed("worker", 20)
	h.store.Seed("v1", 5)
	require.NoError(t, h.escrow.Lock(ctx, "m1", "requester", 100, 1))
	require.NoError(t, h.bonds.StakeWorker(ctx, "m1", "worker", 20))
	require.NoError(t, h.bonds.StakeVerifier(ctx, "m1", "v1", 5))

	err := h.svc.Apply(ctx, Input{
		MissionID:     "m1",
		Requester:     "requester",
		Worker:        "worker",
		ClawgerAddr:   "treasury",
		Reward:        100,
		ProposalBond:  1,
		WorkerBondAmt: 20,
		Outcome:       consensus.OutcomePass,
		Voters:        []Voter{{AgentID: "v1", BondAmt: 5}},
	})
	require.NoError(t, err)

	// worker starts with the 20 it stakes as bond, receives the 101 escrow
	// release (reward + bond), pays back the 1-unit bond, then pays out the
	// 15 clawger+verifier fee pool: nets 85, ending at 105.
	workerBal, _ := h.store.Balance(ctx, "worker")
	assert.Equal(t, amount.Amount(105), workerBal)

	// requester started with 1000, locked 101 into escrow (899), and gets
	// the 1-unit proposal bond back on settlement: 900.
	reqBal, _ := h.store.Balance(ctx, "requester")
	assert.Equal(t, amount.Amount(900), reqBal)
}

// TestApplyFailSingleVerifier reproduces spec scenario S2.
func TestApplyFailSingleVerifier(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.store.Seed("requester", 1000)
	h.store.Seed("worker", 50)

	h.store.Seed("v1", 5)
	require.NoError(t, h.escrow.Lock(ctx, "m1", "requester", 100, 0))
	require.NoError(t, h.bonds.StakeWorker(ctx, "m1", "worker", 20))
	require.NoError(t, h.bonds.StakeVerifier(ctx, "m1", "v1", 5))

	err := h.svc.Apply(ctx, Input{
		MissionID:     "m1",
		Requester:     "requester",
		Worker:        "worker",
		Reward:        100,
		WorkerBondAmt: 20,
		Outcome:       consensus.OutcomeFail,
		Voters:        []Voter{{AgentID: "v1", BondAmt: 5}},
	})
	require.NoError(t, err)

	workerBal, _ := h.store.Balance(ctx, "worker")
	assert.Equal(t, amount.Amount(30), workerBal) // bond fully slashed, nothing returned

	treasuryBal, _ := h.store.Balance(ctx, ledger.TreasuryAddr)
	assert.Equal(t, amount.Amount(20), treasuryBal)

	reqBal, _ := h.store.Balance(ctx, "requester")
	assert.Equal(t, amount.Amount(1000), reqBal) // escrow refunded in full

	rows, _ := h.outcomes.ListByMission(ctx, "m1")
	require.Len(t, rows, 2)
	for _, r := range rows {
		if r.AgentID == "worker" {
			assert.Equal(t, outcome.Fail, r.Verdict)
		}
		if r.AgentID == "v1" {
			assert.Equal(t, outcome.Pass, r.Verdict)
		}
	}
}

func TestApplyRejectsNonDecisiveOutcome(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	err := h.svc.Apply(ctx, Input{MissionID: "m1", Outcome: consensus.OutcomeDispute})
	assert.ErrorIs(t, err, ErrNotDecisive)
}
