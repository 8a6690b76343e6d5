package mission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/missionengine/internal/amount"
	"github.com/mbd888/missionengine/internal/assignment"
	"github.com/mbd888/missionengine/internal/bonds"
	"github.com/mbd888/missionengine/internal/consensus"
	"github.com/mbd888/missionengine/internal/escrow"
	"github.com/mbd888/missionengine/internal/ledger"
	"github.com/mbd888/missionengine/internal/outcome"
	"github.com/mbd888/missionengine/internal/registry"
	"github.com/mbd888/missionengine/internal/settlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	enqueued []string // agent_id:priority
}

func (f *fakeDispatcher) Enqueue(ctx context.Context, agentID string, payload any, priority string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, agentID+":"+priority)
	return nil
}

type harness struct {
	svc      *Service
	disp     *fakeDispatcher
	reg      *registry.MemoryStore
	ledStore *ledger.MemoryStore
}

func newHarness(t *testing.T) *harness {
	store := ledger.NewMemoryStore()
	l := ledger.New(store, nil)
	esc := escrow.NewService(l)
	bnd := bonds.NewService(l)
	oc := outcome.NewMemoryStore()
	settle := settlement.NewService(l, esc, bnd, oc, settlement.DefaultConfig())
	reg := registry.NewMemoryStore()
	disp := &fakeDispatcher{}
	svc := NewService(NewMemoryStore(), reg, esc, bnd, settle, disp, DefaultConfig(), nil)
	return &harness{svc: svc, disp: disp, reg: reg, ledStore: store}
}

func registerWorker(t *testing.T, reg *registry.MemoryStore, id string, reputation int, caps ...string) {
	require.NoError(t, reg.Create(context.Background(), &registry.Agent{
		AgentID: id, Role: registry.RoleWorker, Active: true, Reputation: reputation, Capabilities: caps,
	}))
}

func registerVerifier(t *testing.T, reg *registry.MemoryStore, id string, reputation int, registeredBy string, caps ...string) {
	require.NoError(t, reg.Create(context.Background(), &registry.Agent{
		AgentID: id, Role: registry.RoleVerifier, Active: true, Reputation: reputation, RegisteredBy: registeredBy, Capabilities: caps,
	}))
}

func TestCreateLocksEscrowAndPostsMission(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledStore.Seed("requester-1", 1000)

	m, err := h.svc.Create(ctx, CreateRequest{
		RequesterID: "requester-1", Objective: "summarize doc", Reward: 50,
		Deadline: time.Now().Add(time.Hour), Specialties: []string{"code"}, Risk: RiskLow, AssignmentMode: ModeAutopilot,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPosted, m.Status)
	assert.Equal(t, 1, m.RequiredVerifiers)

	avail, err := ledger.New(h.ledStore, nil).Available(ctx, "requester-1")
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(1000-50-1), avail) // reward + default proposal bond locked
}

// TestAutopilotFullLifecyclePass drives a low-risk mission through the
// whole state machine to a PASS settlement.
func TestAutopilotFullLifecyclePass(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledStore.Seed("requester-1", 1000)
	h.ledStore.Seed("w1", 50)
	h.ledStore.Seed("v1", 50)
	registerWorker(t, h.reg, "w1", 80, "code")
	registerVerifier(t, h.reg, "v1", 80, "op1", "code")

	m, err := h.svc.Create(ctx, CreateRequest{
		RequesterID: "requester-1", Objective: "fix bug", Reward: 50,
		Deadline: time.Now().Add(time.Hour), Specialties: []string{"code"}, Risk: RiskLow, AssignmentMode: ModeAutopilot,
	})
	require.NoError(t, err)

	m, err = h.svc.Assign(ctx, m.MissionID)
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, m.Status)
	assert.Equal(t, "w1", m.AssignedWorker)
	require.Len(t, h.disp.enqueued, 1)

	m, err = h.svc.Start(ctx, m.MissionID, "w1")
	require.NoError(t, err)
	assert.Equal(t, StatusExecuting, m.Status)
	assert.Equal(t, []string{"v1"}, m.AssignedVerifiers)

	m, err = h.svc.Submit(ctx, m.MissionID, "w1", []Artifact{{Digest: "sha256:abc", Size: 128, Submitter: "w1"}})
	require.NoError(t, err)
	assert.Equal(t, StatusVerifying, m.Status)

	m, err = h.svc.Vote(ctx, m.MissionID, "v1", consensus.VerdictPass)
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, m.Status)
}

func TestStartRejectsWrongCaller(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledStore.Seed("requester-1", 1000)
	h.ledStore.Seed("w1", 50)
	registerWorker(t, h.reg, "w1", 80, "code")

	m, err := h.svc.Create(ctx, CreateRequest{
		RequesterID: "requester-1", Reward: 50, Deadline: time.Now().Add(time.Hour),
		Specialties: []string{"code"}, Risk: RiskLow, AssignmentMode: ModeAutopilot,
	})
	require.NoError(t, err)
	m, err = h.svc.Assign(ctx, m.MissionID)
	require.NoError(t, err)

	_, err = h.svc.Start(ctx, m.MissionID, "someone-else")
	assert.ErrorIs(t, err, ErrNotAssignedWorker)
}

func TestSubmitRequiresArtifact(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledStore.Seed("requester-1", 1000)
	h.ledStore.Seed("w1", 50)
	registerWorker(t, h.reg, "w1", 80, "code")

	m, err := h.svc.Create(ctx, CreateRequest{
		RequesterID: "requester-1", Reward: 50, Deadline: time.Now().Add(time.Hour),
		Specialties: []string{"code"}, Risk: RiskLow, AssignmentMode: ModeAutopilot,
	})
	require.NoError(t, err)
	m, err = h.svc.Assign(ctx, m.MissionID)
	require.NoError(t, err)
	m, err = h.svc.Start(ctx, m.MissionID, "w1")
	require.NoError(t, err)

	_, err = h.svc.Submit(ctx, m.MissionID, "w1", nil)
	assert.ErrorIs(t, err, ErrNoArtifacts)
}

func TestBiddingFlowPicksHighestScore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledStore.Seed("requester-1", 10000)
	registerWorker(t, h.reg, "w1", 60, "code")
	registerWorker(t, h.reg, "w2", 90, "code")

	m, err := h.svc.Create(ctx, CreateRequest{
		RequesterID: "requester-1", Reward: 200, Deadline: time.Now().Add(time.Hour),
		Specialties: []string{"code"}, Risk: RiskLow, AssignmentMode: ModeBidding,
	})
	require.NoError(t, err)

	m, err = h.svc.OpenBidding(ctx, m.MissionID)
	require.NoError(t, err)
	assert.Equal(t, StatusBiddingOpen, m.Status)

	_, err = h.svc.SubmitBid(ctx, m.MissionID, assignment.Bid{AgentID: "w1", Price: 150, ETA: time.Hour})
	require.NoError(t, err)
	_, err = h.svc.SubmitBid(ctx, m.MissionID, assignment.Bid{AgentID: "w2", Price: 150, ETA: time.Hour})
	require.NoError(t, err)

	m, err = h.svc.CloseBidding(ctx, m.MissionID)
	require.NoError(t, err)
	assert.Equal(t, StatusAssigned, m.Status)
	assert.Equal(t, "w2", m.AssignedWorker) // higher reputation at equal price/eta
}

func TestBiddingNoBiddersFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledStore.Seed("requester-1", 10000)

	m, err := h.svc.Create(ctx, CreateRequest{
		RequesterID: "requester-1", Reward: 200, Deadline: time.Now().Add(time.Hour),
		Specialties: []string{"code"}, Risk: RiskLow, AssignmentMode: ModeBidding,
	})
	require.NoError(t, err)
	m, err = h.svc.OpenBidding(ctx, m.MissionID)
	require.NoError(t, err)

	m, err = h.svc.CloseBidding(ctx, m.MissionID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, m.Status)
	assert.Equal(t, ReasonNoBidders, m.FailureReason)
}

// TestVoteDisputeUpgradesToThreeVerifiers reproduces spec scenario S3.
func TestVoteDisputeUpgradesToThreeVerifiers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledStore.Seed("requester-1", 10000)
	h.ledStore.Seed("w1", 100)
	h.ledStore.Seed("v1", 100)
	h.ledStore.Seed("v2", 100)
	h.ledStore.Seed("v3", 100)
	registerWorker(t, h.reg, "w1", 80, "code")
	registerVerifier(t, h.reg, "v1", 90, "op1", "code")
	registerVerifier(t, h.reg, "v2", 85, "op2", "code")
	registerVerifier(t, h.reg, "v3", 80, "op3", "code")

	m, err := h.svc.Create(ctx, CreateRequest{
		RequesterID: "requester-1", Reward: 80, Deadline: time.Now().Add(time.Hour),
		Specialties: []string{"code"}, Risk: RiskMedium, AssignmentMode: ModeAutopilot,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, m.RequiredVerifiers)

	m, err = h.svc.Assign(ctx, m.MissionID)
	require.NoError(t, err)
	m, err = h.svc.Start(ctx, m.MissionID, "w1")
	require.NoError(t, err)
	require.Len(t, m.AssignedVerifiers, 2)
	assert.ElementsMatch(t, []string{"v1", "v2"}, m.AssignedVerifiers)

	m, err = h.svc.Submit(ctx, m.MissionID, "w1", []Artifact{{Digest: "sha256:x", Submitter: "w1"}})
	require.NoError(t, err)

	m, err = h.svc.Vote(ctx, m.MissionID, "v1", consensus.VerdictPass)
	require.NoError(t, err)
	assert.Equal(t, StatusVerifying, m.Status)

	m, err = h.svc.Vote(ctx, m.MissionID, "v2", consensus.VerdictFail)
	require.NoError(t, err)
	assert.Equal(t, StatusVerifying, m.Status) // DISPUTE, stays open
	assert.Equal(t, 3, m.RequiredVerifiers)
	assert.Contains(t, m.AssignedVerifiers, "v3")

	m, err = h.svc.Vote(ctx, m.MissionID, "v3", consensus.VerdictPass)
	require.NoError(t, err)
	assert.Equal(t, StatusSettled, m.Status)
}

func TestVoteRejectsUnknownVerifier(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledStore.Seed("requester-1", 10000)
	h.ledStore.Seed("w1", 100)
	h.ledStore.Seed("v1", 100)
	registerWorker(t, h.reg, "w1", 80, "code")
	registerVerifier(t, h.reg, "v1", 80, "op1", "code")

	m, err := h.svc.Create(ctx, CreateRequest{
		RequesterID: "requester-1", Reward: 50, Deadline: time.Now().Add(time.Hour),
		Specialties: []string{"code"}, Risk: RiskLow, AssignmentMode: ModeAutopilot,
	})
	require.NoError(t, err)
	m, err = h.svc.Assign(ctx, m.MissionID)
	require.NoError(t, err)
	m, err = h.svc.Start(ctx, m.MissionID, "w1")
	require.NoError(t, err)
	m, err = h.svc.Submit(ctx, m.MissionID, "w1", []Artifact{{Digest: "d"}})
	require.NoError(t, err)

	_, err = h.svc.Vote(ctx, m.MissionID, "not-a-verifier", consensus.VerdictPass)
	assert.ErrorIs(t, err, ErrUnknownVerifier)
}

func TestExpirePostedRefundsEscrow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledStore.Seed("requester-1", 1000)

	m, err := h.svc.Create(ctx, CreateRequest{
		RequesterID: "requester-1", Reward: 50, Deadline: time.Now().Add(-time.Minute),
		Specialties: []string{"code"}, Risk: RiskLow, AssignmentMode: ModeAutopilot,
	})
	require.NoError(t, err)

	m, err = h.svc.Expire(ctx, m.MissionID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, m.Status)
	assert.Equal(t, ReasonDeadlineExpired, m.FailureReason)

	bal, err := h.ledStore.Balance(ctx, "requester-1")
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(1000), bal)
}

func TestExpireExecutingSlashesWorkerBond(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledStore.Seed("requester-1", 1000)
	h.ledStore.Seed("w1", 50)
	registerWorker(t, h.reg, "w1", 80, "code")

	m, err := h.svc.Create(ctx, CreateRequest{
		RequesterID: "requester-1", Reward: 50, Deadline: time.Now().Add(time.Hour),
		Specialties: []string{"code"}, Risk: RiskLow, AssignmentMode: ModeAutopilot,
	})
	require.NoError(t, err)
	m, err = h.svc.Assign(ctx, m.MissionID)
	require.NoError(t, err)
	m, err = h.svc.Start(ctx, m.MissionID, "w1")
	require.NoError(t, err)

	// Force the deadline into the past directly via the store, simulating
	// time having elapsed after Start.
	mi, err := h.svc.store.Get(ctx, m.MissionID)
	require.NoError(t, err)
	mi.Deadline = time.Now().Add(-time.Minute)
	require.NoError(t, h.svc.store.Update(ctx, mi))

	m, err = h.svc.Expire(ctx, m.MissionID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, m.Status)

	treasuryBal, err := h.ledStore.Balance(ctx, ledger.TreasuryAddr)
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(10), treasuryBal) // 0.2 * 50 worker bond, fully slashed
}

func TestReviseBoundedToMaxRevisions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ledStore.Seed("requester-1", 1000)
	h.ledStore.Seed("w1", 50)
	registerWorker(t, h.reg, "w1", 80, "code")

	m, err := h.svc.Create(ctx, CreateRequest{
		RequesterID: "requester-1", Reward: 50, Deadline: time.Now().Add(time.Hour),
		Specialties: []string{"code"}, Risk: RiskLow, AssignmentMode: ModeAutopilot,
	})
	require.NoError(t, err)
	m, err = h.svc.Assign(ctx, m.MissionID)
	require.NoError(t, err)
	m, err = h.svc.Start(ctx, m.MissionID, "w1")
	require.NoError(t, err)

	for i := 0; i < DefaultConfig().MaxRevisions; i++ {
		mi, err := h.svc.store.Get(ctx, m.MissionID)
		require.NoError(t, err)
		mi.Status = StatusVerifying
		require.NoError(t, h.svc.store.Update(ctx, mi))

		m, err = h.svc.Revise(ctx, m.MissionID, "needs more detail")
		require.NoError(t, err)
		assert.Equal(t, StatusExecuting, m.Status)
	}

	mi, err := h.svc.store.Get(ctx, m.MissionID)
	require.NoError(t, err)
	mi.Status = StatusVerifying
	require.NoError(t, h.svc.store.Update(ctx, mi))

	_, err = h.svc.Revise(ctx, m.MissionID, "once more")
	assert.ErrorIs(t, err, ErrMaxRevisions)
}
