package mission

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/missionengine/internal/amount"
	"github.com/mbd888/missionengine/internal/assignment"
	"github.com/mbd888/missionengine/internal/bonds"
	"github.com/mbd888/missionengine/internal/consensus"
	"github.com/mbd888/missionengine/internal/idgen"
	"github.com/mbd888/missionengine/internal/ledger"
	"github.com/mbd888/missionengine/internal/registry"
	"github.com/mbd888/missionengine/internal/settlement"
	"github.com/mbd888/missionengine/internal/syncutil"
	"github.com/mbd888/missionengine/internal/traces"
)

var (
	ErrInvalidState      = errors.New("mission: transition not valid from current state")
	ErrNotAssignedWorker = errors.New("mission: caller is not the assigned worker")
	ErrNoArtifacts       = errors.New("mission: submit requires at least one artifact")
	ErrDuplicateVote     = errors.New("mission: verifier has already voted")
	ErrUnknownVerifier   = errors.New("mission: caller is not an assigned verifier")
	ErrMaxRevisions      = errors.New("mission: revision limit reached")
	ErrNotTerminal       = errors.New("mission: expire requires a past deadline")
	ErrBelowThreshold    = errors.New("mission: reward below bidding threshold")
	ErrAboveThreshold    = errors.New("mission: reward at or above bidding threshold, use bidding")
)

// Priority classes handed to the dispatch queue (C9).
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Dispatcher is the narrow slice of the dispatch queue (C9) the mission
// engine needs. It is the only non-ledger, non-outcome observable side
// effect a transition may produce, per spec §4.8.
type Dispatcher interface {
	Enqueue(ctx context.Context, agentID string, payload any, priority string, ttl time.Duration) error
}

// RegistryStore is the narrow slice of the agent directory (C4 depends
// on the full registry.Store; the mission engine only needs read access
// plus enough write surface for nothing — it never mutates agents).
type RegistryStore interface {
	Get(ctx context.Context, agentID string) (*registry.Agent, error)
	List(ctx context.Context, q registry.Query) ([]*registry.Agent, error)
}

// EscrowService is the slice of C6 the mission engine calls directly.
// slashBps is basis points (10000 = 100%), matching escrow.Service's own
// ledger-facing convention.
type EscrowService interface {
	Lock(ctx context.Context, missionID, requester string, reward, proposalBond amount.Amount) error
	Refund(ctx context.Context, missionID string, slashBps int64) error
}

// BondService is the slice of C5 the mission engine calls directly.
// bps is basis points (10000 = 100%), matching bonds.Service's own
// ledger-facing convention.
type BondService interface {
	StakeWorker(ctx context.Context, missionID, agent string, amt amount.Amount) error
	StakeVerifier(ctx context.Context, missionID, agent string, amt amount.Amount) error
	ReleaseWorker(ctx context.Context, missionID, agent string) error
	ReleaseVerifier(ctx context.Context, missionID, agent string) error
	SlashWorker(ctx context.Context, missionID, agent string, bps int64) error
	List(ctx context.Context, missionID string) ([]*ledger.BondRecord, error)
}

// SettlementService is C7, invoked once consensus reaches a decisive
// outcome.
type SettlementService interface {
	Apply(ctx context.Context, in settlement.Input) error
}

// Config carries the tunables spec §4.4-§4.8 describe as "default X,
// configurable". Fee/slash tunables are basis points (10000 = 100%),
// the same convention internal/ledger, internal/bonds, and
// internal/escrow use for every value-path computation.
type Config struct {
	BiddingThreshold   amount.Amount
	BiddingWindow      time.Duration
	ProposalBond       amount.Amount
	ReputationFloor    int
	MaxRevisions       int
	VerifierBudgetBps  int64
	WorkerBondBps      int64
	VerifierBondBps    int64
	WorkerBondSlashBps int64
	EscrowFailSlashBps int64
	DispatchTTL        time.Duration
}

// DefaultConfig returns the spec's default constants.
func DefaultConfig() Config {
	return Config{
		BiddingThreshold:   assignment.DefaultBiddingThreshold,
		BiddingWindow:      assignment.DefaultBiddingWindow,
		ProposalBond:       amount.Amount(1),
		ReputationFloor:    assignment.DefaultReputationFloor,
		MaxRevisions:       5,
		VerifierBudgetBps:  assignment.DefaultVerifierBudgetBps,
		WorkerBondBps:      bonds.DefaultWorkerBondBps,
		VerifierBondBps:    bonds.DefaultVerifierBondBps,
		WorkerBondSlashBps: 10000,
		EscrowFailSlashBps: 0,
		DispatchTTL:        24 * time.Hour,
	}
}

// fairnessTracker keeps a sliding window of recent autopilot assignments
// so Autopilot's fairness weighting has something to penalise. It is a
// best-effort in-memory heuristic, not a durable audit trail: losing it
// across a restart only flattens fairness temporarily, it never affects
// correctness of a mission's own state.
type fairnessTracker struct {
	mu     chan struct{} // 1-buffered, used as a trylock-free mutex
	recent []string
}

func newFairnessTracker() *fairnessTracker {
	f := &fairnessTracker{mu: make(chan struct{}, 1)}
	f.mu <- struct{}{}
	return f
}

func (f *fairnessTracker) counts() map[string]int {
	<-f.mu
	defer func() { f.mu <- struct{}{} }()
	out := make(map[string]int, len(f.recent))
	for _, a := range f.recent {
		out[a]++
	}
	return out
}

func (f *fairnessTracker) record(agentID string) {
	<-f.mu
	defer func() { f.mu <- struct{}{} }()
	f.recent = append(f.recent, agentID)
	if len(f.recent) > assignment.FairnessWindow {
		f.recent = f.recent[len(f.recent)-assignment.FairnessWindow:]
	}
}

// Service is C8: the mission lifecycle engine.
type Service struct {
	store      Store
	registry   RegistryStore
	escrow     EscrowService
	bonds      BondService
	settlement SettlementService
	dispatch   Dispatcher
	locks      syncutil.ShardedMutex
	fairness   *fairnessTracker
	cfg        Config
	logger     *slog.Logger
}

// NewService constructs the mission engine over its C4-C7, C9 dependencies.
func NewService(store Store, reg RegistryStore, esc EscrowService, bnd BondService, settle SettlementService, disp Dispatcher, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store: store, registry: reg, escrow: esc, bonds: bnd, settlement: settle, dispatch: disp,
		fairness: newFairnessTracker(), cfg: cfg, logger: logger,
	}
}

// CreateRequest is the input to Create.
type CreateRequest struct {
	RequesterID      string
	Objective        string
	Reward           amount.Amount
	Deadline         time.Time
	Specialties      []string
	Risk             Risk
	AssignmentMode   AssignmentMode
	DirectHireTarget string
}

var now = time.Now

// Create locks escrow for the mission and places it in StatusPosted
// (spec §4.8 `create`).
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Mission, error) {
	ctx, span := traces.StartSpan(ctx, "mission.Create", traces.AgentAddr(req.RequesterID))
	defer span.End()

	missionID := idgen.WithPrefix("msn_")
	if err := s.escrow.Lock(ctx, missionID, req.RequesterID, req.Reward, s.cfg.ProposalBond); err != nil {
		return nil, err
	}

	m := &Mission{
		MissionID:         missionID,
		RequesterID:       req.RequesterID,
		Objective:         req.Objective,
		Reward:            req.Reward,
		Deadline:          req.Deadline,
		Specialties:       req.Specialties,
		Risk:              req.Risk,
		AssignmentMode:    req.AssignmentMode,
		DirectHireTarget:  req.DirectHireTarget,
		Status:            StatusPosted,
		RequiredVerifiers: consensus.RequiredVerifiers(string(req.Risk)),
		CreatedAt:         now(),
	}
	if err := s.store.Create(ctx, m); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "mission created", "mission_id", missionID, "reward", req.Reward, "mode", req.AssignmentMode)
	return m, nil
}

// Get returns a mission by ID.
func (s *Service) Get(ctx context.Context, missionID string) (*Mission, error) {
	return s.store.Get(ctx, missionID)
}

// List returns missions matching q.
func (s *Service) List(ctx context.Context, q Query) ([]*Mission, error) {
	return s.store.List(ctx, q)
}

// withMission locks missionID, loads it, runs fn, and persists the
// result unless fn returns an error.
func (s *Service) withMission(ctx context.Context, missionID string, fn func(m *Mission) error) (*Mission, error) {
	unlock := s.locks.Lock(missionID)
	defer unlock()

	m, err := s.store.Get(ctx, missionID)
	if err != nil {
		return nil, err
	}
	if err := fn(m); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// OpenBidding transitions posted -> bidding_open, guarded by reward
// being at or above the bidding threshold (spec §4.8 `open_bidding`).
func (s *Service) OpenBidding(ctx context.Context, missionID string) (*Mission, error) {
	ctx, span := traces.StartSpan(ctx, "mission.OpenBidding", traces.MissionID(missionID))
	defer span.End()
	return s.withMission(ctx, missionID, func(m *Mission) error {
		if m.Status != StatusPosted {
			return ErrInvalidState
		}
		if m.Reward < s.cfg.BiddingThreshold {
			return ErrBelowThreshold
		}
		closeAt := now().Add(s.cfg.BiddingWindow)
		m.Status = StatusBiddingOpen
		m.BiddingCloseAt = &closeAt
		return nil
	})
}

// SubmitBid records a bid while bidding is open.
func (s *Service) SubmitBid(ctx context.Context, missionID string, bid assignment.Bid) (*Mission, error) {
	ctx, span := traces.StartSpan(ctx, "mission.SubmitBid", traces.MissionID(missionID), traces.AgentAddr(bid.AgentID))
	defer span.End()
	return s.withMission(ctx, missionID, func(m *Mission) error {
		if m.Status != StatusBiddingOpen {
			return ErrInvalidState
		}
		if m.BiddingCloseAt != nil && now().After(*m.BiddingCloseAt) {
			return ErrInvalidState
		}
		if bid.SubmittedAt.IsZero() {
			bid.SubmittedAt = now()
		}
		m.Bids = append(m.Bids, bid)
		return nil
	})
}

// reputationOf builds the map Bidding needs by looking up each bidder's
// current registry reputation.
func (s *Service) reputationOf(ctx context.Context, bids []assignment.Bid) map[string]int {
	out := make(map[string]int, len(bids))
	for _, b := range bids {
		if a, err := s.registry.Get(ctx, b.AgentID); err == nil {
			out[b.AgentID] = a.Reputation
		}
	}
	return out
}

// CloseBidding picks a winner via C4.Bidding, or fails the mission with
// NoBidders (spec §4.8 `close_bidding`).
func (s *Service) CloseBidding(ctx context.Context, missionID string) (*Mission, error) {
	ctx, span := traces.StartSpan(ctx, "mission.CloseBidding", traces.MissionID(missionID))
	defer span.End()
	return s.withMission(ctx, missionID, func(m *Mission) error {
		if m.Status != StatusBiddingOpen {
			return ErrInvalidState
		}
		winner, err := assignment.Bidding(m.Bids, m.Reward, s.reputationOf(ctx, m.Bids))
		if err != nil {
			if errors.Is(err, assignment.ErrNoBidders) {
				m.Status = StatusFailed
				m.FailureReason = ReasonNoBidders
				return nil
			}
			return err
		}
		t := now()
		m.AssignedWorker = winner.AgentID
		m.Status = StatusAssigned
		m.AssignedAt = &t
		s.fairness.record(winner.AgentID)
		return s.enqueueAssigned(ctx, m)
	})
}

// Assign resolves autopilot or direct-hire selection (spec §4.8 `assign`,
// the posted -> assigned path that doesn't go through bidding).
func (s *Service) Assign(ctx context.Context, missionID string) (*Mission, error) {
	ctx, span := traces.StartSpan(ctx, "mission.Assign", traces.MissionID(missionID))
	defer span.End()
	return s.withMission(ctx, missionID, func(m *Mission) error {
		if m.Status != StatusPosted {
			return ErrInvalidState
		}

		switch m.AssignmentMode {
		case ModeDirectHire:
			agent, err := s.registry.Get(ctx, m.DirectHireTarget)
			if err != nil {
				m.Status = StatusFailed
				m.FailureReason = ReasonInvalidDirectHire
				return nil
			}
			if err := assignment.DirectHire(agent, m.Specialties, s.cfg.ReputationFloor); err != nil {
				m.Status = StatusFailed
				m.FailureReason = ReasonInvalidDirectHire
				return nil
			}
			t := now()
			m.AssignedWorker = agent.AgentID
			m.Status = StatusAssigned
			m.AssignedAt = &t
			return s.enqueueAssigned(ctx, m)

		default: // autopilot
			if m.Reward >= s.cfg.BiddingThreshold {
				return ErrAboveThreshold
			}
			agents, err := s.registry.List(ctx, registry.Query{Role: registry.RoleWorker, ActiveOnly: true})
			if err != nil {
				return err
			}
			candidates, err := assignment.Candidates(agents, m.Specialties, s.cfg.ReputationFloor)
			if err != nil {
				if errors.Is(err, assignment.ErrNoEligibleAgents) {
					m.Status = StatusFailed
					m.FailureReason = ReasonNoEligibleAgents
					return nil
				}
				return err
			}
			winner, err := assignment.Autopilot(m.MissionID, candidates, s.fairness.counts())
			if err != nil {
				return err
			}
			t := now()
			m.AssignedWorker = winner.AgentID
			m.Status = StatusAssigned
			m.AssignedAt = &t
			s.fairness.record(winner.AgentID)
			return s.enqueueAssigned(ctx, m)
		}
	})
}

func (s *Service) enqueueAssigned(ctx context.Context, m *Mission) error {
	if s.dispatch == nil {
		return nil
	}
	payload := map[string]any{
		"type":       "mission_assigned",
		"mission_id": m.MissionID,
		"objective":  m.Objective,
		"reward":     int64(m.Reward),
		"deadline":   m.Deadline,
	}
	return s.dispatch.Enqueue(ctx, m.AssignedWorker, payload, PriorityNormal, s.cfg.DispatchTTL)
}

// Start stakes the worker's bond, picks verifiers, and transitions
// assigned -> executing (spec §4.8 `start`).
func (s *Service) Start(ctx context.Context, missionID, callerAgentID string) (*Mission, error) {
	ctx, span := traces.StartSpan(ctx, "mission.Start", traces.MissionID(missionID), traces.AgentAddr(callerAgentID))
	defer span.End()
	return s.withMission(ctx, missionID, func(m *Mission) error {
		if m.Status != StatusAssigned {
			return ErrInvalidState
		}
		if m.AssignedWorker != callerAgentID {
			return ErrNotAssignedWorker
		}

		bondAmt := amount.FracBps(m.Reward, s.cfg.WorkerBondBps)
		if err := s.bonds.StakeWorker(ctx, missionID, m.AssignedWorker, bondAmt); err != nil {
			return err
		}

		verifierBondAmt := amount.FracBps(m.Reward, s.cfg.VerifierBondBps)
		verifierAgents, err := s.registry.List(ctx, registry.Query{Role: registry.RoleVerifier, ActiveOnly: true})
		if err != nil {
			return err
		}
		picked := assignment.Verifiers(verifierAgents, m.Specialties, m.RequiredVerifiers, m.Reward, s.cfg.VerifierBudgetBps)
		for _, v := range picked {
			if err := s.bonds.StakeVerifier(ctx, missionID, v.AgentID, verifierBondAmt); err != nil {
				return err
			}
			m.AssignedVerifiers = append(m.AssignedVerifiers, v.AgentID)
		}

		t := now()
		m.Status = StatusExecuting
		m.StartedAt = &t
		return nil
	})
}

// Submit records artifacts and transitions executing -> verifying (spec
// §4.8 `submit`), then notifies each assigned verifier.
func (s *Service) Submit(ctx context.Context, missionID, callerAgentID string, artifacts []Artifact) (*Mission, error) {
	ctx, span := traces.StartSpan(ctx, "mission.Submit", traces.MissionID(missionID), traces.AgentAddr(callerAgentID))
	defer span.End()
	m, err := s.withMission(ctx, missionID, func(m *Mission) error {
		if m.Status != StatusExecuting {
			return ErrInvalidState
		}
		if m.AssignedWorker != callerAgentID {
			return ErrNotAssignedWorker
		}
		if len(artifacts) == 0 {
			return ErrNoArtifacts
		}
		m.Artifacts = append(m.Artifacts, artifacts...)
		t := now()
		m.Status = StatusVerifying
		m.SubmitAt = &t
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.dispatch != nil {
		payload := map[string]any{"type": "verify_request", "mission_id": missionID, "artifact_count": len(m.Artifacts)}
		for _, v := range m.AssignedVerifiers {
			if err := s.dispatch.Enqueue(ctx, v, payload, PriorityHigh, s.cfg.DispatchTTL); err != nil {
				s.logger.ErrorContext(ctx, "dispatch enqueue failed", "mission_id", missionID, "verifier", v, "error", err)
			}
		}
	}
	return m, nil
}

// Vote appends a verifier's verdict and, once consensus is decisive,
// invokes settlement (spec §4.8 `vote`). On a 2-verifier DISPUTE, the
// mission stays in verifying with N upgraded to 3 and one more verifier
// is added via C4 (spec §4.7 DISPUTE handling, §8 scenario S3).
func (s *Service) Vote(ctx context.Context, missionID, verifierID string, verdict consensus.Verdict) (*Mission, error) {
	ctx, span := traces.StartSpan(ctx, "mission.Vote", traces.MissionID(missionID), traces.AgentAddr(verifierID))
	defer span.End()

	// Settlement runs inside the same per-mission lock as the vote that
	// triggers it: releasing the lock between "decision reached" and
	// "settlement applied" would let a never-possible second vote (the
	// mission is full once n verdicts are in) race a retry of this call
	// into double-settling the mission.
	return s.withMission(ctx, missionID, func(m *Mission) error {
		if m.Status != StatusVerifying {
			return ErrInvalidState
		}
		assigned := false
		for _, v := range m.AssignedVerifiers {
			if v == verifierID {
				assigned = true
				break
			}
		}
		if !assigned {
			return ErrUnknownVerifier
		}
		for _, v := range m.Votes {
			if v.VerifierID == verifierID {
				return ErrDuplicateVote
			}
		}
		m.Votes = append(m.Votes, consensus.Vote{VerifierID: verifierID, Verdict: verdict})

		result := consensus.Evaluate(m.Votes, m.RequiredVerifiers)
		if result.Outcome == consensus.OutcomeDispute && m.RequiredVerifiers == 2 {
			extra, err := s.pickExtraVerifier(ctx, m)
			if err != nil {
				return err
			}
			if extra != "" {
				verifierBondAmt := amount.FracBps(m.Reward, s.cfg.VerifierBondBps)
				if err := s.bonds.StakeVerifier(ctx, missionID, extra, verifierBondAmt); err != nil {
					return err
				}
				m.AssignedVerifiers = append(m.AssignedVerifiers, extra)
				m.RequiredVerifiers = 3
				if s.dispatch != nil {
					payload := map[string]any{"type": "verify_request", "mission_id": missionID, "artifact_count": len(m.Artifacts)}
					_ = s.dispatch.Enqueue(ctx, extra, payload, PriorityHigh, s.cfg.DispatchTTL)
				}
			}
			return nil
		}
		if result.Outcome == consensus.OutcomePending {
			return nil
		}
		return s.settle(ctx, m, result)
	})
}

// pickExtraVerifier selects one additional verifier not already assigned.
func (s *Service) pickExtraVerifier(ctx context.Context, m *Mission) (string, error) {
	verifierAgents, err := s.registry.List(ctx, registry.Query{Role: registry.RoleVerifier, ActiveOnly: true})
	if err != nil {
		return "", err
	}
	have := make(map[string]bool, len(m.AssignedVerifiers))
	for _, v := range m.AssignedVerifiers {
		have[v] = true
	}
	var candidates []*registry.Agent
	for _, a := range verifierAgents {
		if !have[a.AgentID] {
			candidates = append(candidates, a)
		}
	}
	picked := assignment.Verifiers(candidates, m.Specialties, 1, m.Reward, s.cfg.VerifierBudgetBps)
	if len(picked) == 0 {
		return "", nil
	}
	return picked[0].AgentID, nil
}

// settle invokes C7 with the staked bond amounts recorded at Start time
// and transitions the mission to its terminal state.
func (s *Service) settle(ctx context.Context, m *Mission, result consensus.Result) error {
	workerBondAmt := amount.FracBps(m.Reward, s.cfg.WorkerBondBps)
	verifierBondAmt := amount.FracBps(m.Reward, s.cfg.VerifierBondBps)

	voters := make([]settlement.Voter, 0, len(m.AssignedVerifiers))
	for _, v := range m.AssignedVerifiers {
		voters = append(voters, settlement.Voter{AgentID: v, Outlier: result.Outliers[v], BondAmt: verifierBondAmt})
	}

	err := s.settlement.Apply(ctx, settlement.Input{
		MissionID:     m.MissionID,
		Requester:     m.RequesterID,
		Worker:        m.AssignedWorker,
		ClawgerAddr:   ledger.TreasuryAddr,
		Reward:        m.Reward,
		ProposalBond:  s.cfg.ProposalBond,
		WorkerBondAmt: workerBondAmt,
		Outcome:       result.Outcome,
		Voters:        voters,
	})

	if err != nil {
		return err
	}

	t := now()
	if result.Outcome == consensus.OutcomePass {
		m.Status = StatusSettled
	} else {
		m.Status = StatusFailed
	}
	m.SettledAt = &t
	return nil
}

// Expire transitions any non-terminal mission past its deadline to
// failed(DeadlineExpired), slashing whichever bonds are currently
// staked for the mission's in-progress role (spec §4.8 `expire`).
func (s *Service) Expire(ctx context.Context, missionID string) (*Mission, error) {
	ctx, span := traces.StartSpan(ctx, "mission.Expire", traces.MissionID(missionID))
	defer span.End()
	return s.withMission(ctx, missionID, func(m *Mission) error {
		if m.Status.IsTerminal() {
			return ErrInvalidState
		}
		if !now().After(m.Deadline) {
			return ErrNotTerminal
		}

		// Whichever bonds are currently staked belong to the role that was
		// "in progress" when the deadline passed (spec §4.8 `expire`). A
		// worker bond staked at Start and never released or slashed is the
		// signal that the worker, not a verifier, is the party who missed
		// the deadline; it is treated the same as a settlement FAIL.
		bonds, err := s.bonds.List(ctx, missionID)
		if err != nil {
			return err
		}
		for _, b := range bonds {
			if b.State != ledger.BondLocked {
				continue
			}
			switch b.Role {
			case ledger.RoleWorker:
				if err := s.bonds.SlashWorker(ctx, missionID, b.Agent, s.cfg.WorkerBondSlashBps); err != nil {
					return err
				}
			case ledger.RoleVerifier:
				if err := s.bonds.ReleaseVerifier(ctx, missionID, b.Agent); err != nil {
					return err
				}
			}
		}
		if err := s.escrow.Refund(ctx, missionID, s.cfg.EscrowFailSlashBps); err != nil {
			return err
		}

		m.Status = StatusFailed
		m.FailureReason = ReasonDeadlineExpired
		t := now()
		m.SettledAt = &t
		return nil
	})
}

// Revise sends a mission back to executing on requester feedback,
// bounded to MaxRevisions per mission (spec §4.8 `revise`).
func (s *Service) Revise(ctx context.Context, missionID, feedback string) (*Mission, error) {
	ctx, span := traces.StartSpan(ctx, "mission.Revise", traces.MissionID(missionID))
	defer span.End()
	m, err := s.withMission(ctx, missionID, func(m *Mission) error {
		if m.Status != StatusVerifying {
			return ErrInvalidState
		}
		if m.Revisions >= s.cfg.MaxRevisions {
			return ErrMaxRevisions
		}
		m.Revisions++
		m.Votes = nil
		m.Status = StatusExecuting
		return nil
	})
	if err != nil {
		return nil, err
	}
	if s.dispatch != nil {
		payload := map[string]any{"type": "revision_requested", "mission_id": missionID, "feedback": feedback}
		if err := s.dispatch.Enqueue(ctx, m.AssignedWorker, payload, PriorityNormal, s.cfg.DispatchTTL); err != nil {
			s.logger.ErrorContext(ctx, "dispatch enqueue failed", "mission_id", missionID, "error", err)
		}
	}
	return m, nil
}
