// Package settlement implements C7: applying a consensus outcome to the
// ledger, bonds, escrow, and reputation log atomically. It is the only
// writer of JobOutcome rows, since it alone has the full picture of
// which verifiers were outliers and what the worker actually earned.
package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/missionengine/internal/amount"
	"github.com/mbd888/missionengine/internal/consensus"
	"github.com/mbd888/missionengine/internal/ledger"
	"github.com/mbd888/missionengine/internal/outcome"
	"github.com/mbd888/missionengine/internal/traces"
)

// ErrNotDecisive is returned when Apply is called with a non-terminal
// consensus outcome (PENDING or DISPUTE); DISPUTE is handled by the
// mission lifecycle's verifier-upgrade path, not by settlement.
var ErrNotDecisive = errors.New("settlement: outcome is not PASS or FAIL")

// Config holds the fee and slash fractions spec §9 asks to expose per
// deployment, in basis points (10000 = 100%) — the same convention
// internal/ledger, internal/bonds, and internal/escrow use for every
// value-path computation. Defaults match scenario S1/S2 in spec §8.
type Config struct {
	ClawgerFeeBps       int64 // default 1000 (10%), platform operator's cut on PASS
	VerifierFeeBps      int64 // default 500 (5%), split among non-outlier voters on PASS
	WorkerBondSlashBps  int64 // default 10000 (100%), worker bond slash on FAIL (Open Question 1)
	OutlierBondSlashBps int64 // default 10000 (100%), outlier verifier bond slash on PASS (Open Question 4)
	EscrowFailSlashBps  int64 // default 0, escrow kept from requester's refund on FAIL
}

// DefaultConfig matches spec §8's S1/S2 scenario arithmetic.
func DefaultConfig() Config {
	return Config{
		ClawgerFeeBps:       1000,
		VerifierFeeBps:      500,
		WorkerBondSlashBps:  10000,
		OutlierBondSlashBps: 10000,
		EscrowFailSlashBps:  0,
	}
}

// LedgerService is the narrow slice of the ledger settlement needs for
// fee transfers beyond what escrow/bonds already expose.
type LedgerService interface {
	Credit(ctx context.Context, owner string, amt amount.Amount) error
	Debit(ctx context.Context, owner string, amt amount.Amount) error
}

// EscrowService is the slice of C6 settlement drives.
type EscrowService interface {
	Release(ctx context.Context, missionID, to string) error
	Refund(ctx context.Context, missionID string, slashBps int64) error
}

// BondService is the slice of C5 settlement drives.
type BondService interface {
	ReleaseWorker(ctx context.Context, missionID, agent string) error
	ReleaseVerifier(ctx context.Context, missionID, agent string) error
	SlashWorker(ctx context.Context, missionID, agent string, bps int64) error
	SlashVerifier(ctx context.Context, missionID, agent string, bps int64) error
}

// Voter is one verifier's participation in a mission's consensus round.
// BondAmt is the amount actually staked, used to report BondSlashed
// accurately on the voter's JobOutcome row.
type Voter struct {
	AgentID string
	Outlier bool
	BondAmt amount.Amount
}

// Input is everything settlement needs to resolve one mission.
// WorkerBondAmt is the amount actually staked by the worker (mission
// lifecycle already knows this from the bonds.StakeWorker call).
type Input struct {
	MissionID     string
	Requester     string
	Worker        string
	ClawgerAddr   string
	Reward        amount.Amount
	ProposalBond  amount.Amount
	WorkerBondAmt amount.Amount
	Outcome       consensus.Outcome
	Voters        []Voter
	WorkerRating  *int
}

// Service is C7: the settlement engine.
type Service struct {
	ledger   LedgerService
	escrow   EscrowService
	bonds    BondService
	outcomes outcome.Store
	cfg      Config
}

// NewService constructs a settlement Service.
func NewService(l LedgerService, e EscrowService, b BondService, outcomes outcome.Store, cfg Config) *Service {
	return &Service{ledger: l, escrow: e, bonds: b, outcomes: outcomes, cfg: cfg}
}

// Apply resolves a decisive consensus outcome (PASS or FAIL) against the
// ledger, bonds, escrow, and JobOutcome log.
func (s *Service) Apply(ctx context.Context, in Input) error {
	ctx, span := traces.StartSpan(ctx, "settlement.Apply", traces.MissionID(in.MissionID))
	defer span.End()

	switch in.Outcome {
	case consensus.OutcomePass:
		return s.applyPass(ctx, in)
	case consensus.OutcomeFail:
		return s.applyFail(ctx, in)
	default:
		return ErrNotDecisive
	}
}

func (s *Service) applyPass(ctx context.Context, in Input) error {
	if err := s.escrow.Release(ctx, in.MissionID, in.Worker); err != nil {
		return err
	}
	// Release pays escrow's full locked amount (reward + proposal bond) to
	// the worker; the proposal bond was never the worker's to earn, so it
	// returns to the requester here, same as the refund path on FAIL.
	if in.ProposalBond > 0 {
		if err := s.ledger.Debit(ctx, in.Worker, in.ProposalBond); err != nil {
			return err
		}
		if err := s.ledger.Credit(ctx, in.Requester, in.ProposalBond); err != nil {
			return err
		}
	}

	clawgerAmt := amount.FracBps(in.Reward, s.cfg.ClawgerFeeBps)
	verifierPool := amount.FracBps(in.Reward, s.cfg.VerifierFeeBps)
	if withheld := amount.Add(clawgerAmt, verifierPool); withheld > 0 {
		if err := s.ledger.Debit(ctx, in.Worker, withheld); err != nil {
			return err
		}
	}
	if clawgerAmt > 0 && in.ClawgerAddr != "" {
		if err := s.ledger.Credit(ctx, in.ClawgerAddr, clawgerAmt); err != nil {
			return err
		}
	}

	aligned := make([]Voter, 0, len(in.Voters))
	for _, v := range in.Voters {
		if !v.Outlier {
			aligned = append(aligned, v)
		}
	}
	share := amount.Amount(0)
	if len(aligned) > 0 {
		share = amount.Frac(verifierPool, 1, int64(len(aligned)))
	}

	for _, v := range in.Voters {
		if v.Outlier {
			if err := s.bonds.SlashVerifier(ctx, in.MissionID, v.AgentID, s.cfg.OutlierBondSlashBps); err != nil {
				return err
			}
			slashed := int64(amount.FracBps(v.BondAmt, s.cfg.OutlierBondSlashBps))
			if err := s.appendOutcome(ctx, v.AgentID, in.MissionID, ledger.RoleVerifier, outcome.Outlier, 0, slashed, nil); err != nil {
				return err
			}
			continue
		}
		if err := s.bonds.ReleaseVerifier(ctx, in.MissionID, v.AgentID); err != nil {
			return err
		}
		if share > 0 {
			if err := s.ledger.Credit(ctx, v.AgentID, share); err != nil {
				return err
			}
		}
		if err := s.appendOutcome(ctx, v.AgentID, in.MissionID, ledger.RoleVerifier, outcome.Pass, int64(share), 0, nil); err != nil {
			return err
		}
	}

	if err := s.bonds.ReleaseWorker(ctx, in.MissionID, in.Worker); err != nil {
		return err
	}
	workerEarned, err := amount.Sub(in.Reward, amount.Add(clawgerAmt, verifierPool))
	if err != nil {
		workerEarned = 0
	}
	return s.appendOutcome(ctx, in.Worker, in.MissionID, ledger.RoleWorker, outcome.Pass, int64(workerEarned), 0, in.WorkerRating)
}

func (s *Service) applyFail(ctx context.Context, in Input) error {
	if err := s.bonds.SlashWorker(ctx, in.MissionID, in.Worker, s.cfg.WorkerBondSlashBps); err != nil {
		return err
	}
	if err := s.escrow.Refund(ctx, in.MissionID, s.cfg.EscrowFailSlashBps); err != nil {
		return err
	}

	slashedWorkerBond := int64(amount.FracBps(in.WorkerBondAmt, s.cfg.WorkerBondSlashBps))
	if err := s.appendOutcome(ctx, in.Worker, in.MissionID, ledger.RoleWorker, outcome.Fail, 0, slashedWorkerBond, in.WorkerRating); err != nil {
		return err
	}

	for _, v := range in.Voters {
		if err := s.bonds.ReleaseVerifier(ctx, in.MissionID, v.AgentID); err != nil {
			return err
		}
		verdict := outcome.Pass
		if v.Outlier {
			verdict = outcome.Outlier
		}
		if err := s.appendOutcome(ctx, v.AgentID, in.MissionID, ledger.RoleVerifier, verdict, 0, 0, nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) appendOutcome(ctx context.Context, agentID, missionID string, role ledger.Role, verdict outcome.Verdict, rewardEarned, bondSlashed int64, rating *int) error {
	return s.outcomes.Append(ctx, &outcome.JobOutcome{
		AgentID:      agentID,
		MissionID:    missionID,
		Role:         role,
		Verdict:      verdict,
		RewardEarned: rewardEarned,
		BondSlashed:  bondSlashed,
		Rating:       rating,
		At:           now(),
	})
}

// now is a package-level indirection so tests could substitute a clock;
// production always uses wall time.
var now = time.Now
