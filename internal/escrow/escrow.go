// Package escrow implements C6: locking a mission's reward at creation
// time and disbursing it only through the settlement engine. The package
// owns no storage of its own — balances, escrow, and bond amounts belong
// exclusively to the ledger (C1); escrow is a thin policy layer over it.
package escrow

import (
	"context"
	"errors"

	"github.com/mbd888/missionengine/internal/amount"
	"github.com/mbd888/missionengine/internal/ledger"
	"github.com/mbd888/missionengine/internal/traces"
)

// ErrAlreadyLocked is returned by Lock when a mission already has escrow.
var ErrAlreadyLocked = errors.New("escrow: mission already has locked escrow")

// LedgerService is the narrow slice of the ledger the escrow engine needs.
type LedgerService interface {
	LockEscrow(ctx context.Context, missionID, owner string, amt amount.Amount) error
	ReleaseEscrow(ctx context.Context, missionID, to string) error
	RefundEscrow(ctx context.Context, missionID string, slashBps int64) error
	GetEscrow(ctx context.Context, missionID string) (*ledger.EscrowRecord, error)
}

// Service is C6: the escrow engine.
type Service struct {
	ledger LedgerService
}

// NewService constructs an escrow Service over the given ledger.
func NewService(l LedgerService) *Service {
	return &Service{ledger: l}
}

// Lock locks reward + proposalBond from requester against mission at
// creation time (spec §4.6). Returns ErrAlreadyLocked if escrow already
// exists (invariant: exactly one escrow per mission while non-terminal).
func (s *Service) Lock(ctx context.Context, missionID, requester string, reward, proposalBond amount.Amount) error {
	ctx, span := traces.StartSpan(ctx, "escrow.Lock", traces.MissionID(missionID), traces.AgentAddr(requester))
	defer span.End()

	total := amount.Add(reward, proposalBond)
	if err := s.ledger.LockEscrow(ctx, missionID, requester, total); err != nil {
		if errors.Is(err, ledger.ErrDoubleLock) {
			return ErrAlreadyLocked
		}
		return err
	}
	return nil
}

// Release pays the full escrowed amount to `to` (used on PASS settlement,
// where `to` is the settlement engine's clearing step before it splits
// the proceeds across worker/verifiers/treasury via further Credit calls).
func (s *Service) Release(ctx context.Context, missionID, to string) error {
	ctx, span := traces.StartSpan(ctx, "escrow.Release", traces.MissionID(missionID), traces.AgentAddr(to))
	defer span.End()
	return s.ledger.ReleaseEscrow(ctx, missionID, to)
}

// Refund returns the escrow to the requester, with slashBps (basis
// points, 0..10000) sent to the treasury instead. Used on FAIL and on
// deadline expiry.
func (s *Service) Refund(ctx context.Context, missionID string, slashBps int64) error {
	ctx, span := traces.StartSpan(ctx, "escrow.Refund", traces.MissionID(missionID))
	defer span.End()
	return s.ledger.RefundEscrow(ctx, missionID, slashBps)
}

// Get returns the current escrow record for a mission.
func (s *Service) Get(ctx context.Context, missionID string) (*ledger.EscrowRecord, error) {
	return s.ledger.GetEscrow(ctx, missionID)
}

// IsLocked reports whether mission currently holds locked escrow,
// satisfying invariant 1: every non-terminal mission has locked escrow
// equal to its reward plus its proposal bond (the settlement engine is
// responsible for returning the proposal bond to the requester once
// Release pays the combined amount out on PASS).
func (s *Service) IsLocked(ctx context.Context, missionID string) bool {
	rec, err := s.ledger.GetEscrow(ctx, missionID)
	if err != nil || rec == nil {
		return false
	}
	return rec.State == ledger.EscrowLocked
}
