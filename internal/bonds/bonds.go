// Package bonds implements C5: staking, releasing, and slashing worker
// and verifier bonds through the ledger. Like escrow, it owns no storage
// of its own — the ledger is the sole mutator of balances.
package bonds

import (
	"context"

	"github.com/mbd888/missionengine/internal/amount"
	"github.com/mbd888/missionengine/internal/ledger"
	"github.com/mbd888/missionengine/internal/traces"
)

// Default fractions, per spec §4.5, expressed in basis points (10000 = 100%).
// Deployments override via config.
const (
	DefaultWorkerBondBps   = 2000
	DefaultVerifierBondBps = 500

	// OutlierBondSlashBps is the single constants-table value adopted
	// for DESIGN.md Open Question 4: an outlier verifier's bond is fully
	// slashed.
	OutlierBondSlashBps = 10000
)

// LedgerService is the narrow slice of the ledger the bond manager needs.
type LedgerService interface {
	LockBond(ctx context.Context, missionID string, role ledger.Role, agent string, amt amount.Amount) error
	ReleaseBond(ctx context.Context, missionID string, role ledger.Role, agent string) error
	SlashBond(ctx context.Context, missionID string, role ledger.Role, agent string, bps int64) error
	ListBonds(ctx context.Context, missionID string) ([]*ledger.BondRecord, error)
}

// Service is C5: the bond manager.
type Service struct {
	ledger LedgerService
}

// NewService constructs a bonds Service over the given ledger.
func NewService(l LedgerService) *Service {
	return &Service{ledger: l}
}

// WorkerAmount computes the worker bond for a mission reward.
func WorkerAmount(reward amount.Amount, bps int64) amount.Amount {
	return amount.FracBps(reward, bps)
}

// VerifierAmount computes a single verifier's bond for a mission reward.
func VerifierAmount(reward amount.Amount, bps int64) amount.Amount {
	return amount.FracBps(reward, bps)
}

// StakeWorker locks the worker's bond for a mission.
func (s *Service) StakeWorker(ctx context.Context, missionID, agent string, amt amount.Amount) error {
	ctx, span := traces.StartSpan(ctx, "bonds.StakeWorker", traces.MissionID(missionID), traces.AgentAddr(agent))
	defer span.End()
	return s.ledger.LockBond(ctx, missionID, ledger.RoleWorker, agent, amt)
}

// StakeVerifier locks one verifier's bond for a mission.
func (s *Service) StakeVerifier(ctx context.Context, missionID, agent string, amt amount.Amount) error {
	ctx, span := traces.StartSpan(ctx, "bonds.StakeVerifier", traces.MissionID(missionID), traces.AgentAddr(agent))
	defer span.End()
	return s.ledger.LockBond(ctx, missionID, ledger.RoleVerifier, agent, amt)
}

// ReleaseWorker releases the worker's bond with no slash.
func (s *Service) ReleaseWorker(ctx context.Context, missionID, agent string) error {
	return s.ledger.ReleaseBond(ctx, missionID, ledger.RoleWorker, agent)
}

// ReleaseVerifier releases a verifier's bond with no slash.
func (s *Service) ReleaseVerifier(ctx context.Context, missionID, agent string) error {
	return s.ledger.ReleaseBond(ctx, missionID, ledger.RoleVerifier, agent)
}

// SlashWorker slashes the worker's bond by bps (default 10000, i.e. 100% —
// see DESIGN.md Open Question 1).
func (s *Service) SlashWorker(ctx context.Context, missionID, agent string, bps int64) error {
	ctx, span := traces.StartSpan(ctx, "bonds.SlashWorker", traces.MissionID(missionID), traces.AgentAddr(agent))
	defer span.End()
	return s.ledger.SlashBond(ctx, missionID, ledger.RoleWorker, agent, bps)
}

// SlashVerifier slashes an outlier verifier's bond. bps is normally
// OutlierBondSlashBps.
func (s *Service) SlashVerifier(ctx context.Context, missionID, agent string, bps int64) error {
	ctx, span := traces.StartSpan(ctx, "bonds.SlashVerifier", traces.MissionID(missionID), traces.AgentAddr(agent))
	defer span.End()
	return s.ledger.SlashBond(ctx, missionID, ledger.RoleVerifier, agent, bps)
}

// List returns all bond records (worker + verifiers) for a mission.
func (s *Service) List(ctx context.Context, missionID string) ([]*ledger.BondRecord, error) {
	return s.ledger.ListBonds(ctx, missionID)
}
