// Package ledger is the sole mutator of balances, escrow locks, and bond
// locks. Bond and escrow modules call into the ledger; they never touch
// raw balance state themselves.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/missionengine/internal/amount"
	"github.com/mbd888/missionengine/internal/traces"
)

// Errors returned by ledger operations. Callers match with errors.Is.
var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrDoubleLock        = errors.New("ledger: lock already held for this purpose")
	ErrNoSuchEscrow      = errors.New("ledger: no escrow for mission")
	ErrNoSuchBond        = errors.New("ledger: no bond for mission/role/agent")
	ErrAlreadyResolved   = errors.New("ledger: escrow or bond already resolved")
	ErrInvalidAmount     = errors.New("ledger: invalid amount")
)

// EscrowState is the lifecycle of a single escrow record.
type EscrowState string

const (
	EscrowLocked   EscrowState = "locked"
	EscrowReleased EscrowState = "released"
	EscrowSlashed  EscrowState = "slashed"
)

// BondState is the lifecycle of a single bond record.
type BondState string

const (
	BondLocked   BondState = "locked"
	BondReleased BondState = "released"
	BondSlashed  BondState = "slashed"
)

// Role distinguishes worker bonds from verifier bonds.
type Role string

const (
	RoleWorker   Role = "worker"
	RoleVerifier Role = "verifier"
)

// EscrowRecord mirrors spec's EscrowRecord entity.
type EscrowRecord struct {
	MissionID     string
	Owner         string
	Amount        amount.Amount
	State         EscrowState
	ReleasedTo    string
	SlashedAmount amount.Amount
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// BondRecord mirrors spec's BondRecord entity.
type BondRecord struct {
	MissionID  string
	Role       Role
	Agent      string
	Amount     amount.Amount
	State      BondState
	StakedAt   time.Time
	ResolvedAt *time.Time
}

// TreasuryAddr is the sink for slashed funds.
const TreasuryAddr = "treasury"

// Store persists balances, escrow, and bond records. Implementations must
// serialise mutating calls (single-writer or serialisable transactions);
// the Ledger itself adds no additional locking.
type Store interface {
	Balance(ctx context.Context, owner string) (amount.Amount, error)
	Credit(ctx context.Context, owner string, amt amount.Amount) error
	Debit(ctx context.Context, owner string, amt amount.Amount) error

	LockEscrow(ctx context.Context, missionID, owner string, amt amount.Amount) error
	GetEscrow(ctx context.Context, missionID string) (*EscrowRecord, error)
	ReleaseEscrow(ctx context.Context, missionID, to string) error
	SlashEscrow(ctx context.Context, missionID string, slashed amount.Amount, refundTo string, refund amount.Amount) error

	LockBond(ctx context.Context, missionID string, role Role, agent string, amt amount.Amount) error
	GetBond(ctx context.Context, missionID string, role Role, agent string) (*BondRecord, error)
	ListBonds(ctx context.Context, missionID string) ([]*BondRecord, error)
	ReleaseBond(ctx context.Context, missionID string, role Role, agent string) error
	SlashBond(ctx context.Context, missionID string, role Role, agent string, slashed amount.Amount) error

	// Locked returns the sum of escrow+bond amounts currently locked for
	// owner, used to enforce invariant 2 (total = balance + escrowed + bonded).
	Locked(ctx context.Context, owner string) (amount.Amount, error)
}

// Ledger is the application-facing entry point for C1.
type Ledger struct {
	store  Store
	logger *slog.Logger
}

// New constructs a Ledger over store.
func New(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, logger: logger}
}

// Available returns an owner's spendable balance: total minus anything
// currently locked in escrow or bonds.
func (l *Ledger) Available(ctx context.Context, owner string) (amount.Amount, error) {
	total, err := l.store.Balance(ctx, owner)
	if err != nil {
		return 0, err
	}
	locked, err := l.store.Locked(ctx, owner)
	if err != nil {
		return 0, err
	}
	avail, err := amount.Sub(total, locked)
	if err != nil {
		return 0, nil // locked can transiently exceed total only under concurrent races; never surface negative available
	}
	return avail, nil
}

// Credit adds funds to owner's balance (e.g. a settlement payout).
func (l *Ledger) Credit(ctx context.Context, owner string, amt amount.Amount) error {
	ctx, span := traces.StartSpan(ctx, "ledger.Credit", traces.AgentAddr(owner), traces.Amount(amt))
	defer span.End()
	if amt < 0 {
		return ErrInvalidAmount
	}
	if err := l.store.Credit(ctx, owner, amt); err != nil {
		l.logger.ErrorContext(ctx, "ledger credit failed", "owner", owner, "amount", amt, "error", err)
		return err
	}
	l.logger.InfoContext(ctx, "credited", "owner", owner, "amount", amt)
	return nil
}

// Debit removes funds from owner's available balance.
func (l *Ledger) Debit(ctx context.Context, owner string, amt amount.Amount) error {
	ctx, span := traces.StartSpan(ctx, "ledger.Debit", traces.AgentAddr(owner), traces.Amount(amt))
	defer span.End()
	if amt < 0 {
		return ErrInvalidAmount
	}
	avail, err := l.Available(ctx, owner)
	if err != nil {
		return err
	}
	if avail < amt {
		return ErrInsufficientFunds
	}
	if err := l.store.Debit(ctx, owner, amt); err != nil {
		l.logger.ErrorContext(ctx, "ledger debit failed", "owner", owner, "amount", amt, "error", err)
		return err
	}
	l.logger.InfoContext(ctx, "debited", "owner", owner, "amount", amt)
	return nil
}

// LockEscrow locks reward funds for a mission. Fails with
// ErrInsufficientFunds or ErrDoubleLock.
func (l *Ledger) LockEscrow(ctx context.Context, missionID, owner string, amt amount.Amount) error {
	ctx, span := traces.StartSpan(ctx, "ledger.LockEscrow", traces.MissionID(missionID), traces.AgentAddr(owner), traces.Amount(amt))
	defer span.End()
	if amt <= 0 {
		return ErrInvalidAmount
	}
	if existing, err := l.store.GetEscrow(ctx, missionID); err == nil && existing != nil {
		return ErrDoubleLock
	}
	avail, err := l.Available(ctx, owner)
	if err != nil {
		return err
	}
	if avail < amt {
		return ErrInsufficientFunds
	}
	if err := l.store.LockEscrow(ctx, missionID, owner, amt); err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "escrow locked", "mission_id", missionID, "owner", owner, "amount", amt)
	return nil
}

// ReleaseEscrow moves the full escrowed amount from its owner to `to`.
// On PASS, settlement calls it first with the worker as `to`, then moves
// the proposal bond and the fees back out of the worker's balance; see
// settlement.go for the exact sequencing used on PASS.
func (l *Ledger) ReleaseEscrow(ctx context.Context, missionID, to string) error {
	ctx, span := traces.StartSpan(ctx, "ledger.ReleaseEscrow", traces.MissionID(missionID), traces.AgentAddr(to))
	defer span.End()
	rec, err := l.store.GetEscrow(ctx, missionID)
	if err != nil {
		return err
	}
	if rec.State != EscrowLocked {
		return ErrAlreadyResolved
	}
	if err := l.store.ReleaseEscrow(ctx, missionID, to); err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "escrow released", "mission_id", missionID, "to", to, "amount", rec.Amount)
	return nil
}

// RefundEscrow refunds escrow to its original owner, minus a slashed
// fraction (in basis points) which is sent to the treasury. slashBps 0
// refunds everything; 10000 refunds nothing.
func (l *Ledger) RefundEscrow(ctx context.Context, missionID string, slashBps int64) error {
	ctx, span := traces.StartSpan(ctx, "ledger.RefundEscrow", traces.MissionID(missionID))
	defer span.End()
	rec, err := l.store.GetEscrow(ctx, missionID)
	if err != nil {
		return err
	}
	if rec.State != EscrowLocked {
		return ErrAlreadyResolved
	}
	slashed := amount.FracBps(rec.Amount, slashBps)
	refund, err := amount.Sub(rec.Amount, slashed)
	if err != nil {
		return err
	}
	if err := l.store.SlashEscrow(ctx, missionID, slashed, rec.Owner, refund); err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "escrow refunded", "mission_id", missionID, "owner", rec.Owner, "refund", refund, "slashed", slashed)
	return nil
}

// LockBond stakes a worker or verifier bond for a mission.
func (l *Ledger) LockBond(ctx context.Context, missionID string, role Role, agent string, amt amount.Amount) error {
	ctx, span := traces.StartSpan(ctx, "ledger.LockBond", traces.MissionID(missionID), traces.AgentAddr(agent), traces.Amount(amt))
	defer span.End()
	if amt <= 0 {
		return ErrInvalidAmount
	}
	if existing, err := l.store.GetBond(ctx, missionID, role, agent); err == nil && existing != nil {
		return ErrDoubleLock
	}
	avail, err := l.Available(ctx, agent)
	if err != nil {
		return err
	}
	if avail < amt {
		return ErrInsufficientFunds
	}
	if err := l.store.LockBond(ctx, missionID, role, agent, amt); err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "bond locked", "mission_id", missionID, "role", role, "agent", agent, "amount", amt)
	return nil
}

// ReleaseBond releases a bond back to its staker (no slash).
func (l *Ledger) ReleaseBond(ctx context.Context, missionID string, role Role, agent string) error {
	ctx, span := traces.StartSpan(ctx, "ledger.ReleaseBond", traces.MissionID(missionID), traces.AgentAddr(agent))
	defer span.End()
	rec, err := l.store.GetBond(ctx, missionID, role, agent)
	if err != nil {
		return err
	}
	if rec.State != BondLocked {
		return ErrAlreadyResolved
	}
	if err := l.store.ReleaseBond(ctx, missionID, role, agent); err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "bond released", "mission_id", missionID, "role", role, "agent", agent)
	return nil
}

// SlashBond slashes bps (basis points) of a bond to the treasury and
// releases the remainder (if any) back to the staker.
func (l *Ledger) SlashBond(ctx context.Context, missionID string, role Role, agent string, bps int64) error {
	ctx, span := traces.StartSpan(ctx, "ledger.SlashBond", traces.MissionID(missionID), traces.AgentAddr(agent))
	defer span.End()
	rec, err := l.store.GetBond(ctx, missionID, role, agent)
	if err != nil {
		return err
	}
	if rec.State != BondLocked {
		return ErrAlreadyResolved
	}
	slashed := amount.FracBps(rec.Amount, bps)
	if err := l.store.SlashBond(ctx, missionID, role, agent, slashed); err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "bond slashed", "mission_id", missionID, "role", role, "agent", agent, "slashed", slashed, "bps", bps)
	return nil
}

// ListBonds returns all bond records for a mission (worker + verifiers).
func (l *Ledger) ListBonds(ctx context.Context, missionID string) ([]*BondRecord, error) {
	return l.store.ListBonds(ctx, missionID)
}

// GetEscrow returns the current escrow record for a mission.
func (l *Ledger) GetEscrow(ctx context.Context, missionID string) (*EscrowRecord, error) {
	return l.store.GetEscrow(ctx, missionID)
}
