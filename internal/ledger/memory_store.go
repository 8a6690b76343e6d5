package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/mbd888/missionengine/internal/amount"
)

// MemoryStore is an in-memory ledger store, used in unit tests and
// single-process deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]amount.Amount
	escrows  map[string]*EscrowRecord           // missionID -> record
	bonds    map[string]map[string]*BondRecord  // missionID -> "role:agent" -> record
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]amount.Amount),
		escrows:  make(map[string]*EscrowRecord),
		bonds:    make(map[string]map[string]*BondRecord),
	}
}

// Seed sets an owner's starting balance, used by tests to establish
// scenario preconditions.
func (m *MemoryStore) Seed(owner string, amt amount.Amount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[owner] = amt
}

func bondKey(role Role, agent string) string {
	return string(role) + ":" + agent
}

func (m *MemoryStore) Balance(ctx context.Context, owner string) (amount.Amount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[owner], nil
}

func (m *MemoryStore) Credit(ctx context.Context, owner string, amt amount.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[owner] += amt
	return nil
}

func (m *MemoryStore) Debit(ctx context.Context, owner string, amt amount.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.balances[owner]
	if bal < amt {
		return ErrInsufficientFunds
	}
	m.balances[owner] = bal - amt
	return nil
}

func (m *MemoryStore) LockEscrow(ctx context.Context, missionID, owner string, amt amount.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.escrows[missionID]; ok {
		return ErrDoubleLock
	}
	m.escrows[missionID] = &EscrowRecord{
		MissionID: missionID,
		Owner:     owner,
		Amount:    amt,
		State:     EscrowLocked,
		CreatedAt: time.Now(),
	}
	return nil
}

func (m *MemoryStore) GetEscrow(ctx context.Context, missionID string) (*EscrowRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.escrows[missionID]
	if !ok {
		return nil, ErrNoSuchEscrow
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) ReleaseEscrow(ctx context.Context, missionID, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.escrows[missionID]
	if !ok {
		return ErrNoSuchEscrow
	}
	if rec.State != EscrowLocked {
		return ErrAlreadyResolved
	}
	m.balances[rec.Owner] -= rec.Amount
	m.balances[to] += rec.Amount
	now := time.Now()
	rec.State = EscrowReleased
	rec.ReleasedTo = to
	rec.ResolvedAt = &now
	return nil
}

func (m *MemoryStore) SlashEscrow(ctx context.Context, missionID string, slashed amount.Amount, refundTo string, refund amount.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.escrows[missionID]
	if !ok {
		return ErrNoSuchEscrow
	}
	if rec.State != EscrowLocked {
		return ErrAlreadyResolved
	}
	m.balances[rec.Owner] -= rec.Amount
	m.balances[TreasuryAddr] += slashed
	m.balances[refundTo] += refund
	now := time.Now()
	rec.State = EscrowSlashed
	rec.SlashedAmount = slashed
	rec.ReleasedTo = refundTo
	rec.ResolvedAt = &now
	return nil
}

func (m *MemoryStore) LockBond(ctx context.Context, missionID string, role Role, agent string, amt amount.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKey, ok := m.bonds[missionID]
	if !ok {
		byKey = make(map[string]*BondRecord)
		m.bonds[missionID] = byKey
	}
	k := bondKey(role, agent)
	if _, ok := byKey[k]; ok {
		return ErrDoubleLock
	}
	byKey[k] = &BondRecord{
		MissionID: missionID,
		Role:      role,
		Agent:     agent,
		Amount:    amt,
		State:     BondLocked,
		StakedAt:  time.Now(),
	}
	return nil
}

func (m *MemoryStore) GetBond(ctx context.Context, missionID string, role Role, agent string) (*BondRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byKey, ok := m.bonds[missionID]
	if !ok {
		return nil, ErrNoSuchBond
	}
	rec, ok := byKey[bondKey(role, agent)]
	if !ok {
		return nil, ErrNoSuchBond
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) ListBonds(ctx context.Context, missionID string) ([]*BondRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byKey := m.bonds[missionID]
	out := make([]*BondRecord, 0, len(byKey))
	for _, rec := range byKey {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) ReleaseBond(ctx context.Context, missionID string, role Role, agent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.getBondLocked(missionID, role, agent)
	if err != nil {
		return err
	}
	if rec.State != BondLocked {
		return ErrAlreadyResolved
	}
	// No balance mutation: the staked amount was never debited from the
	// agent's total at lock time, so unlocking it is a pure state change.
	now := time.Now()
	rec.State = BondReleased
	rec.ResolvedAt = &now
	return nil
}

func (m *MemoryStore) SlashBond(ctx context.Context, missionID string, role Role, agent string, slashed amount.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.getBondLocked(missionID, role, agent)
	if err != nil {
		return err
	}
	if rec.State != BondLocked {
		return ErrAlreadyResolved
	}
	remainder := rec.Amount - slashed
	m.balances[agent] -= rec.Amount
	if remainder > 0 {
		m.balances[agent] += remainder
	}
	m.balances[TreasuryAddr] += slashed
	now := time.Now()
	rec.State = BondSlashed
	rec.ResolvedAt = &now
	return nil
}

// getBondLocked must be called with m.mu held.
func (m *MemoryStore) getBondLocked(missionID string, role Role, agent string) (*BondRecord, error) {
	byKey, ok := m.bonds[missionID]
	if !ok {
		return nil, ErrNoSuchBond
	}
	rec, ok := byKey[bondKey(role, agent)]
	if !ok {
		return nil, ErrNoSuchBond
	}
	return rec, nil
}

func (m *MemoryStore) Locked(ctx context.Context, owner string) (amount.Amount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total amount.Amount
	for _, rec := range m.escrows {
		if rec.Owner == owner && rec.State == EscrowLocked {
			total += rec.Amount
		}
	}
	for _, byKey := range m.bonds {
		for _, rec := range byKey {
			if rec.Agent == owner && rec.State == BondLocked {
				total += rec.Amount
			}
		}
	}
	return total, nil
}
