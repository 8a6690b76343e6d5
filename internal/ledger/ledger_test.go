package ledger

import (
	"context"
	"testing"

	"github.com/mbd888/missionengine/internal/amount"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger() (*Ledger, *MemoryStore) {
	store := NewMemoryStore()
	return New(store, nil), store
}

func TestLockEscrowAndAvailable(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger()
	store.Seed("requester-1", 1000)

	require.NoError(t, l.LockEscrow(ctx, "m1", "requester-1", 100))

	avail, err := l.Available(ctx, "requester-1")
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(900), avail)

	// Double lock on the same mission is rejected.
	err = l.LockEscrow(ctx, "m1", "requester-1", 1)
	assert.ErrorIs(t, err, ErrDoubleLock)
}

func TestLockEscrowInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger()
	store.Seed("requester-1", 50)

	err := l.LockEscrow(ctx, "m1", "requester-1", 100)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestReleaseEscrowHappyPath(t *testing.T) {
	// Mirrors S1 from spec §8: reward 100, worker receives the full
	// escrow release call (fee splitting happens in the settlement layer,
	// which calls Credit/ReleaseEscrow as appropriate).
	ctx := context.Background()
	l, store := newTestLedger()
	store.Seed("requester-1", 1000)
	require.NoError(t, l.LockEscrow(ctx, "m1", "requester-1", 100))

	require.NoError(t, l.ReleaseEscrow(ctx, "m1", "worker-1"))

	bal, err := store.Balance(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(100), bal)

	// Second release fails.
	err = l.ReleaseEscrow(ctx, "m1", "worker-1")
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestRefundEscrowZeroSlashRefundsAll(t *testing.T) {
	// Mirrors S2: FAIL path, default slash fraction of escrow is 0 (full
	// refund to requester), only the worker bond is slashed separately.
	ctx := context.Background()
	l, store := newTestLedger()
	store.Seed("requester-1", 1000)
	require.NoError(t, l.LockEscrow(ctx, "m1", "requester-1", 100))

	require.NoError(t, l.RefundEscrow(ctx, "m1", 0))

	bal, err := store.Balance(ctx, "requester-1")
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(1000), bal) // nothing slashed, full amount returns
}

func TestBondStakeReleaseSlash(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger()
	store.Seed("worker-1", 50)

	require.NoError(t, l.LockBond(ctx, "m1", RoleWorker, "worker-1", 20))

	avail, err := l.Available(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(30), avail)

	// Slash 100% to treasury.
	require.NoError(t, l.SlashBond(ctx, "m1", RoleWorker, "worker-1", 10000))

	treasuryBal, err := store.Balance(ctx, TreasuryAddr)
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(20), treasuryBal)

	workerBal, err := store.Balance(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(30), workerBal) // unchanged: bond was fully slashed
}

func TestBondReleaseIsIdempotentFailure(t *testing.T) {
	ctx := context.Background()
	l, store := newTestLedger()
	store.Seed("verifier-1", 100)
	require.NoError(t, l.LockBond(ctx, "m1", RoleVerifier, "verifier-1", 5))
	require.NoError(t, l.ReleaseBond(ctx, "m1", RoleVerifier, "verifier-1"))

	err := l.ReleaseBond(ctx, "m1", RoleVerifier, "verifier-1")
	assert.ErrorIs(t, err, ErrAlreadyResolved)
}
