package escrow

import (
	"context"
	"testing"

	"github.com/mbd888/missionengine/internal/amount"
	"github.com/mbd888/missionengine/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *ledger.MemoryStore, *ledger.Ledger) {
	t.Helper()
	store := ledger.NewMemoryStore()
	l := ledger.New(store, nil)
	return NewService(l), store, l
}

func TestLockIncludesProposalBond(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	store.Seed("requester-1", 1000)

	require.NoError(t, svc.Lock(ctx, "m1", "requester-1", 100, 1))

	rec, err := svc.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(101), rec.Amount)
	assert.True(t, svc.IsLocked(ctx, "m1"))
}

func TestLockRejectsDouble(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	store.Seed("requester-1", 1000)
	require.NoError(t, svc.Lock(ctx, "m1", "requester-1", 100, 1))

	err := svc.Lock(ctx, "m1", "requester-1", 100, 1)
	assert.ErrorIs(t, err, ErrAlreadyLocked)
}

func TestReleaseThenNotLocked(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	store.Seed("requester-1", 1000)
	require.NoError(t, svc.Lock(ctx, "m1", "requester-1", 100, 0))

	require.NoError(t, svc.Release(ctx, "m1", "worker-1"))
	assert.False(t, svc.IsLocked(ctx, "m1"))

	bal, err := store.Balance(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(100), bal)
}
