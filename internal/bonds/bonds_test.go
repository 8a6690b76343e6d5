package bonds

import (
	"context"
	"testing"

	"github.com/mbd888/missionengine/internal/amount"
	"github.com/mbd888/missionengine/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerAndVerifierAmounts(t *testing.T) {
	// S1: reward 100 -> worker bond 20, verifier bond 5.
	assert.Equal(t, amount.Amount(20), WorkerAmount(100, DefaultWorkerBondBps))
	assert.Equal(t, amount.Amount(5), VerifierAmount(100, DefaultVerifierBondBps))
}

func TestStakeReleaseSlash(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	store.Seed("worker-1", 50)
	l := ledger.New(store, nil)
	svc := NewService(l)

	require.NoError(t, svc.StakeWorker(ctx, "m1", "worker-1", 20))
	bal, err := l.Available(ctx, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(30), bal)

	require.NoError(t, svc.SlashWorker(ctx, "m1", "worker-1", 10000))

	treasury, err := store.Balance(ctx, ledger.TreasuryAddr)
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(20), treasury)
}
