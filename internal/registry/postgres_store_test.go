//go:build integration

package registry

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/missionengine/internal/amount"
	"github.com/mbd888/missionengine/internal/testutil"
)

func newTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	var store *PostgresStore
	_, cleanup := testutil.PGTest(t, func(ctx context.Context, db *sql.DB) error {
		store = NewPostgresStore(db)
		return store.Migrate(ctx)
	})
	t.Cleanup(cleanup)
	return store
}

func testAgent(agentID string, role Role) *Agent {
	return &Agent{
		AgentID:      agentID,
		Address:      "0x1111111111111111111111111111111111111111",
		Role:         role,
		Capabilities: []string{"research"},
		MinFee:       amount.Amount(10),
		MinBond:      amount.Amount(20),
		Reputation:   50,
		Active:       true,
		NeuralSpec:   NeuralSpec{Model: "gpt"},
		RegisteredAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestPostgresStoreCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testAgent("agt_pg_1", RoleWorker)
	require.NoError(t, store.Create(ctx, a))

	got, err := store.Get(ctx, a.AgentID)
	require.NoError(t, err)
	assert.Equal(t, a.Address, got.Address)
	assert.Equal(t, a.Role, got.Role)
	assert.Equal(t, a.MinFee, got.MinFee)
	assert.Equal(t, a.NeuralSpec.Model, got.NeuralSpec.Model)
}

func TestPostgresStoreCreateDuplicateRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testAgent("agt_pg_dup", RoleWorker)
	require.NoError(t, store.Create(ctx, a))
	err := store.Create(ctx, a)
	assert.ErrorIs(t, err, ErrAgentExists)
}

func TestPostgresStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "agt_does_not_exist")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestPostgresStoreUpdateReputation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testAgent("agt_pg_update", RoleVerifier)
	require.NoError(t, store.Create(ctx, a))

	a.Reputation = 75
	require.NoError(t, store.Update(ctx, a))

	got, err := store.Get(ctx, a.AgentID)
	require.NoError(t, err)
	assert.Equal(t, 75, got.Reputation)
}

func TestPostgresStoreListFiltersByRole(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, testAgent("agt_pg_worker", RoleWorker)))
	require.NoError(t, store.Create(ctx, testAgent("agt_pg_verifier", RoleVerifier)))

	agents, err := store.List(ctx, Query{Role: RoleVerifier})
	require.NoError(t, err)
	for _, a := range agents {
		assert.Equal(t, RoleVerifier, a.Role)
	}
}
