package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := &Agent{
		AgentID:      "agent-1",
		Address:      "0xabc",
		Role:         RoleWorker,
		Capabilities: []string{"code", "data"},
		Reputation:   50,
		Active:       true,
		NeuralSpec:   NeuralSpec{Model: "m1"},
		RegisteredAt: time.Now(),
	}
	require.NoError(t, store.Create(ctx, a))

	err := store.Create(ctx, a)
	assert.ErrorIs(t, err, ErrAgentExists)

	got, err := store.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", got.Address)
}

func TestListFiltersByRoleCapabilityAndReputation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, &Agent{AgentID: "w1", Role: RoleWorker, Capabilities: []string{"code"}, Reputation: 80, Active: true}))
	require.NoError(t, store.Create(ctx, &Agent{AgentID: "w2", Role: RoleWorker, Capabilities: []string{"data"}, Reputation: 20, Active: true}))
	require.NoError(t, store.Create(ctx, &Agent{AgentID: "v1", Role: RoleVerifier, Capabilities: []string{"code"}, Reputation: 90, Active: true}))

	out, err := store.List(ctx, Query{Role: RoleWorker, Capability: "code", MinReputation: 30})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "w1", out[0].AgentID)
}

func TestHasCapabilities(t *testing.T) {
	a := &Agent{Capabilities: []string{"code", "data"}}
	assert.True(t, a.HasCapabilities([]string{"code"}))
	assert.False(t, a.HasCapabilities([]string{"image"}))
}
