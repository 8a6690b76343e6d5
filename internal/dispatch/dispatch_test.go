package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueuePollOrdersByPriorityThenFIFO(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), time.Minute)

	require.NoError(t, svc.Enqueue(ctx, "a1", map[string]string{"k": "low-1"}, "low", time.Hour))
	require.NoError(t, svc.Enqueue(ctx, "a1", map[string]string{"k": "normal-1"}, "normal", time.Hour))
	require.NoError(t, svc.Enqueue(ctx, "a1", map[string]string{"k": "high-1"}, "high", time.Hour))
	require.NoError(t, svc.Enqueue(ctx, "a1", map[string]string{"k": "normal-2"}, "normal", time.Hour))

	tasks, hasMore, err := svc.Poll(ctx, "a1", 10)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, tasks, 4)
	assert.Equal(t, PriorityHigh, tasks[0].Priority)
	assert.Equal(t, PriorityNormal, tasks[1].Priority)
	assert.Equal(t, PriorityNormal, tasks[2].Priority)
	assert.Equal(t, PriorityLow, tasks[3].Priority)
	assert.Contains(t, string(tasks[1].Payload), "normal-1") // FIFO within the normal class
	assert.Contains(t, string(tasks[2].Payload), "normal-2")
}

func TestPollDoesNotRemoveUntilAcked(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), time.Minute)
	require.NoError(t, svc.Enqueue(ctx, "a1", "payload", "normal", time.Hour))

	first, _, err := svc.Poll(ctx, "a1", 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, _, err := svc.Poll(ctx, "a1", 10)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].TaskID, second[0].TaskID)

	require.NoError(t, svc.Ack(ctx, []string{first[0].TaskID}))
	third, _, err := svc.Poll(ctx, "a1", 10)
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestAckIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), time.Minute)
	require.NoError(t, svc.Enqueue(ctx, "a1", "payload", "normal", time.Hour))
	tasks, _, err := svc.Poll(ctx, "a1", 10)
	require.NoError(t, err)

	require.NoError(t, svc.Ack(ctx, []string{tasks[0].TaskID}))
	require.NoError(t, svc.Ack(ctx, []string{tasks[0].TaskID})) // no error on re-ack
	require.NoError(t, svc.Ack(ctx, []string{"unknown-task"}))  // no error on unknown id
}

func TestExpiredTasksAreSkipped(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), time.Minute)
	require.NoError(t, svc.Enqueue(ctx, "a1", "stale", "normal", -time.Second)) // already expired
	require.NoError(t, svc.Enqueue(ctx, "a1", "fresh", "normal", time.Hour))

	tasks, _, err := svc.Poll(ctx, "a1", 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Contains(t, string(tasks[0].Payload), "fresh")
}

func TestPollRespectsLimitAndReportsHasMore(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), time.Minute)
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Enqueue(ctx, "a1", i, "normal", time.Hour))
	}

	tasks, hasMore, err := svc.Poll(ctx, "a1", 2)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
	assert.True(t, hasMore)
}

func TestHeartbeatAndLiveness(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), 50*time.Millisecond)

	alive, err := svc.IsAlive(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, alive) // never polled

	require.NoError(t, svc.Heartbeat(ctx, "a1"))
	alive, err = svc.IsAlive(ctx, "a1")
	require.NoError(t, err)
	assert.True(t, alive)

	time.Sleep(80 * time.Millisecond)
	alive, err = svc.IsAlive(ctx, "a1")
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestEnqueueRejectsInvalidPriority(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), time.Minute)
	err := svc.Enqueue(ctx, "a1", "x", "urgent", time.Hour)
	assert.ErrorIs(t, err, ErrInvalidPriority)
}

func TestQueuesAreIndependentAcrossAgents(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), time.Minute)
	require.NoError(t, svc.Enqueue(ctx, "a1", "for-a1", "normal", time.Hour))
	require.NoError(t, svc.Enqueue(ctx, "a2", "for-a2", "normal", time.Hour))

	tasksA1, _, err := svc.Poll(ctx, "a1", 10)
	require.NoError(t, err)
	require.Len(t, tasksA1, 1)
	assert.Contains(t, string(tasksA1[0].Payload), "for-a1")
}
