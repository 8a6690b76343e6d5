// Package dispatch implements C9: a per-agent FIFO task queue with
// priority classes. Tasks are delivered to agents by polling, not by
// push; the queue never removes a task on poll, only on ack, so a
// crashed agent that reconnects sees exactly the tasks it never
// acknowledged.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mbd888/missionengine/internal/idgen"
	"github.com/mbd888/missionengine/internal/syncutil"
	"github.com/mbd888/missionengine/internal/traces"
)

var ErrInvalidPriority = errors.New("dispatch: priority must be low, normal, or high")

// Priority is one of three FIFO classes; within a class, tasks are
// ordered by CreatedAt.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

var priorityRank = map[Priority]int{PriorityHigh: 3, PriorityNormal: 2, PriorityLow: 1}

func validPriority(p Priority) bool {
	_, ok := priorityRank[p]
	return ok
}

// DefaultLivenessWindow is how recently an agent must have polled to be
// considered alive (spec §4.9).
const DefaultLivenessWindow = 90 * time.Second

// Task is one unit of work queued for an agent.
type Task struct {
	TaskID    string
	AgentID   string
	Payload   json.RawMessage
	Priority  Priority
	CreatedAt time.Time
	ExpiresAt time.Time
	Acked     bool
	AckedAt   *time.Time
}

// Store persists queued tasks and per-agent poll liveness. Implementations
// must give single-writer semantics per agent_id; the Service layers a
// ShardedMutex keyed by agent_id on top for defense in depth.
type Store interface {
	Enqueue(ctx context.Context, t *Task) error
	// Poll returns up to limit tasks for agentID that are not acked and
	// not expired as of now, ordered by priority then created_at, plus
	// whether more such tasks exist beyond limit. It does not mutate state.
	Poll(ctx context.Context, agentID string, limit int, now time.Time) (tasks []*Task, hasMore bool, err error)
	// Ack marks the given task IDs acknowledged. Re-acking an already
	// acked or unknown ID is a no-op, not an error.
	Ack(ctx context.Context, taskIDs []string, at time.Time) error
	RecordPoll(ctx context.Context, agentID string, at time.Time) error
	LastPoll(ctx context.Context, agentID string) (time.Time, error)
}

// Service is C9: the dispatch queue.
type Service struct {
	store          Store
	locks          syncutil.ShardedMutex
	livenessWindow time.Duration
}

// NewService constructs a dispatch Service. livenessWindow of 0 uses
// DefaultLivenessWindow.
func NewService(store Store, livenessWindow time.Duration) *Service {
	if livenessWindow <= 0 {
		livenessWindow = DefaultLivenessWindow
	}
	return &Service{store: store, livenessWindow: livenessWindow}
}

var now = time.Now

// Enqueue adds a task to agentID's queue at the given priority, expiring
// after ttl.
func (s *Service) Enqueue(ctx context.Context, agentID string, payload any, priority string, ttl time.Duration) error {
	ctx, span := traces.StartSpan(ctx, "dispatch.Enqueue", traces.AgentAddr(agentID))
	defer span.End()

	p := Priority(priority)
	if !validPriority(p) {
		return ErrInvalidPriority
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(agentID)
	defer unlock()

	t := now()
	task := &Task{
		TaskID:    idgen.WithPrefix("task_"),
		AgentID:   agentID,
		Payload:   raw,
		Priority:  p,
		CreatedAt: t,
		ExpiresAt: t.Add(ttl),
	}
	return s.store.Enqueue(ctx, task)
}

// Poll returns up to limit outstanding tasks for agentID and records the
// poll for liveness tracking. Non-blocking: it never waits for work.
func (s *Service) Poll(ctx context.Context, agentID string, limit int) ([]*Task, bool, error) {
	ctx, span := traces.StartSpan(ctx, "dispatch.Poll", traces.AgentAddr(agentID))
	defer span.End()

	unlock := s.locks.Lock(agentID)
	defer unlock()

	t := now()
	tasks, hasMore, err := s.store.Poll(ctx, agentID, limit, t)
	if err != nil {
		return nil, false, err
	}
	if err := s.store.RecordPoll(ctx, agentID, t); err != nil {
		return nil, false, err
	}
	return tasks, hasMore, nil
}

// Ack marks tasks acknowledged. Idempotent: re-acking is a no-op.
func (s *Service) Ack(ctx context.Context, taskIDs []string) error {
	ctx, span := traces.StartSpan(ctx, "dispatch.Ack")
	defer span.End()
	return s.store.Ack(ctx, taskIDs, now())
}

// Heartbeat updates agentID's last-poll time without returning any tasks,
// for agents that want to signal liveness between real polls.
func (s *Service) Heartbeat(ctx context.Context, agentID string) error {
	unlock := s.locks.Lock(agentID)
	defer unlock()
	return s.store.RecordPoll(ctx, agentID, now())
}

// IsAlive reports whether agentID has polled within the liveness window.
func (s *Service) IsAlive(ctx context.Context, agentID string) (bool, error) {
	last, err := s.store.LastPoll(ctx, agentID)
	if err != nil {
		return false, err
	}
	if last.IsZero() {
		return false, nil
	}
	return now().Sub(last) < s.livenessWindow, nil
}
