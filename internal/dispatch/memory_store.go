package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu       sync.Mutex
	tasks    map[string][]*Task // agent_id -> tasks, insertion order
	lastPoll map[string]time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string][]*Task), lastPoll: make(map[string]time.Time)}
}

func (m *MemoryStore) Enqueue(ctx context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tasks[t.AgentID] = append(m.tasks[t.AgentID], &cp)
	return nil
}

func (m *MemoryStore) Poll(ctx context.Context, agentID string, limit int, at time.Time) ([]*Task, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var live []*Task
	for _, t := range m.tasks[agentID] {
		if t.Acked || at.After(t.ExpiresAt) {
			continue
		}
		live = append(live, t)
	}
	sort.SliceStable(live, func(i, j int) bool {
		ri, rj := priorityRank[live[i].Priority], priorityRank[live[j].Priority]
		if ri != rj {
			return ri > rj
		}
		return live[i].CreatedAt.Before(live[j].CreatedAt)
	})

	hasMore := limit > 0 && len(live) > limit
	if limit > 0 && len(live) > limit {
		live = live[:limit]
	}
	out := make([]*Task, len(live))
	for i, t := range live {
		cp := *t
		out[i] = &cp
	}
	return out, hasMore, nil
}

func (m *MemoryStore) Ack(ctx context.Context, taskIDs []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		want[id] = true
	}
	for _, tasks := range m.tasks {
		for _, t := range tasks {
			if want[t.TaskID] && !t.Acked {
				t.Acked = true
				ackedAt := at
				t.AckedAt = &ackedAt
			}
		}
	}
	return nil
}

func (m *MemoryStore) RecordPoll(ctx context.Context, agentID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastPoll[agentID] = at
	return nil
}

func (m *MemoryStore) LastPoll(ctx context.Context, agentID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPoll[agentID], nil
}
