package outcome

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory append-only JobOutcome log.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []*JobOutcome
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(ctx context.Context, o *JobOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *MemoryStore) ListByAgent(ctx context.Context, agentID string) ([]*JobOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*JobOutcome
	for _, o := range m.rows {
		if o.AgentID == agentID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListByMission(ctx context.Context, missionID string) ([]*JobOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*JobOutcome
	for _, o := range m.rows {
		if o.MissionID == missionID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}
