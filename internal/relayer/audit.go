package relayer

import (
	"context"
	"sync"
)

// MemoryStore is a thread-safe in-memory audit Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Append(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, proposalID string) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AuditEntry
	for _, e := range m.entries {
		if e.ProposalID == proposalID {
			out = append(out, e)
		}
	}
	return out, nil
}
