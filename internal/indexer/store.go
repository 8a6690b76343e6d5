package indexer

import (
	"context"
	"sync"
)

// LogKey identifies one on-chain log for dedup purposes.
type LogKey struct {
	Stream   Stream
	TxHash   string
	LogIndex uint
}

// Mutation is one decoded event's effect on the durable store. One or
// more fields are set (ReputationUpdated sets both UpsertAgent and
// AppendReputation); Store implementations apply every non-nil field.
type Mutation struct {
	UpsertAgent        *ChainAgent
	AppendReputation   *ReputationHistoryEntry
	UpsertTask         *ChainTask
}

// Store persists indexer state: per-stream cursors, mirrored chain
// entities, and the dedup ledger that makes replay a no-op. A window's
// cursor advance and its mutations commit atomically.
type Store interface {
	Cursor(ctx context.Context, stream Stream) (lastBlock uint64, err error)
	// ApplyWindow commits every mutation in order, records each key in
	// the dedup ledger, and advances the stream's cursor to newCursor,
	// all as one atomic unit. Keys already present in the dedup ledger
	// are skipped (their mutation is not reapplied) so a retried or
	// replayed window never double-applies a log.
	ApplyWindow(ctx context.Context, stream Stream, newCursor uint64, entries []WindowEntry) error

	Agent(ctx context.Context, address string) (*ChainAgent, error)
	ReputationHistory(ctx context.Context, address string) ([]ReputationHistoryEntry, error)
	Task(ctx context.Context, taskOrProposalID string) (*ChainTask, error)
}

// WindowEntry pairs a dedup key with the mutation its log produced.
type WindowEntry struct {
	Key      LogKey
	Mutation Mutation
}

// MemoryStore is a thread-safe in-memory Store, used in tests and as a
// development fallback.
type MemoryStore struct {
	mu         sync.Mutex
	cursors    map[Stream]uint64
	processed  map[LogKey]bool
	agents     map[string]*ChainAgent
	reputation map[string][]ReputationHistoryEntry
	tasks      map[string]*ChainTask // keyed by both proposalID and taskID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cursors:    make(map[Stream]uint64),
		processed:  make(map[LogKey]bool),
		agents:     make(map[string]*ChainAgent),
		reputation: make(map[string][]ReputationHistoryEntry),
		tasks:      make(map[string]*ChainTask),
	}
}

func (m *MemoryStore) Cursor(ctx context.Context, stream Stream) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[stream], nil
}

func (m *MemoryStore) ApplyWindow(ctx context.Context, stream Stream, newCursor uint64, entries []WindowEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		if m.processed[e.Key] {
			continue
		}
		m.processed[e.Key] = true
		m.apply(e.Mutation)
	}
	if newCursor > m.cursors[stream] {
		m.cursors[stream] = newCursor
	}
	return nil
}

// apply applies every field a mutation carries. A ReputationUpdated
// event sets both UpsertAgent and AppendReputation, so these must not
// be treated as mutually exclusive.
func (m *MemoryStore) apply(mut Mutation) {
	if mut.UpsertAgent != nil {
		cp := *mut.UpsertAgent
		if existing := m.agents[cp.Address]; existing != nil {
			merged := mergeAgent(*existing, cp)
			m.agents[cp.Address] = &merged
		} else {
			m.agents[cp.Address] = &cp
		}
	}
	if mut.AppendReputation != nil {
		cp := *mut.AppendReputation
		m.reputation[cp.Agent] = append(m.reputation[cp.Agent], cp)
	}
	if mut.UpsertTask != nil {
		cp := *mut.UpsertTask
		existing := m.tasks[cp.ProposalID]
		if existing == nil && cp.TaskID != "" {
			existing = m.tasks[cp.TaskID]
		}
		if existing != nil {
			merged := mergeTask(*existing, cp)
			m.index(&merged)
		} else {
			m.index(&cp)
		}
	}
}

// mergeAgent layers a partial update (e.g. a ReputationUpdated event,
// which only carries Reputation) onto the existing mirrored row.
func mergeAgent(existing, update ChainAgent) ChainAgent {
	out := existing
	if update.MinFee != "" {
		out.MinFee = update.MinFee
	}
	if update.MinBond != "" {
		out.MinBond = update.MinBond
	}
	if len(update.Capabilities) > 0 {
		out.Capabilities = update.Capabilities
	}
	if update.AgentType != 0 {
		out.AgentType = update.AgentType
	}
	out.Reputation = update.Reputation
	out.UpdatedAt = update.UpdatedAt
	out.UpdatedTx = update.UpdatedTx
	out.UpdatedLog = update.UpdatedLog
	return out
}

func (m *MemoryStore) index(t *ChainTask) {
	if t.ProposalID != "" {
		m.tasks[t.ProposalID] = t
	}
	if t.TaskID != "" {
		m.tasks[t.TaskID] = t
	}
}

// mergeTask layers a partial update (only the fields the triggering
// event carries) onto the existing mirrored row.
func mergeTask(existing, update ChainTask) ChainTask {
	out := existing
	if update.ProposalID != "" {
		out.ProposalID = update.ProposalID
	}
	if update.TaskID != "" {
		out.TaskID = update.TaskID
	}
	if update.Proposer != "" {
		out.Proposer = update.Proposer
	}
	if update.Worker != "" {
		out.Worker = update.Worker
	}
	if update.Verifier != "" {
		out.Verifier = update.Verifier
	}
	if update.Escrow != "" {
		out.Escrow = update.Escrow
	}
	if !update.Deadline.IsZero() {
		out.Deadline = update.Deadline
	}
	if update.Objective != "" {
		out.Objective = update.Objective
	}
	if update.Status != "" {
		out.Status = update.Status
	}
	if update.Status == ChainTaskSettled {
		out.Success = update.Success
		out.Payout = update.Payout
	}
	out.UpdatedAt = update.UpdatedAt
	out.UpdatedTx = update.UpdatedTx
	out.UpdatedLog = update.UpdatedLog
	return out
}

func (m *MemoryStore) Agent(ctx context.Context, address string) (*ChainAgent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[address]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) ReputationHistory(ctx context.Context, address string) ([]ReputationHistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hist := m.reputation[address]
	out := make([]ReputationHistoryEntry, len(hist))
	copy(out, hist)
	return out, nil
}

func (m *MemoryStore) Task(ctx context.Context, taskOrProposalID string) (*ChainTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskOrProposalID]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}
