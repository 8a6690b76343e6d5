// Package indexer implements C10: the chain-event indexer. It scans
// bounded block ranges for two contract streams, decodes their events
// against an in-process ABI, and upserts the results into a durable
// store that mirrors on-chain fact into off-chain query state. It never
// writes mission, ledger, bond, or escrow state directly — the facts it
// mirrors are later consumed by the relayer and by operators, not fed
// back into the lifecycle engine automatically.
package indexer

import "time"

// Stream names the two contracts the indexer follows. Each stream has
// its own cursor and advances independently.
type Stream string

const (
	StreamAgentRegistry Stream = "AgentRegistry"
	StreamManager       Stream = "Manager"
)

// ChainAgent is the indexer's mirror of an on-chain registered agent.
type ChainAgent struct {
	Address      string
	AgentType    uint8
	MinFee       string // decimal string, smallest unit
	MinBond      string
	Capabilities []string
	Reputation   int64
	UpdatedAt    time.Time
	UpdatedTx    string
	UpdatedLog   uint
}

// ReputationHistoryEntry is one append-only ReputationUpdated event.
type ReputationHistoryEntry struct {
	Agent     string
	OldScore  int64
	NewScore  int64
	Reason    string
	TxHash    string
	LogIndex  uint
	BlockTime time.Time
}

// ChainTaskStatus tracks the on-chain lifecycle of a proposal/task as
// seen through Manager events. It is distinct from mission.Status: this
// is what the chain says happened, not what the off-chain engine
// decided.
type ChainTaskStatus string

const (
	ChainTaskSubmitted ChainTaskStatus = "submitted"
	ChainTaskAccepted  ChainTaskStatus = "accepted"
	ChainTaskBonded    ChainTaskStatus = "bonded"
	ChainTaskStarted   ChainTaskStatus = "started"
	ChainTaskCompleted ChainTaskStatus = "completed"
	ChainTaskSettled   ChainTaskStatus = "settled"
	ChainTaskExpired   ChainTaskStatus = "expired"
)

// ChainTask is the indexer's mirror of a proposal/task as reported by
// the Manager contract.
type ChainTask struct {
	ProposalID string
	TaskID     string
	Proposer   string
	Worker     string
	Verifier   string
	Escrow     string
	Deadline   time.Time
	Objective  string
	Status     ChainTaskStatus
	Success    bool
	Payout     string
	UpdatedAt  time.Time
	UpdatedTx  string
	UpdatedLog uint
}

// ObjectiveDecodeFallback is stored when a ProposalSubmitted event's
// backing transaction input cannot be decoded for its objective string.
const ObjectiveDecodeFallback = "<objective unavailable>"
