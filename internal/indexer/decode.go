package indexer

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
)

// TxInputFetcher fetches a transaction by hash so the indexer can
// recover data the event itself omits (ProposalSubmitted's objective).
type TxInputFetcher interface {
	TransactionByHash(ctx context.Context, txHash string) (*types.Transaction, error)
}

// decodeLog turns one raw log into a dedup key and mutation, or an
// *ErrABIDrift if the log no longer matches the ABI fragment the
// indexer was built against. A non-drift error means the log matched
// the ABI but some downstream lookup (e.g. the objective transaction)
// failed; callers should log it and still apply the mutation.
func decodeLog(ctx context.Context, stream Stream, vLog types.Log, txFetcher TxInputFetcher, at time.Time) (*WindowEntry, error) {
	contractABI, err := abiForStream(stream)
	if err != nil {
		return nil, err
	}
	if len(vLog.Topics) == 0 {
		return nil, &ErrABIDrift{Stream: stream, TxHash: vLog.TxHash.Hex(), LogIndex: vLog.Index, Reason: "log carries no topics"}
	}

	event, err := contractABI.EventByID(vLog.Topics[0])
	if err != nil {
		return nil, &ErrABIDrift{Stream: stream, TxHash: vLog.TxHash.Hex(), LogIndex: vLog.Index, Reason: "unknown event signature: " + err.Error()}
	}

	wantIndexed, ok := expectedIndexed[event.Name]
	if !ok {
		return nil, &ErrABIDrift{Stream: stream, Event: event.Name, TxHash: vLog.TxHash.Hex(), LogIndex: vLog.Index, Reason: "no expected-argument entry for event"}
	}
	if len(vLog.Topics)-1 != wantIndexed {
		return nil, &ErrABIDrift{Stream: stream, Event: event.Name, TxHash: vLog.TxHash.Hex(), LogIndex: vLog.Index,
			Reason: fmt.Sprintf("expected %d indexed args, log has %d", wantIndexed, len(vLog.Topics)-1)}
	}

	data := make(map[string]interface{})
	if len(event.Inputs.NonIndexed()) > 0 {
		if err := contractABI.UnpackIntoMap(data, event.Name, vLog.Data); err != nil {
			return nil, &ErrABIDrift{Stream: stream, Event: event.Name, TxHash: vLog.TxHash.Hex(), LogIndex: vLog.Index, Reason: "data unpack failed: " + err.Error()}
		}
	}

	key := LogKey{Stream: stream, TxHash: vLog.TxHash.Hex(), LogIndex: vLog.Index}

	var mut Mutation
	switch event.Name {
	case "AgentRegistered":
		mut = handleAgentRegistered(vLog, data, at)
	case "ReputationUpdated":
		mut = handleReputationUpdated(vLog, data, at)
	case "ProposalSubmitted":
		mut, err = handleProposalSubmitted(ctx, vLog, data, txFetcher, at)
	case "ProposalAccepted":
		mut = handleProposalAccepted(vLog, data, at)
	case "WorkerBondPosted":
		mut = handleWorkerBondPosted(vLog, data, at)
	case "TaskStarted":
		mut = handleTaskStatus(vLog, ChainTaskStarted, at)
	case "TaskCompleted":
		mut = handleTaskStatus(vLog, ChainTaskCompleted, at)
	case "TaskSettled":
		mut = handleTaskSettled(vLog, data, at)
	case "TaskExpired":
		mut = handleTaskStatus(vLog, ChainTaskExpired, at)
	default:
		return nil, &ErrABIDrift{Stream: stream, Event: event.Name, TxHash: vLog.TxHash.Hex(), LogIndex: vLog.Index, Reason: "unhandled event name"}
	}
	// err here is a soft, non-drift error (objective decode failure);
	// the mutation is still applied with its fallback value.
	return &WindowEntry{Key: key, Mutation: mut}, err
}

func topicAddress(h [32]byte) string {
	return "0x" + fmtHex(h[12:])
}

func fmtHex(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0x0f]
	}
	return string(out)
}

func topicBigInt(h [32]byte) *big.Int {
	return new(big.Int).SetBytes(h[:])
}

func handleAgentRegistered(vLog types.Log, data map[string]interface{}, at time.Time) Mutation {
	addr := topicAddress(vLog.Topics[1])
	caps, _ := data["capabilities"].([]string)
	return Mutation{UpsertAgent: &ChainAgent{
		Address:      addr,
		AgentType:    uint8AsOr(data["agentType"], 0),
		MinFee:       bigStringOr(data["minFee"]),
		MinBond:      bigStringOr(data["minBond"]),
		Capabilities: caps,
		UpdatedAt:    at,
		UpdatedTx:    vLog.TxHash.Hex(),
		UpdatedLog:   vLog.Index,
	}}
}

func handleReputationUpdated(vLog types.Log, data map[string]interface{}, at time.Time) Mutation {
	addr := topicAddress(vLog.Topics[1])
	old := bigInt64Or(data["oldScore"])
	nw := bigInt64Or(data["newScore"])
	reason, _ := data["reason"].(string)
	return Mutation{
		UpsertAgent: &ChainAgent{Address: addr, Reputation: nw, UpdatedAt: at, UpdatedTx: vLog.TxHash.Hex(), UpdatedLog: vLog.Index},
		AppendReputation: &ReputationHistoryEntry{
			Agent: addr, OldScore: old, NewScore: nw, Reason: reason,
			TxHash: vLog.TxHash.Hex(), LogIndex: vLog.Index, BlockTime: at,
		},
	}
}

func handleProposalSubmitted(ctx context.Context, vLog types.Log, data map[string]interface{}, txFetcher TxInputFetcher, at time.Time) (Mutation, error) {
	proposalID := topicBigInt(vLog.Topics[1]).String()
	proposer := topicAddress(vLog.Topics[2])
	escrow := bigStringOr(data["escrow"])
	deadline := bigInt64Or(data["deadline"])

	objective := ObjectiveDecodeFallback
	var decodeErr error
	if txFetcher != nil {
		tx, err := txFetcher.TransactionByHash(ctx, vLog.TxHash.Hex())
		if err != nil {
			decodeErr = fmt.Errorf("fetch submitting tx: %w", err)
		} else if obj, err := decodeObjective(tx.Data()); err != nil {
			decodeErr = fmt.Errorf("decode objective: %w", err)
		} else {
			objective = obj
		}
	}

	return Mutation{UpsertTask: &ChainTask{
		ProposalID: proposalID,
		Proposer:   proposer,
		Escrow:     escrow,
		Deadline:   time.Unix(deadline, 0).UTC(),
		Objective:  objective,
		Status:     ChainTaskSubmitted,
		UpdatedAt:  at,
		UpdatedTx:  vLog.TxHash.Hex(),
		UpdatedLog: vLog.Index,
	}}, decodeErr
}

func handleProposalAccepted(vLog types.Log, data map[string]interface{}, at time.Time) Mutation {
	return Mutation{UpsertTask: &ChainTask{
		ProposalID: topicBigInt(vLog.Topics[1]).String(),
		TaskID:     topicBigInt(vLog.Topics[2]).String(),
		Worker:     addrStringOr(data["worker"]),
		Verifier:   addrStringOr(data["verifier"]),
		Status:     ChainTaskAccepted,
		UpdatedAt:  at,
		UpdatedTx:  vLog.TxHash.Hex(),
		UpdatedLog: vLog.Index,
	}}
}

func handleWorkerBondPosted(vLog types.Log, data map[string]interface{}, at time.Time) Mutation {
	return Mutation{UpsertTask: &ChainTask{
		TaskID:     topicBigInt(vLog.Topics[1]).String(),
		Worker:     addrStringOr(data["worker"]),
		Status:     ChainTaskBonded,
		UpdatedAt:  at,
		UpdatedTx:  vLog.TxHash.Hex(),
		UpdatedLog: vLog.Index,
	}}
}

func handleTaskStatus(vLog types.Log, status ChainTaskStatus, at time.Time) Mutation {
	return Mutation{UpsertTask: &ChainTask{
		TaskID:     topicBigInt(vLog.Topics[1]).String(),
		Status:     status,
		UpdatedAt:  at,
		UpdatedTx:  vLog.TxHash.Hex(),
		UpdatedLog: vLog.Index,
	}}
}

func handleTaskSettled(vLog types.Log, data map[string]interface{}, at time.Time) Mutation {
	success, _ := data["success"].(bool)
	return Mutation{UpsertTask: &ChainTask{
		TaskID:     topicBigInt(vLog.Topics[1]).String(),
		Status:     ChainTaskSettled,
		Success:    success,
		Payout:     bigStringOr(data["payout"]),
		UpdatedAt:  at,
		UpdatedTx:  vLog.TxHash.Hex(),
		UpdatedLog: vLog.Index,
	}}
}

func uint8AsOr(v interface{}, def uint8) uint8 {
	if u, ok := v.(uint8); ok {
		return u
	}
	return def
}

func bigStringOr(v interface{}) string {
	if b, ok := v.(*big.Int); ok && b != nil {
		return b.String()
	}
	return "0"
}

func bigInt64Or(v interface{}) int64 {
	if b, ok := v.(*big.Int); ok && b != nil {
		return b.Int64()
	}
	return 0
}

func addrStringOr(v interface{}) string {
	type hexer interface{ Hex() string }
	if a, ok := v.(hexer); ok {
		return a.Hex()
	}
	return ""
}
