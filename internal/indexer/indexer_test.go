package indexer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeChainClient serves a fixed current block and a pre-built set of
// logs per FilterLogs call, so tests drive the window math deterministically.
type fakeChainClient struct {
	current  uint64
	logs     []types.Log
	filtered []ethereum.FilterQuery
	txs      map[string]*types.Transaction
}

func (f *fakeChainClient) BlockNumber(ctx context.Context) (uint64, error) { return f.current, nil }

func (f *fakeChainClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.filtered = append(f.filtered, q)
	from := q.FromBlock.Uint64()
	to := q.ToBlock.Uint64()
	var out []types.Log
	for _, l := range f.logs {
		if uint64(l.BlockNumber) >= from && uint64(l.BlockNumber) <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeChainClient) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	tx := f.txs[hash.Hex()]
	return tx, false, nil
}

func agentRegisteredLog(t *testing.T, block uint64, txHash common.Hash, logIndex uint, agent common.Address, agentType uint8, minFee, minBond *big.Int, caps []string) types.Log {
	t.Helper()
	event := parsedAgentRegistryABI.Events["AgentRegistered"]
	data, err := event.Inputs.NonIndexed().Pack(agentType, minFee, minBond, caps)
	require.NoError(t, err)
	return types.Log{
		Address:     common.Address{},
		Topics:      []common.Hash{event.ID, common.BytesToHash(agent.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      txHash,
		Index:       logIndex,
	}
}

func reputationUpdatedLog(t *testing.T, block uint64, txHash common.Hash, logIndex uint, agent common.Address, oldScore, newScore int64, reason string) types.Log {
	t.Helper()
	event := parsedAgentRegistryABI.Events["ReputationUpdated"]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(oldScore), big.NewInt(newScore), reason)
	require.NoError(t, err)
	return types.Log{
		Topics:      []common.Hash{event.ID, common.BytesToHash(agent.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      txHash,
		Index:       logIndex,
	}
}

func taskStartedLog(t *testing.T, block uint64, txHash common.Hash, logIndex uint, taskID int64) types.Log {
	t.Helper()
	event := parsedManagerABI.Events["TaskStarted"]
	return types.Log{
		Topics:      []common.Hash{event.ID, common.BigToHash(big.NewInt(taskID))},
		BlockNumber: block,
		TxHash:      txHash,
		Index:       logIndex,
	}
}

func newTestService(client *fakeChainClient, store Store) *Service {
	return NewService(client, store, Addresses{}, Config{PollInterval: time.Hour}, testLogger())
}

func TestPollOnceDecodesAgentRegisteredAndUpsertsAgent(t *testing.T) {
	ctx := context.Background()
	agent := common.HexToAddress("0x00000000000000000000000000000000000001")
	client := &fakeChainClient{
		current: 50,
		logs: []types.Log{
			agentRegisteredLog(t, 10, common.HexToHash("0xaa"), 0, agent, 2, big.NewInt(100), big.NewInt(500), []string{"coding", "review"}),
		},
	}
	store := NewMemoryStore()
	svc := newTestService(client, store)

	require.NoError(t, svc.PollOnce(ctx, StreamAgentRegistry))

	got, err := store.Agent(ctx, agent.Hex())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, uint8(2), got.AgentType)
	assert.Equal(t, "100", got.MinFee)
	assert.Equal(t, "500", got.MinBond)
	assert.Equal(t, []string{"coding", "review"}, got.Capabilities)

	cursor, err := store.Cursor(ctx, StreamAgentRegistry)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), cursor)
}

func TestPollOnceIsIdempotentOnReplay(t *testing.T) {
	ctx := context.Background()
	agent := common.HexToAddress("0x00000000000000000000000000000000000002")
	client := &fakeChainClient{
		current: 30,
		logs: []types.Log{
			reputationUpdatedLog(t, 25, common.HexToHash("0xbb"), 1, agent, 50, 60, "verified task"),
		},
	}
	store := NewMemoryStore()
	svc := newTestService(client, store)

	require.NoError(t, svc.PollOnce(ctx, StreamAgentRegistry))
	hist1, err := store.ReputationHistory(ctx, agent.Hex())
	require.NoError(t, err)
	require.Len(t, hist1, 1)

	// Same logs reappear in a second poll (simulating a reorg rescan
	// window); the dedup ledger must make it a no-op.
	require.NoError(t, svc.PollOnce(ctx, StreamAgentRegistry))
	hist2, err := store.ReputationHistory(ctx, agent.Hex())
	require.NoError(t, err)
	assert.Len(t, hist2, 1)
}

func TestPollOnceRespectsLogRangeMax(t *testing.T) {
	ctx := context.Background()
	client := &fakeChainClient{current: 1000}
	store := NewMemoryStore()
	svc := newTestService(client, store)

	require.NoError(t, svc.PollOnce(ctx, StreamManager))
	require.Len(t, client.filtered, 1)
	from := client.filtered[0].FromBlock.Uint64()
	to := client.filtered[0].ToBlock.Uint64()
	assert.LessOrEqual(t, to-from+1, uint64(LogRangeMax))
}

func TestPollOnceJumpsForwardPastSafeLookback(t *testing.T) {
	ctx := context.Background()
	client := &fakeChainClient{current: 10_000}
	store := NewMemoryStore()
	require.NoError(t, store.ApplyWindow(ctx, StreamManager, 1, nil)) // cursor far behind
	svc := newTestService(client, store)

	require.NoError(t, svc.PollOnce(ctx, StreamManager))
	from := client.filtered[0].FromBlock.Uint64()
	assert.GreaterOrEqual(t, from, client.current-DefaultSafeLookback)
}

func TestPollOnceSkipsRemovedLogs(t *testing.T) {
	ctx := context.Background()
	log := taskStartedLog(t, 4, common.HexToHash("0xcc"), 0, 7)
	log.Removed = true
	client := &fakeChainClient{current: 20, logs: []types.Log{log}}
	store := NewMemoryStore()
	svc := newTestService(client, store)

	require.NoError(t, svc.PollOnce(ctx, StreamManager))
	task, err := store.Task(ctx, "7")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestPollOnceAbortsStreamOnABIDrift(t *testing.T) {
	ctx := context.Background()
	bogus := types.Log{
		Topics:      []common.Hash{common.HexToHash("0xdeadbeef")},
		BlockNumber: 3,
		TxHash:      common.HexToHash("0xdd"),
		Index:       0,
	}
	client := &fakeChainClient{current: 20, logs: []types.Log{bogus}}
	store := NewMemoryStore()
	svc := newTestService(client, store)

	err := svc.PollOnce(ctx, StreamManager)
	require.Error(t, err)
	var drift *ErrABIDrift
	require.ErrorAs(t, err, &drift)

	// Cursor must not have advanced past the unprocessed log.
	cursor, err := store.Cursor(ctx, StreamManager)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cursor)
}

func TestDecodeLogRejectsWrongIndexedCount(t *testing.T) {
	ctx := context.Background()
	event := parsedManagerABI.Events["TaskStarted"]
	log := types.Log{
		Topics:      []common.Hash{event.ID, common.BigToHash(big.NewInt(1)), common.BigToHash(big.NewInt(2))}, // one extra indexed arg
		BlockNumber: 1,
		TxHash:      common.HexToHash("0xee"),
		Index:       0,
	}
	_, err := decodeLog(ctx, StreamManager, log, nil, time.Now())
	require.Error(t, err)
	var drift *ErrABIDrift
	require.ErrorAs(t, err, &drift)
}

func TestProposalSubmittedFallsBackToSentinelOnTxDecodeFailure(t *testing.T) {
	ctx := context.Background()
	event := parsedManagerABI.Events["ProposalSubmitted"]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(1000), big.NewInt(1700000000))
	require.NoError(t, err)
	log := types.Log{
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(big.NewInt(42)),
			common.BytesToHash(common.HexToAddress("0x03").Bytes()),
		},
		Data:        data,
		BlockNumber: 1,
		TxHash:      common.HexToHash("0xff"),
		Index:       0,
	}
	// txFetcher returns an error so the objective falls back rather than aborting.
	entry, err := decodeLog(ctx, StreamManager, log, failingTxFetcher{}, time.Now())
	require.Error(t, err) // soft error, surfaced but not a drift
	var drift *ErrABIDrift
	assert.False(t, errors.As(err, &drift))
	require.NotNil(t, entry)
	require.NotNil(t, entry.Mutation.UpsertTask)
	assert.Equal(t, ObjectiveDecodeFallback, entry.Mutation.UpsertTask.Objective)
	assert.Equal(t, "42", entry.Mutation.UpsertTask.ProposalID)
}

type failingTxFetcher struct{}

func (failingTxFetcher) TransactionByHash(ctx context.Context, txHash string) (*types.Transaction, error) {
	return nil, errFakeRPCUnavailable
}

var errFakeRPCUnavailable = errors.New("rpc unavailable")
