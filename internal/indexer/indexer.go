package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/mbd888/missionengine/internal/traces"
)

// ChainClient abstracts go-ethereum's client for testing.
type ChainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
}

// txFetcherAdapter narrows ChainClient to the TxInputFetcher decode.go
// needs, translating a hex string hash into the common.Hash the client
// expects.
type txFetcherAdapter struct{ client ChainClient }

func (a txFetcherAdapter) TransactionByHash(ctx context.Context, txHash string) (*types.Transaction, error) {
	tx, _, err := a.client.TransactionByHash(ctx, common.HexToHash(txHash))
	return tx, err
}

// LogRangeMax is the RPC provider's hard limit on blocks per FilterLogs
// call. The off-chain range budget would allow up to 99 (per the
// lifecycle description of this stream); 90 is the binding constraint
// because it is what the upstream RPC actually enforces.
const LogRangeMax = 90

// DefaultSafeLookback is how far behind current_block the indexer will
// tolerate falling before it jumps forward instead of catching up
// window by window.
const DefaultSafeLookback = 200

// DefaultPollInterval is how often each stream checks for new blocks.
const DefaultPollInterval = 10 * time.Second

// DefaultReorgDepth is how many already-processed blocks are rescanned
// on every poll to absorb short reorgs; the dedup ledger in Store makes
// rescanning safe.
const DefaultReorgDepth = 12

// Config configures a Service.
type Config struct {
	PollInterval time.Duration
	SafeLookback uint64
	ReorgDepth   uint64
	StartBlock   uint64 // 0 = scan from block 1 (genesis) on a fresh cursor
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SafeLookback <= 0 {
		c.SafeLookback = DefaultSafeLookback
	}
	if c.ReorgDepth == 0 {
		c.ReorgDepth = DefaultReorgDepth
	}
	return c
}

// Addresses tells the indexer which contract address backs each stream.
type Addresses struct {
	AgentRegistry common.Address
	Manager       common.Address
}

// Service is C10: the chain-event indexer. One Service instance drives
// both streams as independent long-lived workers, each with its own
// cursor; a fatal ABI-drift on one stream stops only that stream.
type Service struct {
	client    ChainClient
	store     Store
	addresses Addresses
	cfg       Config
	logger    *slog.Logger

	stopped map[Stream]chan struct{}
}

// NewService constructs an indexer Service.
func NewService(client ChainClient, store Store, addresses Addresses, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		client:    client,
		store:     store,
		addresses: addresses,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		stopped:   make(map[Stream]chan struct{}),
	}
}

// Start launches one polling goroutine per stream. It returns
// immediately; each stream runs until ctx is cancelled or it hits an
// ABIDrift, whichever comes first.
func (s *Service) Start(ctx context.Context) {
	for _, stream := range []Stream{StreamAgentRegistry, StreamManager} {
		done := make(chan struct{})
		s.stopped[stream] = done
		go s.runStream(ctx, stream, done)
	}
}

// Stopped reports whether stream has halted (ABI drift or ctx
// cancellation already observed).
func (s *Service) Stopped(stream Stream) bool {
	select {
	case <-s.stopped[stream]:
		return true
	default:
		return false
	}
}

func (s *Service) runStream(ctx context.Context, stream Stream, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.PollOnce(ctx, stream); err != nil {
				var drift *ErrABIDrift
				if errors.As(err, &drift) {
					s.logger.Error("ABI drift detected, stopping stream", "stream", stream, "event", drift.Event, "reason", drift.Reason)
					return
				}
				s.logger.Error("indexer poll failed, will retry", "stream", stream, "error", err)
			}
		}
	}
}

// PollOnce scans and applies exactly one window for stream. Exported so
// tests and a cron-style caller can drive it without the ticker loop.
func (s *Service) PollOnce(ctx context.Context, stream Stream) error {
	ctx, span := traces.StartSpan(ctx, "indexer.PollOnce")
	defer span.End()

	current, err := s.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("indexer: block number: %w", err)
	}

	last, err := s.store.Cursor(ctx, stream)
	if err != nil {
		return fmt.Errorf("indexer: read cursor: %w", err)
	}
	if last == 0 && s.cfg.StartBlock != 0 {
		last = s.cfg.StartBlock - 1
	}

	from := last + 1
	if s.cfg.ReorgDepth > 0 && from > s.cfg.ReorgDepth {
		safeFrom := last - s.cfg.ReorgDepth + 1
		if safeFrom < from {
			from = safeFrom
		}
	}

	if current > s.cfg.SafeLookback && current-from > s.cfg.SafeLookback {
		jumpTo := current - s.cfg.SafeLookback
		s.logger.Warn("indexer falling behind safe lookback, jumping forward", "stream", stream, "from", from, "to", jumpTo)
		from = jumpTo
	}

	if current < from {
		return nil // nothing new
	}

	to := from + LogRangeMax - 1
	if to > current {
		to = current
	}

	addr := s.addresses.AgentRegistry
	if stream == StreamManager {
		addr = s.addresses.Manager
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{addr},
	}

	logs, err := s.client.FilterLogs(ctx, query)
	if err != nil {
		return fmt.Errorf("indexer: filter logs %d-%d: %w", from, to, err)
	}

	now := time.Now()
	var entries []WindowEntry
	fetcher := txFetcherAdapter{client: s.client}
	for _, vLog := range logs {
		if vLog.Removed {
			s.logger.Warn("reorged log skipped", "stream", stream, "tx", vLog.TxHash.Hex(), "block", vLog.BlockNumber)
			continue
		}
		entry, err := decodeLog(ctx, stream, vLog, fetcher, now)
		if err != nil {
			var drift *ErrABIDrift
			if errors.As(err, &drift) {
				return err // abort the whole window; cursor does not advance
			}
			// Soft decode failure (e.g. objective lookup) — log it, the
			// mutation still applies with its fallback value.
			s.logger.Error("indexer non-fatal decode error", "stream", stream, "tx", vLog.TxHash.Hex(), "error", err)
		}
		entries = append(entries, *entry)
	}

	if err := s.store.ApplyWindow(ctx, stream, to, entries); err != nil {
		return fmt.Errorf("indexer: apply window %d-%d: %w", from, to, err)
	}
	return nil
}

// Agent returns the mirrored on-chain agent row, or nil if unseen.
func (s *Service) Agent(ctx context.Context, address string) (*ChainAgent, error) {
	return s.store.Agent(ctx, address)
}

// ReputationHistory returns address's ReputationUpdated events in order.
func (s *Service) ReputationHistory(ctx context.Context, address string) ([]ReputationHistoryEntry, error) {
	return s.store.ReputationHistory(ctx, address)
}

// Task returns the mirrored on-chain task/proposal row, keyed by either
// its proposal id or its task id, or nil if unseen.
func (s *Service) Task(ctx context.Context, taskOrProposalID string) (*ChainTask, error) {
	return s.store.Task(ctx, taskOrProposalID)
}
