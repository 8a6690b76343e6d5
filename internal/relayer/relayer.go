// Package relayer implements C11: the signing relayer. It builds
// EIP-712 typed-data messages for privileged on-chain transitions and
// signs them with the platform's relayer key, after a set of pre-sign
// safety checks that never let the relayer endorse a transition the
// chain or the off-chain engine no longer believes in. The relayer
// never submits transactions itself — it only issues a signature the
// caller takes on-chain.
package relayer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	cmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/mbd888/missionengine/internal/indexer"
	"github.com/mbd888/missionengine/internal/ratelimit"
	"github.com/mbd888/missionengine/internal/traces"
)

// SafetyRejection is a denial with a human-readable reason; it is not a
// transient failure and should not be retried as-is.
type SafetyRejection struct{ Reason string }

func (e *SafetyRejection) Error() string { return "relayer: safety rejection: " + e.Reason }

// ErrUpstreamUnavailable means the relayer could not read the proposal
// state it needed to evaluate the safety checks; callers should retry.
var ErrUpstreamUnavailable = errors.New("relayer: upstream proposal lookup unavailable")

// ErrRateLimited means the caller has exceeded its requests-per-minute budget.
var ErrRateLimited = errors.New("relayer: rate limited")

// ProposalLookup reads the chain-mirrored proposal/task state the
// relayer checks before signing. Backed by internal/indexer in
// production; the relayer never talks to the chain RPC directly.
type ProposalLookup interface {
	Task(ctx context.Context, proposalID string) (*indexer.ChainTask, error)
}

// Config configures a Service.
type Config struct {
	Name              string // EIP-712 domain name
	ChainID           int64
	VerifyingContract common.Address
	SignerKey         *ecdsa.PrivateKey
	MaxEscrow         *big.Int
	RateLimitPerMin   int
}

const DefaultRateLimitPerMinute = 10

// AuditEntry is one append-only record of a signature the relayer issued.
type AuditEntry struct {
	ProposalID string
	MessageType string // "AcceptProposal" | "RejectProposal"
	Digest      string
	Signature   string
	Fields      map[string]string
	SignedAt    time.Time
}

// Store persists the signing audit log.
type Store interface {
	Append(ctx context.Context, e *AuditEntry) error
	List(ctx context.Context, proposalID string) ([]AuditEntry, error)
}

// Service is C11: the signing relayer.
type Service struct {
	lookup  ProposalLookup
	store   Store
	limiter *ratelimit.Limiter
	cfg     Config
}

// NewService constructs a relayer Service. limiter may be shared with
// the HTTP facade's own rate limiting.
func NewService(lookup ProposalLookup, store Store, limiter *ratelimit.Limiter, cfg Config) *Service {
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = DefaultRateLimitPerMinute
	}
	return &Service{lookup: lookup, store: store, limiter: limiter, cfg: cfg}
}

// AcceptRequest is the input to AcceptProposal.
type AcceptRequest struct {
	ProposalID string
	Worker     common.Address
	Verifier   common.Address
	WorkerBond *big.Int
	Deadline   time.Time
	ClientIP   string
}

// SignedMessage is what the relayer hands back: the typed-data digest
// and the signature over it, ready for the caller to submit on-chain.
type SignedMessage struct {
	Digest    string
	Signature string
}

// AcceptProposal runs the pre-sign safety checks and, if they pass,
// signs an AcceptProposal typed-data message.
func (s *Service) AcceptProposal(ctx context.Context, req AcceptRequest) (*SignedMessage, error) {
	ctx, span := traces.StartSpan(ctx, "relayer.AcceptProposal")
	defer span.End()

	if !s.allow(req.ClientIP) {
		return nil, ErrRateLimited
	}
	if _, err := s.checkProposal(ctx, req.ProposalID, req.Deadline); err != nil {
		return nil, err
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainFields(),
			"AcceptProposal": []apitypes.Type{
				{Name: "proposalId", Type: "uint256"},
				{Name: "worker", Type: "address"},
				{Name: "verifier", Type: "address"},
				{Name: "workerBond", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "AcceptProposal",
		Domain:      s.domain(),
		Message: apitypes.TypedDataMessage{
			"proposalId": req.ProposalID,
			"worker":     req.Worker.Hex(),
			"verifier":   req.Verifier.Hex(),
			"workerBond": req.WorkerBond.String(),
			"deadline":   fmt.Sprintf("%d", req.Deadline.Unix()),
		},
	}

	fields := map[string]string{
		"proposalId": req.ProposalID,
		"worker":     req.Worker.Hex(),
		"verifier":   req.Verifier.Hex(),
		"workerBond": req.WorkerBond.String(),
		"deadline":   fmt.Sprintf("%d", req.Deadline.Unix()),
	}
	return s.signAndAudit(ctx, req.ProposalID, "AcceptProposal", typedData, fields)
}

// RejectRequest is the input to RejectProposal.
type RejectRequest struct {
	ProposalID string
	Reason     string
	Deadline   time.Time
	ClientIP   string
}

// RejectProposal runs the pre-sign safety checks and, if they pass,
// signs a RejectProposal typed-data message.
func (s *Service) RejectProposal(ctx context.Context, req RejectRequest) (*SignedMessage, error) {
	ctx, span := traces.StartSpan(ctx, "relayer.RejectProposal")
	defer span.End()

	if !s.allow(req.ClientIP) {
		return nil, ErrRateLimited
	}
	if _, err := s.checkProposal(ctx, req.ProposalID, req.Deadline); err != nil {
		return nil, err
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainFields(),
			"RejectProposal": []apitypes.Type{
				{Name: "proposalId", Type: "uint256"},
				{Name: "reason", Type: "string"},
				{Name: "deadline", Type: "uint256"},
			},
		},
		PrimaryType: "RejectProposal",
		Domain:      s.domain(),
		Message: apitypes.TypedDataMessage{
			"proposalId": req.ProposalID,
			"reason":     req.Reason,
			"deadline":   fmt.Sprintf("%d", req.Deadline.Unix()),
		},
	}

	fields := map[string]string{
		"proposalId": req.ProposalID,
		"reason":     req.Reason,
		"deadline":   fmt.Sprintf("%d", req.Deadline.Unix()),
	}
	return s.signAndAudit(ctx, req.ProposalID, "RejectProposal", typedData, fields)
}

func (s *Service) allow(clientIP string) bool {
	if s.limiter == nil || clientIP == "" {
		return true
	}
	return s.limiter.AllowWithLimit(clientIP, s.cfg.RateLimitPerMin, s.cfg.RateLimitPerMin)
}

// checkProposal enforces the three safety checks common to both message
// types: the proposal exists on chain and is pending, its escrow is within
// the configured maximum, and the requested signature deadline is in the
// future.
func (s *Service) checkProposal(ctx context.Context, proposalID string, deadline time.Time) (*indexer.ChainTask, error) {
	task, err := s.lookup.Task(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if task == nil {
		return nil, &SafetyRejection{Reason: "proposal not found on chain"}
	}
	if task.Status != indexer.ChainTaskSubmitted {
		return nil, &SafetyRejection{Reason: fmt.Sprintf("proposal is not pending (status=%s)", task.Status)}
	}
	if s.cfg.MaxEscrow != nil {
		escrow, ok := new(big.Int).SetString(task.Escrow, 10)
		if !ok {
			return nil, &SafetyRejection{Reason: "proposal escrow is not a valid integer"}
		}
		if escrow.Cmp(s.cfg.MaxEscrow) > 0 {
			return nil, &SafetyRejection{Reason: "proposal escrow exceeds configured maximum"}
		}
	}
	if !deadline.After(time.Now()) {
		return nil, &SafetyRejection{Reason: "deadline is not in the future"}
	}
	return task, nil
}

func domainFields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}
}

func (s *Service) domain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              s.cfg.Name,
		Version:           "1",
		ChainId:           cmath.NewHexOrDecimal256(s.cfg.ChainID),
		VerifyingContract: s.cfg.VerifyingContract.Hex(),
	}
}

func (s *Service) signAndAudit(ctx context.Context, proposalID, messageType string, typedData apitypes.TypedData, fields map[string]string) (*SignedMessage, error) {
	hash, _, err := typedData.TypedDataAndHash()
	if err != nil {
		return nil, fmt.Errorf("relayer: hash typed data: %w", err)
	}
	sig, err := crypto.Sign(hash, s.cfg.SignerKey)
	if err != nil {
		return nil, fmt.Errorf("relayer: sign: %w", err)
	}
	// Normalize v to 27/28 for on-chain ecrecover compatibility.
	sig[64] += 27

	digestHex := "0x" + strings.ToLower(common.Bytes2Hex(hash))
	sigHex := "0x" + strings.ToLower(common.Bytes2Hex(sig))

	if err := s.store.Append(ctx, &AuditEntry{
		ProposalID:  proposalID,
		MessageType: messageType,
		Digest:      digestHex,
		Signature:   sigHex,
		Fields:      fields,
		SignedAt:    time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("relayer: audit log append: %w", err)
	}

	return &SignedMessage{Digest: digestHex, Signature: sigHex}, nil
}
