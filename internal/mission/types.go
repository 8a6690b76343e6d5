// Package mission implements C8: the mission lifecycle state machine
// that orchestrates assignment (C4), bonds (C5), escrow (C6), dispatch
// (C9), and settlement (C7) behind one linearised-per-mission surface.
package mission

import (
	"time"

	"github.com/mbd888/missionengine/internal/amount"
	"github.com/mbd888/missionengine/internal/assignment"
	"github.com/mbd888/missionengine/internal/consensus"
)

// Status is a mission's position in the lifecycle defined by spec §4.8:
// posted -> (bidding_open?) -> assigned -> executing -> verifying ->
// settled | failed. Transitions never move backwards in this order,
// except verifying -> executing via Revise, which is explicitly bounded.
type Status string

const (
	StatusPosted      Status = "posted"
	StatusBiddingOpen Status = "bidding_open"
	StatusAssigned    Status = "assigned"
	StatusExecuting   Status = "executing"
	StatusVerifying   Status = "verifying"
	StatusSettled     Status = "settled"
	StatusFailed      Status = "failed"
)

// IsTerminal reports whether s is a terminal status; missions become
// immutable after reaching one (spec §3 LIFECYCLES).
func (s Status) IsTerminal() bool {
	return s == StatusSettled || s == StatusFailed
}

// FailureReason names why a mission reached StatusFailed, matching the
// domain error kinds in spec §7.
type FailureReason string

const (
	ReasonNoBidders         FailureReason = "NoBidders"
	ReasonNoEligibleAgents  FailureReason = "NoEligibleAgents"
	ReasonDeadlineExpired   FailureReason = "DeadlineExpired"
	ReasonInvalidDirectHire FailureReason = "InvalidDirectHire"
	ReasonSettlementFailed  FailureReason = "SettlementFailed"
)

// AssignmentMode is the requester's chosen worker-selection policy.
type AssignmentMode string

const (
	ModeAutopilot  AssignmentMode = "autopilot"
	ModeBidding    AssignmentMode = "bidding"
	ModeDirectHire AssignmentMode = "direct_hire"
)

// Risk is the mission's risk tier, which determines required verifier
// count per spec §4.3.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Artifact is one submitted work product (spec §3's artifacts entry).
type Artifact struct {
	Digest    string
	Size      int64
	Submitter string
}

// Mission is spec's Mission entity (§3), including subtasks' shared
// shape (a Subtask is the same record with ParentID set and no
// requester of its own).
type Mission struct {
	MissionID        string
	ParentID         string // set for crew subtasks; empty for top-level missions
	RequesterID      string
	Objective        string
	Reward           amount.Amount
	Deadline         time.Time
	Specialties      []string
	Risk             Risk
	AssignmentMode   AssignmentMode
	DirectHireTarget string

	Status        Status
	FailureReason FailureReason

	AssignedWorker     string
	AssignedVerifiers  []string
	RequiredVerifiers  int
	Bids               []assignment.Bid
	BiddingCloseAt     *time.Time
	Artifacts          []Artifact
	Votes              []consensus.Vote
	Revisions          int

	CreatedAt  time.Time
	AssignedAt *time.Time
	StartedAt  *time.Time
	SubmitAt   *time.Time
	SettledAt  *time.Time
}

// Query filters mission listings.
type Query struct {
	RequesterID string
	Status      Status
	Limit       int
	Offset      int
}
