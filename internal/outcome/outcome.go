// Package outcome holds the append-only JobOutcome log: the single
// source of truth the reputation engine recomputes scores from. Only the
// settlement engine appends to it; every other package only reads it.
package outcome

import (
	"context"
	"time"

	"github.com/mbd888/missionengine/internal/ledger"
)

// Verdict is the per-participant result of a settled mission.
type Verdict string

const (
	Pass    Verdict = "PASS"
	Fail    Verdict = "FAIL"
	Outlier Verdict = "OUTLIER"
)

// JobOutcome records one agent's result on one mission. Append-only:
// never updated or deleted once written.
type JobOutcome struct {
	AgentID      string
	MissionID    string
	Role         ledger.Role
	Verdict      Verdict
	RewardEarned int64 // smallest-unit, 0 if none
	BondSlashed  int64 // smallest-unit, 0 if none
	Rating       *int  // optional 1-5 quality rating, worker only
	At           time.Time
}

// Store is the append-only persistence interface for JobOutcome rows.
type Store interface {
	Append(ctx context.Context, o *JobOutcome) error
	ListByAgent(ctx context.Context, agentID string) ([]*JobOutcome, error)
	ListByMission(ctx context.Context, missionID string) ([]*JobOutcome, error)
}
