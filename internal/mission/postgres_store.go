package mission

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/lib/pq"
	"github.com/mbd888/missionengine/internal/amount"
)

// PostgresStore is the durable mission store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the missions table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS missions (
			mission_id          VARCHAR(64) PRIMARY KEY,
			parent_id           VARCHAR(64) NOT NULL DEFAULT '',
			requester_id        VARCHAR(64) NOT NULL,
			objective           TEXT NOT NULL,
			reward              BIGINT NOT NULL,
			deadline            TIMESTAMPTZ NOT NULL,
			specialties         TEXT[] NOT NULL DEFAULT '{}',
			risk                VARCHAR(16) NOT NULL,
			assignment_mode     VARCHAR(16) NOT NULL,
			direct_hire_target  VARCHAR(64) NOT NULL DEFAULT '',
			status              VARCHAR(16) NOT NULL,
			failure_reason      VARCHAR(32) NOT NULL DEFAULT '',
			assigned_worker     VARCHAR(64) NOT NULL DEFAULT '',
			assigned_verifiers  TEXT[] NOT NULL DEFAULT '{}',
			required_verifiers  INT NOT NULL DEFAULT 0,
			bids                JSONB NOT NULL DEFAULT '[]',
			bidding_close_at    TIMESTAMPTZ,
			artifacts           JSONB NOT NULL DEFAULT '[]',
			votes               JSONB NOT NULL DEFAULT '[]',
			revisions           INT NOT NULL DEFAULT 0,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			assigned_at         TIMESTAMPTZ,
			started_at          TIMESTAMPTZ,
			submit_at           TIMESTAMPTZ,
			settled_at          TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_missions_status ON missions(status);
		CREATE INDEX IF NOT EXISTS idx_missions_requester ON missions(requester_id);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, m *Mission) error {
	bids, err := json.Marshal(m.Bids)
	if err != nil {
		return err
	}
	artifacts, err := json.Marshal(m.Artifacts)
	if err != nil {
		return err
	}
	votes, err := json.Marshal(m.Votes)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO missions (
			mission_id, parent_id, requester_id, objective, reward, deadline, specialties, risk,
			assignment_mode, direct_hire_target, status, failure_reason, assigned_worker,
			assigned_verifiers, required_verifiers, bids, bidding_close_at, artifacts, votes,
			revisions, created_at, assigned_at, started_at, submit_at, settled_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)
	`,
		m.MissionID, m.ParentID, m.RequesterID, m.Objective, int64(m.Reward), m.Deadline, pq.Array(m.Specialties), m.Risk,
		m.AssignmentMode, m.DirectHireTarget, m.Status, m.FailureReason, m.AssignedWorker,
		pq.Array(m.AssignedVerifiers), m.RequiredVerifiers, bids, m.BiddingCloseAt, artifacts, votes,
		m.Revisions, m.CreatedAt, m.AssignedAt, m.StartedAt, m.SubmitAt, m.SettledAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return errors.New("mission: duplicate mission_id")
	}
	return err
}

func scanMission(row interface {
	Scan(dest ...interface{}) error
}) (*Mission, error) {
	m := &Mission{}
	var reward int64
	var specialties, verifiers []string
	var bids, artifacts, votes []byte
	err := row.Scan(
		&m.MissionID, &m.ParentID, &m.RequesterID, &m.Objective, &reward, &m.Deadline, pq.Array(&specialties), &m.Risk,
		&m.AssignmentMode, &m.DirectHireTarget, &m.Status, &m.FailureReason, &m.AssignedWorker,
		pq.Array(&verifiers), &m.RequiredVerifiers, &bids, &m.BiddingCloseAt, &artifacts, &votes,
		&m.Revisions, &m.CreatedAt, &m.AssignedAt, &m.StartedAt, &m.SubmitAt, &m.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	m.Reward = amount.Amount(reward)
	m.Specialties = specialties
	m.AssignedVerifiers = verifiers
	if len(bids) > 0 {
		if err := json.Unmarshal(bids, &m.Bids); err != nil {
			return nil, err
		}
	}
	if len(artifacts) > 0 {
		if err := json.Unmarshal(artifacts, &m.Artifacts); err != nil {
			return nil, err
		}
	}
	if len(votes) > 0 {
		if err := json.Unmarshal(votes, &m.Votes); err != nil {
			return nil, err
		}
	}
	return m, nil
}

const selectColumns = `
	mission_id, parent_id, requester_id, objective, reward, deadline, specialties, risk,
	assignment_mode, direct_hire_target, status, failure_reason, assigned_worker,
	assigned_verifiers, required_verifiers, bids, bidding_close_at, artifacts, votes,
	revisions, created_at, assigned_at, started_at, submit_at, settled_at
`

func (p *PostgresStore) Get(ctx context.Context, missionID string) (*Mission, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM missions WHERE mission_id = $1`, missionID)
	m, err := scanMission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func (p *PostgresStore) Update(ctx context.Context, m *Mission) error {
	bids, err := json.Marshal(m.Bids)
	if err != nil {
		return err
	}
	artifacts, err := json.Marshal(m.Artifacts)
	if err != nil {
		return err
	}
	votes, err := json.Marshal(m.Votes)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE missions SET
			status=$2, failure_reason=$3, assigned_worker=$4, assigned_verifiers=$5,
			required_verifiers=$6, bids=$7, bidding_close_at=$8, artifacts=$9, votes=$10,
			revisions=$11, assigned_at=$12, started_at=$13, submit_at=$14, settled_at=$15
		WHERE mission_id = $1
	`,
		m.MissionID, m.Status, m.FailureReason, m.AssignedWorker, pq.Array(m.AssignedVerifiers),
		m.RequiredVerifiers, bids, m.BiddingCloseAt, artifacts, votes,
		m.Revisions, m.AssignedAt, m.StartedAt, m.SubmitAt, m.SettledAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, q Query) ([]*Mission, error) {
	query := `SELECT ` + selectColumns + ` FROM missions WHERE TRUE`
	var args []interface{}
	n := 1
	if q.RequesterID != "" {
		query += ` AND requester_id = $` + strconv.Itoa(n)
		args = append(args, q.RequesterID)
		n++
	}
	if q.Status != "" {
		query += ` AND status = $` + strconv.Itoa(n)
		args = append(args, q.Status)
		n++
	}
	query += ` ORDER BY created_at ASC`
	if q.Limit > 0 {
		query += ` LIMIT $` + strconv.Itoa(n)
		args = append(args, q.Limit)
		n++
	}
	if q.Offset > 0 {
		query += ` OFFSET $` + strconv.Itoa(n)
		args = append(args, q.Offset)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
