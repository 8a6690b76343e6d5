package indexer

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// PostgresStore is the durable chain-mirror store.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the cursor, agent, reputation-history and task tables.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS chain_event_cursors (
			stream     VARCHAR(32) PRIMARY KEY,
			last_block BIGINT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chain_processed_logs (
			stream    VARCHAR(32) NOT NULL,
			tx_hash   VARCHAR(80) NOT NULL,
			log_index INT NOT NULL,
			PRIMARY KEY (tx_hash, log_index)
		);

		CREATE TABLE IF NOT EXISTS chain_agents (
			address      VARCHAR(64) PRIMARY KEY,
			agent_type   SMALLINT NOT NULL DEFAULT 0,
			min_fee      NUMERIC(78,0) NOT NULL DEFAULT 0,
			min_bond     NUMERIC(78,0) NOT NULL DEFAULT 0,
			capabilities TEXT[] NOT NULL DEFAULT '{}',
			reputation   BIGINT NOT NULL DEFAULT 0,
			updated_at   TIMESTAMPTZ NOT NULL,
			updated_tx   VARCHAR(80) NOT NULL,
			updated_log  INT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chain_reputation_history (
			id         BIGSERIAL PRIMARY KEY,
			agent      VARCHAR(64) NOT NULL,
			old_score  BIGINT NOT NULL,
			new_score  BIGINT NOT NULL,
			reason     TEXT NOT NULL,
			tx_hash    VARCHAR(80) NOT NULL,
			log_index  INT NOT NULL,
			block_time TIMESTAMPTZ NOT NULL,
			UNIQUE (tx_hash, log_index)
		);
		CREATE INDEX IF NOT EXISTS idx_chain_reputation_agent ON chain_reputation_history(agent);

		CREATE TABLE IF NOT EXISTS chain_tasks (
			id          BIGSERIAL PRIMARY KEY,
			proposal_id VARCHAR(80) UNIQUE,
			task_id     VARCHAR(80) UNIQUE,
			proposer    VARCHAR(64) NOT NULL DEFAULT '',
			worker      VARCHAR(64) NOT NULL DEFAULT '',
			verifier    VARCHAR(64) NOT NULL DEFAULT '',
			escrow      NUMERIC(78,0) NOT NULL DEFAULT 0,
			deadline    TIMESTAMPTZ,
			objective   TEXT NOT NULL DEFAULT '',
			status      VARCHAR(16) NOT NULL DEFAULT '',
			success     BOOLEAN NOT NULL DEFAULT FALSE,
			payout      NUMERIC(78,0) NOT NULL DEFAULT 0,
			updated_at  TIMESTAMPTZ NOT NULL,
			updated_tx  VARCHAR(80) NOT NULL,
			updated_log INT NOT NULL
		);
	`)
	return err
}

func (p *PostgresStore) Cursor(ctx context.Context, stream Stream) (uint64, error) {
	var last int64
	err := p.db.QueryRowContext(ctx, `SELECT last_block FROM chain_event_cursors WHERE stream = $1`, string(stream)).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(last), nil
}

// ApplyWindow runs the whole window — dedup check, every mutation, and
// the cursor advance — inside one transaction so a crash mid-window
// never leaves the cursor ahead of an unprocessed log.
func (p *PostgresStore) ApplyWindow(ctx context.Context, stream Stream, newCursor uint64, entries []WindowEntry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range entries {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO chain_processed_logs (stream, tx_hash, log_index) VALUES ($1, $2, $3)
			ON CONFLICT (tx_hash, log_index) DO NOTHING
		`, string(stream), e.Key.TxHash, int(e.Key.LogIndex))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			continue // already processed in an earlier window; skip reapplying
		}
		if err := applyMutation(ctx, tx, e.Mutation); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chain_event_cursors (stream, last_block) VALUES ($1, $2)
		ON CONFLICT (stream) DO UPDATE SET last_block = GREATEST(chain_event_cursors.last_block, EXCLUDED.last_block)
	`, string(stream), int64(newCursor)); err != nil {
		return err
	}

	return tx.Commit()
}

func applyMutation(ctx context.Context, tx *sql.Tx, mut Mutation) error {
	if mut.UpsertAgent != nil {
		if err := upsertAgent(ctx, tx, mut.UpsertAgent); err != nil {
			return err
		}
	}
	if mut.AppendReputation != nil {
		if err := appendReputation(ctx, tx, mut.AppendReputation); err != nil {
			return err
		}
	}
	if mut.UpsertTask != nil {
		return upsertTask(ctx, tx, mut.UpsertTask)
	}
	return nil
}

func upsertAgent(ctx context.Context, tx *sql.Tx, a *ChainAgent) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chain_agents (address, agent_type, min_fee, min_bond, capabilities, reputation, updated_at, updated_tx, updated_log)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (address) DO UPDATE SET
			agent_type   = CASE WHEN EXCLUDED.min_fee <> 0 OR EXCLUDED.min_bond <> 0 THEN EXCLUDED.agent_type ELSE chain_agents.agent_type END,
			min_fee      = CASE WHEN EXCLUDED.min_fee <> 0 THEN EXCLUDED.min_fee ELSE chain_agents.min_fee END,
			min_bond     = CASE WHEN EXCLUDED.min_bond <> 0 THEN EXCLUDED.min_bond ELSE chain_agents.min_bond END,
			capabilities = CASE WHEN array_length(EXCLUDED.capabilities, 1) > 0 THEN EXCLUDED.capabilities ELSE chain_agents.capabilities END,
			reputation   = EXCLUDED.reputation,
			updated_at   = EXCLUDED.updated_at,
			updated_tx   = EXCLUDED.updated_tx,
			updated_log  = EXCLUDED.updated_log
	`, a.Address, int16(a.AgentType), a.MinFee, a.MinBond, pq.Array(a.Capabilities), a.Reputation, a.UpdatedAt, a.UpdatedTx, int(a.UpdatedLog))
	return err
}

func appendReputation(ctx context.Context, tx *sql.Tx, r *ReputationHistoryEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO chain_reputation_history (agent, old_score, new_score, reason, tx_hash, log_index, block_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`, r.Agent, r.OldScore, r.NewScore, r.Reason, r.TxHash, int(r.LogIndex), r.BlockTime)
	return err
}

func upsertTask(ctx context.Context, tx *sql.Tx, t *ChainTask) error {
	var deadline sql.NullTime
	if !t.Deadline.IsZero() {
		deadline = sql.NullTime{Time: t.Deadline, Valid: true}
	}
	var err error
	if t.ProposalID != "" {
		_, err = tx.ExecContext(ctx, `
		INSERT INTO chain_tasks (proposal_id, task_id, proposer, worker, verifier, escrow, deadline, objective, status, success, payout, updated_at, updated_tx, updated_log)
		VALUES (NULLIF($1,''), NULLIF($2,''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (proposal_id) DO UPDATE SET
			task_id     = CASE WHEN EXCLUDED.task_id IS NOT NULL THEN EXCLUDED.task_id ELSE chain_tasks.task_id END,
			worker      = CASE WHEN EXCLUDED.worker <> '' THEN EXCLUDED.worker ELSE chain_tasks.worker END,
			verifier    = CASE WHEN EXCLUDED.verifier <> '' THEN EXCLUDED.verifier ELSE chain_tasks.verifier END,
			status      = CASE WHEN EXCLUDED.status <> '' THEN EXCLUDED.status ELSE chain_tasks.status END,
			success     = CASE WHEN EXCLUDED.status = 'settled' THEN EXCLUDED.success ELSE chain_tasks.success END,
			payout      = CASE WHEN EXCLUDED.status = 'settled' THEN EXCLUDED.payout ELSE chain_tasks.payout END,
			updated_at  = EXCLUDED.updated_at,
			updated_tx  = EXCLUDED.updated_tx,
			updated_log = EXCLUDED.updated_log
	`, t.ProposalID, t.TaskID, t.Proposer, t.Worker, t.Verifier, t.Escrow, deadline, t.Objective, string(t.Status), t.Success, t.Payout, t.UpdatedAt, t.UpdatedTx, int(t.UpdatedLog))
	}
	if err != nil {
		return err
	}
	if t.ProposalID == "" && t.TaskID != "" {
		// Events after acceptance (WorkerBondPosted, TaskStarted, ...)
		// only carry task_id; the row already exists keyed by proposal_id
		// with task_id populated by ProposalAccepted, so target it directly.
		_, err = tx.ExecContext(ctx, `
			UPDATE chain_tasks SET
				worker      = CASE WHEN $2 <> '' THEN $2 ELSE worker END,
				status      = CASE WHEN $3 <> '' THEN $3 ELSE status END,
				success     = CASE WHEN $3 = 'settled' THEN $4 ELSE success END,
				payout      = CASE WHEN $3 = 'settled' THEN $5 ELSE payout END,
				updated_at  = $6,
				updated_tx  = $7,
				updated_log = $8
			WHERE task_id = $1
		`, t.TaskID, t.Worker, string(t.Status), t.Success, t.Payout, t.UpdatedAt, t.UpdatedTx, int(t.UpdatedLog))
	}
	return err
}

func (p *PostgresStore) Agent(ctx context.Context, address string) (*ChainAgent, error) {
	a := &ChainAgent{Address: address}
	var agentType int16
	var minFee, minBond string
	var caps []string
	err := p.db.QueryRowContext(ctx, `
		SELECT agent_type, min_fee, min_bond, capabilities, reputation, updated_at, updated_tx, updated_log
		FROM chain_agents WHERE address = $1
	`, address).Scan(&agentType, &minFee, &minBond, pq.Array(&caps), &a.Reputation, &a.UpdatedAt, &a.UpdatedTx, &a.UpdatedLog)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.AgentType = uint8(agentType)
	a.MinFee = minFee
	a.MinBond = minBond
	a.Capabilities = caps
	return a, nil
}

func (p *PostgresStore) ReputationHistory(ctx context.Context, address string) ([]ReputationHistoryEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT agent, old_score, new_score, reason, tx_hash, log_index, block_time
		FROM chain_reputation_history WHERE agent = $1 ORDER BY block_time ASC
	`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ReputationHistoryEntry
	for rows.Next() {
		var e ReputationHistoryEntry
		var logIndex int
		if err := rows.Scan(&e.Agent, &e.OldScore, &e.NewScore, &e.Reason, &e.TxHash, &logIndex, &e.BlockTime); err != nil {
			return nil, err
		}
		e.LogIndex = uint(logIndex)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Task(ctx context.Context, taskOrProposalID string) (*ChainTask, error) {
	t := &ChainTask{}
	var proposalID, taskID sql.NullString
	var deadline sql.NullTime
	var updatedLog int
	err := p.db.QueryRowContext(ctx, `
		SELECT proposal_id, task_id, proposer, worker, verifier, escrow, deadline, objective, status, success, payout, updated_at, updated_tx, updated_log
		FROM chain_tasks WHERE proposal_id = $1 OR task_id = $1
	`, taskOrProposalID).Scan(&proposalID, &taskID, &t.Proposer, &t.Worker, &t.Verifier, &t.Escrow, &deadline, &t.Objective, &t.Status, &t.Success, &t.Payout, &t.UpdatedAt, &t.UpdatedTx, &updatedLog)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.ProposalID = proposalID.String
	t.TaskID = taskID.String
	t.UpdatedLog = uint(updatedLog)
	if deadline.Valid {
		t.Deadline = deadline.Time
	}
	return t, nil
}
