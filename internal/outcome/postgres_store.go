package outcome

import (
	"context"
	"database/sql"
)

// PostgresStore is the durable append-only JobOutcome log.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the job_outcomes table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS job_outcomes (
			id             BIGSERIAL PRIMARY KEY,
			agent_id       VARCHAR(64) NOT NULL,
			mission_id     VARCHAR(64) NOT NULL,
			role           VARCHAR(16) NOT NULL,
			verdict        VARCHAR(16) NOT NULL,
			reward_earned  BIGINT NOT NULL DEFAULT 0,
			bond_slashed   BIGINT NOT NULL DEFAULT 0,
			rating         SMALLINT,
			at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_job_outcomes_agent ON job_outcomes(agent_id);
		CREATE INDEX IF NOT EXISTS idx_job_outcomes_mission ON job_outcomes(mission_id);
	`)
	return err
}

func (p *PostgresStore) Append(ctx context.Context, o *JobOutcome) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO job_outcomes (agent_id, mission_id, role, verdict, reward_earned, bond_slashed, rating, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, o.AgentID, o.MissionID, o.Role, o.Verdict, o.RewardEarned, o.BondSlashed, o.Rating, o.At)
	return err
}

func (p *PostgresStore) ListByAgent(ctx context.Context, agentID string) ([]*JobOutcome, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT agent_id, mission_id, role, verdict, reward_earned, bond_slashed, rating, at
		FROM job_outcomes WHERE agent_id = $1 ORDER BY at ASC
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOutcomes(rows)
}

func (p *PostgresStore) ListByMission(ctx context.Context, missionID string) ([]*JobOutcome, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT agent_id, mission_id, role, verdict, reward_earned, bond_slashed, rating, at
		FROM job_outcomes WHERE mission_id = $1 ORDER BY at ASC
	`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOutcomes(rows)
}

func scanOutcomes(rows *sql.Rows) ([]*JobOutcome, error) {
	var out []*JobOutcome
	for rows.Next() {
		o := &JobOutcome{}
		if err := rows.Scan(&o.AgentID, &o.MissionID, &o.Role, &o.Verdict, &o.RewardEarned, &o.BondSlashed, &o.Rating, &o.At); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
