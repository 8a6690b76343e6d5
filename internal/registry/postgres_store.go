package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/lib/pq"
	"github.com/mbd888/missionengine/internal/amount"
)

// PostgresStore is the durable agent directory.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the agents table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS agents (
			agent_id      VARCHAR(64) PRIMARY KEY,
			address       VARCHAR(64) NOT NULL,
			role          VARCHAR(16) NOT NULL,
			capabilities  TEXT[] NOT NULL DEFAULT '{}',
			min_fee       BIGINT NOT NULL DEFAULT 0,
			min_bond      BIGINT NOT NULL DEFAULT 0,
			reputation    INT NOT NULL DEFAULT 50,
			active        BOOLEAN NOT NULL DEFAULT TRUE,
			neural_spec   JSONB NOT NULL DEFAULT '{}',
			registered_by VARCHAR(64),
			registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_agents_role ON agents(role);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, a *Agent) error {
	spec, err := json.Marshal(a.NeuralSpec)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO agents (agent_id, address, role, capabilities, min_fee, min_bond, reputation, active, neural_spec, registered_by, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, a.AgentID, a.Address, a.Role, pq.Array(a.Capabilities), int64(a.MinFee), int64(a.MinBond), a.Reputation, a.Active, spec, a.RegisteredBy, a.RegisteredAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrAgentExists
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, agentID string) (*Agent, error) {
	a := &Agent{}
	var minFee, minBond int64
	var capabilities []string
	var spec []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT agent_id, address, role, capabilities, min_fee, min_bond, reputation, active, neural_spec, registered_by, registered_at
		FROM agents WHERE agent_id = $1
	`, agentID).Scan(&a.AgentID, &a.Address, &a.Role, pq.Array(&capabilities), &minFee, &minBond, &a.Reputation, &a.Active, &spec, &a.RegisteredBy, &a.RegisteredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Capabilities = capabilities
	a.MinFee = amount.Amount(minFee)
	a.MinBond = amount.Amount(minBond)
	if len(spec) > 0 {
		if err := json.Unmarshal(spec, &a.NeuralSpec); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (p *PostgresStore) Update(ctx context.Context, a *Agent) error {
	spec, err := json.Marshal(a.NeuralSpec)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE agents SET address=$2, role=$3, capabilities=$4, min_fee=$5, min_bond=$6, reputation=$7, active=$8, neural_spec=$9
		WHERE agent_id = $1
	`, a.AgentID, a.Address, a.Role, pq.Array(a.Capabilities), int64(a.MinFee), int64(a.MinBond), a.Reputation, a.Active, spec)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, q Query) ([]*Agent, error) {
	query := `SELECT agent_id, address, role, capabilities, min_fee, min_bond, reputation, active, neural_spec, registered_by, registered_at FROM agents WHERE TRUE`
	var args []interface{}
	n := 1
	if q.Role != "" {
		query += ` AND role = $` + strconv.Itoa(n)
		args = append(args, q.Role)
		n++
	}
	if q.ActiveOnly {
		query += ` AND active = TRUE`
	}
	if q.MinReputation > 0 {
		query += ` AND reputation >= $` + strconv.Itoa(n)
		args = append(args, q.MinReputation)
		n++
	}
	if q.Capability != "" {
		query += ` AND $` + strconv.Itoa(n) + ` = ANY(capabilities)`
		args = append(args, q.Capability)
		n++
	}
	query += ` ORDER BY registered_at ASC`
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

	var out []*Agent
	for rows.Next() {
		a := &Agent{}
		var minFee, minBond int64
		var capabilities []string
		var spec []byte
		if err := rows.Scan(&a.AgentID, &a.Address, &a.Role, pq.Array(&capabilities), &minFee, &minBond, &a.Reputation, &a.Active, &spec, &a.RegisteredBy, &a.RegisteredAt); err != nil {
			return nil, err
		}
		a.Capabilities = capabilities
		a.MinFee = amount.Amount(minFee)
		a.MinBond = amount.Amount(minBond)
		if len(spec) > 0 {
			json.Unmarshal(spec, &a.NeuralSpec)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

