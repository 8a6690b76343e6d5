package auth

import (
	"context"
	"database/sql"
)

// PostgresStore persists API keys in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the api_keys table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS api_keys (
			id         VARCHAR(40) PRIMARY KEY,
			hash       VARCHAR(64) NOT NULL UNIQUE,
			agent_id   VARCHAR(80) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			last_used  TIMESTAMPTZ,
			revoked    BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(hash);
		CREATE INDEX IF NOT EXISTS idx_api_keys_agent ON api_keys(agent_id);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, key *APIKey) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, hash, agent_id, created_at, revoked)
		VALUES ($1, $2, $3, $4, $5)
	`, key.ID, key.Hash, key.AgentID, key.CreatedAt, key.Revoked)
	return err
}

func (p *PostgresStore) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	key := &APIKey{}
	var lastUsed sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT id, hash, agent_id, created_at, last_used, revoked
		FROM api_keys WHERE hash = $1
	`, hash).Scan(&key.ID, &key.Hash, &key.AgentID, &key.CreatedAt, &lastUsed, &key.Revoked)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		key.LastUsed = lastUsed.Time
	}
	return key, nil
}

func (p *PostgresStore) GetByAgent(ctx context.Context, agentID string) ([]*APIKey, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, hash, agent_id, created_at, last_used, revoked
		FROM api_keys WHERE agent_id = $1 ORDER BY created_at DESC
	`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*APIKey
	for rows.Next() {
		key := &APIKey{}
		var lastUsed sql.NullTime
		if err := rows.Scan(&key.ID, &key.Hash, &key.AgentID, &key.CreatedAt, &lastUsed, &key.Revoked); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			key.LastUsed = lastUsed.Time
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, key *APIKey) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used = $1, revoked = $2 WHERE id = $3
	`, key.LastUsed, key.Revoked, key.ID)
	return err
}
