package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore is the durable dispatch queue.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tasks and agent_poll_state tables.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS dispatch_tasks (
			task_id    VARCHAR(64) PRIMARY KEY,
			agent_id   VARCHAR(64) NOT NULL,
			payload    JSONB NOT NULL,
			priority   VARCHAR(16) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			acked      BOOLEAN NOT NULL DEFAULT FALSE,
			acked_at   TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_dispatch_tasks_agent ON dispatch_tasks(agent_id, acked, expires_at);

		CREATE TABLE IF NOT EXISTS dispatch_poll_state (
			agent_id  VARCHAR(64) PRIMARY KEY,
			last_poll TIMESTAMPTZ NOT NULL
		);
	`)
	return err
}

func (p *PostgresStore) Enqueue(ctx context.Context, t *Task) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO dispatch_tasks (task_id, agent_id, payload, priority, created_at, expires_at, acked, acked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.TaskID, t.AgentID, []byte(t.Payload), t.Priority, t.CreatedAt, t.ExpiresAt, t.Acked, t.AckedAt)
	return err
}

func (p *PostgresStore) Poll(ctx context.Context, agentID string, limit int, at time.Time) ([]*Task, bool, error) {
	// Fetch one extra row to detect hasMore without a second COUNT query.
	fetchLimit := limit + 1
	rows, err := p.db.QueryContext(ctx, `
		SELECT task_id, agent_id, payload, priority, created_at, expires_at, acked, acked_at
		FROM dispatch_tasks
		WHERE agent_id = $1 AND acked = FALSE AND expires_at > $2
		ORDER BY CASE priority WHEN 'high' THEN 3 WHEN 'normal' THEN 2 ELSE 1 END DESC, created_at ASC
		LIMIT $3
	`, agentID, at, fetchLimit)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var out []*Task
	for rows.Next() {
		t := &Task{}
		var payload []byte
		if err := rows.Scan(&t.TaskID, &t.AgentID, &payload, &t.Priority, &t.CreatedAt, &t.ExpiresAt, &t.Acked, &t.AckedAt); err != nil {
			return nil, false, err
		}
		t.Payload = payload
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := limit > 0 && len(out) > limit
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, hasMore, nil
}

func (p *PostgresStore) Ack(ctx context.Context, taskIDs []string, at time.Time) error {
	if len(taskIDs) == 0 {
		return nil
	}
	query := `UPDATE dispatch_tasks SET acked = TRUE, acked_at = $1 WHERE acked = FALSE AND task_id = ANY($2)`
	_, err := p.db.ExecContext(ctx, query, at, pq.Array(taskIDs))
	return err
}

func (p *PostgresStore) RecordPoll(ctx context.Context, agentID string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO dispatch_poll_state (agent_id, last_poll) VALUES ($1, $2)
		ON CONFLICT (agent_id) DO UPDATE SET last_poll = EXCLUDED.last_poll
	`, agentID, at)
	return err
}

func (p *PostgresStore) LastPoll(ctx context.Context, agentID string) (time.Time, error) {
	var t time.Time
	err := p.db.QueryRowContext(ctx, `SELECT last_poll FROM dispatch_poll_state WHERE agent_id = $1`, agentID).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	return t, err
}
