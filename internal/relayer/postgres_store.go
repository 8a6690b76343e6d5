package relayer

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PostgresStore is the durable, append-only signing audit log.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

// Migrate creates the signing_audit_log table. Rows are never updated
// or deleted by application code.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS signing_audit_log (
			id           BIGSERIAL PRIMARY KEY,
			proposal_id  VARCHAR(80) NOT NULL,
			message_type VARCHAR(32) NOT NULL,
			digest       VARCHAR(80) NOT NULL,
			signature    VARCHAR(160) NOT NULL,
			fields       JSONB NOT NULL,
			signed_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_signing_audit_proposal ON signing_audit_log(proposal_id);
	`)
	return err
}

func (p *PostgresStore) Append(ctx context.Context, e *AuditEntry) error {
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO signing_audit_log (proposal_id, message_type, digest, signature, fields, signed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ProposalID, e.MessageType, e.Digest, e.Signature, fields, e.SignedAt)
	return err
}

func (p *PostgresStore) List(ctx context.Context, proposalID string) ([]AuditEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT proposal_id, message_type, digest, signature, fields, signed_at
		FROM signing_audit_log WHERE proposal_id = $1 ORDER BY signed_at ASC
	`, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var fields []byte
		if err := rows.Scan(&e.ProposalID, &e.MessageType, &e.Digest, &e.Signature, &fields, &e.SignedAt); err != nil {
			return nil, err
		}
		if len(fields) > 0 {
			if err := json.Unmarshal(fields, &e.Fields); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
