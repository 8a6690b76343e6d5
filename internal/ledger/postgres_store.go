package ledger

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/mbd888/missionengine/internal/amount"
)

// PostgresStore implements Store with PostgreSQL. Balance credits use
// ON CONFLICT upserts; a repeated escrow or bond lock hits the primary
// key and returns ErrDoubleLock.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger tables.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS balances (
			owner      VARCHAR(64) PRIMARY KEY,
			amount     BIGINT NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS escrows (
			mission_id     VARCHAR(64) PRIMARY KEY,
			owner          VARCHAR(64) NOT NULL,
			amount         BIGINT NOT NULL,
			state          VARCHAR(16) NOT NULL,
			released_to    VARCHAR(64),
			slashed_amount BIGINT NOT NULL DEFAULT 0,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at    TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS bonds (
			mission_id   VARCHAR(64) NOT NULL,
			role         VARCHAR(16) NOT NULL,
			agent        VARCHAR(64) NOT NULL,
			amount       BIGINT NOT NULL,
			state        VARCHAR(16) NOT NULL,
			staked_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			resolved_at  TIMESTAMPTZ,
			PRIMARY KEY (mission_id, role, agent)
		);

		CREATE INDEX IF NOT EXISTS idx_bonds_mission ON bonds(mission_id);
		CREATE INDEX IF NOT EXISTS idx_escrows_owner ON escrows(owner);
	`)
	return err
}

func (p *PostgresStore) Balance(ctx context.Context, owner string) (amount.Amount, error) {
	var bal int64
	err := p.db.QueryRowContext(ctx, `SELECT amount FROM balances WHERE owner = $1`, owner).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return amount.Amount(bal), nil
}

func (p *PostgresStore) Credit(ctx context.Context, owner string, amt amount.Amount) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO balances (owner, amount) VALUES ($1, $2)
		ON CONFLICT (owner) DO UPDATE SET amount = balances.amount + EXCLUDED.amount
	`, owner, int64(amt))
	return err
}

func (p *PostgresStore) Debit(ctx context.Context, owner string, amt amount.Amount) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE balances SET amount = amount - $2 WHERE owner = $1 AND amount >= $2
	`, owner, int64(amt))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

func (p *PostgresStore) LockEscrow(ctx context.Context, missionID, owner string, amt amount.Amount) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO escrows (mission_id, owner, amount, state) VALUES ($1, $2, $3, $4)
	`, missionID, owner, int64(amt), EscrowLocked)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDoubleLock
	}
	return err
}

func (p *PostgresStore) GetEscrow(ctx context.Context, missionID string) (*EscrowRecord, error) {
	rec := &EscrowRecord{MissionID: missionID}
	var amt, slashed int64
	var releasedTo sql.NullString
	var resolvedAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT owner, amount, state, released_to, slashed_amount, created_at, resolved_at
		FROM escrows WHERE mission_id = $1
	`, missionID).Scan(&rec.Owner, &amt, &rec.State, &releasedTo, &slashed, &rec.CreatedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSuchEscrow
	}
	if err != nil {
		return nil, err
	}
	rec.Amount = amount.Amount(amt)
	rec.SlashedAmount = amount.Amount(slashed)
	if releasedTo.Valid {
		rec.ReleasedTo = releasedTo.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		rec.ResolvedAt = &t
	}
	return rec, nil
}

func (p *PostgresStore) ReleaseEscrow(ctx context.Context, missionID, to string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var amt int64
	var owner string
	var state EscrowState
	err = tx.QueryRowContext(ctx, `SELECT amount, owner, state FROM escrows WHERE mission_id = $1 FOR UPDATE`, missionID).Scan(&amt, &owner, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoSuchEscrow
	}
	if err != nil {
		return err
	}
	if state != EscrowLocked {
		return ErrAlreadyResolved
	}
	if _, err := tx.ExecContext(ctx, `UPDATE balances SET amount = amount - $2 WHERE owner = $1`, owner, amt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO balances (owner, amount) VALUES ($1, $2)
		ON CONFLICT (owner) DO UPDATE SET amount = balances.amount + EXCLUDED.amount
	`, to, amt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE escrows SET state = $2, released_to = $3, resolved_at = NOW() WHERE mission_id = $1
	`, missionID, EscrowReleased, to); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) SlashEscrow(ctx context.Context, missionID string, slashed amount.Amount, refundTo string, refund amount.Amount) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var amt int64
	var owner string
	var state EscrowState
	err = tx.QueryRowContext(ctx, `SELECT amount, owner, state FROM escrows WHERE mission_id = $1 FOR UPDATE`, missionID).Scan(&amt, &owner, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoSuchEscrow
	}
	if err != nil {
		return err
	}
	if state != EscrowLocked {
		return ErrAlreadyResolved
	}
	if _, err := tx.ExecContext(ctx, `UPDATE balances SET amount = amount - $2 WHERE owner = $1`, owner, amt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO balances (owner, amount) VALUES ($1, $2)
		ON CONFLICT (owner) DO UPDATE SET amount = balances.amount + EXCLUDED.amount
	`, TreasuryAddr, int64(slashed)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO balances (owner, amount) VALUES ($1, $2)
		ON CONFLICT (owner) DO UPDATE SET amount = balances.amount + EXCLUDED.amount
	`, refundTo, int64(refund)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE escrows SET state = $2, released_to = $3, slashed_amount = $4, resolved_at = NOW() WHERE mission_id = $1
	`, missionID, EscrowSlashed, refundTo, int64(slashed)); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) LockBond(ctx context.Context, missionID string, role Role, agent string, amt amount.Amount) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO bonds (mission_id, role, agent, amount, state) VALUES ($1, $2, $3, $4, $5)
	`, missionID, role, agent, int64(amt), BondLocked)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDoubleLock
	}
	return err
}

func (p *PostgresStore) GetBond(ctx context.Context, missionID string, role Role, agent string) (*BondRecord, error) {
	rec := &BondRecord{MissionID: missionID, Role: role, Agent: agent}
	var amt int64
	var resolvedAt sql.NullTime
	err := p.db.QueryRowContext(ctx, `
		SELECT amount, state, staked_at, resolved_at FROM bonds WHERE mission_id = $1 AND role = $2 AND agent = $3
	`, missionID, role, agent).Scan(&amt, &rec.State, &rec.StakedAt, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSuchBond
	}
	if err != nil {
		return nil, err
	}
	rec.Amount = amount.Amount(amt)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		rec.ResolvedAt = &t
	}
	return rec, nil
}

func (p *PostgresStore) ListBonds(ctx context.Context, missionID string) ([]*BondRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT role, agent, amount, state, staked_at, resolved_at FROM bonds WHERE mission_id = $1
	`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*BondRecord
	for rows.Next() {
		rec := &BondRecord{MissionID: missionID}
		var amt int64
		var resolvedAt sql.NullTime
		if err := rows.Scan(&rec.Role, &rec.Agent, &amt, &rec.State, &rec.StakedAt, &resolvedAt); err != nil {
			return nil, err
		}
		rec.Amount = amount.Amount(amt)
		if resolvedAt.Valid {
			t := resolvedAt.Time
			rec.ResolvedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ReleaseBond(ctx context.Context, missionID string, role Role, agent string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var state BondState
	err = tx.QueryRowContext(ctx, `
		SELECT state FROM bonds WHERE mission_id = $1 AND role = $2 AND agent = $3 FOR UPDATE
	`, missionID, role, agent).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoSuchBond
	}
	if err != nil {
		return err
	}
	if state != BondLocked {
		return ErrAlreadyResolved
	}
	// No balance mutation: the stake was never debited at lock time.
	if _, err := tx.ExecContext(ctx, `
		UPDATE bonds SET state = $4, resolved_at = NOW() WHERE mission_id = $1 AND role = $2 AND agent = $3
	`, missionID, role, agent, BondReleased); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) SlashBond(ctx context.Context, missionID string, role Role, agent string, slashed amount.Amount) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var amt int64
	var state BondState
	err = tx.QueryRowContext(ctx, `
		SELECT amount, state FROM bonds WHERE mission_id = $1 AND role = $2 AND agent = $3 FOR UPDATE
	`, missionID, role, agent).Scan(&amt, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoSuchBond
	}
	if err != nil {
		return err
	}
	if state != BondLocked {
		return ErrAlreadyResolved
	}
	if _, err := tx.ExecContext(ctx, `UPDATE balances SET amount = amount - $2 WHERE owner = $1`, agent, amt); err != nil {
		return err
	}
	remainder := amt - int64(slashed)
	if remainder > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO balances (owner, amount) VALUES ($1, $2)
			ON CONFLICT (owner) DO UPDATE SET amount = balances.amount + EXCLUDED.amount
		`, agent, remainder); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO balances (owner, amount) VALUES ($1, $2)
		ON CONFLICT (owner) DO UPDATE SET amount = balances.amount + EXCLUDED.amount
	`, TreasuryAddr, int64(slashed)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE bonds SET state = $4, resolved_at = NOW() WHERE mission_id = $1 AND role = $2 AND agent = $3
	`, missionID, role, agent, BondSlashed); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Locked(ctx context.Context, owner string) (amount.Amount, error) {
	var escrowed, bonded int64
	if err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM escrows WHERE owner = $1 AND state = $2
	`, owner, EscrowLocked).Scan(&escrowed); err != nil {
		return 0, err
	}
	if err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM bonds WHERE agent = $1 AND state = $2
	`, owner, BondLocked).Scan(&bonded); err != nil {
		return 0, err
	}
	return amount.Amount(escrowed + bonded), nil
}
