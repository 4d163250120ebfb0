package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/swipefi/swipefi/internal/pagination"
)

// PostgresStore implements Store with PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// Migrate creates the credit_records table with NUMERIC columns.
// It mirrors migrations/001_credit_records.sql for development databases.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS credit_records (
			id              VARCHAR(36) PRIMARY KEY,
			wallet_address  VARCHAR(42) NOT NULL,
			type            VARCHAR(10) NOT NULL,
			status          VARCHAR(10) NOT NULL,
			amount          NUMERIC(20,6) NOT NULL,
			settled         NUMERIC(20,6) NOT NULL DEFAULT 0,
			due_date        TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT chk_amount_pos     CHECK (amount > 0),
			CONSTRAINT chk_settled_bounds CHECK (settled >= 0 AND settled <= amount),
			CONSTRAINT chk_type           CHECK (type IN ('spend', 'repay')),
			CONSTRAINT chk_status         CHECK (status IN ('pending', 'repaid', 'overdue'))
		);

		CREATE INDEX IF NOT EXISTS idx_credit_wallet ON credit_records(wallet_address, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_credit_due ON credit_records(due_date) WHERE status = 'pending';
	`)
	return err
}

const recordColumns = `id, wallet_address, type, status, amount, settled, due_date, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r   Record
		due sql.NullTime
	)
	err := row.Scan(&r.ID, &r.WalletAddr, &r.Type, &r.Status, &r.Amount, &r.Settled, &due, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if due.Valid {
		t := due.Time.UTC()
		r.DueDate = &t
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

// lockWallet serializes writers for one wallet until the transaction ends.
func lockWallet(ctx context.Context, tx *sql.Tx, walletAddr string) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, walletAddr)
	return err
}

func outstandingTx(ctx context.Context, tx *sql.Tx, walletAddr string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount - settled), 0)
		FROM credit_records
		WHERE wallet_address = $1 AND type = 'spend' AND status <> 'repaid'
	`, walletAddr).Scan(&total)
	return total, err
}

func insertTx(ctx context.Context, tx *sql.Tx, r *Record) error {
	var due any
	if r.DueDate != nil {
		due = *r.DueDate
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_records (id, wallet_address, type, status, amount, settled, due_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.WalletAddr, r.Type, r.Status, r.Amount, r.Settled, due, r.CreatedAt)
	return err
}

func (p *PostgresStore) Spend(ctx context.Context, r *Record, limit decimal.Decimal) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockWallet(ctx, tx, r.WalletAddr); err != nil {
		return fmt.Errorf("lock wallet: %w", err)
	}

	outstanding, err := outstandingTx(ctx, tx, r.WalletAddr)
	if err != nil {
		return fmt.Errorf("outstanding: %w", err)
	}
	available := limit.Sub(outstanding)
	if r.Amount.GreaterThan(available) {
		if available.IsNegative() {
			available = decimal.Zero
		}
		return &LimitError{Err: ErrInsufficientCredit, Limit: available}
	}

	if err := insertTx(ctx, tx, r); err != nil {
		return fmt.Errorf("insert spend: %w", err)
	}
	return tx.Commit()
}

func (p *PostgresStore) Repay(ctx context.Context, r *Record) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := lockWallet(ctx, tx, r.WalletAddr); err != nil {
		return fmt.Errorf("lock wallet: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM credit_records
		WHERE wallet_address = $1 AND type = 'spend' AND status <> 'repaid'
		ORDER BY created_at ASC, id ASC
		FOR UPDATE
	`, r.WalletAddr)
	if err != nil {
		return fmt.Errorf("open spends: %w", err)
	}
	var open []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			_ = rows.Close()
			return err
		}
		open = append(open, rec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	outstanding := decimal.Zero
	for _, rec := range open {
		outstanding = outstanding.Add(rec.Remaining())
	}
	if r.Amount.GreaterThan(outstanding) {
		return &LimitError{Err: ErrRepayExceedsBalance, Limit: outstanding}
	}

	left := r.Amount
	for _, rec := range open {
		if !left.IsPositive() {
			break
		}
		take := decimal.Min(rec.Remaining(), left)
		settled := rec.Settled.Add(take)
		status := rec.Status
		if settled.GreaterThanOrEqual(rec.Amount) {
			status = StatusRepaid
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE credit_records SET settled = $1, status = $2, updated_at = NOW()
			WHERE id = $3
		`, settled, status, rec.ID); err != nil {
			return fmt.Errorf("settle %s: %w", rec.ID, err)
		}
		left = left.Sub(take)
	}

	if err := insertTx(ctx, tx, r); err != nil {
		return fmt.Errorf("insert repay: %w", err)
	}
	return tx.Commit()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	r, err := scanRecord(p.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM credit_records WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return r, err
}

func (p *PostgresStore) List(ctx context.Context, walletAddr string, limit int, after *pagination.Cursor) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM credit_records WHERE wallet_address = $1`
	args := []any{walletAddr}
	if after != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, after.CreatedAt, after.ID)
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Summary(ctx context.Context, walletAddr string) (*Summary, error) {
	sum := &Summary{}
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE type = 'spend'), 0),
			COALESCE(SUM(amount) FILTER (WHERE type = 'repay'), 0),
			COALESCE(SUM(amount - settled) FILTER (WHERE type = 'spend' AND status <> 'repaid'), 0),
			COUNT(*) FILTER (WHERE type = 'spend' AND status = 'overdue')
		FROM credit_records
		WHERE wallet_address = $1
	`, walletAddr).Scan(&sum.Borrowed, &sum.Repaid, &sum.Outstanding, &sum.Overdue)
	if err != nil {
		return nil, err
	}
	return sum, nil
}

func (p *PostgresStore) SetStatus(ctx context.Context, id string, status Status) (*Record, error) {
	r, err := scanRecord(p.db.QueryRowContext(ctx, `
		UPDATE credit_records SET status = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING `+recordColumns, status, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return r, err
}

func (p *PostgresStore) MarkOverdue(ctx context.Context, walletAddr string, now time.Time) ([]*Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		UPDATE credit_records SET status = 'overdue', updated_at = NOW()
		WHERE type = 'spend' AND status = 'pending' AND due_date < $1
		  AND ($2 = '' OR wallet_address = $2)
		RETURNING `+recordColumns, now, walletAddr)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var marked []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		marked = append(marked, r)
	}
	return marked, rows.Err()
}
