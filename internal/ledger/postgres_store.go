package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/lib/pq"

	"github.com/vertexlabs/vertexpay/internal/idgen"
	"github.com/vertexlabs/vertexpay/internal/money"
)

// PostgresStore implements Store with PostgreSQL. Balance mutations are
// single-statement increments on NUMERIC columns; the CHECK constraint on
// available >= 0 enforces the no-overdraft invariant at the database level.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const pgCheckViolation = "23514"

// isCheckViolation reports whether err is the wallets available >= 0
// constraint firing, i.e. an overdraft attempt.
func isCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgCheckViolation
}

func (p *PostgresStore) GetOrCreateWallet(ctx context.Context, userID, currency string) (*Wallet, error) {
	w := &Wallet{UserID: userID}

	err := p.db.QueryRowContext(ctx, `
		INSERT INTO wallets (user_id, currency, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET user_id = wallets.user_id
		RETURNING available, pending, total_earned, total_spent, currency, updated_at
	`, userID, currency).Scan(&w.Available, &w.Pending, &w.TotalEarned, &w.TotalSpent, &w.Currency, &w.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get or create wallet: %w", err)
	}
	return w, nil
}

func (p *PostgresStore) ApplyDelta(ctx context.Context, userID string, delta WalletDelta) error {
	fmtDelta := func(d *big.Int) string {
		if d == nil {
			return "0"
		}
		return money.Format(d)
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, available, pending, total_earned, total_spent, updated_at)
		VALUES ($1, $2::NUMERIC(20,6), $3::NUMERIC(20,6), $4::NUMERIC(20,6), $5::NUMERIC(20,6), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			available    = wallets.available    + $2::NUMERIC(20,6),
			pending      = wallets.pending      + $3::NUMERIC(20,6),
			total_earned = wallets.total_earned + $4::NUMERIC(20,6),
			total_spent  = wallets.total_spent  + $5::NUMERIC(20,6),
			updated_at   = NOW()
	`, userID, fmtDelta(delta.Available), fmtDelta(delta.Pending), fmtDelta(delta.Earned), fmtDelta(delta.Spent))
	if err != nil {
		if isCheckViolation(err) {
			return ErrInsufficientFunds
		}
		return fmt.Errorf("apply wallet delta: %w", err)
	}
	return nil
}

func (p *PostgresStore) SetBalances(ctx context.Context, userID string, available, pending *big.Int) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallets (user_id, available, pending, updated_at)
		VALUES ($1, $2::NUMERIC(20,6), $3::NUMERIC(20,6), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			available  = $2::NUMERIC(20,6),
			pending    = $3::NUMERIC(20,6),
			updated_at = NOW()
	`, userID, money.Format(available), money.Format(pending))
	if err != nil {
		return fmt.Errorf("set wallet balances: %w", err)
	}
	return nil
}

func (p *PostgresStore) CreateTransaction(ctx context.Context, txn *Transaction) error {
	if txn.ID == "" {
		txn.ID = idgen.WithPrefix("txn_")
	}
	now := time.Now()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	txn.UpdatedAt = now

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transactions
			(id, user_id, job_id, type, amount, currency, status, intent_ref, transfer_ref, description, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5::NUMERIC(20,6), $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11, $12)
	`, txn.ID, txn.UserID, txn.JobID, txn.Type, txn.Amount, txn.Currency, txn.Status,
		txn.IntentRef, txn.TransferRef, txn.Description, txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

const txnColumns = `id, user_id, COALESCE(job_id, ''), type, amount, currency, status,
	COALESCE(intent_ref, ''), COALESCE(transfer_ref, ''), COALESCE(description, ''), created_at, updated_at`

func scanTxn(row interface{ Scan(...any) error }) (*Transaction, error) {
	t := &Transaction{}
	err := row.Scan(&t.ID, &t.UserID, &t.JobID, &t.Type, &t.Amount, &t.Currency, &t.Status,
		&t.IntentRef, &t.TransferRef, &t.Description, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (p *PostgresStore) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+txnColumns+` FROM transactions WHERE id = $1`, id)
	txn, err := scanTxn(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return txn, nil
}

func (p *PostgresStore) ListByIntent(ctx context.Context, intentRef string) ([]*Transaction, error) {
	return p.list(ctx, `SELECT `+txnColumns+` FROM transactions WHERE intent_ref = $1 ORDER BY created_at`, intentRef)
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, from, to TransactionStatus) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE transactions SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("update transaction status: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, before time.Time, beforeID string, limit int) ([]*Transaction, error) {
	var cursorAt any
	if !before.IsZero() {
		cursorAt = before
	}
	return p.list(ctx, `
		SELECT `+txnColumns+` FROM transactions
		WHERE user_id = $1
		  AND ($2::TIMESTAMPTZ IS NULL OR (created_at, id) < ($2::TIMESTAMPTZ, $3::TEXT))
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, userID, cursorAt, beforeID, limit)
}

func (p *PostgresStore) ListByJob(ctx context.Context, jobID string) ([]*Transaction, error) {
	return p.list(ctx, `SELECT `+txnColumns+` FROM transactions WHERE job_id = $1 ORDER BY created_at`, jobID)
}

func (p *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Transaction, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		txn, err := scanTxn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, txn)
	}
	return out, rows.Err()
}
