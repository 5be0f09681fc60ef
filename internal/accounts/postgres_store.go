package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore implements Directory against the users table. Writes are
// limited to the gateway-account columns.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed account directory.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Get(ctx context.Context, userID string) (*Account, error) {
	a := &Account{}
	err := p.db.QueryRowContext(ctx, `
		SELECT user_id, email, name, role, COALESCE(stripe_account_id, ''), payouts_enabled
		FROM users WHERE user_id = $1
	`, userID).Scan(&a.UserID, &a.Email, &a.Name, &a.Role, &a.StripeAccountID, &a.PayoutsEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (p *PostgresStore) SetStripeAccount(ctx context.Context, userID, accountRef string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE users SET stripe_account_id = $2, updated_at = NOW() WHERE user_id = $1
	`, userID, accountRef)
	if err != nil {
		return fmt.Errorf("set stripe account: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (p *PostgresStore) ListConnected(ctx context.Context) ([]*Account, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT user_id, email, name, role, stripe_account_id, payouts_enabled
		FROM users WHERE stripe_account_id IS NOT NULL AND stripe_account_id <> ''
		ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list connected accounts: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a := &Account{}
		if err := rows.Scan(&a.UserID, &a.Email, &a.Name, &a.Role, &a.StripeAccountID, &a.PayoutsEnabled); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetPayoutsEnabled(ctx context.Context, userID string, enabled bool) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE users SET payouts_enabled = $2, updated_at = NOW() WHERE user_id = $1
	`, userID, enabled)
	if err != nil {
		return fmt.Errorf("set payouts enabled: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}
