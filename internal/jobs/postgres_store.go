package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// PostgresStore implements Authority against the jobs table. Writes are
// limited to the payment columns and the payment-driven status values.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed job authority.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const jobColumns = `id, title, price, client_id, provider_id, status,
	COALESCE(payment_status, ''), COALESCE(payment_amount::TEXT, ''),
	COALESCE(payment_intent_ref, ''), paid_at, refunded_at`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	j := &Job{}
	var paidAt, refundedAt sql.NullTime
	err := row.Scan(&j.ID, &j.Title, &j.Price, &j.ClientID, &j.ProviderID, &j.Status,
		&j.Payment.Status, &j.Payment.Amount, &j.Payment.IntentRef, &paidAt, &refundedAt)
	if err != nil {
		return nil, err
	}
	if paidAt.Valid {
		j.Payment.PaidAt = &paidAt.Time
	}
	if refundedAt.Valid {
		j.Payment.RefundedAt = &refundedAt.Time
	}
	return j, nil
}

func (p *PostgresStore) Get(ctx context.Context, jobID string) (*Job, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (p *PostgresStore) GetByIntent(ctx context.Context, intentRef string) (*Job, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE payment_intent_ref = $1`, intentRef)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job by intent: %w", err)
	}
	return job, nil
}

func (p *PostgresStore) SetPaymentState(ctx context.Context, jobID string, update PaymentUpdate) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{jobID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if update.JobStatus != "" {
		sets = append(sets, "status = "+arg(update.JobStatus))
	}
	if update.PaymentStatus != "" {
		sets = append(sets, "payment_status = "+arg(update.PaymentStatus))
	}
	if update.PaymentAmount != "" {
		sets = append(sets, "payment_amount = "+arg(update.PaymentAmount)+"::NUMERIC(20,6)")
	}
	if update.IntentRef != "" {
		sets = append(sets, "payment_intent_ref = "+arg(update.IntentRef))
	}
	if update.PaidAt != nil {
		sets = append(sets, "paid_at = "+arg(*update.PaidAt))
	}
	if update.RefundedAt != nil {
		sets = append(sets, "refunded_at = "+arg(*update.RefundedAt))
	}
	if update.CancellationReason != "" {
		sets = append(sets, "cancellation_reason = "+arg(update.CancellationReason))
	}

	result, err := p.db.ExecContext(ctx,
		`UPDATE jobs SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return fmt.Errorf("set job payment state: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrJobNotFound
	}
	return nil
}
