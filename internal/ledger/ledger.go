// Package ledger tracks per-user wallets and the immutable transaction log.
//
// Every balance-affecting event writes exactly one Transaction row; the
// wallet/transaction pair is the unit of auditability. Wallets are mutated
// only through atomic increments (ApplyDelta) so concurrent releases and
// withdrawals for the same user cannot lose updates. Transactions are
// append-only: after creation only the status may change, and only through
// the status-gated UpdateStatus.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
)

// TransactionType classifies a ledger entry.
type TransactionType string

const (
	TypePaymentSent   TransactionType = "PAYMENT_SENT"
	TypeEscrowHold    TransactionType = "ESCROW_HOLD"
	TypeEscrowRelease TransactionType = "ESCROW_RELEASE"
	TypeCommission    TransactionType = "COMMISSION"
	TypeRefund        TransactionType = "REFUND"
	TypeWithdrawal    TransactionType = "WITHDRAWAL"
)

// TransactionStatus is the lifecycle state of a ledger entry.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
	StatusCancelled TransactionStatus = "CANCELLED"
)

// Wallet is a user's balance sheet. One per user, created lazily, never
// deleted. Amounts are decimal strings (see the money package).
type Wallet struct {
	UserID      string    `json:"userId"`
	Available   string    `json:"availableBalance"`
	Pending     string    `json:"pendingBalance"`
	TotalEarned string    `json:"totalEarned"`
	TotalSpent  string    `json:"totalSpent"`
	Currency    string    `json:"currency"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Transaction is an immutable ledger entry. Amount is signed: credits are
// positive, debits negative.
type Transaction struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId"`
	JobID       string            `json:"jobId,omitempty"`
	Type        TransactionType   `json:"type"`
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	Status      TransactionStatus `json:"status"`
	IntentRef   string            `json:"intentRef,omitempty"`   // gateway payment intent
	TransferRef string            `json:"transferRef,omitempty"` // gateway transfer/payout/refund
	Description string            `json:"description,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// WalletDelta is a set of signed balance increments applied atomically.
// Nil fields are left untouched.
type WalletDelta struct {
	Available *big.Int
	Pending   *big.Int
	Earned    *big.Int
	Spent     *big.Int
}

// Store persists wallets and transactions.
type Store interface {
	// GetOrCreateWallet returns the user's wallet, creating an empty one on
	// first reference.
	GetOrCreateWallet(ctx context.Context, userID, currency string) (*Wallet, error)

	// ApplyDelta atomically increments wallet balances. Returns
	// ErrInsufficientFunds if the available balance would go negative.
	// The wallet is upserted if missing.
	ApplyDelta(ctx context.Context, userID string, delta WalletDelta) error

	// SetBalances overwrites available/pending with gateway-authoritative
	// values (reconciliation path only).
	SetBalances(ctx context.Context, userID string, available, pending *big.Int) error

	CreateTransaction(ctx context.Context, txn *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)

	// ListByIntent returns all transactions referencing a payment intent.
	ListByIntent(ctx context.Context, intentRef string) ([]*Transaction, error)

	// UpdateStatus transitions a transaction from one status to another.
	// Returns (false, nil) when the transaction was not in the expected
	// status — the idempotency signal for webhook redelivery.
	UpdateStatus(ctx context.Context, id string, from, to TransactionStatus) (bool, error)

	// ListByUser returns up to limit transactions for a user, ordered by
	// (created_at, id) descending. A non-zero before position restricts
	// results to entries strictly older than it (keyset pagination).
	ListByUser(ctx context.Context, userID string, before time.Time, beforeID string, limit int) ([]*Transaction, error)

	ListByJob(ctx context.Context, jobID string) ([]*Transaction, error)
}
