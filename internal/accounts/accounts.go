// Package accounts exposes the narrow user view the payment subsystem
// needs: identity, role, and the linked gateway connected account.
package accounts

import (
	"context"
	"errors"
)

var ErrAccountNotFound = errors.New("account not found")

// Role gates admin-only payment operations (refund override).
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Account is the payment-relevant slice of a platform user.
type Account struct {
	UserID          string `json:"userId"`
	Email           string `json:"email"`
	Name            string `json:"name"`
	Role            Role   `json:"role"`
	StripeAccountID string `json:"stripeAccountId,omitempty"`
	PayoutsEnabled  bool   `json:"payoutsEnabled"`
}

// IsAdmin reports whether the account may perform admin overrides.
func (a *Account) IsAdmin() bool { return a.Role == RoleAdmin }

// Directory is the user service's surface as seen from the payment
// subsystem.
type Directory interface {
	Get(ctx context.Context, userID string) (*Account, error)

	// SetStripeAccount stores the connected-account reference created for
	// the user (write-once in practice; overwriting is allowed for
	// re-onboarding).
	SetStripeAccount(ctx context.Context, userID, accountRef string) error

	// SetPayoutsEnabled caches the gateway's onboarding-complete flag.
	SetPayoutsEnabled(ctx context.Context, userID string, enabled bool) error

	// ListConnected returns accounts with a linked gateway account, for
	// the reconciliation sweep.
	ListConnected(ctx context.Context) ([]*Account, error)
}
