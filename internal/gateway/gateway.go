// Package gateway wraps the external payment processor (Stripe).
//
// The adapter is a thin translation layer: decimal currency units in, minor
// units (cents) over the wire, decimal units back out. It performs no
// retries and holds no business logic — retry and compensation policy
// belong to the escrow orchestrator.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/big"
)

// Error carries the upstream processor's error code and message.
type Error struct {
	Code    string
	Message string
	wrapped error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway: %s (%s)", e.Message, e.Code)
	}
	return "gateway: " + e.Message
}

func (e *Error) Unwrap() error { return e.wrapped }

// IsGatewayError reports whether err originated at the payment processor.
func IsGatewayError(err error) bool {
	var ge *Error
	return errors.As(err, &ge)
}

// PaymentIntent is the subset of the processor's intent object the platform
// uses: the stable reference for webhooks/refunds plus the client-side
// confirmation secret handed to the payer.
type PaymentIntent struct {
	ID           string
	ClientSecret string
}

// Balance holds a connected account's balance in decimal currency units.
type Balance struct {
	Available *big.Int
	Pending   *big.Int
}

// Gateway is the surface of the external payment processor the platform
// depends on. Amounts are smallest-unit values from the money package;
// implementations convert to minor units at the call boundary.
type Gateway interface {
	// CreatePaymentIntent opens a payment authorization for the given amount.
	CreatePaymentIntent(ctx context.Context, amount *big.Int, currency string) (*PaymentIntent, error)

	// Refund refunds part or all of a payment intent. meta is attached to
	// the refund for audit (jobID, requester, percentage).
	Refund(ctx context.Context, intentRef string, amount *big.Int, meta map[string]string) (refundRef string, err error)

	// Transfer moves platform funds to a connected account.
	Transfer(ctx context.Context, amount *big.Int, destAccount, note string) (transferRef string, err error)

	// CreatePayout pays out from a connected account to its bank.
	CreatePayout(ctx context.Context, amount *big.Int, destAccount string) (payoutRef string, err error)

	// CreateConnectedAccount provisions a payout-capable sub-account.
	CreateConnectedAccount(ctx context.Context, email, name string) (accountRef string, err error)

	// CreateOnboardingLink returns a hosted onboarding URL for the account.
	CreateOnboardingLink(ctx context.Context, accountRef, returnURL, refreshURL string) (string, error)

	// IsPayoutCapable reports whether the account finished onboarding and
	// can receive transfers and issue payouts.
	IsPayoutCapable(ctx context.Context, accountRef string) (bool, error)

	// GetBalance retrieves the account's balance from the processor.
	GetBalance(ctx context.Context, accountRef string) (*Balance, error)
}
