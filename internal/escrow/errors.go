package escrow

import "errors"

var (
	// ErrInvalidState means the operation is not allowed from the job's
	// current status (e.g. releasing an incomplete job, refunding a
	// completed one without admin override).
	ErrInvalidState = errors.New("operation not allowed in current job state")

	// ErrForbidden means the caller is neither the payer nor an admin.
	ErrForbidden = errors.New("not authorized for this payment operation")

	// ErrIntentExists means the job already has an active payment intent.
	ErrIntentExists = errors.New("job already has a payment intent")

	// ErrNoConnectedAccount means the user has not linked a gateway
	// connected account (or it has not finished onboarding).
	ErrNoConnectedAccount = errors.New("no payout-capable connected account")

	// ErrInvalidAmount rejects zero, negative, or unparseable amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrReconciliationMismatch flags local/gateway balance drift beyond
	// the configured tolerance.
	ErrReconciliationMismatch = errors.New("ledger and gateway balances diverge beyond tolerance")
)
