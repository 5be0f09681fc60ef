// Package jobs exposes the narrow view of the job entity the payment
// subsystem is allowed to touch.
//
// The job workflow service owns the job table. This subsystem reads the
// fields it needs (price, parties, status) and writes only the payment
// sub-state plus the status transitions that payment events drive
// (IN_PROGRESS, CANCELLED, DISPUTED).
package jobs

import (
	"context"
	"errors"
	"time"
)

var ErrJobNotFound = errors.New("job not found")

// Status is the job lifecycle state. Only the payment-relevant subset is
// modeled here.
type Status string

const (
	StatusOpen           Status = "OPEN"
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusInProgress     Status = "IN_PROGRESS"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
	StatusDisputed       Status = "DISPUTED"
)

// PaymentStatus is the payment sub-state carried on the job.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
	PaymentDisputed PaymentStatus = "DISPUTED"
)

// Payment is the payment sub-state of a job.
type Payment struct {
	Status     PaymentStatus `json:"status,omitempty"`
	Amount     string        `json:"amount,omitempty"`
	IntentRef  string        `json:"intentRef,omitempty"`
	PaidAt     *time.Time    `json:"paidAt,omitempty"`
	RefundedAt *time.Time    `json:"refundedAt,omitempty"`
}

// Job is the typed value object handed to the payment subsystem. It carries
// only the fields payment operations read, not the full job entity.
type Job struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Price      string  `json:"price"` // decimal currency units
	ClientID   string  `json:"clientId"`
	ProviderID string  `json:"providerId"`
	Status     Status  `json:"status"`
	Payment    Payment `json:"payment"`
}

// PaymentUpdate is the constrained set of fields the payment subsystem may
// write back. Nil/empty fields are left untouched.
type PaymentUpdate struct {
	JobStatus          Status
	PaymentStatus      PaymentStatus
	PaymentAmount      string
	IntentRef          string
	PaidAt             *time.Time
	RefundedAt         *time.Time
	CancellationReason string
}

// Authority is the job service's surface as seen from the payment
// subsystem.
type Authority interface {
	Get(ctx context.Context, jobID string) (*Job, error)
	GetByIntent(ctx context.Context, intentRef string) (*Job, error)
	SetPaymentState(ctx context.Context, jobID string, update PaymentUpdate) error
}
