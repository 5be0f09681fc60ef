// Package notify defines the fire-and-forget notification sink the payment
// subsystem emits user-facing events into.
//
// Sink failures must never roll back a financial operation; callers log and
// continue.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Kind classifies a payment notification.
type Kind string

const (
	KindPaymentCreated  Kind = "PAYMENT_CREATED"
	KindPaymentReleased Kind = "PAYMENT_RELEASED"
	KindRefundProcessed Kind = "REFUND_PROCESSED"
	KindJobCancelled    Kind = "JOB_CANCELLED"
	KindDisputeOpened   Kind = "DISPUTE_OPENED"
	KindWithdrawal      Kind = "WITHDRAWAL_COMPLETED"
)

// Notification is a user-facing payment event.
type Notification struct {
	RecipientID string    `json:"recipientId"`
	Kind        Kind      `json:"kind"`
	JobID       string    `json:"jobId,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	Message     string    `json:"message"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Sink receives notifications. Implementations must be safe for concurrent
// use and should not block the caller.
type Sink interface {
	Notify(ctx context.Context, n Notification)
}

// LogSink writes notifications to the structured log. Used in development
// and as the fallback when no delivery transport is configured.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Notify(ctx context.Context, n Notification) {
	s.Logger.Info("notification",
		"recipient", n.RecipientID,
		"kind", n.Kind,
		"job_id", n.JobID,
		"amount", n.Amount,
		"message", n.Message,
	)
}

// Multi fans a notification out to several sinks.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, s := range m {
		s.Notify(ctx, n)
	}
}
