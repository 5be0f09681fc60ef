// Package webhook ingests payment-gateway event notifications.
//
// Every delivery is signature-verified against the endpoint secret before
// parsing. Processed event IDs are recorded so redeliveries short-circuit;
// the downstream operations are idempotent regardless, the dedup store just
// keeps redelivery handling cheap and observable.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

// Processor is the payment orchestration surface webhook events drive.
type Processor interface {
	ConfirmPayment(ctx context.Context, intentRef string) error
	HandleDispute(ctx context.Context, intentRef string) error
}

// Event is a processed gateway event, kept for dedup and audit.
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	ProcessedAt time.Time `json:"processedAt"`
}

// EventStore records processed event IDs.
type EventStore interface {
	// Seen reports whether the event was already processed.
	Seen(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed records a successfully handled event.
	MarkProcessed(ctx context.Context, eventID, eventType string) error
}

// Ingestor verifies, dedups, and dispatches gateway webhook deliveries.
type Ingestor struct {
	secret    string
	processor Processor
	events    EventStore
	logger    *slog.Logger
}

// NewIngestor creates a webhook ingestor. secret is the endpoint signing
// secret from the gateway dashboard.
func NewIngestor(secret string, processor Processor, events EventStore, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		secret:    secret,
		processor: processor,
		events:    events,
		logger:    logger,
	}
}

// VerifyAndParse checks the delivery signature and parses the event
// envelope.
func (i *Ingestor) VerifyAndParse(payload []byte, sigHeader string) (*stripe.Event, error) {
	// The endpoint's API version is pinned in the gateway dashboard and
	// may trail the SDK's, so the version mismatch check is skipped.
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, i.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("verify webhook signature: %w", err)
	}
	return &event, nil
}

// Process dispatches a verified event. Returns (duplicate, error);
// duplicate deliveries are acknowledged without reprocessing.
func (i *Ingestor) Process(ctx context.Context, event *stripe.Event) (bool, error) {
	seen, err := i.events.Seen(ctx, event.ID)
	if err != nil {
		return false, fmt.Errorf("check event dedup: %w", err)
	}
	if seen {
		i.logger.Info("webhook event redelivered", "event_id", event.ID, "type", event.Type)
		return true, nil
	}

	switch string(event.Type) {
	case "payment_intent.succeeded":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return false, fmt.Errorf("parse payment intent event: %w", err)
		}
		if err := i.processor.ConfirmPayment(ctx, intent.ID); err != nil {
			return false, fmt.Errorf("confirm payment %s: %w", intent.ID, err)
		}

	case "charge.dispute.created":
		var dispute stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
			return false, fmt.Errorf("parse dispute event: %w", err)
		}
		if dispute.PaymentIntent == nil || dispute.PaymentIntent.ID == "" {
			return false, fmt.Errorf("dispute event %s has no payment intent", event.ID)
		}
		if err := i.processor.HandleDispute(ctx, dispute.PaymentIntent.ID); err != nil {
			return false, fmt.Errorf("handle dispute for %s: %w", dispute.PaymentIntent.ID, err)
		}

	case "payment_intent.payment_failed":
		var intent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return false, fmt.Errorf("parse payment intent event: %w", err)
		}
		// No ledger effect: the hold stays PENDING until the payer retries
		// or the job is refunded. Logged for support visibility.
		i.logger.Warn("payment failed at gateway", "event_id", event.ID, "intent_ref", intent.ID)

	default:
		i.logger.Info("unhandled webhook event", "event_id", event.ID, "type", event.Type)
	}

	if err := i.events.MarkProcessed(ctx, event.ID, string(event.Type)); err != nil {
		// The event was handled; a dedup write failure only risks a
		// redundant redelivery pass.
		i.logger.Error("record processed event", "event_id", event.ID, "error", err)
	}
	return false, nil
}
