// Package escrow orchestrates the payment lifecycle for marketplace jobs.
//
// Flow:
//  1. Client funds a job → payment intent opened, provider funds pending
//  2. Gateway confirms → PAYMENT_SENT completes, job marked PAID
//  3. Job completed → hold released minus commission, funds available
//  4. Cancellation → percentage refund per job stage, provider penalty
//  5. Dispute → released portion frozen until manual resolution
//
// The orchestrator owns compensation policy: gateway failures on the money
// movement path either abort before the ledger is touched or are recorded
// as FAILED transactions for the audit trail.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/vertexlabs/vertexpay/internal/accounts"
	"github.com/vertexlabs/vertexpay/internal/gateway"
	"github.com/vertexlabs/vertexpay/internal/idgen"
	"github.com/vertexlabs/vertexpay/internal/jobs"
	"github.com/vertexlabs/vertexpay/internal/ledger"
	"github.com/vertexlabs/vertexpay/internal/metrics"
	"github.com/vertexlabs/vertexpay/internal/money"
	"github.com/vertexlabs/vertexpay/internal/notify"
	"github.com/vertexlabs/vertexpay/internal/pagination"
	"github.com/vertexlabs/vertexpay/internal/syncutil"
	"github.com/vertexlabs/vertexpay/internal/traces"
)

// Config carries the policy knobs the orchestrator reads at call time.
type Config struct {
	// CommissionPercent returns the platform commission as a percentage
	// (10 means 10%). Read on every release so config reloads take effect
	// without a restart.
	CommissionPercent func() float64

	Currency string

	// Onboarding redirect targets, usually under the frontend origin.
	ReturnURL  string
	RefreshURL string
}

// Service implements the payment orchestration logic.
type Service struct {
	gateway  gateway.Gateway
	store    ledger.Store
	jobs     jobs.Authority
	accounts accounts.Directory
	notifier notify.Sink
	cfg      Config
	logger   *slog.Logger
	locks    *syncutil.KeyedMutex // per-job locks serializing state transitions
}

// NewService creates a new escrow service.
func NewService(gw gateway.Gateway, store ledger.Store, jobAuth jobs.Authority, dir accounts.Directory, sink notify.Sink, cfg Config, logger *slog.Logger) *Service {
	if cfg.CommissionPercent == nil {
		cfg.CommissionPercent = func() float64 { return 10 }
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if sink == nil {
		sink = &notify.LogSink{Logger: logger}
	}
	return &Service{
		gateway:  gw,
		store:    store,
		jobs:     jobAuth,
		accounts: dir,
		notifier: sink,
		cfg:      cfg,
		logger:   logger,
		locks:    syncutil.NewKeyedMutex(),
	}
}

// lockJob serializes state transitions for a job (e.g. release + refund
// racing would double-apply ledger deltas). Callers waiting on a lock bail
// out when their context is cancelled.
func (s *Service) lockJob(ctx context.Context, jobID string) (func(), error) {
	return s.locks.Lock(ctx, jobID)
}

// lockUser serializes wallet disbursements for a user. The key space is
// kept disjoint from job locks.
func (s *Service) lockUser(ctx context.Context, userID string) (func(), error) {
	return s.locks.Lock(ctx, "user:"+userID)
}

func (s *Service) commissionBP() int64 {
	return money.BasisPoints(s.cfg.CommissionPercent())
}

// PaymentAuthorization is returned to the client to complete a payment on
// the frontend.
type PaymentAuthorization struct {
	IntentRef    string `json:"intentRef"`
	ClientSecret string `json:"clientSecret"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	JobID        string `json:"jobId"`
}

// CreateJobPayment opens a payment intent for a job and records the hold.
//
// Writes two PENDING transactions (payer PAYMENT_SENT, provider ESCROW_HOLD),
// increments the provider's pending balance by the job price, and moves the
// job to IN_PROGRESS with payment sub-state PENDING.
func (s *Service) CreateJobPayment(ctx context.Context, jobID, payerID string) (*PaymentAuthorization, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.CreateJobPayment",
		traces.JobID(jobID), traces.UserID(payerID))
	defer span.End()

	unlock, err := s.lockJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if payerID != job.ClientID {
		return nil, ErrForbidden
	}
	if job.Status != jobs.StatusOpen && job.Status != jobs.StatusPendingPayment {
		return nil, fmt.Errorf("%w: job is %s", ErrInvalidState, job.Status)
	}
	if job.Payment.IntentRef != "" {
		return nil, ErrIntentExists
	}

	price, ok := money.Parse(job.Price)
	if !ok || price.Sign() <= 0 {
		return nil, fmt.Errorf("%w: job price %q", ErrInvalidAmount, job.Price)
	}

	intent, err := s.gateway.CreatePaymentIntent(ctx, price, s.cfg.Currency)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}

	now := time.Now()
	sent := &ledger.Transaction{
		ID:          idgen.WithPrefix("txn_"),
		UserID:      job.ClientID,
		JobID:       job.ID,
		Type:        ledger.TypePaymentSent,
		Amount:      money.Format(money.Neg(price)),
		Currency:    s.cfg.Currency,
		Status:      ledger.StatusPending,
		IntentRef:   intent.ID,
		Description: "Payment for job: " + job.Title,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	hold := &ledger.Transaction{
		ID:          idgen.WithPrefix("txn_"),
		UserID:      job.ProviderID,
		JobID:       job.ID,
		Type:        ledger.TypeEscrowHold,
		Amount:      money.Format(price),
		Currency:    s.cfg.Currency,
		Status:      ledger.StatusPending,
		IntentRef:   intent.ID,
		Description: "Escrow hold for job: " + job.Title,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateTransaction(ctx, sent); err != nil {
		return nil, fmt.Errorf("record payment transaction: %w", err)
	}
	if err := s.store.CreateTransaction(ctx, hold); err != nil {
		return nil, fmt.Errorf("record hold transaction: %w", err)
	}

	if err := s.store.ApplyDelta(ctx, job.ProviderID, ledger.WalletDelta{Pending: price}); err != nil {
		return nil, fmt.Errorf("apply escrow hold: %w", err)
	}

	if err := s.jobs.SetPaymentState(ctx, job.ID, jobs.PaymentUpdate{
		JobStatus:     jobs.StatusInProgress,
		PaymentStatus: jobs.PaymentPending,
		PaymentAmount: money.Format(price),
		IntentRef:     intent.ID,
	}); err != nil {
		return nil, fmt.Errorf("update job payment state: %w", err)
	}

	metrics.PaymentsCreated.Inc()
	s.logger.Info("job payment created",
		"job_id", job.ID,
		"payer_id", payerID,
		"provider_id", job.ProviderID,
		"amount", money.Format(price),
		"intent_ref", intent.ID,
	)

	s.notifier.Notify(ctx, notify.Notification{
		RecipientID: job.ProviderID,
		Kind:        notify.KindPaymentCreated,
		JobID:       job.ID,
		Amount:      money.Format(price),
		Message:     "Payment received in escrow for: " + job.Title,
		CreatedAt:   now,
	})

	return &PaymentAuthorization{
		IntentRef:    intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       money.Format(price),
		Currency:     s.cfg.Currency,
		JobID:        job.ID,
	}, nil
}

// ConfirmPayment finalizes a funded intent, normally driven by the gateway
// webhook. The PENDING→COMPLETED transition on the payer's PAYMENT_SENT
// transaction is the idempotency gate: redeliveries find it already
// COMPLETED and return without touching balances.
func (s *Service) ConfirmPayment(ctx context.Context, intentRef string) error {
	ctx, span := traces.StartSpan(ctx, "escrow.ConfirmPayment", traces.IntentRef(intentRef))
	defer span.End()

	txns, err := s.store.ListByIntent(ctx, intentRef)
	if err != nil {
		return err
	}
	if len(txns) == 0 {
		return fmt.Errorf("%w: intent %s", ledger.ErrTransactionNotFound, intentRef)
	}

	var sent *ledger.Transaction
	for _, t := range txns {
		if t.Type == ledger.TypePaymentSent {
			sent = t
			break
		}
	}
	if sent == nil {
		return fmt.Errorf("%w: no payment transaction for intent %s", ledger.ErrTransactionNotFound, intentRef)
	}

	applied, err := s.store.UpdateStatus(ctx, sent.ID, ledger.StatusPending, ledger.StatusCompleted)
	if err != nil {
		return fmt.Errorf("complete payment transaction: %w", err)
	}
	if !applied {
		s.logger.Info("payment already confirmed", "intent_ref", intentRef, "txn_id", sent.ID)
		return nil
	}

	amount, _ := money.ParseSigned(sent.Amount)
	spent := new(big.Int).Abs(amount)
	if err := s.store.ApplyDelta(ctx, sent.UserID, ledger.WalletDelta{Spent: spent}); err != nil {
		return fmt.Errorf("apply spend: %w", err)
	}

	job, err := s.jobs.GetByIntent(ctx, intentRef)
	if err != nil {
		return fmt.Errorf("job for intent %s: %w", intentRef, err)
	}
	now := time.Now()
	if err := s.jobs.SetPaymentState(ctx, job.ID, jobs.PaymentUpdate{
		PaymentStatus: jobs.PaymentPaid,
		PaidAt:        &now,
	}); err != nil {
		return fmt.Errorf("update job payment state: %w", err)
	}

	metrics.PaymentsConfirmed.Inc()
	s.logger.Info("payment confirmed", "intent_ref", intentRef, "job_id", job.ID)
	return nil
}

// ReleaseResult reports the commission split applied by ReleasePayment.
type ReleaseResult struct {
	Transaction    *ledger.Transaction `json:"transaction"`
	ProviderAmount string              `json:"providerAmount"`
	Commission     string              `json:"commission"`
	TransferRef    string              `json:"transferRef,omitempty"`
	TransferError  string              `json:"transferError,omitempty"`
}

// ReleasePayment releases the escrow hold for a completed job.
//
// Commission is taken from the price at the configured rate; the provider
// receives exactly price minus commission. The PENDING→COMPLETED transition
// on the ESCROW_HOLD transaction is the gate: a second release finds it
// already transitioned and is rejected. A gateway transfer failure is
// recorded but does not abort the ledger update; the provider's platform
// balance is authoritative and the transfer is retried out of band.
func (s *Service) ReleasePayment(ctx context.Context, jobID string) (*ReleaseResult, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.ReleasePayment", traces.JobID(jobID))
	defer span.End()

	unlock, err := s.lockJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != jobs.StatusCompleted {
		return nil, fmt.Errorf("%w: job is %s, must be COMPLETED", ErrInvalidState, job.Status)
	}
	if job.Payment.IntentRef == "" {
		return nil, fmt.Errorf("%w: job has no payment", ErrInvalidState)
	}

	txns, err := s.store.ListByIntent(ctx, job.Payment.IntentRef)
	if err != nil {
		return nil, err
	}
	var hold *ledger.Transaction
	for _, t := range txns {
		if t.Type == ledger.TypeEscrowHold {
			hold = t
			break
		}
	}
	if hold == nil {
		return nil, fmt.Errorf("%w: no escrow hold for job %s", ledger.ErrTransactionNotFound, jobID)
	}

	applied, err := s.store.UpdateStatus(ctx, hold.ID, ledger.StatusPending, ledger.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("complete hold transaction: %w", err)
	}
	if !applied {
		return nil, fmt.Errorf("%w: escrow already released", ErrInvalidState)
	}

	price, _ := money.Parse(hold.Amount)
	commission := money.ApplyPercent(price, s.commissionBP())
	providerAmount := money.Sub(price, commission)

	var transferRef, transferErr string
	acct, err := s.accounts.Get(ctx, job.ProviderID)
	if err == nil && acct.StripeAccountID != "" && acct.PayoutsEnabled {
		transferRef, err = s.gateway.Transfer(ctx, providerAmount, acct.StripeAccountID, "Release for job: "+job.Title)
		if err != nil {
			// Platform ledger stays authoritative; the transfer is
			// reconciled later.
			transferErr = err.Error()
			s.logger.Error("escrow release transfer failed",
				"job_id", job.ID,
				"provider_id", job.ProviderID,
				"error", err,
			)
			metrics.GatewayErrors.WithLabelValues("transfer").Inc()
		}
	}

	now := time.Now()
	release := &ledger.Transaction{
		ID:          idgen.WithPrefix("txn_"),
		UserID:      job.ProviderID,
		JobID:       job.ID,
		Type:        ledger.TypeEscrowRelease,
		Amount:      money.Format(providerAmount),
		Currency:    s.cfg.Currency,
		Status:      ledger.StatusCompleted,
		IntentRef:   job.Payment.IntentRef,
		TransferRef: transferRef,
		Description: "Escrow release for job: " + job.Title,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateTransaction(ctx, release); err != nil {
		return nil, fmt.Errorf("record release transaction: %w", err)
	}
	fee := &ledger.Transaction{
		ID:          idgen.WithPrefix("txn_"),
		UserID:      job.ProviderID,
		JobID:       job.ID,
		Type:        ledger.TypeCommission,
		Amount:      money.Format(money.Neg(commission)),
		Currency:    s.cfg.Currency,
		Status:      ledger.StatusCompleted,
		IntentRef:   job.Payment.IntentRef,
		Description: fmt.Sprintf("Platform commission (%.2f%%) for job: %s", s.cfg.CommissionPercent(), job.Title),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateTransaction(ctx, fee); err != nil {
		return nil, fmt.Errorf("record commission transaction: %w", err)
	}

	if err := s.store.ApplyDelta(ctx, job.ProviderID, ledger.WalletDelta{
		Pending:   money.Neg(price),
		Available: providerAmount,
		Earned:    providerAmount,
	}); err != nil {
		return nil, fmt.Errorf("apply release: %w", err)
	}

	if err := s.jobs.SetPaymentState(ctx, job.ID, jobs.PaymentUpdate{
		PaymentStatus: jobs.PaymentPaid,
		PaidAt:        &now,
	}); err != nil {
		return nil, fmt.Errorf("update job payment state: %w", err)
	}

	metrics.PaymentsReleased.Inc()
	metrics.CommissionCollected.Add(float64(money.Cents(commission)) / 100)
	s.logger.Info("escrow released",
		"job_id", job.ID,
		"provider_id", job.ProviderID,
		"provider_amount", money.Format(providerAmount),
		"commission", money.Format(commission),
		"transfer_ref", transferRef,
	)

	s.notifier.Notify(ctx, notify.Notification{
		RecipientID: job.ProviderID,
		Kind:        notify.KindPaymentReleased,
		JobID:       job.ID,
		Amount:      money.Format(providerAmount),
		Message:     "Payment released for: " + job.Title,
		CreatedAt:   now,
	})

	return &ReleaseResult{
		Transaction:    release,
		ProviderAmount: money.Format(providerAmount),
		Commission:     money.Format(commission),
		TransferRef:    transferRef,
		TransferError:  transferErr,
	}, nil
}

// RefundResult reports the percentage applied and the resulting refund.
type RefundResult struct {
	Transaction  *ledger.Transaction `json:"transaction"`
	RefundAmount string              `json:"refundAmount"`
	Percentage   int                 `json:"percentage"`
	RefundRef    string              `json:"refundRef"`
}

// refundPercent maps the job stage to the refundable share of the price.
func refundPercent(status jobs.Status, adminOverride bool) (int, error) {
	switch status {
	case jobs.StatusOpen, jobs.StatusPendingPayment:
		return 100, nil
	case jobs.StatusInProgress:
		if adminOverride {
			return 100, nil
		}
		return 50, nil
	case jobs.StatusCompleted:
		if !adminOverride {
			return 0, fmt.Errorf("%w: completed jobs are refundable only by an admin", ErrInvalidState)
		}
		return 70, nil
	default:
		return 0, fmt.Errorf("%w: job is %s", ErrInvalidState, status)
	}
}

// RefundPayment cancels a job and refunds the payer a stage-dependent
// percentage of the price.
//
// Only the payer or an admin may refund; admin callers may pass
// adminOverride to unlock the full-refund and post-completion rows of the
// percentage table. If the gateway refund fails, a FAILED transaction is
// written for audit and no balances move. On success, a penalty equal to
// the retained portion is charged to the provider of an in-progress job.
func (s *Service) RefundPayment(ctx context.Context, jobID, requesterID, reason string, adminOverride bool) (*RefundResult, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.RefundPayment",
		traces.JobID(jobID), traces.UserID(requesterID))
	defer span.End()

	unlock, err := s.lockJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	requester, err := s.accounts.Get(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	isAdmin := requester.IsAdmin()
	if requesterID != job.ClientID && !isAdmin {
		return nil, ErrForbidden
	}
	if adminOverride && !isAdmin {
		return nil, ErrForbidden
	}
	if job.Status == jobs.StatusCancelled || job.Payment.Status == jobs.PaymentRefunded {
		return nil, fmt.Errorf("%w: job already cancelled", ErrInvalidState)
	}
	if job.Payment.IntentRef == "" {
		return nil, fmt.Errorf("%w: job has no payment to refund", ErrInvalidState)
	}

	pct, err := refundPercent(job.Status, adminOverride)
	if err != nil {
		return nil, err
	}

	price, ok := money.Parse(job.Payment.Amount)
	if !ok || price.Sign() <= 0 {
		price, ok = money.Parse(job.Price)
		if !ok {
			return nil, fmt.Errorf("%w: job price %q", ErrInvalidAmount, job.Price)
		}
	}
	refundAmount := money.ApplyPercent(price, int64(pct)*100)

	now := time.Now()
	refundRef, err := s.gateway.Refund(ctx, job.Payment.IntentRef, refundAmount, map[string]string{
		"job_id":     job.ID,
		"requester":  requesterID,
		"percentage": fmt.Sprintf("%d", pct),
		"reason":     reason,
	})
	if err != nil {
		failed := &ledger.Transaction{
			ID:          idgen.WithPrefix("txn_"),
			UserID:      job.ClientID,
			JobID:       job.ID,
			Type:        ledger.TypeRefund,
			Amount:      money.Format(refundAmount),
			Currency:    s.cfg.Currency,
			Status:      ledger.StatusFailed,
			IntentRef:   job.Payment.IntentRef,
			Description: "Refund failed: " + err.Error(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if serr := s.store.CreateTransaction(ctx, failed); serr != nil {
			s.logger.Error("record failed refund", "job_id", job.ID, "error", serr)
		}
		metrics.GatewayErrors.WithLabelValues("refund").Inc()
		return nil, fmt.Errorf("gateway refund: %w", err)
	}

	refund := &ledger.Transaction{
		ID:          idgen.WithPrefix("txn_"),
		UserID:      job.ClientID,
		JobID:       job.ID,
		Type:        ledger.TypeRefund,
		Amount:      money.Format(refundAmount),
		Currency:    s.cfg.Currency,
		Status:      ledger.StatusCompleted,
		IntentRef:   job.Payment.IntentRef,
		TransferRef: refundRef,
		Description: fmt.Sprintf("Refund (%d%%) for job: %s", pct, job.Title),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateTransaction(ctx, refund); err != nil {
		return nil, fmt.Errorf("record refund transaction: %w", err)
	}
	if err := s.store.ApplyDelta(ctx, job.ClientID, ledger.WalletDelta{Spent: money.Neg(refundAmount)}); err != nil {
		return nil, fmt.Errorf("apply refund: %w", err)
	}

	// A provider who already started the work keeps the retained share;
	// the full hold leaves their pending balance either way.
	if job.Status == jobs.StatusInProgress {
		penalty := money.Sub(price, refundAmount)
		if penalty.Sign() > 0 {
			penaltyTxn := &ledger.Transaction{
				ID:          idgen.WithPrefix("txn_"),
				UserID:      job.ProviderID,
				JobID:       job.ID,
				Type:        ledger.TypeCommission,
				Amount:      money.Format(money.Neg(penalty)),
				Currency:    s.cfg.Currency,
				Status:      ledger.StatusCompleted,
				IntentRef:   job.Payment.IntentRef,
				Description: "Cancellation penalty for job: " + job.Title,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := s.store.CreateTransaction(ctx, penaltyTxn); err != nil {
				return nil, fmt.Errorf("record penalty transaction: %w", err)
			}
		}
		if err := s.store.ApplyDelta(ctx, job.ProviderID, ledger.WalletDelta{
			Pending: money.Neg(price),
			Earned:  penalty,
		}); err != nil {
			return nil, fmt.Errorf("apply penalty: %w", err)
		}
	}

	if err := s.jobs.SetPaymentState(ctx, job.ID, jobs.PaymentUpdate{
		JobStatus:          jobs.StatusCancelled,
		PaymentStatus:      jobs.PaymentRefunded,
		RefundedAt:         &now,
		CancellationReason: reason,
	}); err != nil {
		return nil, fmt.Errorf("update job payment state: %w", err)
	}

	metrics.RefundsProcessed.Inc()
	s.logger.Info("payment refunded",
		"job_id", job.ID,
		"requester_id", requesterID,
		"percentage", pct,
		"amount", money.Format(refundAmount),
		"refund_ref", refundRef,
	)

	s.notifier.Notify(ctx, notify.Notification{
		RecipientID: job.ClientID,
		Kind:        notify.KindRefundProcessed,
		JobID:       job.ID,
		Amount:      money.Format(refundAmount),
		Message:     fmt.Sprintf("Refund of %d%% processed for: %s", pct, job.Title),
		CreatedAt:   now,
	})
	s.notifier.Notify(ctx, notify.Notification{
		RecipientID: job.ProviderID,
		Kind:        notify.KindJobCancelled,
		JobID:       job.ID,
		Message:     "Job cancelled: " + job.Title,
		CreatedAt:   now,
	})

	return &RefundResult{
		Transaction:  refund,
		RefundAmount: money.Format(refundAmount),
		Percentage:   pct,
		RefundRef:    refundRef,
	}, nil
}

// HandleDispute freezes the released portion of a disputed payment. Driven
// by the gateway's dispute webhook.
//
// The frozen amount is the provider's share (price minus commission at the
// current rate). If the provider already withdrew those funds the freeze is
// recorded as FAILED and flagged for manual follow-up; the available
// balance never goes negative.
func (s *Service) HandleDispute(ctx context.Context, intentRef string) error {
	ctx, span := traces.StartSpan(ctx, "escrow.HandleDispute", traces.IntentRef(intentRef))
	defer span.End()

	job, err := s.jobs.GetByIntent(ctx, intentRef)
	if err != nil {
		return fmt.Errorf("job for disputed intent %s: %w", intentRef, err)
	}

	unlock, err := s.lockJob(ctx, job.ID)
	if err != nil {
		return err
	}
	defer unlock()

	if job.Payment.Status == jobs.PaymentDisputed {
		s.logger.Info("dispute already recorded", "job_id", job.ID, "intent_ref", intentRef)
		return nil
	}

	price, ok := money.Parse(job.Payment.Amount)
	if !ok || price.Sign() <= 0 {
		price, _ = money.Parse(job.Price)
	}
	frozen := money.Sub(price, money.ApplyPercent(price, s.commissionBP()))

	if err := s.jobs.SetPaymentState(ctx, job.ID, jobs.PaymentUpdate{
		JobStatus:     jobs.StatusDisputed,
		PaymentStatus: jobs.PaymentDisputed,
	}); err != nil {
		return fmt.Errorf("mark job disputed: %w", err)
	}

	now := time.Now()
	freeze := &ledger.Transaction{
		ID:          idgen.WithPrefix("txn_"),
		UserID:      job.ProviderID,
		JobID:       job.ID,
		Type:        ledger.TypeEscrowHold,
		Amount:      money.Format(money.Neg(frozen)),
		Currency:    s.cfg.Currency,
		Status:      ledger.StatusPending,
		IntentRef:   intentRef,
		Description: "Funds frozen: payment disputed",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.store.ApplyDelta(ctx, job.ProviderID, ledger.WalletDelta{Available: money.Neg(frozen)})
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		freeze.Status = ledger.StatusFailed
		freeze.Description = "Dispute freeze failed: funds already withdrawn"
		s.logger.Error("dispute freeze exceeds available balance",
			"job_id", job.ID,
			"provider_id", job.ProviderID,
			"frozen", money.Format(frozen),
		)
	} else if err != nil {
		return fmt.Errorf("apply dispute freeze: %w", err)
	}

	if err := s.store.CreateTransaction(ctx, freeze); err != nil {
		return fmt.Errorf("record dispute transaction: %w", err)
	}

	metrics.DisputesOpened.Inc()
	s.logger.Warn("dispute opened",
		"job_id", job.ID,
		"provider_id", job.ProviderID,
		"frozen", money.Format(frozen),
		"intent_ref", intentRef,
	)

	s.notifier.Notify(ctx, notify.Notification{
		RecipientID: job.ProviderID,
		Kind:        notify.KindDisputeOpened,
		JobID:       job.ID,
		Amount:      money.Format(frozen),
		Message:     "A dispute was opened for: " + job.Title,
		CreatedAt:   now,
	})
	return nil
}

// WithdrawFunds moves available balance to the user's bank account.
//
// Two gateway steps must both succeed: a transfer funding the connected
// account, then a payout from it. Disbursements are serialized per user,
// and the balance is debited before the payout is issued, so concurrent
// withdrawals cannot both disburse the same funds. A failure after the
// funding transfer leaves a FAILED transaction carrying the transfer
// reference for the reconciliation sweep, with the balance restored.
func (s *Service) WithdrawFunds(ctx context.Context, userID, amount string) (*ledger.Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.WithdrawFunds",
		traces.UserID(userID), traces.Amount(amount))
	defer span.End()

	amt, ok := money.Parse(amount)
	if !ok || amt.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}

	acct, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acct.StripeAccountID == "" {
		return nil, ErrNoConnectedAccount
	}
	if !acct.PayoutsEnabled {
		capable, err := s.gateway.IsPayoutCapable(ctx, acct.StripeAccountID)
		if err != nil {
			return nil, fmt.Errorf("check payout capability: %w", err)
		}
		if !capable {
			return nil, ErrNoConnectedAccount
		}
		if err := s.accounts.SetPayoutsEnabled(ctx, userID, true); err != nil {
			s.logger.Error("cache payout capability", "user_id", userID, "error", err)
		}
	}

	// Serialize disbursements per user: without this, two concurrent
	// withdrawals could both pass the balance check and both reach the
	// gateway.
	unlock, err := s.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	wallet, err := s.store.GetOrCreateWallet(ctx, userID, s.cfg.Currency)
	if err != nil {
		return nil, err
	}
	available, _ := money.Parse(wallet.Available)
	if available.Cmp(amt) < 0 {
		return nil, ledger.ErrInsufficientFunds
	}

	now := time.Now()
	markFailed := func(txnID string) {
		if _, uerr := s.store.UpdateStatus(ctx, txnID, ledger.StatusPending, ledger.StatusFailed); uerr != nil {
			s.logger.Error("mark withdrawal failed", "user_id", userID, "txn_id", txnID, "error", uerr)
		}
		metrics.WithdrawalsTotal.WithLabelValues("failed").Inc()
	}

	transferRef, err := s.gateway.Transfer(ctx, amt, acct.StripeAccountID, "Withdrawal funding")
	if err != nil {
		failed := &ledger.Transaction{
			ID:          idgen.WithPrefix("txn_"),
			UserID:      userID,
			Type:        ledger.TypeWithdrawal,
			Amount:      money.Format(money.Neg(amt)),
			Currency:    s.cfg.Currency,
			Status:      ledger.StatusFailed,
			Description: "Withdrawal failed: " + err.Error(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if serr := s.store.CreateTransaction(ctx, failed); serr != nil {
			s.logger.Error("record failed withdrawal", "user_id", userID, "error", serr)
		}
		metrics.WithdrawalsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("fund withdrawal: %w", err)
	}

	// The ledger record is written PENDING, carrying the funding transfer
	// reference, and the balance is debited before the payout is issued:
	// money must leave the ledger before it can leave the platform.
	withdrawal := &ledger.Transaction{
		ID:          idgen.WithPrefix("txn_"),
		UserID:      userID,
		Type:        ledger.TypeWithdrawal,
		Amount:      money.Format(money.Neg(amt)),
		Currency:    s.cfg.Currency,
		Status:      ledger.StatusPending,
		TransferRef: transferRef,
		Description: "Withdrawal to bank account",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateTransaction(ctx, withdrawal); err != nil {
		return nil, fmt.Errorf("record withdrawal: %w", err)
	}
	if err := s.store.ApplyDelta(ctx, userID, ledger.WalletDelta{Available: money.Neg(amt)}); err != nil {
		// The funding transfer is stranded on the connected account; the
		// FAILED record keeps its reference for reconciliation.
		markFailed(withdrawal.ID)
		return nil, fmt.Errorf("apply withdrawal: %w", err)
	}

	payoutRef, err := s.gateway.CreatePayout(ctx, amt, acct.StripeAccountID)
	if err != nil {
		if derr := s.store.ApplyDelta(ctx, userID, ledger.WalletDelta{Available: amt}); derr != nil {
			s.logger.Error("restore balance after payout failure", "user_id", userID, "error", derr)
		}
		markFailed(withdrawal.ID)
		return nil, fmt.Errorf("create payout: %w", err)
	}

	if _, err := s.store.UpdateStatus(ctx, withdrawal.ID, ledger.StatusPending, ledger.StatusCompleted); err != nil {
		s.logger.Error("complete withdrawal", "user_id", userID, "txn_id", withdrawal.ID, "error", err)
	}
	withdrawal.Status = ledger.StatusCompleted

	metrics.WithdrawalsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("withdrawal completed",
		"user_id", userID,
		"amount", money.Format(amt),
		"payout_ref", payoutRef,
	)

	s.notifier.Notify(ctx, notify.Notification{
		RecipientID: userID,
		Kind:        notify.KindWithdrawal,
		Amount:      money.Format(amt),
		Message:     "Withdrawal of " + money.Format(amt) + " initiated",
		CreatedAt:   now,
	})
	return withdrawal, nil
}

// SyncResult reports a reconciliation pass for one user.
type SyncResult struct {
	UserID    string `json:"userId"`
	Available string `json:"availableBalance"`
	Pending   string `json:"pendingBalance"`
	Drift     string `json:"drift"`
	Mismatch  bool   `json:"mismatch"`
}

// SyncBalance overwrites the local wallet with the gateway's view of the
// connected account. The gateway is authoritative; drift beyond tolerance
// is flagged on the result rather than silently absorbed.
func (s *Service) SyncBalance(ctx context.Context, userID string, tolerance *big.Int) (*SyncResult, error) {
	acct, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acct.StripeAccountID == "" {
		return nil, ErrNoConnectedAccount
	}

	bal, err := s.gateway.GetBalance(ctx, acct.StripeAccountID)
	if err != nil {
		return nil, fmt.Errorf("gateway balance: %w", err)
	}

	wallet, err := s.store.GetOrCreateWallet(ctx, userID, s.cfg.Currency)
	if err != nil {
		return nil, err
	}
	local, _ := money.Parse(wallet.Available)
	drift := money.Sub(local, bal.Available)

	if err := s.store.SetBalances(ctx, userID, bal.Available, bal.Pending); err != nil {
		return nil, fmt.Errorf("set balances: %w", err)
	}

	mismatch := tolerance != nil && new(big.Int).Abs(drift).Cmp(tolerance) > 0
	if mismatch {
		metrics.ReconciliationMismatches.Inc()
		s.logger.Warn("balance drift beyond tolerance",
			"user_id", userID,
			"local", money.Format(local),
			"gateway", money.Format(bal.Available),
			"drift", money.Format(drift),
		)
	}

	return &SyncResult{
		UserID:    userID,
		Available: money.Format(bal.Available),
		Pending:   money.Format(bal.Pending),
		Drift:     money.Format(drift),
		Mismatch:  mismatch,
	}, nil
}

// GetWallet returns the user's wallet, creating it on first reference.
func (s *Service) GetWallet(ctx context.Context, userID string) (*ledger.Wallet, error) {
	return s.store.GetOrCreateWallet(ctx, userID, s.cfg.Currency)
}

// ListTransactions returns a page of the user's transaction history,
// newest first. cursor is an opaque position from a previous page; empty
// means start from the newest entry. Returns the page, the continuation
// cursor, and whether more entries remain.
func (s *Service) ListTransactions(ctx context.Context, userID, cursor string, limit int) ([]*ledger.Transaction, string, bool, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	pos, err := pagination.Decode(cursor)
	if err != nil {
		return nil, "", false, err
	}

	var before time.Time
	var beforeID string
	if pos != nil {
		before, beforeID = pos.CreatedAt, pos.ID
	}

	// Fetch one extra row to learn whether another page exists.
	txns, err := s.store.ListByUser(ctx, userID, before, beforeID, limit+1)
	if err != nil {
		return nil, "", false, err
	}
	page, next, hasMore := pagination.Page(txns, limit, func(t *ledger.Transaction) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	return page, next, hasMore, nil
}

// ListJobTransactions returns the ledger entries recorded for a job.
func (s *Service) ListJobTransactions(ctx context.Context, jobID string) ([]*ledger.Transaction, error) {
	return s.store.ListByJob(ctx, jobID)
}

// OnboardingLink returns a hosted onboarding URL for the user's connected
// account, provisioning the account on first call.
func (s *Service) OnboardingLink(ctx context.Context, userID string) (string, error) {
	acct, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return "", err
	}

	ref := acct.StripeAccountID
	if ref == "" {
		ref, err = s.gateway.CreateConnectedAccount(ctx, acct.Email, acct.Name)
		if err != nil {
			return "", fmt.Errorf("create connected account: %w", err)
		}
		if err := s.accounts.SetStripeAccount(ctx, userID, ref); err != nil {
			return "", fmt.Errorf("store connected account: %w", err)
		}
	}

	link, err := s.gateway.CreateOnboardingLink(ctx, ref, s.cfg.ReturnURL, s.cfg.RefreshURL)
	if err != nil {
		return "", fmt.Errorf("create onboarding link: %w", err)
	}
	return link, nil
}

// AccountStatus reports the user's connected-account onboarding state.
type AccountStatus struct {
	HasAccount     bool   `json:"hasAccount"`
	PayoutsEnabled bool   `json:"payoutsEnabled"`
	AccountRef     string `json:"accountRef,omitempty"`
}

// GetAccountStatus checks the live gateway state and refreshes the cached
// payout flag.
func (s *Service) GetAccountStatus(ctx context.Context, userID string) (*AccountStatus, error) {
	acct, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acct.StripeAccountID == "" {
		return &AccountStatus{}, nil
	}

	capable, err := s.gateway.IsPayoutCapable(ctx, acct.StripeAccountID)
	if err != nil {
		return nil, fmt.Errorf("check account status: %w", err)
	}
	if capable != acct.PayoutsEnabled {
		if err := s.accounts.SetPayoutsEnabled(ctx, userID, capable); err != nil {
			s.logger.Error("cache payout capability", "user_id", userID, "error", err)
		}
	}
	return &AccountStatus{
		HasAccount:     true,
		PayoutsEnabled: capable,
		AccountRef:     acct.StripeAccountID,
	}, nil
}
