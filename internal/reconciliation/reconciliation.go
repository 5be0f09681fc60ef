// Package reconciliation periodically compares local wallet balances with
// the payment gateway's view of each connected account.
//
// The gateway is authoritative: every sweep overwrites local balances and
// flags drift beyond the configured tolerance for operator follow-up.
package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/vertexlabs/vertexpay/internal/accounts"
	"github.com/vertexlabs/vertexpay/internal/escrow"
	"github.com/vertexlabs/vertexpay/internal/gateway"
	"github.com/vertexlabs/vertexpay/internal/money"
	"github.com/vertexlabs/vertexpay/internal/retry"
)

// Syncer is the balance-sync surface of the payment orchestrator.
type Syncer interface {
	SyncBalance(ctx context.Context, userID string, tolerance *big.Int) (*escrow.SyncResult, error)
}

// Report summarizes one reconciliation sweep.
type Report struct {
	StartedAt  time.Time            `json:"startedAt"`
	FinishedAt time.Time            `json:"finishedAt"`
	Checked    int                  `json:"checked"`
	Errors     int                  `json:"errors"`
	Mismatches []*escrow.SyncResult `json:"mismatches,omitempty"`
}

// Service runs reconciliation sweeps across all connected accounts.
type Service struct {
	syncer    Syncer
	accounts  accounts.Directory
	tolerance *big.Int
	logger    *slog.Logger

	retryAttempts int
	retryDelay    time.Duration
}

// NewService creates a reconciliation service. tolerance is the drift
// threshold in smallest currency units.
func NewService(syncer Syncer, dir accounts.Directory, tolerance *big.Int, logger *slog.Logger) *Service {
	if tolerance == nil {
		tolerance = money.Zero()
	}
	return &Service{
		syncer:        syncer,
		accounts:      dir,
		tolerance:     tolerance,
		logger:        logger,
		retryAttempts: 3,
		retryDelay:    500 * time.Millisecond,
	}
}

// Sweep reconciles every connected account once.
func (s *Service) Sweep(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: time.Now()}

	connected, err := s.accounts.ListConnected(ctx)
	if err != nil {
		return nil, fmt.Errorf("list connected accounts: %w", err)
	}

	for _, acct := range connected {
		var result *escrow.SyncResult
		// Gateway blips are retried; anything else (unknown account,
		// ledger failure) won't heal by asking again.
		err := retry.Do(ctx, s.retryAttempts, s.retryDelay, func() error {
			r, err := s.syncer.SyncBalance(ctx, acct.UserID, s.tolerance)
			if err != nil {
				if gateway.IsGatewayError(err) {
					return err
				}
				return retry.Permanent(err)
			}
			result = r
			return nil
		})
		if err != nil {
			report.Errors++
			s.logger.Warn("balance sync failed", "user_id", acct.UserID, "error", err)
			continue
		}
		report.Checked++
		if result.Mismatch {
			report.Mismatches = append(report.Mismatches, result)
		}
	}

	report.FinishedAt = time.Now()
	s.logger.Info("reconciliation sweep finished",
		"checked", report.Checked,
		"errors", report.Errors,
		"mismatches", len(report.Mismatches),
	)
	return report, nil
}

// Timer periodically runs reconciliation sweeps.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a reconciliation timer.
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in reconciliation sweep", "panic", fmt.Sprint(r))
		}
	}()
	if _, err := t.service.Sweep(ctx); err != nil {
		t.logger.Warn("reconciliation sweep failed", "error", err)
	}
}
