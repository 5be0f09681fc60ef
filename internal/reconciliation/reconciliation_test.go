package reconciliation

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/vertexlabs/vertexpay/internal/accounts"
	"github.com/vertexlabs/vertexpay/internal/escrow"
	"github.com/vertexlabs/vertexpay/internal/gateway"
	"github.com/vertexlabs/vertexpay/internal/money"
)

// mockSyncer returns canned results per user.
type mockSyncer struct {
	results map[string]*escrow.SyncResult
	errs    map[string]error
	calls   []string
}

func (m *mockSyncer) SyncBalance(ctx context.Context, userID string, tolerance *big.Int) (*escrow.SyncResult, error) {
	m.calls = append(m.calls, userID)
	if err := m.errs[userID]; err != nil {
		return nil, err
	}
	if r := m.results[userID]; r != nil {
		return r, nil
	}
	return &escrow.SyncResult{UserID: userID}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSweep(t *testing.T) {
	dir := accounts.NewMemoryStore()
	dir.Put(&accounts.Account{UserID: "u1", StripeAccountID: "acct_1"})
	dir.Put(&accounts.Account{UserID: "u2", StripeAccountID: "acct_2"})
	dir.Put(&accounts.Account{UserID: "u3"}) // not connected

	syncer := &mockSyncer{
		results: map[string]*escrow.SyncResult{
			"u2": {UserID: "u2", Drift: "5.000000", Mismatch: true},
		},
		errs: map[string]error{},
	}
	tolerance, _ := money.Parse("1.00")
	svc := NewService(syncer, dir, tolerance, testLogger())

	report, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if report.Checked != 2 {
		t.Errorf("checked = %d, want 2 (connected accounts only)", report.Checked)
	}
	if len(report.Mismatches) != 1 || report.Mismatches[0].UserID != "u2" {
		t.Errorf("mismatches = %+v, want one for u2", report.Mismatches)
	}
	if len(syncer.calls) != 2 {
		t.Errorf("sync calls = %v, want only connected accounts", syncer.calls)
	}
}

// flakySyncer fails a fixed number of times per user before succeeding.
type flakySyncer struct {
	failuresLeft map[string]int
	err          error
	calls        map[string]int
}

func (f *flakySyncer) SyncBalance(ctx context.Context, userID string, tolerance *big.Int) (*escrow.SyncResult, error) {
	f.calls[userID]++
	if f.failuresLeft[userID] > 0 {
		f.failuresLeft[userID]--
		return nil, f.err
	}
	return &escrow.SyncResult{UserID: userID}, nil
}

func TestSweep_RetriesTransientGatewayErrors(t *testing.T) {
	dir := accounts.NewMemoryStore()
	dir.Put(&accounts.Account{UserID: "u1", StripeAccountID: "acct_1"})

	syncer := &flakySyncer{
		failuresLeft: map[string]int{"u1": 2},
		err:          &gateway.Error{Code: "api_connection_error", Message: "connection reset"},
		calls:        map[string]int{},
	}
	svc := NewService(syncer, dir, nil, testLogger())
	svc.retryDelay = time.Millisecond

	report, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if report.Checked != 1 || report.Errors != 0 {
		t.Errorf("report = %+v, want the sync to recover on retry", report)
	}
	if syncer.calls["u1"] != 3 {
		t.Errorf("calls = %d, want 3 (two transient failures, then success)", syncer.calls["u1"])
	}
}

func TestSweep_ContinuesPastErrors(t *testing.T) {
	dir := accounts.NewMemoryStore()
	dir.Put(&accounts.Account{UserID: "u1", StripeAccountID: "acct_1"})
	dir.Put(&accounts.Account{UserID: "u2", StripeAccountID: "acct_2"})

	syncer := &mockSyncer{
		results: map[string]*escrow.SyncResult{},
		errs:    map[string]error{"u1": errors.New("gateway timeout")},
	}
	svc := NewService(syncer, dir, nil, testLogger())

	report, err := svc.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if report.Errors != 1 {
		t.Errorf("errors = %d, want 1", report.Errors)
	}
	if report.Checked != 1 {
		t.Errorf("checked = %d, want 1", report.Checked)
	}
	if len(syncer.calls) != 2 {
		t.Errorf("sync calls = %d, want 2 (sweep continues past failures)", len(syncer.calls))
	}
}
