package gateway

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/vertexlabs/vertexpay/internal/circuitbreaker"
)

// flakyGateway fails on demand, per operation.
type flakyGateway struct {
	transferErr error
	balanceErr  error
	transfers   int
}

func (f *flakyGateway) CreatePaymentIntent(ctx context.Context, amount *big.Int, currency string) (*PaymentIntent, error) {
	return &PaymentIntent{ID: "pi_1", ClientSecret: "secret"}, nil
}
func (f *flakyGateway) Refund(ctx context.Context, intentRef string, amount *big.Int, meta map[string]string) (string, error) {
	return "re_1", nil
}
func (f *flakyGateway) Transfer(ctx context.Context, amount *big.Int, destAccount, note string) (string, error) {
	f.transfers++
	if f.transferErr != nil {
		return "", f.transferErr
	}
	return "tr_1", nil
}
func (f *flakyGateway) CreatePayout(ctx context.Context, amount *big.Int, destAccount string) (string, error) {
	return "po_1", nil
}
func (f *flakyGateway) CreateConnectedAccount(ctx context.Context, email, name string) (string, error) {
	return "acct_1", nil
}
func (f *flakyGateway) CreateOnboardingLink(ctx context.Context, accountRef, returnURL, refreshURL string) (string, error) {
	return "https://onboard", nil
}
func (f *flakyGateway) IsPayoutCapable(ctx context.Context, accountRef string) (bool, error) {
	return true, nil
}
func (f *flakyGateway) GetBalance(ctx context.Context, accountRef string) (*Balance, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return &Balance{Available: big.NewInt(0), Pending: big.NewInt(0)}, nil
}

func TestBreakerTripsPerOperation(t *testing.T) {
	ctx := context.Background()
	inner := &flakyGateway{transferErr: errors.New("connection reset")}
	gw := WithBreaker(inner, circuitbreaker.New(2, time.Minute))

	amount := big.NewInt(1000000)
	for i := 0; i < 2; i++ {
		if _, err := gw.Transfer(ctx, amount, "acct_1", "payout"); err == nil {
			t.Fatal("expected transfer failure")
		}
	}

	// Third call is rejected without reaching the processor.
	calls := inner.transfers
	_, err := gw.Transfer(ctx, amount, "acct_1", "payout")
	if err == nil {
		t.Fatal("expected rejection while open")
	}
	var ge *Error
	if !errors.As(err, &ge) || ge.Code != "circuit_open" {
		t.Fatalf("err = %v, want circuit_open gateway error", err)
	}
	if inner.transfers != calls {
		t.Error("call reached the processor while the circuit was open")
	}

	// Other operations stay closed.
	if _, err := gw.GetBalance(ctx, "acct_1"); err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
}

func TestBreakerPassesResultsThrough(t *testing.T) {
	ctx := context.Background()
	gw := WithBreaker(&flakyGateway{}, circuitbreaker.New(2, time.Minute))

	pi, err := gw.CreatePaymentIntent(ctx, big.NewInt(5000000), "usd")
	if err != nil {
		t.Fatalf("CreatePaymentIntent: %v", err)
	}
	if pi.ID != "pi_1" || pi.ClientSecret != "secret" {
		t.Errorf("intent = %+v", pi)
	}

	ref, err := gw.Transfer(ctx, big.NewInt(1000000), "acct_1", "note")
	if err != nil || ref != "tr_1" {
		t.Errorf("Transfer = %q, %v", ref, err)
	}
}
