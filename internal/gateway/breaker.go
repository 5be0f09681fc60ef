package gateway

import (
	"context"
	"errors"
	"math/big"

	"github.com/vertexlabs/vertexpay/internal/circuitbreaker"
)

// breakerGateway decorates a Gateway with a per-operation circuit
// breaker. A processor outage trips the affected operation open so the
// platform fails fast instead of stacking up timed-out calls.
type breakerGateway struct {
	next Gateway
	cb   *circuitbreaker.Breaker
}

// WithBreaker wraps gw with cb. Rejected calls surface as a gateway
// Error with code "circuit_open".
func WithBreaker(gw Gateway, cb *circuitbreaker.Breaker) Gateway {
	return &breakerGateway{next: gw, cb: cb}
}

func (g *breakerGateway) do(op string, fn func() error) error {
	err := g.cb.Do(op, fn)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return &Error{Code: "circuit_open", Message: "payment processor unavailable: " + op, wrapped: err}
	}
	return err
}

func (g *breakerGateway) CreatePaymentIntent(ctx context.Context, amount *big.Int, currency string) (*PaymentIntent, error) {
	var pi *PaymentIntent
	err := g.do("payment_intent", func() (err error) {
		pi, err = g.next.CreatePaymentIntent(ctx, amount, currency)
		return err
	})
	return pi, err
}

func (g *breakerGateway) Refund(ctx context.Context, intentRef string, amount *big.Int, meta map[string]string) (string, error) {
	var ref string
	err := g.do("refund", func() (err error) {
		ref, err = g.next.Refund(ctx, intentRef, amount, meta)
		return err
	})
	return ref, err
}

func (g *breakerGateway) Transfer(ctx context.Context, amount *big.Int, destAccount, note string) (string, error) {
	var ref string
	err := g.do("transfer", func() (err error) {
		ref, err = g.next.Transfer(ctx, amount, destAccount, note)
		return err
	})
	return ref, err
}

func (g *breakerGateway) CreatePayout(ctx context.Context, amount *big.Int, destAccount string) (string, error) {
	var ref string
	err := g.do("payout", func() (err error) {
		ref, err = g.next.CreatePayout(ctx, amount, destAccount)
		return err
	})
	return ref, err
}

func (g *breakerGateway) CreateConnectedAccount(ctx context.Context, email, name string) (string, error) {
	var ref string
	err := g.do("account", func() (err error) {
		ref, err = g.next.CreateConnectedAccount(ctx, email, name)
		return err
	})
	return ref, err
}

func (g *breakerGateway) CreateOnboardingLink(ctx context.Context, accountRef, returnURL, refreshURL string) (string, error) {
	var url string
	err := g.do("onboarding_link", func() (err error) {
		url, err = g.next.CreateOnboardingLink(ctx, accountRef, returnURL, refreshURL)
		return err
	})
	return url, err
}

func (g *breakerGateway) IsPayoutCapable(ctx context.Context, accountRef string) (bool, error) {
	var capable bool
	err := g.do("account_status", func() (err error) {
		capable, err = g.next.IsPayoutCapable(ctx, accountRef)
		return err
	})
	return capable, err
}

func (g *breakerGateway) GetBalance(ctx context.Context, accountRef string) (*Balance, error) {
	var bal *Balance
	err := g.do("balance", func() (err error) {
		bal, err = g.next.GetBalance(ctx, accountRef)
		return err
	})
	return bal, err
}
