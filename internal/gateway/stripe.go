package gateway

import (
	"context"
	"errors"
	"math/big"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/vertexlabs/vertexpay/internal/money"
)

// Service-provider MCC used for connected accounts.
const serviceProviderMCC = "7299"

// StripeGateway implements Gateway against the Stripe API.
type StripeGateway struct {
	sc *client.API
}

// NewStripeGateway creates a gateway client with the given secret key.
func NewStripeGateway(secretKey string) *StripeGateway {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeGateway{sc: sc}
}

// wrapErr converts a Stripe error into a *Error, preserving the upstream
// code and message.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		return &Error{Code: string(se.Code), Message: se.Msg, wrapped: err}
	}
	return &Error{Message: err.Error(), wrapped: err}
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, amount *big.Int, currency string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(money.Cents(amount)),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx

	pi, err := g.sc.PaymentIntents.New(params)
	if err != nil {
		return nil, wrapErr(err)
	}
	return &PaymentIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (g *StripeGateway) Refund(ctx context.Context, intentRef string, amount *big.Int, meta map[string]string) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentRef),
		Amount:        stripe.Int64(money.Cents(amount)),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	for k, v := range meta {
		params.AddMetadata(k, v)
	}

	refund, err := g.sc.Refunds.New(params)
	if err != nil {
		return "", wrapErr(err)
	}
	return refund.ID, nil
}

func (g *StripeGateway) Transfer(ctx context.Context, amount *big.Int, destAccount, note string) (string, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(money.Cents(amount)),
		Currency:    stripe.String(string(stripe.CurrencyUSD)),
		Destination: stripe.String(destAccount),
		Description: stripe.String(note),
	}
	params.Context = ctx

	tr, err := g.sc.Transfers.New(params)
	if err != nil {
		return "", wrapErr(err)
	}
	return tr.ID, nil
}

func (g *StripeGateway) CreatePayout(ctx context.Context, amount *big.Int, destAccount string) (string, error) {
	params := &stripe.PayoutParams{
		Amount:   stripe.Int64(money.Cents(amount)),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
	}
	params.Context = ctx
	// Payouts are issued from the connected account, not the platform.
	params.SetStripeAccount(destAccount)

	po, err := g.sc.Payouts.New(params)
	if err != nil {
		return "", wrapErr(err)
	}
	return po.ID, nil
}

func (g *StripeGateway) CreateConnectedAccount(ctx context.Context, email, name string) (string, error) {
	params := &stripe.AccountParams{
		Type:         stripe.String(string(stripe.AccountTypeExpress)),
		Email:        stripe.String(email),
		BusinessType: stripe.String("individual"),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
		BusinessProfile: &stripe.AccountBusinessProfileParams{
			MCC:  stripe.String(serviceProviderMCC),
			Name: stripe.String(name),
		},
	}
	params.Context = ctx

	acct, err := g.sc.Accounts.New(params)
	if err != nil {
		return "", wrapErr(err)
	}
	return acct.ID, nil
}

func (g *StripeGateway) CreateOnboardingLink(ctx context.Context, accountRef, returnURL, refreshURL string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountRef),
		ReturnURL:  stripe.String(returnURL),
		RefreshURL: stripe.String(refreshURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := g.sc.AccountLinks.New(params)
	if err != nil {
		return "", wrapErr(err)
	}
	return link.URL, nil
}

func (g *StripeGateway) IsPayoutCapable(ctx context.Context, accountRef string) (bool, error) {
	if accountRef == "" {
		return false, nil
	}

	params := &stripe.AccountParams{}
	params.Context = ctx

	acct, err := g.sc.Accounts.GetByID(accountRef, params)
	if err != nil {
		return false, wrapErr(err)
	}
	return acct.ChargesEnabled && acct.PayoutsEnabled, nil
}

func (g *StripeGateway) GetBalance(ctx context.Context, accountRef string) (*Balance, error) {
	params := &stripe.BalanceParams{}
	params.Context = ctx
	params.SetStripeAccount(accountRef)

	bal, err := g.sc.Balance.Get(params)
	if err != nil {
		return nil, wrapErr(err)
	}

	available := money.Zero()
	for _, b := range bal.Available {
		if b.Currency == stripe.CurrencyUSD {
			available.Add(available, money.FromCents(b.Amount))
		}
	}
	pending := money.Zero()
	for _, b := range bal.Pending {
		if b.Currency == stripe.CurrencyUSD {
			pending.Add(pending, money.FromCents(b.Amount))
		}
	}

	return &Balance{Available: available, Pending: pending}, nil
}
