package purchase

import (
	"os"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/paymentintent"
)

// PaymentGateway abstracts the payment processor so the service can be
// tested without talking to Stripe.
type PaymentGateway interface {
	CreateIntent(amountCents int64, currency string, metadata map[string]string) (*stripe.PaymentIntent, error)
	GetIntent(id string) (*stripe.PaymentIntent, error)
}

type stripeGateway struct{}

// NewStripeGateway returns a gateway backed by the Stripe API. The
// secret key is read from STRIPE_SECRET_KEY.
func NewStripeGateway() PaymentGateway {
	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
	return &stripeGateway{}
}

func (g *stripeGateway) CreateIntent(amountCents int64, currency string, metadata map[string]string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	return paymentintent.New(params)
}

func (g *stripeGateway) GetIntent(id string) (*stripe.PaymentIntent, error) {
	return paymentintent.Get(id, nil)
}
