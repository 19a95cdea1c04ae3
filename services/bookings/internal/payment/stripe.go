package payment

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// StripeGateway performs a real authorization round trip by creating and
// confirming a PaymentIntent. It is used when a live credential is configured.
// The PS- reference is minted before the call and stored on the intent.
type StripeGateway struct {
	api           *client.API
	paymentMethod string
}

func NewStripeGateway(secretKey, paymentMethod string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api, paymentMethod: paymentMethod}
}

func (g *StripeGateway) Authorize(ctx context.Context, charge Charge) (Result, error) {
	ref := NewReference(time.Now())
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(int64(math.Round(charge.Amount * 100))),
		Currency:           stripe.String(strings.ToLower(charge.Currency)),
		Description:        stripe.String(charge.Label),
		PaymentMethod:      stripe.String(g.paymentMethod),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
	}
	params.Context = ctx
	params.AddMetadata("reference", ref)
	params.AddMetadata("method", string(charge.Method))
	for k, v := range charge.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			return Result{Approved: false, Reason: stripeErr.Msg}, nil
		}
		return Result{}, err
	}

	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return Result{Approved: false, Reason: "payment " + string(pi.Status)}, nil
	}
	return Result{Approved: true, Reference: ref}, nil
}
