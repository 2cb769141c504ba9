package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"go.uber.org/zap"
)

// StripeConfig configures the Stripe-backed processor.
type StripeConfig struct {
	APIKey     string
	SuccessURL string
	CancelURL  string
}

// stripeProcessor implements Processor against the Stripe checkout API.
type stripeProcessor struct {
	api    *client.API
	cfg    StripeConfig
	logger *zap.Logger
}

// NewStripe creates a Stripe-backed Processor.
func NewStripe(cfg StripeConfig, logger *zap.Logger) (Processor, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("stripe API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	api := &client.API{}
	api.Init(cfg.APIKey, nil)

	return &stripeProcessor{
		api:    api,
		cfg:    cfg,
		logger: logger,
	}, nil
}

func (p *stripeProcessor) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Params:            stripe.Params{Context: ctx},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.PlanID),
		SuccessURL:        stripe.String(p.cfg.SuccessURL),
		CancelURL:         stripe.String(p.cfg.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(req.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.ProductName),
					},
				},
			},
		},
	}

	sess, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	p.logger.Info("created checkout session",
		zap.String("plan_id", req.PlanID),
		zap.String("session_id", sess.ID),
		zap.Int64("amount_cents", req.AmountCents),
	)

	return &CheckoutSession{
		ID:          sess.ID,
		URL:         sess.URL,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
	}, nil
}

func (p *stripeProcessor) ConfirmPayment(ctx context.Context, sessionID string) (*Confirmation, error) {
	params := &stripe.CheckoutSessionParams{Params: stripe.Params{Context: ctx}}
	sess, err := p.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch checkout session: %w", err)
	}

	paid := sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid

	p.logger.Info("confirmed payment status",
		zap.String("session_id", sessionID),
		zap.Bool("paid", paid),
	)

	return &Confirmation{SessionID: sessionID, Paid: paid}, nil
}

var _ Processor = (*stripeProcessor)(nil)
