// Package payments abstracts the payment processor behind a narrow interface.
//
// The pipeline only needs two operations: open a checkout session for a plan
// and confirm whether a session was paid. Everything else (webhooks, refunds,
// tax) stays with the processor.
package payments

import (
	"context"
	"errors"
)

// ErrNotPaid is returned by ConfirmPayment when the session exists but the
// payment has not completed.
var ErrNotPaid = errors.New("payment not completed")

// CheckoutRequest describes one checkout session to open.
type CheckoutRequest struct {
	PlanID      string
	ProductName string
	AmountCents int64
	Currency    string
	SuccessURL  string
	CancelURL   string
}

// CheckoutSession is the processor's reference for a pending payment.
type CheckoutSession struct {
	ID          string
	URL         string
	AmountCents int64
	Currency    string
}

// Confirmation is the processor's answer for a session's payment status.
type Confirmation struct {
	SessionID string
	Paid      bool
}

// Processor is the payment collaborator. Implementations must be safe for
// concurrent use.
type Processor interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	ConfirmPayment(ctx context.Context, sessionID string) (*Confirmation, error)
}
