package gateways

import (
	"context"
	"net/http"

	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	"github.com/shopspring/decimal"
)

// CheckoutInput carries everything an adapter needs to open a hosted
// payment session for a pending payment.
type CheckoutInput struct {
	PaymentID     string
	UserID        string
	CourseID      string
	CourseTitle   string
	Amount        decimal.Decimal
	Currency      enums.Currency
	CustomerEmail string
	CustomerName  string
	SuccessURL    string
	CancelURL     string
}

// CheckoutSession is the provider-side handle for a started checkout.
// TransactionID becomes the payment's gateway reference; RedirectURL is
// where the buyer finishes paying.
type CheckoutSession struct {
	TransactionID string
	RedirectURL   string
	Raw           map[string]any
}

// Event is a normalized gateway notification after signature
// verification. TransactionID identifies the payment on our side,
// Success reports the provider's terminal outcome.
type Event struct {
	EventID       string
	TransactionID string
	Success       bool
	Raw           map[string]any
}

// RefundInput asks an adapter to return money for a captured payment.
type RefundInput struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      enums.Currency
	Reason        string
}

// RefundResult reports the provider-side refund reference.
type RefundResult struct {
	RefundID string
	Raw      map[string]any
}

// Adapter is the uniform surface every payment provider implements.
// VerifyEvent must authenticate the request before parsing it; an
// unauthenticated request returns a CodeUnauthorized error and no
// event. A nil event with a nil error means the notification verified
// but carries nothing actionable.
type Adapter interface {
	Provider() enums.PaymentProvider
	CreateCheckout(ctx context.Context, in CheckoutInput) (*CheckoutSession, error)
	VerifyEvent(ctx context.Context, header http.Header, body []byte) (*Event, error)
	Refund(ctx context.Context, in RefundInput) (*RefundResult, error)
}
