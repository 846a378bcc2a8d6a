package invoices

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coursehub-app/coursehub-backend/pkg/db/models"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
	"github.com/coursehub-app/coursehub-backend/pkg/mailer"
)

// Task asks the issuer to render and deliver one invoice.
type Task struct {
	Payment       models.Payment
	RecipientName string
	Recipient     string
}

// IssuerParams groups dependencies for the invoice issuer.
// SetInvoiceFn must write only the invoice columns: by the time a
// queued task runs the payment row may have moved on (a refund, for
// one), and a full-row save would clobber that.
type IssuerParams struct {
	Sender       mailer.Sender
	Logger       *logger.Logger
	QueueSize    int
	MaxAttempts  int
	NumberPrefix string
	BaseURL      string
	SetInvoiceFn func(ctx context.Context, paymentID uuid.UUID, number string, url *string) error
}

// Issuer delivers invoices asynchronously after payment completion.
// Delivery is best effort: a payment whose invoice email fails stays
// completed, and the failure is logged and retried a bounded number of
// times.
type Issuer struct {
	sender       mailer.Sender
	logger       *logger.Logger
	queue        chan Task
	maxAttempts  int
	numberPrefix string
	baseURL      string
	setInvoiceFn func(ctx context.Context, paymentID uuid.UUID, number string, url *string) error

	backoff func(attempt int) time.Duration
}

// NewIssuer builds the invoice issuer.
func NewIssuer(params IssuerParams) (*Issuer, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.SetInvoiceFn == nil {
		return nil, errors.New("set invoice fn is required")
	}
	if params.QueueSize <= 0 {
		params.QueueSize = 256
	}
	if params.MaxAttempts <= 0 {
		params.MaxAttempts = 3
	}
	return &Issuer{
		sender:       params.Sender,
		logger:       params.Logger,
		queue:        make(chan Task, params.QueueSize),
		maxAttempts:  params.MaxAttempts,
		numberPrefix: params.NumberPrefix,
		baseURL:      strings.TrimRight(params.BaseURL, "/"),
		setInvoiceFn: params.SetInvoiceFn,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * 2 * time.Second
		},
	}, nil
}

// Enqueue hands a task to the worker without blocking the caller. A
// full queue drops the task and logs it; delivery is not part of the
// payment transition.
func (i *Issuer) Enqueue(ctx context.Context, task Task) {
	select {
	case i.queue <- task:
	default:
		ctx = i.logger.WithPaymentID(ctx, task.Payment.ID.String())
		i.logger.Warn(ctx, "invoice queue full, dropping task")
	}
}

// Run processes tasks until the context is cancelled.
func (i *Issuer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-i.queue:
			i.process(ctx, task)
		}
	}
}

func (i *Issuer) process(ctx context.Context, task Task) {
	ctx = i.logger.WithPaymentID(ctx, task.Payment.ID.String())

	var lastErr error
	for attempt := 1; attempt <= i.maxAttempts; attempt++ {
		if lastErr = i.issue(ctx, task); lastErr == nil {
			i.logger.Info(ctx, "invoice delivered")
			return
		}
		if attempt < i.maxAttempts {
			select {
			case <-ctx.Done():
				return
			case <-time.After(i.backoff(attempt)):
			}
		}
	}
	i.logger.Error(ctx, "invoice delivery exhausted retries", lastErr)
}

func (i *Issuer) issue(ctx context.Context, task Task) error {
	payment := task.Payment
	if payment.InvoiceNumber == nil {
		issuedAt := time.Now()
		if payment.CompletedAt != nil {
			issuedAt = *payment.CompletedAt
		}
		number := NumberFor(i.numberPrefix, payment.ID, issuedAt)
		payment.InvoiceNumber = &number
	}
	if payment.InvoiceURL == nil && i.baseURL != "" {
		url := fmt.Sprintf("%s/invoices/%s", i.baseURL, *payment.InvoiceNumber)
		payment.InvoiceURL = &url
	}

	if err := i.setInvoiceFn(ctx, payment.ID, *payment.InvoiceNumber, payment.InvoiceURL); err != nil {
		return fmt.Errorf("persist invoice fields: %w", err)
	}

	if i.sender == nil || task.Recipient == "" {
		// SMTP is optional; the invoice record alone satisfies issuance.
		return nil
	}

	subject := fmt.Sprintf("Your CourseHub invoice %s", *payment.InvoiceNumber)
	if err := i.sender.Send(task.Recipient, subject, renderInvoice(task, payment)); err != nil {
		return fmt.Errorf("send invoice email: %w", err)
	}
	return nil
}

func renderInvoice(task Task, payment models.Payment) string {
	name := task.RecipientName
	if name == "" {
		name = "there"
	}
	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<p>Hi %s,</p>", name)
	fmt.Fprintf(&b, "<p>Thanks for your purchase. Invoice <strong>%s</strong>.</p>", *payment.InvoiceNumber)
	fmt.Fprintf(&b, "<p>Amount: %s %s via %s.</p>", payment.Amount.StringFixed(2), payment.Currency, payment.Provider)
	if payment.InvoiceURL != nil {
		fmt.Fprintf(&b, `<p><a href="%s">View your invoice</a></p>`, *payment.InvoiceURL)
	}
	b.WriteString("<p>CourseHub</p></body></html>")
	return b.String()
}
