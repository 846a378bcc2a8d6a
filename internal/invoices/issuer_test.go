package invoices

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/coursehub-app/coursehub-backend/pkg/db/models"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []string
	failures int
}

func (f *fakeSender) Send(to, subject, htmlBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("smtp unavailable")
	}
	f.sent = append(f.sent, subject)
	return nil
}

type invoiceWrite struct {
	paymentID uuid.UUID
	number    string
	url       *string
}

func testPayment() models.Payment {
	completed := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	return models.Payment{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		CourseID:    uuid.New(),
		Amount:      decimal.RequireFromString("49.99"),
		Currency:    enums.CurrencyUSD,
		Provider:    enums.PaymentProviderSquare,
		Status:      enums.PaymentStatusCompleted,
		CompletedAt: &completed,
	}
}

func newTestIssuer(t *testing.T, sender *fakeSender, setFn func(ctx context.Context, id uuid.UUID, number string, url *string) error) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(IssuerParams{
		Sender:       sender,
		Logger:       logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		MaxAttempts:  3,
		NumberPrefix: "INV",
		BaseURL:      "https://coursehub.test",
		SetInvoiceFn: setFn,
	})
	require.NoError(t, err)
	issuer.backoff = func(int) time.Duration { return time.Millisecond }
	return issuer
}

func TestNumberForIsDeterministic(t *testing.T) {
	id := uuid.New()
	at := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	first := NumberFor("INV", id, at)
	second := NumberFor("INV", id, at)
	assert.Equal(t, first, second)
	assert.Contains(t, first, "INV-202609-")
}

func TestIssuePersistsInvoiceColumnsOnly(t *testing.T) {
	var saved *invoiceWrite
	sender := &fakeSender{}
	issuer := newTestIssuer(t, sender, func(_ context.Context, id uuid.UUID, number string, url *string) error {
		saved = &invoiceWrite{paymentID: id, number: number, url: url}
		return nil
	})

	payment := testPayment()
	issuer.process(context.Background(), Task{Payment: payment, Recipient: "student@example.com"})

	// Only the invoice columns are handed over; a payment refunded
	// between completion and a backlogged issuance keeps its status.
	require.NotNil(t, saved)
	assert.Equal(t, payment.ID, saved.paymentID)
	assert.Contains(t, saved.number, "INV-202609-")
	require.NotNil(t, saved.url)
	assert.Contains(t, *saved.url, "https://coursehub.test/invoices/")
	assert.Len(t, sender.sent, 1)
}

func TestIssueRetriesTransientFailures(t *testing.T) {
	sender := &fakeSender{failures: 2}
	issuer := newTestIssuer(t, sender, func(_ context.Context, _ uuid.UUID, _ string, _ *string) error { return nil })

	issuer.process(context.Background(), Task{Payment: testPayment(), Recipient: "student@example.com"})

	assert.Len(t, sender.sent, 1)
}

func TestIssueGivesUpAfterMaxAttempts(t *testing.T) {
	sender := &fakeSender{failures: 10}
	issuer := newTestIssuer(t, sender, func(_ context.Context, _ uuid.UUID, _ string, _ *string) error { return nil })

	issuer.process(context.Background(), Task{Payment: testPayment(), Recipient: "student@example.com"})

	assert.Empty(t, sender.sent)
}

func TestIssueKeepsExistingNumber(t *testing.T) {
	var saved *invoiceWrite
	issuer := newTestIssuer(t, nil, func(_ context.Context, id uuid.UUID, number string, url *string) error {
		saved = &invoiceWrite{paymentID: id, number: number, url: url}
		return nil
	})

	payment := testPayment()
	existing := "INV-202608-AAAABBBBCCCC"
	payment.InvoiceNumber = &existing

	issuer.process(context.Background(), Task{Payment: payment})

	require.NotNil(t, saved)
	assert.Equal(t, existing, saved.number)
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	issuer, err := NewIssuer(IssuerParams{
		Logger:       logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		QueueSize:    1,
		SetInvoiceFn: func(_ context.Context, _ uuid.UUID, _ string, _ *string) error { return nil },
	})
	require.NoError(t, err)

	issuer.Enqueue(context.Background(), Task{Payment: testPayment()})
	issuer.Enqueue(context.Background(), Task{Payment: testPayment()})

	assert.Len(t, issuer.queue, 1)
}
