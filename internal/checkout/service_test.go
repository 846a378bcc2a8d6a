package checkout

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/coursehub-app/coursehub-backend/internal/audit"
	"github.com/coursehub-app/coursehub-backend/internal/enrollments"
	"github.com/coursehub-app/coursehub-backend/internal/gateways"
	"github.com/coursehub-app/coursehub-backend/internal/payments"
	"github.com/coursehub-app/coursehub-backend/pkg/db/models"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
	"github.com/coursehub-app/coursehub-backend/pkg/pagination"
)

type fakePaymentRepo struct {
	payments map[uuid.UUID]*models.Payment
	pending  *models.Payment
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{payments: map[uuid.UUID]*models.Payment{}}
}

func (f *fakePaymentRepo) WithTx(tx *gorm.DB) payments.Repository { return f }

func (f *fakePaymentRepo) Create(_ context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	clone := *payment
	f.payments[payment.ID] = &clone
	return nil
}

func (f *fakePaymentRepo) Update(_ context.Context, payment *models.Payment) error {
	clone := *payment
	f.payments[payment.ID] = &clone
	return nil
}

func (f *fakePaymentRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	if p, ok := f.payments[id]; ok {
		clone := *p
		return &clone, nil
	}
	return nil, nil
}

func (f *fakePaymentRepo) FindByTransactionID(_ context.Context, _ string) (*models.Payment, error) {
	return nil, nil
}

func (f *fakePaymentRepo) FindPendingByUserAndCourse(_ context.Context, _, _ uuid.UUID) (*models.Payment, error) {
	return f.pending, nil
}

func (f *fakePaymentRepo) List(_ context.Context, _ payments.ListQuery) ([]models.Payment, *pagination.Cursor, error) {
	return nil, nil, nil
}

func (f *fakePaymentRepo) UpdateStatusIf(_ context.Context, id uuid.UUID, expected, target enums.PaymentStatus, updates map[string]any) (bool, error) {
	p, ok := f.payments[id]
	if !ok || p.Status != expected {
		return false, nil
	}
	p.Status = target
	if tid, ok := updates["transaction_id"].(string); ok {
		p.TransactionID = &tid
	}
	return true, nil
}

func (f *fakePaymentRepo) SetInvoiceFields(_ context.Context, _ uuid.UUID, _ string, _ *string) error {
	return nil
}

func (f *fakePaymentRepo) SumCompletedAmounts(_ context.Context, _ payments.RevenueQuery) ([]payments.RevenueRow, error) {
	return nil, nil
}

type fakeCourseRepo struct {
	course *models.Course
}

func (f *fakeCourseRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Course, error) {
	if f.course != nil && f.course.ID == id {
		return f.course, nil
	}
	return nil, nil
}

type fakeEnrollmentRepo struct {
	enrolled bool
}

func (f *fakeEnrollmentRepo) WithTx(tx *gorm.DB) enrollments.Repository { return f }

func (f *fakeEnrollmentRepo) Create(context.Context, *models.Enrollment) error { return nil }

func (f *fakeEnrollmentRepo) Find(context.Context, uuid.UUID, uuid.UUID) (*models.Enrollment, error) {
	return nil, nil
}

func (f *fakeEnrollmentRepo) Exists(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return f.enrolled, nil
}

func (f *fakeEnrollmentRepo) Delete(context.Context, uuid.UUID, uuid.UUID) error { return nil }

type fakeAuditRepo struct {
	entries []*models.TransactionLog
}

func (f *fakeAuditRepo) WithTx(tx *gorm.DB) audit.Repository { return f }

func (f *fakeAuditRepo) Append(_ context.Context, entry *models.TransactionLog) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditRepo) ListByPayment(context.Context, uuid.UUID) ([]models.TransactionLog, error) {
	return nil, nil
}

func (f *fakeAuditRepo) List(context.Context, audit.ListQuery) ([]models.TransactionLog, *pagination.Cursor, error) {
	return nil, nil, nil
}

type fakeAdapter struct {
	provider    enums.PaymentProvider
	checkouts   []gateways.CheckoutInput
	checkoutErr error
}

func (f *fakeAdapter) Provider() enums.PaymentProvider { return f.provider }

func (f *fakeAdapter) CreateCheckout(_ context.Context, in gateways.CheckoutInput) (*gateways.CheckoutSession, error) {
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}
	f.checkouts = append(f.checkouts, in)
	return &gateways.CheckoutSession{
		TransactionID: "tx-" + in.PaymentID,
		RedirectURL:   "https://gateway.example/pay/" + in.PaymentID,
		Raw:           map[string]any{"id": in.PaymentID},
	}, nil
}

func (f *fakeAdapter) VerifyEvent(context.Context, http.Header, []byte) (*gateways.Event, error) {
	return nil, nil
}

func (f *fakeAdapter) Refund(context.Context, gateways.RefundInput) (*gateways.RefundResult, error) {
	return nil, nil
}

type fakeResolver struct {
	adapter *fakeAdapter
}

func (f *fakeResolver) Get(provider enums.PaymentProvider) (gateways.Adapter, error) {
	if f.adapter == nil || f.adapter.provider != provider {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment provider not available")
	}
	return f.adapter, nil
}

type fakeConverter struct {
	calls int
}

func (f *fakeConverter) Convert(_ context.Context, amount decimal.Decimal, from, to enums.Currency) (decimal.Decimal, error) {
	f.calls++
	if from == enums.CurrencyUSD && to == enums.CurrencyEGP {
		return amount.Mul(decimal.RequireFromString("48.5")).Round(2), nil
	}
	return amount.Round(2), nil
}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fixture struct {
	service   *Service
	payments  *fakePaymentRepo
	enrolls   *fakeEnrollmentRepo
	audits    *fakeAuditRepo
	adapter   *fakeAdapter
	converter *fakeConverter
}

func newFixture(t *testing.T, course *models.Course) *fixture {
	t.Helper()
	paymentRepo := newFakePaymentRepo()
	enrolls := &fakeEnrollmentRepo{}
	audits := &fakeAuditRepo{}
	adapter := &fakeAdapter{provider: enums.PaymentProviderSquare}
	conv := &fakeConverter{}

	service, err := NewService(ServiceParams{
		PaymentRepo:       paymentRepo,
		CourseRepo:        &fakeCourseRepo{course: course},
		EnrollmentRepo:    enrolls,
		AuditRepo:         audits,
		Adapters:          &fakeResolver{adapter: adapter},
		Rates:             conv,
		TransactionRunner: fakeTxRunner{},
		Logger:            logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		PublicURL:         "https://coursehub.app",
	})
	require.NoError(t, err)
	return &fixture{service: service, payments: paymentRepo, enrolls: enrolls, audits: audits, adapter: adapter, converter: conv}
}

func publishedCourse() *models.Course {
	return &models.Course{
		ID:           uuid.New(),
		Title:        "Distributed Systems in Go",
		BasePrice:    decimal.RequireFromString("49.99"),
		BaseCurrency: enums.CurrencyUSD,
		Published:    true,
	}
}

func startInput(courseID uuid.UUID) Input {
	return Input{
		UserID:        uuid.New(),
		CourseID:      courseID,
		Provider:      enums.PaymentProviderSquare,
		Currency:      enums.CurrencyUSD,
		CustomerEmail: "student@example.com",
		CustomerName:  "Test Student",
		ClientIP:      "203.0.113.9",
		UserAgent:     "tester/1.0",
	}
}

func TestStartCreatesProcessingPayment(t *testing.T) {
	course := publishedCourse()
	fx := newFixture(t, course)

	result, err := fx.service.Start(context.Background(), startInput(course.ID))
	require.NoError(t, err)

	assert.NotEmpty(t, result.RedirectURL)
	assert.Equal(t, enums.PaymentStatusProcessing, result.Payment.Status)
	require.NotNil(t, result.Payment.TransactionID)
	assert.True(t, result.Payment.Amount.Equal(course.BasePrice))

	stored := fx.payments.payments[result.Payment.ID]
	assert.Equal(t, enums.PaymentStatusProcessing, stored.Status)

	require.Len(t, fx.audits.entries, 1)
	assert.Equal(t, enums.AuditEventCheckoutCreated, fx.audits.entries[0].Event)

	require.Len(t, fx.adapter.checkouts, 1)
	assert.Contains(t, fx.adapter.checkouts[0].SuccessURL, result.Payment.ID.String())
	assert.Equal(t, 0, fx.converter.calls, "base-currency checkout should not convert")
}

func TestStartUsesNativePriceWhenDefined(t *testing.T) {
	course := publishedCourse()
	course.Prices = []models.CoursePrice{{
		CourseID: course.ID,
		Currency: enums.CurrencyEGP,
		Amount:   decimal.RequireFromString("1500.00"),
	}}
	fx := newFixture(t, course)

	in := startInput(course.ID)
	in.Currency = enums.CurrencyEGP
	result, err := fx.service.Start(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, result.Payment.Amount.Equal(decimal.RequireFromString("1500.00")))
	assert.Equal(t, 0, fx.converter.calls)
}

func TestStartConvertsBasePrice(t *testing.T) {
	course := publishedCourse()
	fx := newFixture(t, course)

	in := startInput(course.ID)
	in.Currency = enums.CurrencyEGP
	result, err := fx.service.Start(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, 1, fx.converter.calls)
	assert.True(t, result.Payment.Amount.Equal(decimal.RequireFromString("2424.52")), result.Payment.Amount.String())
}

func TestStartRejectsUnknownCourse(t *testing.T) {
	fx := newFixture(t, publishedCourse())

	_, err := fx.service.Start(context.Background(), startInput(uuid.New()))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestStartRejectsUnpublishedCourse(t *testing.T) {
	course := publishedCourse()
	course.Published = false
	fx := newFixture(t, course)

	_, err := fx.service.Start(context.Background(), startInput(course.ID))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestStartRejectsEnrolledUser(t *testing.T) {
	course := publishedCourse()
	fx := newFixture(t, course)
	fx.enrolls.enrolled = true

	_, err := fx.service.Start(context.Background(), startInput(course.ID))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))
}

func TestStartRejectsOpenPayment(t *testing.T) {
	course := publishedCourse()
	fx := newFixture(t, course)
	fx.payments.pending = &models.Payment{ID: uuid.New(), Status: enums.PaymentStatusProcessing}

	_, err := fx.service.Start(context.Background(), startInput(course.ID))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))
}

func TestStartReusesAbandonedPendingPayment(t *testing.T) {
	course := publishedCourse()
	fx := newFixture(t, course)
	abandoned := &models.Payment{
		ID:       uuid.New(),
		Status:   enums.PaymentStatusPending,
		Amount:   decimal.RequireFromString("49.99"),
		Currency: enums.CurrencyUSD,
		Provider: enums.PaymentProviderSquare,
	}
	fx.payments.pending = abandoned
	fx.payments.payments[abandoned.ID] = abandoned

	result, err := fx.service.Start(context.Background(), startInput(course.ID))
	require.NoError(t, err)
	assert.Equal(t, abandoned.ID, result.Payment.ID, "retry adopts the session-less row")
	assert.Len(t, fx.payments.payments, 1)
}

func TestStartRejectsUnknownProvider(t *testing.T) {
	course := publishedCourse()
	fx := newFixture(t, course)

	in := startInput(course.ID)
	in.Provider = enums.PaymentProviderPaymob
	_, err := fx.service.Start(context.Background(), in)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	assert.Empty(t, fx.payments.payments, "no payment row before provider resolution")
}

func TestStartLeavesPaymentPendingOnGatewayError(t *testing.T) {
	course := publishedCourse()
	fx := newFixture(t, course)
	fx.adapter.checkoutErr = pkgerrors.New(pkgerrors.CodeGateway, "provider is down")

	_, err := fx.service.Start(context.Background(), startInput(course.ID))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeGateway))

	// A timed-out create may still have opened a provider session, so
	// the payment must stay pending for a later webhook or a retry.
	require.Len(t, fx.payments.payments, 1)
	for _, p := range fx.payments.payments {
		assert.Equal(t, enums.PaymentStatusPending, p.Status)
	}
	assert.Empty(t, fx.audits.entries)
}
