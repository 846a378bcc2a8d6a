package admin

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/coursehub-app/coursehub-backend/internal/audit"
	"github.com/coursehub-app/coursehub-backend/internal/payments"
	"github.com/coursehub-app/coursehub-backend/internal/policyconfig"
	"github.com/coursehub-app/coursehub-backend/pkg/config"
	"github.com/coursehub-app/coursehub-backend/pkg/db/models"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
	"github.com/coursehub-app/coursehub-backend/pkg/pagination"
)

type fakePaymentRepo struct {
	rows     []models.Payment
	pageSize int
	revenue  []payments.RevenueRow
}

func (f *fakePaymentRepo) WithTx(tx *gorm.DB) payments.Repository { return f }

func (f *fakePaymentRepo) Create(context.Context, *models.Payment) error { return nil }
func (f *fakePaymentRepo) Update(context.Context, *models.Payment) error { return nil }

func (f *fakePaymentRepo) FindByID(context.Context, uuid.UUID) (*models.Payment, error) {
	return nil, nil
}

func (f *fakePaymentRepo) FindByTransactionID(context.Context, string) (*models.Payment, error) {
	return nil, nil
}

func (f *fakePaymentRepo) FindPendingByUserAndCourse(context.Context, uuid.UUID, uuid.UUID) (*models.Payment, error) {
	return nil, nil
}

// List pages through rows positionally: the cursor ID indexes into the
// slice via a lookup, which is enough to exercise export pagination.
func (f *fakePaymentRepo) List(_ context.Context, query payments.ListQuery) ([]models.Payment, *pagination.Cursor, error) {
	start := 0
	if query.Cursor != nil {
		for i := range f.rows {
			if f.rows[i].ID == query.Cursor.ID {
				start = i + 1
				break
			}
		}
	}
	size := f.pageSize
	if size == 0 {
		size = len(f.rows)
	}
	end := start + size
	if end > len(f.rows) {
		end = len(f.rows)
	}
	page := f.rows[start:end]
	if end < len(f.rows) && len(page) > 0 {
		last := page[len(page)-1]
		return page, &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
	}
	return page, nil, nil
}

func (f *fakePaymentRepo) UpdateStatusIf(context.Context, uuid.UUID, enums.PaymentStatus, enums.PaymentStatus, map[string]any) (bool, error) {
	return false, nil
}

func (f *fakePaymentRepo) SetInvoiceFields(context.Context, uuid.UUID, string, *string) error {
	return nil
}

func (f *fakePaymentRepo) SumCompletedAmounts(context.Context, payments.RevenueQuery) ([]payments.RevenueRow, error) {
	return f.revenue, nil
}

type fakeAuditRepo struct{}

func (fakeAuditRepo) WithTx(tx *gorm.DB) audit.Repository { return fakeAuditRepo{} }

func (fakeAuditRepo) Append(context.Context, *models.TransactionLog) error { return nil }

func (fakeAuditRepo) ListByPayment(context.Context, uuid.UUID) ([]models.TransactionLog, error) {
	return nil, nil
}

func (fakeAuditRepo) List(context.Context, audit.ListQuery) ([]models.TransactionLog, *pagination.Cursor, error) {
	return nil, nil, nil
}

type fakePolicyRepo struct {
	policy policyconfig.Policy
	sets   map[string]string
}

func (f *fakePolicyRepo) Effective(context.Context) (policyconfig.Policy, error) {
	return f.policy, nil
}

func (f *fakePolicyRepo) Set(_ context.Context, key, value string) error {
	if f.sets == nil {
		f.sets = map[string]string{}
	}
	f.sets[key] = value
	return nil
}

type fakeProviderLister struct {
	providers []enums.PaymentProvider
}

func (f *fakeProviderLister) Enabled() []enums.PaymentProvider { return f.providers }

func adminFixture(t *testing.T, repo *fakePaymentRepo, policyRepo *fakePolicyRepo) *Service {
	t.Helper()
	cfg := &config.Config{}
	cfg.Square.Enabled = true
	cfg.Square.AccessToken = "token"
	cfg.Square.LocationID = "loc"
	cfg.Square.WebhookSecret = "secret"
	cfg.PayPal.Enabled = true

	service, err := NewService(ServiceParams{
		PaymentRepo: repo,
		AuditRepo:   fakeAuditRepo{},
		PolicyRepo:  policyRepo,
		Gateways:    &fakeProviderLister{providers: []enums.PaymentProvider{enums.PaymentProviderSquare}},
		Config:      cfg,
		Logger:      logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return service
}

func samplePayments(n int) []models.Payment {
	rows := make([]models.Payment, 0, n)
	base := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		txID := uuid.NewString()
		rows = append(rows, models.Payment{
			ID:            uuid.New(),
			UserID:        uuid.New(),
			CourseID:      uuid.New(),
			TransactionID: &txID,
			Amount:        decimal.RequireFromString("19.99"),
			Currency:      enums.CurrencyUSD,
			Provider:      enums.PaymentProviderSquare,
			Status:        enums.PaymentStatusCompleted,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		})
	}
	return rows
}

func TestExportCSVFollowsCursor(t *testing.T) {
	repo := &fakePaymentRepo{rows: samplePayments(5), pageSize: 2}
	service := adminFixture(t, repo, &fakePolicyRepo{})

	var buf bytes.Buffer
	err := service.Export(context.Background(), payments.ListQuery{}, ExportCSV, &buf)
	require.NoError(t, err)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 6, "header plus every row across pages")
	assert.Equal(t, exportHeader, records[0])
	assert.Equal(t, repo.rows[0].ID.String(), records[1][0])
	assert.Equal(t, "19.99", records[1][5])
}

func TestExportJSONIsValid(t *testing.T) {
	repo := &fakePaymentRepo{rows: samplePayments(3), pageSize: 2}
	service := adminFixture(t, repo, &fakePolicyRepo{})

	var buf bytes.Buffer
	err := service.Export(context.Background(), payments.ListQuery{}, ExportJSON, &buf)
	require.NoError(t, err)

	var decoded []models.Payment
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 3)
	assert.Equal(t, repo.rows[2].ID, decoded[2].ID)
}

func TestParseExportFormat(t *testing.T) {
	format, err := ParseExportFormat("")
	require.NoError(t, err)
	assert.Equal(t, ExportCSV, format)

	format, err = ParseExportFormat("json")
	require.NoError(t, err)
	assert.Equal(t, ExportJSON, format)

	_, err = ParseExportFormat("xml")
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestGatewayStatuses(t *testing.T) {
	service := adminFixture(t, &fakePaymentRepo{}, &fakePolicyRepo{})

	statuses := service.GatewayStatuses(context.Background())
	require.Len(t, statuses, len(enums.PaymentProviders()))

	byProvider := map[enums.PaymentProvider]GatewayStatus{}
	for _, status := range statuses {
		byProvider[status.Provider] = status
	}

	square := byProvider[enums.PaymentProviderSquare]
	assert.True(t, square.Enabled)
	assert.True(t, square.Configured)
	assert.True(t, square.Active)

	// Enabled but missing credentials and never registered.
	paypal := byProvider[enums.PaymentProviderPayPal]
	assert.True(t, paypal.Enabled)
	assert.False(t, paypal.Configured)
	assert.False(t, paypal.Active)
}

func TestUpdatePolicyPersistsKnobs(t *testing.T) {
	policyRepo := &fakePolicyRepo{policy: policyconfig.Policy{RefundWindowDays: 14, RefundMaxCompletionPct: 50}}
	service := adminFixture(t, &fakePaymentRepo{}, policyRepo)

	window := 14
	limit := 50
	policy, err := service.UpdatePolicy(context.Background(), PolicyUpdate{
		RefundWindowDays:       &window,
		RefundMaxCompletionPct: &limit,
	})
	require.NoError(t, err)

	assert.Equal(t, 14, policy.RefundWindowDays)
	assert.Equal(t, "14", policyRepo.sets[models.PolicyKeyRefundWindowDays])
	assert.Equal(t, "50", policyRepo.sets[models.PolicyKeyRefundMaxCompletionPct])
}

func TestUpdatePolicyValidates(t *testing.T) {
	service := adminFixture(t, &fakePaymentRepo{}, &fakePolicyRepo{})

	_, err := service.UpdatePolicy(context.Background(), PolicyUpdate{})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	bad := 140
	_, err = service.UpdatePolicy(context.Background(), PolicyUpdate{RefundMaxCompletionPct: &bad})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
