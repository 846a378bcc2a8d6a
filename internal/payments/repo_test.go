package payments

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/coursehub-app/coursehub-backend/pkg/db/models"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
)

func setupPaymentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	payments := `
CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  course_id TEXT NOT NULL,
  transaction_id TEXT UNIQUE,
  amount NUMERIC NOT NULL,
  currency TEXT NOT NULL,
  provider TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  gateway_response TEXT,
  refunded_amount NUMERIC NOT NULL DEFAULT 0,
  refunded_at DATETIME,
  refund_transaction_id TEXT,
  refund_gateway_response TEXT,
  invoice_number TEXT UNIQUE,
  invoice_url TEXT,
  completed_at DATETIME,
  customer_email TEXT,
  customer_name TEXT,
  client_ip TEXT,
  user_agent TEXT,
  country TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(payments).Error)
	require.NoError(t, db.Exec(`DELETE FROM payments`).Error)
	return db
}

func seedPayment(t *testing.T, repo Repository, status enums.PaymentStatus, transactionID string) *models.Payment {
	t.Helper()
	payment := &models.Payment{
		ID:       uuid.New(),
		UserID:   uuid.New(),
		CourseID: uuid.New(),
		Amount:   decimal.RequireFromString("49.99"),
		Currency: enums.CurrencyUSD,
		Provider: enums.PaymentProviderSquare,
		Status:   status,
	}
	if transactionID != "" {
		payment.TransactionID = &transactionID
	}
	require.NoError(t, repo.Create(context.Background(), payment))
	return payment
}

func TestRepositoryCreateAndFind(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	seeded := seedPayment(t, repo, enums.PaymentStatusPending, "tx-create-1")

	found, err := repo.FindByID(context.Background(), seeded.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, seeded.ID, found.ID)
	assert.Equal(t, enums.PaymentStatusPending, found.Status)
	assert.True(t, found.Amount.Equal(decimal.RequireFromString("49.99")))
}

func TestRepositoryFindByTransactionID(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	seeded := seedPayment(t, repo, enums.PaymentStatusPending, "tx-find-1")

	found, err := repo.FindByTransactionID(context.Background(), "tx-find-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, seeded.ID, found.ID)

	missing, err := repo.FindByTransactionID(context.Background(), "tx-missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	empty, err := repo.FindByTransactionID(context.Background(), "")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestRepositoryUpdateStatusIf(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	seeded := seedPayment(t, repo, enums.PaymentStatusPending, "tx-cas-1")

	completedAt := time.Now().UTC()
	moved, err := repo.UpdateStatusIf(context.Background(), seeded.ID, enums.PaymentStatusPending, enums.PaymentStatusCompleted, map[string]any{
		"completed_at": completedAt,
	})
	require.NoError(t, err)
	assert.True(t, moved)

	found, err := repo.FindByID(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, found.Status)
	require.NotNil(t, found.CompletedAt)

	// Expected status no longer matches, so the CAS must not fire.
	moved, err = repo.UpdateStatusIf(context.Background(), seeded.ID, enums.PaymentStatusPending, enums.PaymentStatusFailed, nil)
	require.NoError(t, err)
	assert.False(t, moved)

	found, err = repo.FindByID(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, found.Status)
}

func TestRepositorySetInvoiceFieldsLeavesOtherColumns(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	seeded := seedPayment(t, repo, enums.PaymentStatusCompleted, "tx-inv-1")

	// Refund lands before a backlogged invoice write.
	refunded := decimal.RequireFromString("49.99")
	moved, err := repo.UpdateStatusIf(context.Background(), seeded.ID, enums.PaymentStatusCompleted, enums.PaymentStatusRefunded, map[string]any{
		"refunded_amount": refunded,
	})
	require.NoError(t, err)
	require.True(t, moved)

	url := "https://coursehub.test/invoices/INV-202609-TEST"
	require.NoError(t, repo.SetInvoiceFields(context.Background(), seeded.ID, "INV-202609-TEST", &url))

	found, err := repo.FindByID(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, found.Status)
	assert.True(t, refunded.Equal(found.RefundedAmount))
	require.NotNil(t, found.InvoiceNumber)
	assert.Equal(t, "INV-202609-TEST", *found.InvoiceNumber)
	require.NotNil(t, found.InvoiceURL)
	assert.Equal(t, url, *found.InvoiceURL)
}

func TestRepositoryListFilters(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	completed := seedPayment(t, repo, enums.PaymentStatusCompleted, "tx-list-1")
	seedPayment(t, repo, enums.PaymentStatusFailed, "tx-list-2")

	status := enums.PaymentStatusCompleted
	rows, cursor, err := repo.List(context.Background(), ListQuery{Status: &status})
	require.NoError(t, err)
	assert.Nil(t, cursor)
	require.Len(t, rows, 1)
	assert.Equal(t, completed.ID, rows[0].ID)

	rows, _, err = repo.List(context.Background(), ListQuery{UserID: &completed.UserID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, completed.ID, rows[0].ID)
}

func TestRepositoryListPaginates(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))
	userID := uuid.New()
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		payment := &models.Payment{
			ID:        uuid.New(),
			UserID:    userID,
			CourseID:  uuid.New(),
			Amount:    decimal.RequireFromString("10.00"),
			Currency:  enums.CurrencyUSD,
			Provider:  enums.PaymentProviderPayPal,
			Status:    enums.PaymentStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Create(context.Background(), payment))
	}

	rows, cursor, err := repo.List(context.Background(), ListQuery{UserID: &userID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.NotNil(t, cursor)

	rest, next, err := repo.List(context.Background(), ListQuery{UserID: &userID, Limit: 2, Cursor: cursor})
	require.NoError(t, err)
	assert.Nil(t, next)
	require.Len(t, rest, 1)
}

func TestRepositorySumCompletedAmounts(t *testing.T) {
	repo := NewRepository(setupPaymentsTestDB(t))

	completedAt := time.Now().UTC()
	for _, amount := range []string{"10.00", "20.00"} {
		payment := &models.Payment{
			ID:          uuid.New(),
			UserID:      uuid.New(),
			CourseID:    uuid.New(),
			Amount:      decimal.RequireFromString(amount),
			Currency:    enums.CurrencyUSD,
			Provider:    enums.PaymentProviderSquare,
			Status:      enums.PaymentStatusCompleted,
			CompletedAt: &completedAt,
		}
		require.NoError(t, repo.Create(context.Background(), payment))
	}
	seedPayment(t, repo, enums.PaymentStatusFailed, "tx-rev-failed")

	rows, err := repo.SumCompletedAmounts(context.Background(), RevenueQuery{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.CurrencyUSD, rows[0].Currency)
	assert.True(t, rows[0].Gross.Equal(decimal.RequireFromString("30")))
	assert.EqualValues(t, 2, rows[0].Count)
}
