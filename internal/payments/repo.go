package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/coursehub-app/coursehub-backend/pkg/db/models"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	"github.com/coursehub-app/coursehub-backend/pkg/pagination"
)

// Repository handles payment persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	Update(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error)
	FindPendingByUserAndCourse(ctx context.Context, userID, courseID uuid.UUID) (*models.Payment, error)
	List(ctx context.Context, params ListQuery) ([]models.Payment, *pagination.Cursor, error)
	UpdateStatusIf(ctx context.Context, id uuid.UUID, expected, target enums.PaymentStatus, updates map[string]any) (bool, error)
	SetInvoiceFields(ctx context.Context, id uuid.UUID, number string, url *string) error
	SumCompletedAmounts(ctx context.Context, params RevenueQuery) ([]RevenueRow, error)
}

// ListQuery configures payment list queries.
type ListQuery struct {
	UserID   *uuid.UUID
	CourseID *uuid.UUID
	Status   *enums.PaymentStatus
	Provider *enums.PaymentProvider
	Currency *enums.Currency
	From     *time.Time
	To       *time.Time
	Limit    int
	Cursor   *pagination.Cursor
}

// RevenueQuery bounds a revenue aggregation.
type RevenueQuery struct {
	From     *time.Time
	To       *time.Time
	Provider *enums.PaymentProvider
}

// RevenueRow is one aggregation bucket, grouped by currency and
// provider. Refunded amounts are already netted out.
type RevenueRow struct {
	Currency enums.Currency        `json:"currency"`
	Provider enums.PaymentProvider `json:"provider"`
	Gross    decimal.Decimal       `json:"gross"`
	Refunded decimal.Decimal       `json:"refunded"`
	Count    int64                 `json:"count"`
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) Update(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Save(payment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&payment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	if transactionID == "" {
		return nil, nil
	}
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		First(&payment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindPendingByUserAndCourse(ctx context.Context, userID, courseID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Where("status IN (?)", []enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusProcessing}).
		Order("created_at DESC").
		First(&payment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) List(ctx context.Context, params ListQuery) ([]models.Payment, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Payment{})
	if params.UserID != nil {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.CourseID != nil {
		query = query.Where("course_id = ?", *params.CourseID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Provider != nil {
		query = query.Where("provider = ?", *params.Provider)
	}
	if params.Currency != nil {
		query = query.Where("currency = ?", *params.Currency)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("created_at < ?", *params.To)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var payments []models.Payment
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&payments).Error; err != nil {
		return nil, nil, err
	}

	if len(payments) > limit {
		next := payments[limit]
		payments = payments[:limit]
		return payments, &pagination.Cursor{
			CreatedAt: next.CreatedAt,
			ID:        next.ID,
		}, nil
	}

	return payments, nil, nil
}

// UpdateStatusIf performs the compare-and-set transition. The WHERE
// clause carries the expected status so concurrent writers race on the
// database row, not on in-process state; a false return means another
// writer moved the payment first.
func (r *repository) UpdateStatusIf(ctx context.Context, id uuid.UUID, expected, target enums.PaymentStatus, updates map[string]any) (bool, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = target

	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// SetInvoiceFields touches only the invoice columns so a late-running
// issuer cannot overwrite concurrent status or refund changes.
func (r *repository) SetInvoiceFields(ctx context.Context, id uuid.UUID, number string, url *string) error {
	updates := map[string]any{"invoice_number": number}
	if url != nil {
		updates["invoice_url"] = *url
	}
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) SumCompletedAmounts(ctx context.Context, params RevenueQuery) ([]RevenueRow, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select("currency, provider, SUM(amount) AS gross, SUM(refunded_amount) AS refunded, COUNT(*) AS count").
		Where("status IN (?)", []enums.PaymentStatus{enums.PaymentStatusCompleted, enums.PaymentStatusRefunded}).
		Group("currency, provider")
	if params.From != nil {
		query = query.Where("completed_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("completed_at < ?", *params.To)
	}
	if params.Provider != nil {
		query = query.Where("provider = ?", *params.Provider)
	}

	var rows []RevenueRow
	if err := query.Order("currency, provider").Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
