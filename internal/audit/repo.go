package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursehub-app/coursehub-backend/pkg/db/models"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	"github.com/coursehub-app/coursehub-backend/pkg/pagination"
)

// Repository persists the append-only transaction log. There is no
// update or delete surface on purpose.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Append(ctx context.Context, entry *models.TransactionLog) error
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.TransactionLog, error)
	List(ctx context.Context, params ListQuery) ([]models.TransactionLog, *pagination.Cursor, error)
}

// ListQuery configures transaction log list queries.
type ListQuery struct {
	Event  *enums.AuditEventType
	UserID *uuid.UUID
	From   *time.Time
	To     *time.Time
	Limit  int
	Cursor *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a transaction log repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Append(ctx context.Context, entry *models.TransactionLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.TransactionLog, error) {
	var entries []models.TransactionLog
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) List(ctx context.Context, params ListQuery) ([]models.TransactionLog, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.TransactionLog{})
	if params.Event != nil {
		query = query.Where("event = ?", *params.Event)
	}
	if params.UserID != nil {
		query = query.Where("user_id = ?", *params.UserID)
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

	var entries []models.TransactionLog
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&entries).Error; err != nil {
		return nil, nil, err
	}

	if len(entries) > limit {
		next := entries[limit]
		entries = entries[:limit]
		return entries, &pagination.Cursor{
			CreatedAt: next.CreatedAt,
			ID:        next.ID,
		}, nil
	}

	return entries, nil, nil
}
