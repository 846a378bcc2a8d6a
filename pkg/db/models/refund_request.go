package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coursehub-app/coursehub-backend/pkg/enums"
)

// RefundRequest is the moderated workflow layered on top of a completed
// Payment. At most one pending or approved request may exist per payment;
// creation-time filtering enforces it.
type RefundRequest struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID uuid.UUID `gorm:"column:payment_id;type:uuid;not null;index"`
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`

	Status enums.RefundRequestStatus `gorm:"column:status;type:varchar(16);not null;default:'pending'"`
	Reason string                    `gorm:"column:reason"`

	// Populated only on approval.
	RefundAmount    decimal.Decimal `gorm:"column:refund_amount;type:numeric(12,2);not null;default:0"`
	GatewayRefundID *string         `gorm:"column:gateway_refund_id"`

	ModeratorID   *uuid.UUID `gorm:"column:moderator_id;type:uuid"`
	ModeratorNote *string    `gorm:"column:moderator_note"`
	DecidedAt     *time.Time `gorm:"column:decided_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
