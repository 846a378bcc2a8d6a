package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coursehub-app/coursehub-backend/pkg/enums"
)

// TransactionLog records an immutable money lifecycle event for a payment.
// Rows are appended only, independent of the mutable Payment record.
type TransactionLog struct {
	ID        uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID uuid.UUID             `gorm:"column:payment_id;type:uuid;not null;index"`
	UserID    uuid.UUID             `gorm:"column:user_id;type:uuid;not null"`
	Event     enums.AuditEventType  `gorm:"column:event;type:varchar(32);not null"`
	Provider  enums.PaymentProvider `gorm:"column:provider;type:varchar(16);not null"`
	Amount    decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency  enums.Currency        `gorm:"column:currency;type:varchar(3);not null"`
	Metadata  json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt time.Time             `gorm:"column:created_at;autoCreateTime"`
}
