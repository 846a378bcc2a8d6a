package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coursehub-app/coursehub-backend/pkg/enums"
)

// Payment is the durable state-machine instance for one purchase attempt.
// Rows are never deleted; refunds flip status instead.
type Payment struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID   uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	CourseID uuid.UUID `gorm:"column:course_id;type:uuid;not null;index"`

	// TransactionID is the provider-assigned reference, set once a gateway
	// session or order exists. Unique when present.
	TransactionID *string `gorm:"column:transaction_id;uniqueIndex"`

	Amount   decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency enums.Currency        `gorm:"column:currency;type:varchar(3);not null"`
	Provider enums.PaymentProvider `gorm:"column:provider;type:varchar(16);not null"`
	Status   enums.PaymentStatus   `gorm:"column:status;type:varchar(16);not null;default:'pending';index"`

	// GatewayResponse is the opaque last-known provider payload, kept for
	// audit and dispute resolution.
	GatewayResponse json.RawMessage `gorm:"column:gateway_response;type:jsonb"`

	RefundedAmount        decimal.Decimal `gorm:"column:refunded_amount;type:numeric(12,2);not null;default:0"`
	RefundedAt            *time.Time      `gorm:"column:refunded_at"`
	RefundTransactionID   *string         `gorm:"column:refund_transaction_id"`
	RefundGatewayResponse json.RawMessage `gorm:"column:refund_gateway_response;type:jsonb"`

	InvoiceNumber *string `gorm:"column:invoice_number;uniqueIndex"`
	InvoiceURL    *string `gorm:"column:invoice_url"`

	CompletedAt *time.Time `gorm:"column:completed_at"`

	// Payer contact captured at checkout; the invoice issuer delivers to it.
	CustomerEmail *string `gorm:"column:customer_email"`
	CustomerName  *string `gorm:"column:customer_name"`

	// Request metadata captured at checkout. Informational only, never used
	// for pricing decisions.
	ClientIP  *string `gorm:"column:client_ip"`
	UserAgent *string `gorm:"column:user_agent"`
	Country   *string `gorm:"column:country"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Refundable returns the amount still eligible for reversal.
func (p *Payment) Refundable() decimal.Decimal {
	return p.Amount.Sub(p.RefundedAmount)
}
