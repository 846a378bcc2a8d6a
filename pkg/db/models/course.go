package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coursehub-app/coursehub-backend/pkg/enums"
)

// Course carries only the fields the payment core consumes. The course
// editors live in another service surface.
type Course struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Title        string          `gorm:"column:title;not null"`
	BasePrice    decimal.Decimal `gorm:"column:base_price;type:numeric(12,2);not null"`
	BaseCurrency enums.Currency  `gorm:"column:base_currency;type:varchar(3);not null;default:'USD'"`
	Published    bool            `gorm:"column:published;not null;default:true"`

	Prices []CoursePrice `gorm:"foreignKey:CourseID"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// CoursePrice is an optional native price in a non-base currency. When
// present it takes precedence over converting the base price.
type CoursePrice struct {
	ID       uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CourseID uuid.UUID       `gorm:"column:course_id;type:uuid;not null;uniqueIndex:idx_course_currency"`
	Currency enums.Currency  `gorm:"column:currency;type:varchar(3);not null;uniqueIndex:idx_course_currency"`
	Amount   decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
}

// PriceIn returns the native price for the currency, if one is defined.
func (c *Course) PriceIn(currency enums.Currency) (decimal.Decimal, bool) {
	if currency == c.BaseCurrency {
		return c.BasePrice, true
	}
	for _, p := range c.Prices {
		if p.Currency == currency {
			return p.Amount, true
		}
	}
	return decimal.Decimal{}, false
}
