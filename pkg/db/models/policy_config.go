package models

import "time"

// PolicyConfig stores tunable refund-policy parameters as key/value rows.
// Absent keys fall back to hardcoded defaults.
type PolicyConfig struct {
	Key       string    `gorm:"column:key;primaryKey"`
	Value     string    `gorm:"column:value;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Well-known policy keys.
const (
	PolicyKeyRefundWindowDays       = "refund_window_days"
	PolicyKeyRefundMaxCompletionPct = "refund_max_completion_percent"
)
