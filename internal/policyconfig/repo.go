package policyconfig

import (
	"context"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coursehub-app/coursehub-backend/pkg/config"
	"github.com/coursehub-app/coursehub-backend/pkg/db/models"
)

// Policy is the effective refund policy. Values come from the
// policy_configs table with configured defaults as fallback, and are
// read live so an admin change applies to the next request.
type Policy struct {
	RefundWindowDays       int `json:"refund_window_days"`
	RefundMaxCompletionPct int `json:"refund_max_completion_percent"`
}

// Repository reads and writes policy keys.
type Repository interface {
	Effective(ctx context.Context) (Policy, error)
	Set(ctx context.Context, key, value string) error
}

type repository struct {
	db       *gorm.DB
	defaults config.PolicyDefaultsConfig
}

// NewRepository returns a policy repository bound to the provided database.
func NewRepository(db *gorm.DB, defaults config.PolicyDefaultsConfig) Repository {
	return &repository{db: db, defaults: defaults}
}

func (r *repository) Effective(ctx context.Context) (Policy, error) {
	policy := Policy{
		RefundWindowDays:       r.defaults.RefundWindowDays,
		RefundMaxCompletionPct: r.defaults.RefundMaxCompletionPct,
	}

	var rows []models.PolicyConfig
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return policy, err
	}
	for _, row := range rows {
		value, err := strconv.Atoi(row.Value)
		if err != nil || value < 0 {
			continue
		}
		switch row.Key {
		case models.PolicyKeyRefundWindowDays:
			policy.RefundWindowDays = value
		case models.PolicyKeyRefundMaxCompletionPct:
			policy.RefundMaxCompletionPct = value
		}
	}
	return policy, nil
}

func (r *repository) Set(ctx context.Context, key, value string) error {
	row := models.PolicyConfig{Key: key, Value: value}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&row).Error
}
