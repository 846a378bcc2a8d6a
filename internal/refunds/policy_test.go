package refunds

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/coursehub-app/coursehub-backend/internal/policyconfig"
	"github.com/coursehub-app/coursehub-backend/pkg/db/models"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
)

func defaultPolicy() policyconfig.Policy {
	return policyconfig.Policy{RefundWindowDays: 30, RefundMaxCompletionPct: 30}
}

func completedPayment(completedAt time.Time) *models.Payment {
	return &models.Payment{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		CourseID:    uuid.New(),
		Amount:      decimal.RequireFromString("49.99"),
		Currency:    enums.CurrencyUSD,
		Provider:    enums.PaymentProviderSquare,
		Status:      enums.PaymentStatusCompleted,
		CompletedAt: &completedAt,
	}
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		payment    *models.Payment
		enrollment *models.Enrollment
		wantReject bool
	}{
		{
			name:       "within window and progress",
			payment:    completedPayment(now.Add(-10 * 24 * time.Hour)),
			enrollment: &models.Enrollment{ProgressPercent: 10},
		},
		{
			name:       "no enrollment record",
			payment:    completedPayment(now.Add(-time.Hour)),
			enrollment: nil,
		},
		{
			name:       "exactly at progress limit",
			payment:    completedPayment(now.Add(-time.Hour)),
			enrollment: &models.Enrollment{ProgressPercent: 30},
		},
		{
			name:       "window expired",
			payment:    completedPayment(now.Add(-31 * 24 * time.Hour)),
			wantReject: true,
		},
		{
			name:       "progress above limit",
			payment:    completedPayment(now.Add(-time.Hour)),
			enrollment: &models.Enrollment{ProgressPercent: 31},
			wantReject: true,
		},
		{
			name: "payment not completed",
			payment: &models.Payment{
				Status: enums.PaymentStatusPending,
			},
			wantReject: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Evaluate(tc.payment, tc.enrollment, defaultPolicy(), now)
			if tc.wantReject {
				assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodePolicyRejected))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestEvaluateHonorsConfiguredWindow(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	payment := completedPayment(now.Add(-10 * 24 * time.Hour))

	tight := policyconfig.Policy{RefundWindowDays: 7, RefundMaxCompletionPct: 30}
	err := Evaluate(payment, nil, tight, now)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodePolicyRejected))

	loose := policyconfig.Policy{RefundWindowDays: 60, RefundMaxCompletionPct: 30}
	assert.NoError(t, Evaluate(payment, nil, loose, now))
}
