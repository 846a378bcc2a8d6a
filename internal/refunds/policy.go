package refunds

import (
	"fmt"
	"time"

	"github.com/coursehub-app/coursehub-backend/internal/policyconfig"
	"github.com/coursehub-app/coursehub-backend/pkg/db/models"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
)

// Evaluate applies the refund policy to a payment. It is a pure
// function of its inputs; callers load the effective policy and the
// enrollment first. A nil return means the request may enter the
// moderation queue.
func Evaluate(payment *models.Payment, enrollment *models.Enrollment, policy policyconfig.Policy, now time.Time) error {
	if payment.Status != enums.PaymentStatusCompleted {
		return pkgerrors.New(pkgerrors.CodePolicyRejected, "only completed payments can be refunded")
	}
	if payment.CompletedAt == nil {
		return pkgerrors.New(pkgerrors.CodePolicyRejected, "payment has no completion timestamp")
	}

	window := time.Duration(policy.RefundWindowDays) * 24 * time.Hour
	if now.Sub(*payment.CompletedAt) > window {
		return pkgerrors.New(pkgerrors.CodePolicyRejected,
			fmt.Sprintf("refund window of %d days has passed", policy.RefundWindowDays))
	}

	if enrollment != nil && enrollment.ProgressPercent > policy.RefundMaxCompletionPct {
		return pkgerrors.New(pkgerrors.CodePolicyRejected,
			fmt.Sprintf("course progress exceeds the %d%% refund limit", policy.RefundMaxCompletionPct))
	}
	return nil
}
