package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/coursehub-app/coursehub-backend/api/middleware"
	"github.com/coursehub-app/coursehub-backend/api/responses"
	"github.com/coursehub-app/coursehub-backend/api/validators"
	refundsvc "github.com/coursehub-app/coursehub-backend/internal/refunds"
	"github.com/coursehub-app/coursehub-backend/pkg/db/models"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
	"github.com/coursehub-app/coursehub-backend/pkg/pagination"
)

type refundRequestPayload struct {
	PaymentID string `json:"payment_id" validate:"required,uuid4"`
	Reason    string `json:"reason" validate:"required,min=10,max=2000"`
}

type refundRequestResponse struct {
	ID           uuid.UUID  `json:"id"`
	PaymentID    uuid.UUID  `json:"payment_id"`
	Status       string     `json:"status"`
	Reason       string     `json:"reason"`
	RefundAmount string     `json:"refund_amount,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func newRefundRequestResponse(r *models.RefundRequest) refundRequestResponse {
	out := refundRequestResponse{
		ID:        r.ID,
		PaymentID: r.PaymentID,
		Status:    string(r.Status),
		Reason:    r.Reason,
		DecidedAt: r.DecidedAt,
		CreatedAt: r.CreatedAt,
	}
	if r.RefundAmount.IsPositive() {
		out.RefundAmount = r.RefundAmount.StringFixed(2)
	}
	return out
}

// RequestRefund files a refund request for a completed payment.
func RequestRefund(svc *refundsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserUUIDFromContext(r.Context())
		if userID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		var payload refundRequestPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		paymentID, err := uuid.Parse(payload.PaymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payment_id must be a uuid"))
			return
		}

		request, err := svc.Request(r.Context(), userID, paymentID, payload.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newRefundRequestResponse(request))
	}
}

type refundReasonPayload struct {
	Reason string `json:"reason" validate:"required,min=10,max=2000"`
}

// RequestRefundForPayment files a refund request for the payment named in
// the path. Same operation as RequestRefund, addressed per payment.
func RequestRefundForPayment(svc *refundsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserUUIDFromContext(r.Context())
		if userID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		paymentID, err := pathUUID(r, "paymentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload refundReasonPayload
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		request, err := svc.Request(r.Context(), userID, paymentID, payload.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newRefundRequestResponse(request))
	}
}

// ListMyRefunds returns the caller's refund requests.
func ListMyRefunds(svc *refundsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserUUIDFromContext(r.Context())
		if userID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cursor, err := pagination.ParseCursor(r.URL.Query().Get("cursor"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
			return
		}

		page, next, err := svc.ListForUser(r.Context(), userID, limit, cursor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]refundRequestResponse, 0, len(page))
		for i := range page {
			out = append(out, newRefundRequestResponse(&page[i]))
		}
		body := map[string]any{"refund_requests": out}
		if next != nil {
			body["next_cursor"] = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, body)
	}
}

// RefundPolicy exposes the policy gates so clients can warn users
// before they file a hopeless request.
func RefundPolicy(svc *refundsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		policy, err := svc.Policy(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int{
			"refund_window_days":            policy.RefundWindowDays,
			"refund_max_completion_percent": policy.RefundMaxCompletionPct,
		})
	}
}
