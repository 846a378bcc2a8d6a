package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/coursehub-app/coursehub-backend/api/middleware"
	"github.com/coursehub-app/coursehub-backend/api/responses"
	"github.com/coursehub-app/coursehub-backend/api/validators"
	refundsvc "github.com/coursehub-app/coursehub-backend/internal/refunds"
	"github.com/coursehub-app/coursehub-backend/pkg/db/models"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
	"github.com/coursehub-app/coursehub-backend/pkg/pagination"
)

// AdminListRefundRequests lists refund requests for moderation.
func AdminListRefundRequests(svc *refundsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var query refundsvc.ListQuery
		var err error

		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, parseErr := enums.ParseRefundRequestStatus(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown refund request status"))
				return
			}
			query.Status = &status
		}
		if query.UserID, err = validators.ParseQueryUUID(r, "user_id"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if query.Limit, err = validators.ParseQueryInt(r, "limit", 50, 1, 200); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cursor, err := pagination.ParseCursor(r.URL.Query().Get("cursor"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
			return
		}
		query.Cursor = cursor

		page, next, err := svc.List(r.Context(), query)
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

type refundDecisionRequest struct {
	Note string `json:"note" validate:"omitempty,max=2000"`
}

// AdminApproveRefund approves a pending request and issues the refund.
func AdminApproveRefund(svc *refundsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return refundDecision(logg, svc.Approve)
}

// AdminRejectRefund rejects a pending request without moving money.
func AdminRejectRefund(svc *refundsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return refundDecision(logg, svc.Reject)
}

func refundDecision(logg *logger.Logger, decide func(ctx context.Context, moderatorID, requestID uuid.UUID, note string) (*models.RefundRequest, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		moderatorID := middleware.UserUUIDFromContext(r.Context())
		if moderatorID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		requestID, err := pathUUID(r, "requestID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		// The note is optional; a bodyless POST is a valid decision.
		var payload refundDecisionRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		request, err := decide(r.Context(), moderatorID, requestID, payload.Note)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newRefundRequestResponse(request))
	}
}
