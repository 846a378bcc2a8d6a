package controllers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/coursehub-app/coursehub-backend/api/responses"
	"github.com/coursehub-app/coursehub-backend/api/validators"
	adminsvc "github.com/coursehub-app/coursehub-backend/internal/admin"
	"github.com/coursehub-app/coursehub-backend/internal/audit"
	paymentsvc "github.com/coursehub-app/coursehub-backend/internal/payments"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
	"github.com/coursehub-app/coursehub-backend/pkg/pagination"
)

func adminListQuery(r *http.Request) (paymentsvc.ListQuery, error) {
	var query paymentsvc.ListQuery
	var err error

	if query.UserID, err = validators.ParseQueryUUID(r, "user_id"); err != nil {
		return query, err
	}
	if query.CourseID, err = validators.ParseQueryUUID(r, "course_id"); err != nil {
		return query, err
	}
	if query.Status, err = validators.ParseQueryPaymentStatus(r, "status"); err != nil {
		return query, err
	}
	if query.Provider, err = validators.ParseQueryProvider(r, "provider"); err != nil {
		return query, err
	}
	if query.From, err = validators.ParseQueryTime(r, "from"); err != nil {
		return query, err
	}
	if query.To, err = validators.ParseQueryTime(r, "to"); err != nil {
		return query, err
	}
	if query.Limit, err = validators.ParseQueryInt(r, "limit", 50, 1, 200); err != nil {
		return query, err
	}
	cursor, err := pagination.ParseCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		return query, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	query.Cursor = cursor
	return query, nil
}

// AdminListTransactions lists payments across all users with filters.
func AdminListTransactions(svc *adminsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query, err := adminListQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, next, err := svc.ListTransactions(r.Context(), query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := paymentListResponse{Payments: make([]paymentResponse, 0, len(page))}
		for i := range page {
			out.Payments = append(out.Payments, newPaymentResponse(&page[i]))
		}
		if next != nil {
			out.NextCursor = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, out)
	}
}

// AdminRevenue aggregates completed payments by currency and provider.
func AdminRevenue(svc *adminsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var query paymentsvc.RevenueQuery
		var err error
		if query.From, err = validators.ParseQueryTime(r, "from"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if query.To, err = validators.ParseQueryTime(r, "to"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if query.Provider, err = validators.ParseQueryProvider(r, "provider"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.Revenue(r.Context(), query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"revenue": rows})
	}
}

// AdminExportTransactions streams a CSV or JSON export of filtered payments.
func AdminExportTransactions(svc *adminsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query, err := adminListQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		format, err := adminsvc.ParseExportFormat(r.URL.Query().Get("format"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=transactions-%s.%s", time.Now().UTC().Format("20060102"), format))
		if err := svc.Export(r.Context(), query, format, w); err != nil {
			// Headers are already on the wire; log instead of rewriting.
			logg.Error(r.Context(), "transaction export aborted", err)
		}
	}
}

// AdminAuditTrail lists transaction log entries across payments.
func AdminAuditTrail(svc *adminsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var query audit.ListQuery
		var err error

		if raw := r.URL.Query().Get("event"); raw != "" {
			event, parseErr := enums.ParseAuditEventType(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown audit event"))
				return
			}
			query.Event = &event
		}
		if query.UserID, err = validators.ParseQueryUUID(r, "user_id"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if query.From, err = validators.ParseQueryTime(r, "from"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if query.To, err = validators.ParseQueryTime(r, "to"); err != nil {
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

		entries, next, err := svc.AuditTrail(r.Context(), query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		body := map[string]any{"entries": entries}
		if next != nil {
			body["next_cursor"] = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, body)
	}
}

// AdminGatewayStatuses reports provider configuration and runtime state.
func AdminGatewayStatuses(svc *adminsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]any{"gateways": svc.GatewayStatuses(r.Context())})
	}
}

type policyUpdateRequest struct {
	RefundWindowDays       *int `json:"refund_window_days" validate:"omitempty,min=0,max=365"`
	RefundMaxCompletionPct *int `json:"refund_max_completion_percent" validate:"omitempty,min=0,max=100"`
}

// AdminGetPolicy returns the effective refund policy.
func AdminGetPolicy(svc *adminsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		policy, err := svc.Policy(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, policy)
	}
}

// AdminUpdatePolicy overrides refund policy knobs.
func AdminUpdatePolicy(svc *adminsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload policyUpdateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		policy, err := svc.UpdatePolicy(r.Context(), adminsvc.PolicyUpdate{
			RefundWindowDays:       payload.RefundWindowDays,
			RefundMaxCompletionPct: payload.RefundMaxCompletionPct,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, policy)
	}
}
