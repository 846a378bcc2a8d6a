package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/coursehub-app/coursehub-backend/api/middleware"
	"github.com/coursehub-app/coursehub-backend/api/responses"
	"github.com/coursehub-app/coursehub-backend/api/validators"
	paymentsvc "github.com/coursehub-app/coursehub-backend/internal/payments"
	"github.com/coursehub-app/coursehub-backend/pkg/db/models"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
	"github.com/coursehub-app/coursehub-backend/pkg/pagination"
)

type paymentResponse struct {
	ID             uuid.UUID  `json:"id"`
	CourseID       uuid.UUID  `json:"course_id"`
	Provider       string     `json:"provider"`
	Status         string     `json:"status"`
	Amount         string     `json:"amount"`
	Currency       string     `json:"currency"`
	RefundedAmount string     `json:"refunded_amount"`
	InvoiceNumber  *string    `json:"invoice_number,omitempty"`
	InvoiceURL     *string    `json:"invoice_url,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func newPaymentResponse(p *models.Payment) paymentResponse {
	return paymentResponse{
		ID:             p.ID,
		CourseID:       p.CourseID,
		Provider:       string(p.Provider),
		Status:         string(p.Status),
		Amount:         p.Amount.StringFixed(2),
		Currency:       string(p.Currency),
		RefundedAmount: p.RefundedAmount.StringFixed(2),
		InvoiceNumber:  p.InvoiceNumber,
		InvoiceURL:     p.InvoiceURL,
		CreatedAt:      p.CreatedAt,
		CompletedAt:    p.CompletedAt,
	}
}

type paymentListResponse struct {
	Payments   []paymentResponse `json:"payments"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type auditEntryResponse struct {
	ID        uuid.UUID `json:"id"`
	Event     string    `json:"event"`
	Provider  string    `json:"provider"`
	Amount    string    `json:"amount"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
}

// ListPayments returns the caller's payments, newest first.
func ListPayments(svc *paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
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

// GetPayment returns one payment the caller owns.
func GetPayment(svc *paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserUUIDFromContext(r.Context())
		paymentID, err := pathUUID(r, "paymentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Get(r.Context(), paymentID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}

// CancelPayment abandons an unfinished payment.
func CancelPayment(svc *paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserUUIDFromContext(r.Context())
		paymentID, err := pathUUID(r, "paymentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Cancel(r.Context(), paymentID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}

// PaymentHistory returns the audit trail for one payment the caller owns.
func PaymentHistory(svc *paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserUUIDFromContext(r.Context())
		paymentID, err := pathUUID(r, "paymentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, err := svc.History(r.Context(), paymentID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := make([]auditEntryResponse, 0, len(entries))
		for _, entry := range entries {
			out = append(out, auditEntryResponse{
				ID:        entry.ID,
				Event:     string(entry.Event),
				Provider:  string(entry.Provider),
				Amount:    entry.Amount.StringFixed(2),
				Currency:  string(entry.Currency),
				CreatedAt: entry.CreatedAt,
			})
		}
		responses.WriteSuccess(w, map[string]any{"history": out})
	}
}

type verifyRequest struct {
	PaymentID       string         `json:"payment_id" validate:"required,uuid4"`
	TransactionID   string         `json:"transaction_id" validate:"required,max=255"`
	Status          string         `json:"status" validate:"required,oneof=completed failed"`
	GatewayResponse map[string]any `json:"gateway_response"`
}

// VerifyPayment lets a client report a gateway outcome when the
// provider cannot deliver a webhook. It feeds the same transition
// logic, so replays and races resolve identically.
func VerifyPayment(svc *paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		paymentID, err := uuid.Parse(req.PaymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "payment_id must be a uuid"))
			return
		}
		status, err := enums.ParsePaymentStatus(req.Status)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Verify(r.Context(), paymentsvc.VerifyInput{
			PaymentID:       paymentID,
			TransactionID:   req.TransactionID,
			Status:          status,
			GatewayResponse: req.GatewayResponse,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}

type invoiceResponse struct {
	PaymentID     uuid.UUID  `json:"payment_id"`
	InvoiceNumber string     `json:"invoice_number"`
	InvoiceURL    *string    `json:"invoice_url,omitempty"`
	Amount        string     `json:"amount"`
	Currency      string     `json:"currency"`
	IssuedAt      *time.Time `json:"issued_at,omitempty"`
}

// GetPaymentInvoice returns invoice metadata for a completed payment.
// Invoices are assigned when the payment completes, so anything earlier
// in the lifecycle has none.
func GetPaymentInvoice(svc *paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := middleware.UserUUIDFromContext(r.Context())
		paymentID, err := pathUUID(r, "paymentID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Get(r.Context(), paymentID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if payment.InvoiceNumber == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "no invoice issued for this payment"))
			return
		}

		responses.WriteSuccess(w, invoiceResponse{
			PaymentID:     payment.ID,
			InvoiceNumber: *payment.InvoiceNumber,
			InvoiceURL:    payment.InvoiceURL,
			Amount:        payment.Amount.StringFixed(2),
			Currency:      string(payment.Currency),
			IssuedAt:      payment.CompletedAt,
		})
	}
}

func pathUUID(r *http.Request, key string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, key))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "path parameter must be a uuid").WithDetails(map[string]any{"field": key})
	}
	return id, nil
}
