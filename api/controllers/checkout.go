package controllers

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/coursehub-app/coursehub-backend/api/middleware"
	"github.com/coursehub-app/coursehub-backend/api/responses"
	"github.com/coursehub-app/coursehub-backend/api/validators"
	checkoutsvc "github.com/coursehub-app/coursehub-backend/internal/checkout"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
)

type checkoutRequest struct {
	CourseID string `json:"course_id" validate:"required,uuid4"`
	Provider string `json:"provider" validate:"required"`
	Currency string `json:"currency" validate:"required,len=3"`
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"omitempty,max=120"`
}

type checkoutResponse struct {
	PaymentID   uuid.UUID `json:"payment_id"`
	Status      string    `json:"status"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	Provider    string    `json:"provider"`
	RedirectURL string    `json:"redirect_url"`
}

// Checkout starts a course purchase and returns the gateway redirect.
func Checkout(svc *checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		userID := middleware.UserUUIDFromContext(r.Context())
		if userID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		courseID, err := uuid.Parse(payload.CourseID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "course_id must be a uuid"))
			return
		}
		provider, err := enums.ParsePaymentProvider(payload.Provider)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment provider"))
			return
		}
		currency, err := enums.ParseCurrency(payload.Currency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency"))
			return
		}

		result, err := svc.Start(r.Context(), checkoutsvc.Input{
			UserID:        userID,
			CourseID:      courseID,
			Provider:      provider,
			Currency:      currency,
			CustomerEmail: payload.Email,
			CustomerName:  payload.Name,
			ClientIP:      clientIP(r),
			UserAgent:     r.UserAgent(),
			Country:       r.Header.Get("CF-IPCountry"),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, checkoutResponse{
			PaymentID:   result.Payment.ID,
			Status:      string(result.Payment.Status),
			Amount:      result.Payment.Amount.StringFixed(2),
			Currency:    string(result.Payment.Currency),
			Provider:    string(result.Payment.Provider),
			RedirectURL: result.RedirectURL,
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
