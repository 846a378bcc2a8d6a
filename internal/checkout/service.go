package checkout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/coursehub-app/coursehub-backend/internal/audit"
	"github.com/coursehub-app/coursehub-backend/internal/courses"
	"github.com/coursehub-app/coursehub-backend/internal/enrollments"
	"github.com/coursehub-app/coursehub-backend/internal/gateways"
	"github.com/coursehub-app/coursehub-backend/internal/payments"
	"github.com/coursehub-app/coursehub-backend/pkg/db/models"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
	"github.com/coursehub-app/coursehub-backend/pkg/metrics"
)

type adapterResolver interface {
	Get(provider enums.PaymentProvider) (gateways.Adapter, error)
}

type converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to enums.Currency) (decimal.Decimal, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Input is everything a checkout needs from the request layer.
type Input struct {
	UserID        uuid.UUID
	CourseID      uuid.UUID
	Provider      enums.PaymentProvider
	Currency      enums.Currency
	CustomerEmail string
	CustomerName  string
	ClientIP      string
	UserAgent     string
	Country       string
}

// Result is what the caller redirects the student to.
type Result struct {
	Payment     *models.Payment
	RedirectURL string
}

// ServiceParams groups dependencies for the checkout service.
type ServiceParams struct {
	PaymentRepo       payments.Repository
	CourseRepo        courses.Repository
	EnrollmentRepo    enrollments.Repository
	AuditRepo         audit.Repository
	Adapters          adapterResolver
	Rates             converter
	TransactionRunner txRunner
	Logger            *logger.Logger
	Metrics           *metrics.PaymentMetrics
	PublicURL         string
}

// Service starts purchases: it prices the course, records a pending
// payment, and opens a session at the chosen gateway.
type Service struct {
	payments  payments.Repository
	courses   courses.Repository
	enrolls   enrollments.Repository
	auditRepo audit.Repository
	adapters  adapterResolver
	rates     converter
	txRunner  txRunner
	logger    *logger.Logger
	metrics   *metrics.PaymentMetrics
	publicURL string
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (*Service, error) {
	if params.PaymentRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment repo required")
	}
	if params.CourseRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "course repo required")
	}
	if params.EnrollmentRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "enrollment repo required")
	}
	if params.AuditRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit repo required")
	}
	if params.Adapters == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "adapter registry required")
	}
	if params.Rates == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "rate converter required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		payments:  params.PaymentRepo,
		courses:   params.CourseRepo,
		enrolls:   params.EnrollmentRepo,
		auditRepo: params.AuditRepo,
		adapters:  params.Adapters,
		rates:     params.Rates,
		txRunner:  params.TransactionRunner,
		logger:    params.Logger,
		metrics:   params.Metrics,
		publicURL: params.PublicURL,
	}, nil
}

// Start begins a purchase. The pending payment row is created before the
// gateway call so a crash mid-checkout leaves a traceable record; rows
// the gateway rejects flip straight to failed.
func (s *Service) Start(ctx context.Context, in Input) (*Result, error) {
	adapter, err := s.adapters.Get(in.Provider)
	if err != nil {
		return nil, err
	}

	course, err := s.courses.FindByID(ctx, in.CourseID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load course")
	}
	if course == nil || !course.Published {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "course not found")
	}

	enrolled, err := s.enrolls.Exists(ctx, in.UserID, in.CourseID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check enrollment")
	}
	if enrolled {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "user already owns this course")
	}

	pending, err := s.payments.FindPendingByUserAndCourse(ctx, in.UserID, in.CourseID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check open payments")
	}
	if pending != nil && (pending.Status == enums.PaymentStatusProcessing || pending.TransactionID != nil) {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a payment for this course is already in progress")
	}

	amount, err := s.price(ctx, course, in.Currency)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ID:       uuid.New(),
		UserID:   in.UserID,
		CourseID: in.CourseID,
		Amount:   amount,
		Currency: in.Currency,
		Provider: in.Provider,
		Status:   enums.PaymentStatusPending,
	}
	if in.CustomerEmail != "" {
		payment.CustomerEmail = &in.CustomerEmail
	}
	if in.CustomerName != "" {
		payment.CustomerName = &in.CustomerName
	}
	if in.ClientIP != "" {
		payment.ClientIP = &in.ClientIP
	}
	if in.UserAgent != "" {
		payment.UserAgent = &in.UserAgent
	}
	if in.Country != "" {
		payment.Country = &in.Country
	}
	if pending != nil {
		// Earlier attempt never got a provider session; reuse its row so
		// a buyer retrying after a gateway outage does not stack payments.
		payment.ID = pending.ID
		payment.CreatedAt = pending.CreatedAt
		if err := s.payments.Update(ctx, payment); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reuse payment")
		}
	} else if err := s.payments.Create(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
	}
	ctx = s.logger.WithPaymentID(ctx, payment.ID.String())
	ctx = s.logger.WithProvider(ctx, string(in.Provider))

	session, err := adapter.CreateCheckout(ctx, gateways.CheckoutInput{
		PaymentID:     payment.ID.String(),
		UserID:        in.UserID.String(),
		CourseID:      in.CourseID.String(),
		CourseTitle:   course.Title,
		Amount:        amount,
		Currency:      in.Currency,
		CustomerEmail: in.CustomerEmail,
		CustomerName:  in.CustomerName,
		SuccessURL:    fmt.Sprintf("%s/payments/%s/success", s.publicURL, payment.ID),
		CancelURL:     fmt.Sprintf("%s/payments/%s/cancel", s.publicURL, payment.ID),
	})
	if err != nil {
		// The payment stays pending. A timed-out create may still have
		// opened a provider session, and its webhook must be able to
		// complete the payment later; the buyer can also just retry.
		s.recordGatewayError(ctx, payment, err)
		return nil, err
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		updates := map[string]any{
			"transaction_id": session.TransactionID,
		}
		if len(session.Raw) > 0 {
			if raw, marshalErr := json.Marshal(session.Raw); marshalErr == nil {
				updates["gateway_response"] = raw
			}
		}
		moved, casErr := s.payments.WithTx(tx).UpdateStatusIf(ctx, payment.ID, enums.PaymentStatusPending, enums.PaymentStatusProcessing, updates)
		if casErr != nil {
			return casErr
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment moved before the session was recorded")
		}

		metadata, _ := json.Marshal(map[string]any{
			"transaction_id": session.TransactionID,
			"course_id":      in.CourseID,
		})
		return s.auditRepo.WithTx(tx).Append(ctx, &models.TransactionLog{
			PaymentID: payment.ID,
			UserID:    in.UserID,
			Event:     enums.AuditEventCheckoutCreated,
			Provider:  in.Provider,
			Amount:    amount,
			Currency:  in.Currency,
			Metadata:  metadata,
		})
	})
	if err != nil {
		return nil, err
	}

	payment.TransactionID = &session.TransactionID
	payment.Status = enums.PaymentStatusProcessing

	s.metrics.IncCheckoutStarted(string(in.Provider))
	s.logger.Info(ctx, "checkout session created")
	return &Result{Payment: payment, RedirectURL: session.RedirectURL}, nil
}

// price resolves the charge amount: a native price in the requested
// currency wins, otherwise the base price is converted.
func (s *Service) price(ctx context.Context, course *models.Course, currency enums.Currency) (decimal.Decimal, error) {
	if native, ok := course.PriceIn(currency); ok {
		return native.Round(2), nil
	}
	converted, err := s.rates.Convert(ctx, course.BasePrice, course.BaseCurrency, currency)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return converted, nil
}

func (s *Service) recordGatewayError(ctx context.Context, payment *models.Payment, cause error) {
	moved, err := s.payments.UpdateStatusIf(ctx, payment.ID, enums.PaymentStatusPending, enums.PaymentStatusPending, map[string]any{
		"gateway_response": failurePayload(cause),
	})
	if err != nil || !moved {
		if err != nil {
			ctx = s.logger.WithField(ctx, "error", err.Error())
		}
		s.logger.Warn(ctx, "could not record gateway failure")
	}
}

func failurePayload(cause error) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{"error": cause.Error()})
	return raw
}
