package payments

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursehub-app/coursehub-backend/internal/audit"
	"github.com/coursehub-app/coursehub-backend/internal/enrollments"
	"github.com/coursehub-app/coursehub-backend/internal/gateways"
	"github.com/coursehub-app/coursehub-backend/internal/invoices"
	"github.com/coursehub-app/coursehub-backend/pkg/db"
	"github.com/coursehub-app/coursehub-backend/pkg/db/models"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
	"github.com/coursehub-app/coursehub-backend/pkg/metrics"
	"github.com/coursehub-app/coursehub-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type invoiceEnqueuer interface {
	Enqueue(ctx context.Context, task invoices.Task)
}

// ServiceParams groups dependencies for the payment service.
type ServiceParams struct {
	Repo              Repository
	AuditRepo         audit.Repository
	EnrollmentRepo    enrollments.Repository
	TransactionRunner txRunner
	Issuer            invoiceEnqueuer
	Logger            *logger.Logger
	Metrics           *metrics.PaymentMetrics
	InvoicePrefix     string
}

// Service owns every payment status transition. Gateway notifications,
// moderator refunds, and user cancellations all funnel through the
// same compare-and-set path.
type Service struct {
	repo          Repository
	auditRepo     audit.Repository
	enrollRepo    enrollments.Repository
	txRunner      txRunner
	issuer        invoiceEnqueuer
	logger        *logger.Logger
	metrics       *metrics.PaymentMetrics
	invoicePrefix string

	now func() time.Time
}

// NewService builds the payment service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment repo required")
	}
	if params.AuditRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit repo required")
	}
	if params.EnrollmentRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "enrollment repo required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		repo:          params.Repo,
		auditRepo:     params.AuditRepo,
		enrollRepo:    params.EnrollmentRepo,
		txRunner:      params.TransactionRunner,
		issuer:        params.Issuer,
		logger:        params.Logger,
		metrics:       params.Metrics,
		invoicePrefix: params.InvoicePrefix,
		now:           time.Now,
	}, nil
}

// ProcessEvent applies a verified gateway notification to the payment
// it references. Replays and out-of-order deliveries that target the
// payment's current status are acknowledged without effect; anything
// that would take an illegal edge is rejected and recorded as an
// anomaly.
func (s *Service) ProcessEvent(ctx context.Context, provider enums.PaymentProvider, event *gateways.Event) error {
	if event == nil || event.TransactionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "gateway event is missing a transaction reference")
	}
	ctx = s.logger.WithProvider(ctx, string(provider))

	payment, err := s.repo.FindByTransactionID(ctx, event.TransactionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment == nil {
		s.metrics.IncWebhookRejected(string(provider), "unknown_transaction")
		return pkgerrors.New(pkgerrors.CodeNotFound, "no payment for transaction")
	}
	ctx = s.logger.WithPaymentID(ctx, payment.ID.String())

	if payment.Provider != provider {
		s.metrics.IncWebhookRejected(string(provider), "provider_mismatch")
		s.recordAnomaly(ctx, payment, "notification provider does not match payment")
		return pkgerrors.New(pkgerrors.CodeStateConflict, "provider mismatch")
	}

	target := enums.PaymentStatusFailed
	if event.Success {
		target = enums.PaymentStatusCompleted
	}

	if payment.Status == target {
		s.metrics.IncWebhookDuplicate(string(provider))
		s.logger.Info(ctx, "duplicate gateway notification ignored")
		return nil
	}
	if !CanTransition(payment.Status, target) {
		s.metrics.IncWebhookRejected(string(provider), "illegal_transition")
		s.recordAnomaly(ctx, payment, "notification would take an illegal status edge")
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment cannot move to the requested status")
	}

	duplicate := false
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		updates := map[string]any{}
		if raw, marshalErr := json.Marshal(event.Raw); marshalErr == nil && event.Raw != nil {
			updates["gateway_response"] = raw
		}

		completedAt := s.now().UTC()
		if target == enums.PaymentStatusCompleted {
			updates["completed_at"] = completedAt
			if payment.InvoiceNumber == nil {
				updates["invoice_number"] = invoices.NumberFor(s.invoicePrefix, payment.ID, completedAt)
			}
		}

		moved, casErr := repo.UpdateStatusIf(ctx, payment.ID, payment.Status, target, updates)
		if casErr != nil {
			return casErr
		}
		if !moved {
			current, readErr := repo.FindByID(ctx, payment.ID)
			if readErr != nil {
				return readErr
			}
			if current != nil && current.Status == target {
				duplicate = true
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment moved concurrently")
		}

		if target == enums.PaymentStatusCompleted {
			if err := s.enroll(ctx, tx, payment); err != nil {
				return err
			}
		}
		return s.auditRepo.WithTx(tx).Append(ctx, s.auditEntry(payment, target, event))
	})
	if err != nil {
		return err
	}
	if duplicate {
		s.metrics.IncWebhookDuplicate(string(provider))
		s.logger.Info(ctx, "concurrent gateway notification ignored")
		return nil
	}

	s.metrics.IncWebhookProcessed(string(provider), string(target))
	s.logger.Info(ctx, "payment transitioned")

	if target == enums.PaymentStatusCompleted && s.issuer != nil {
		refreshed, readErr := s.repo.FindByID(ctx, payment.ID)
		if readErr == nil && refreshed != nil {
			task := invoices.Task{Payment: *refreshed}
			if refreshed.CustomerEmail != nil {
				task.Recipient = *refreshed.CustomerEmail
			}
			if refreshed.CustomerName != nil {
				task.RecipientName = *refreshed.CustomerName
			}
			s.issuer.Enqueue(ctx, task)
		}
	}
	return nil
}

func (s *Service) enroll(ctx context.Context, tx *gorm.DB, payment *models.Payment) error {
	err := s.enrollRepo.WithTx(tx).Create(ctx, &models.Enrollment{
		UserID:    payment.UserID,
		CourseID:  payment.CourseID,
		PaymentID: &payment.ID,
	})
	if err != nil && !db.IsUniqueViolation(err, "idx_enrollment_user_course") {
		return err
	}
	return nil
}

func (s *Service) auditEntry(payment *models.Payment, target enums.PaymentStatus, event *gateways.Event) *models.TransactionLog {
	eventType := enums.AuditEventPaymentFailed
	if target == enums.PaymentStatusCompleted {
		eventType = enums.AuditEventPaymentCompleted
	}
	metadata, _ := json.Marshal(map[string]any{
		"event_id": event.EventID,
		"from":     payment.Status,
		"to":       target,
	})
	return &models.TransactionLog{
		PaymentID: payment.ID,
		UserID:    payment.UserID,
		Event:     eventType,
		Provider:  payment.Provider,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Metadata:  metadata,
	}
}

func (s *Service) recordAnomaly(ctx context.Context, payment *models.Payment, reason string) {
	metadata, _ := json.Marshal(map[string]any{"reason": reason, "status": payment.Status})
	err := s.auditRepo.Append(ctx, &models.TransactionLog{
		PaymentID: payment.ID,
		UserID:    payment.UserID,
		Event:     enums.AuditEventAnomalyDetected,
		Provider:  payment.Provider,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		Metadata:  metadata,
	})
	if err != nil {
		s.logger.Error(ctx, "record anomaly", err)
	}
}

// VerifyInput is a client-reported payment outcome, used as a fallback
// for gateways without reliable push delivery.
type VerifyInput struct {
	PaymentID       uuid.UUID
	TransactionID   string
	Status          enums.PaymentStatus
	GatewayResponse map[string]any
}

// Verify ingests a client-reported outcome through the same transition
// path as a webhook. There is no provider signature here; the caller
// authenticates by knowing the gateway transaction reference, which the
// reported one must match exactly.
func (s *Service) Verify(ctx context.Context, in VerifyInput) (*models.Payment, error) {
	if in.Status != enums.PaymentStatusCompleted && in.Status != enums.PaymentStatusFailed {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "status must be completed or failed")
	}

	payment, err := s.repo.FindByID(ctx, in.PaymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	if payment.TransactionID == nil || *payment.TransactionID != in.TransactionID {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "transaction reference does not match")
	}

	event := &gateways.Event{
		EventID:       "verify:" + in.PaymentID.String(),
		TransactionID: in.TransactionID,
		Success:       in.Status == enums.PaymentStatusCompleted,
		Raw:           in.GatewayResponse,
	}
	if err := s.ProcessEvent(ctx, payment.Provider, event); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, in.PaymentID)
}

// Cancel aborts a payment the user has not finished paying for.
func (s *Service) Cancel(ctx context.Context, paymentID, userID uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment == nil || payment.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	if payment.Status == enums.PaymentStatusCancelled {
		return payment, nil
	}
	if !CanTransition(payment.Status, enums.PaymentStatusCancelled) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment can no longer be cancelled")
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		moved, casErr := repo.UpdateStatusIf(ctx, payment.ID, payment.Status, enums.PaymentStatusCancelled, nil)
		if casErr != nil {
			return casErr
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment moved concurrently")
		}
		metadata, _ := json.Marshal(map[string]any{"from": payment.Status})
		return s.auditRepo.WithTx(tx).Append(ctx, &models.TransactionLog{
			PaymentID: payment.ID,
			UserID:    payment.UserID,
			Event:     enums.AuditEventPaymentCancelled,
			Provider:  payment.Provider,
			Amount:    payment.Amount,
			Currency:  payment.Currency,
			Metadata:  metadata,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, paymentID)
}

// Get returns a payment visible to its owner.
func (s *Service) Get(ctx context.Context, paymentID, userID uuid.UUID) (*models.Payment, error) {
	payment, err := s.repo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment == nil || payment.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return payment, nil
}

// ListForUser pages through the caller's own payments.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Payment, *pagination.Cursor, error) {
	return s.repo.List(ctx, ListQuery{
		UserID: &userID,
		Limit:  limit,
		Cursor: cursor,
	})
}

// History returns the append-only transaction log for an owned payment.
func (s *Service) History(ctx context.Context, paymentID, userID uuid.UUID) ([]models.TransactionLog, error) {
	if _, err := s.Get(ctx, paymentID, userID); err != nil {
		return nil, err
	}
	return s.auditRepo.ListByPayment(ctx, paymentID)
}
