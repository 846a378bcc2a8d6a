package refunds

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursehub-app/coursehub-backend/internal/audit"
	"github.com/coursehub-app/coursehub-backend/internal/enrollments"
	"github.com/coursehub-app/coursehub-backend/internal/gateways"
	"github.com/coursehub-app/coursehub-backend/internal/payments"
	"github.com/coursehub-app/coursehub-backend/internal/policyconfig"
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

type adapterResolver interface {
	Get(provider enums.PaymentProvider) (gateways.Adapter, error)
}

// ServiceParams groups dependencies for the refund service.
type ServiceParams struct {
	Repo              Repository
	PaymentRepo       payments.Repository
	EnrollmentRepo    enrollments.Repository
	AuditRepo         audit.Repository
	PolicyRepo        policyconfig.Repository
	Adapters          adapterResolver
	TransactionRunner txRunner
	Logger            *logger.Logger
	Metrics           *metrics.PaymentMetrics
}

// Service runs the moderated refund workflow: students file requests
// against completed payments, moderators approve or reject them, and
// approval executes the gateway refund before flipping the payment.
type Service struct {
	repo       Repository
	payments   payments.Repository
	enrolls    enrollments.Repository
	auditRepo  audit.Repository
	policyRepo policyconfig.Repository
	adapters   adapterResolver
	txRunner   txRunner
	logger     *logger.Logger
	metrics    *metrics.PaymentMetrics

	now func() time.Time
}

// NewService builds the refund service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "refund repo required")
	}
	if params.PaymentRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment repo required")
	}
	if params.EnrollmentRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "enrollment repo required")
	}
	if params.AuditRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit repo required")
	}
	if params.PolicyRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "policy repo required")
	}
	if params.Adapters == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "adapter registry required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		repo:       params.Repo,
		payments:   params.PaymentRepo,
		enrolls:    params.EnrollmentRepo,
		auditRepo:  params.AuditRepo,
		policyRepo: params.PolicyRepo,
		adapters:   params.Adapters,
		txRunner:   params.TransactionRunner,
		logger:     params.Logger,
		metrics:    params.Metrics,
		now:        time.Now,
	}, nil
}

// Request files a refund request for a payment the caller owns. The
// policy gate runs here so hopeless requests never reach a moderator.
func (s *Service) Request(ctx context.Context, userID, paymentID uuid.UUID, reason string) (*models.RefundRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a reason is required")
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment == nil || payment.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}

	active, err := s.repo.FindActiveByPayment(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing requests")
	}
	if active != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a refund request is already pending for this payment")
	}

	policy, err := s.policyRepo.Effective(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund policy")
	}
	enrollment, err := s.enrolls.Find(ctx, payment.UserID, payment.CourseID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load enrollment")
	}
	if err := Evaluate(payment, enrollment, policy, s.now()); err != nil {
		return nil, err
	}

	request := &models.RefundRequest{
		PaymentID: payment.ID,
		UserID:    userID,
		Status:    enums.RefundRequestStatusPending,
		Reason:    reason,
	}
	if err := s.repo.Create(ctx, request); err != nil {
		// A concurrent filing can pass the active check above and lose
		// the race at the partial unique index instead.
		if db.IsUniqueViolation(err, "ux_refund_requests_active") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "a refund request is already pending for this payment")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund request")
	}

	ctx = s.logger.WithPaymentID(ctx, payment.ID.String())
	s.logger.Info(ctx, "refund request filed")
	return request, nil
}

// Approve executes a pending refund request. The gateway refund runs
// first; only a confirmed provider refund flips the payment to
// refunded, removes the enrollment, and closes the request.
func (s *Service) Approve(ctx context.Context, moderatorID, requestID uuid.UUID, note string) (*models.RefundRequest, error) {
	request, payment, err := s.loadPending(ctx, requestID)
	if err != nil {
		return nil, err
	}
	ctx = s.logger.WithPaymentID(ctx, payment.ID.String())

	if payment.Status != enums.PaymentStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is no longer refundable")
	}
	amount := payment.Refundable()
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "nothing left to refund")
	}
	if payment.TransactionID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has no gateway reference")
	}

	adapter, err := s.adapters.Get(payment.Provider)
	if err != nil {
		return nil, err
	}
	result, err := adapter.Refund(ctx, gateways.RefundInput{
		TransactionID: *payment.TransactionID,
		Amount:        amount,
		Currency:      payment.Currency,
		Reason:        request.Reason,
	})
	if err != nil {
		return nil, err
	}

	decidedAt := s.now().UTC()
	rawResult, _ := json.Marshal(result.Raw)
	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		moved, casErr := s.payments.WithTx(tx).UpdateStatusIf(ctx, payment.ID, enums.PaymentStatusCompleted, enums.PaymentStatusRefunded, map[string]any{
			"refunded_amount":         amount,
			"refunded_at":             decidedAt,
			"refund_transaction_id":   result.RefundID,
			"refund_gateway_response": rawResult,
		})
		if casErr != nil {
			return casErr
		}
		if !moved {
			// Provider money already moved; surface loudly instead of
			// quietly double-booking.
			return pkgerrors.New(pkgerrors.CodeStateConflict, "payment moved while refunding")
		}

		request.Status = enums.RefundRequestStatusApproved
		request.RefundAmount = amount
		request.GatewayRefundID = &result.RefundID
		request.ModeratorID = &moderatorID
		request.DecidedAt = &decidedAt
		if note != "" {
			request.ModeratorNote = &note
		}
		if err := s.repo.WithTx(tx).Update(ctx, request); err != nil {
			return err
		}

		if err := s.enrolls.WithTx(tx).Delete(ctx, payment.UserID, payment.CourseID); err != nil {
			return err
		}

		metadata, _ := json.Marshal(map[string]any{
			"request_id":        request.ID,
			"moderator_id":      moderatorID,
			"gateway_refund_id": result.RefundID,
		})
		return s.auditRepo.WithTx(tx).Append(ctx, &models.TransactionLog{
			PaymentID: payment.ID,
			UserID:    payment.UserID,
			Event:     enums.AuditEventPaymentRefunded,
			Provider:  payment.Provider,
			Amount:    amount,
			Currency:  payment.Currency,
			Metadata:  metadata,
		})
	})
	if err != nil {
		s.logger.Error(ctx, "refund issued at gateway but not recorded", err)
		return nil, err
	}

	s.metrics.IncRefundIssued(string(payment.Provider))
	s.logger.Info(ctx, "refund approved")
	return request, nil
}

// Reject closes a pending request without moving any money.
func (s *Service) Reject(ctx context.Context, moderatorID, requestID uuid.UUID, note string) (*models.RefundRequest, error) {
	request, _, err := s.loadPending(ctx, requestID)
	if err != nil {
		return nil, err
	}

	decidedAt := s.now().UTC()
	request.Status = enums.RefundRequestStatusRejected
	request.ModeratorID = &moderatorID
	request.DecidedAt = &decidedAt
	if note != "" {
		request.ModeratorNote = &note
	}
	if err := s.repo.Update(ctx, request); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update refund request")
	}

	s.logger.Info(ctx, "refund request rejected")
	return request, nil
}

func (s *Service) loadPending(ctx context.Context, requestID uuid.UUID) (*models.RefundRequest, *models.Payment, error) {
	request, err := s.repo.FindByID(ctx, requestID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund request")
	}
	if request == nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "refund request not found")
	}
	if request.Status != enums.RefundRequestStatusPending {
		return nil, nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refund request already decided")
	}

	payment, err := s.payments.FindByID(ctx, request.PaymentID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment == nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return request, payment, nil
}

// ListForUser pages through the caller's own refund requests.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.RefundRequest, *pagination.Cursor, error) {
	return s.repo.List(ctx, ListQuery{UserID: &userID, Limit: limit, Cursor: cursor})
}

// List pages through refund requests for moderators.
func (s *Service) List(ctx context.Context, params ListQuery) ([]models.RefundRequest, *pagination.Cursor, error) {
	return s.repo.List(ctx, params)
}

// Policy exposes the effective refund policy.
func (s *Service) Policy(ctx context.Context) (policyconfig.Policy, error) {
	return s.policyRepo.Effective(ctx)
}
