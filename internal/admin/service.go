package admin

import (
	"context"
	"strconv"

	"github.com/coursehub-app/coursehub-backend/internal/audit"
	"github.com/coursehub-app/coursehub-backend/internal/payments"
	"github.com/coursehub-app/coursehub-backend/internal/policyconfig"
	"github.com/coursehub-app/coursehub-backend/pkg/config"
	"github.com/coursehub-app/coursehub-backend/pkg/db/models"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
	"github.com/coursehub-app/coursehub-backend/pkg/pagination"
)

type providerLister interface {
	Enabled() []enums.PaymentProvider
}

// GatewayStatus is the operator view of one payment provider.
type GatewayStatus struct {
	Provider   enums.PaymentProvider `json:"provider"`
	Enabled    bool                  `json:"enabled"`
	Configured bool                  `json:"configured"`
	Active     bool                  `json:"active"`
}

// ServiceParams groups dependencies for the admin service.
type ServiceParams struct {
	PaymentRepo payments.Repository
	AuditRepo   audit.Repository
	PolicyRepo  policyconfig.Repository
	Gateways    providerLister
	Config      *config.Config
	Logger      *logger.Logger
}

// Service exposes the operator surfaces: transaction listings, revenue
// aggregation, exports, gateway health, and policy tuning.
type Service struct {
	payments   payments.Repository
	auditRepo  audit.Repository
	policyRepo policyconfig.Repository
	gateways   providerLister
	cfg        *config.Config
	logger     *logger.Logger
}

// NewService builds the admin service.
func NewService(params ServiceParams) (*Service, error) {
	if params.PaymentRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment repo required")
	}
	if params.AuditRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit repo required")
	}
	if params.PolicyRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "policy repo required")
	}
	if params.Gateways == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway registry required")
	}
	if params.Config == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "config required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		payments:   params.PaymentRepo,
		auditRepo:  params.AuditRepo,
		policyRepo: params.PolicyRepo,
		gateways:   params.Gateways,
		cfg:        params.Config,
		logger:     params.Logger,
	}, nil
}

// ListTransactions returns payments across all users, filtered and
// cursor-paginated.
func (s *Service) ListTransactions(ctx context.Context, query payments.ListQuery) ([]models.Payment, *pagination.Cursor, error) {
	return s.payments.List(ctx, query)
}

// Revenue aggregates completed payments per currency and provider.
func (s *Service) Revenue(ctx context.Context, query payments.RevenueQuery) ([]payments.RevenueRow, error) {
	return s.payments.SumCompletedAmounts(ctx, query)
}

// AuditTrail lists transaction log entries across payments.
func (s *Service) AuditTrail(ctx context.Context, query audit.ListQuery) ([]models.TransactionLog, *pagination.Cursor, error) {
	return s.auditRepo.List(ctx, query)
}

// GatewayStatuses reports every known provider with its configuration
// and runtime state. A provider is active only when it is enabled,
// fully configured, and its adapter registered at startup.
func (s *Service) GatewayStatuses(_ context.Context) []GatewayStatus {
	registered := map[enums.PaymentProvider]bool{}
	for _, provider := range s.gateways.Enabled() {
		registered[provider] = true
	}

	statuses := make([]GatewayStatus, 0, len(enums.PaymentProviders()))
	for _, provider := range enums.PaymentProviders() {
		var enabled, configured bool
		switch provider {
		case enums.PaymentProviderSquare:
			enabled, configured = s.cfg.Square.Enabled, s.cfg.Square.Configured()
		case enums.PaymentProviderPayPal:
			enabled, configured = s.cfg.PayPal.Enabled, s.cfg.PayPal.Configured()
		case enums.PaymentProviderPaymob:
			enabled, configured = s.cfg.Paymob.Enabled, s.cfg.Paymob.Configured()
		case enums.PaymentProviderFawry:
			enabled, configured = s.cfg.Fawry.Enabled, s.cfg.Fawry.Configured()
		}
		statuses = append(statuses, GatewayStatus{
			Provider:   provider,
			Enabled:    enabled,
			Configured: configured,
			Active:     registered[provider],
		})
	}
	return statuses
}

// Policy returns the effective refund policy.
func (s *Service) Policy(ctx context.Context) (policyconfig.Policy, error) {
	return s.policyRepo.Effective(ctx)
}

// PolicyUpdate carries optional new values for the refund policy knobs.
type PolicyUpdate struct {
	RefundWindowDays       *int
	RefundMaxCompletionPct *int
}

// UpdatePolicy persists the provided policy knobs. Changes apply to
// requests filed after the update; decided requests are untouched.
func (s *Service) UpdatePolicy(ctx context.Context, update PolicyUpdate) (policyconfig.Policy, error) {
	if update.RefundWindowDays == nil && update.RefundMaxCompletionPct == nil {
		return policyconfig.Policy{}, pkgerrors.New(pkgerrors.CodeValidation, "no policy fields provided")
	}
	if update.RefundWindowDays != nil {
		if *update.RefundWindowDays < 0 {
			return policyconfig.Policy{}, pkgerrors.New(pkgerrors.CodeValidation, "refund window must not be negative")
		}
		if err := s.policyRepo.Set(ctx, models.PolicyKeyRefundWindowDays, strconv.Itoa(*update.RefundWindowDays)); err != nil {
			return policyconfig.Policy{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist refund window")
		}
	}
	if update.RefundMaxCompletionPct != nil {
		if *update.RefundMaxCompletionPct < 0 || *update.RefundMaxCompletionPct > 100 {
			return policyconfig.Policy{}, pkgerrors.New(pkgerrors.CodeValidation, "completion limit must be between 0 and 100")
		}
		if err := s.policyRepo.Set(ctx, models.PolicyKeyRefundMaxCompletionPct, strconv.Itoa(*update.RefundMaxCompletionPct)); err != nil {
			return policyconfig.Policy{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist completion limit")
		}
	}
	s.logger.Info(ctx, "refund policy updated")
	return s.policyRepo.Effective(ctx)
}
