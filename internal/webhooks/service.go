package webhooks

import (
	"context"
	"net/http"

	"github.com/coursehub-app/coursehub-backend/internal/gateways"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
	"github.com/coursehub-app/coursehub-backend/pkg/metrics"
)

type adapterResolver interface {
	Get(provider enums.PaymentProvider) (gateways.Adapter, error)
}

type eventProcessor interface {
	ProcessEvent(ctx context.Context, provider enums.PaymentProvider, event *gateways.Event) error
}

type deliveryGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

// ServiceParams groups dependencies for the webhook ingestor.
type ServiceParams struct {
	Adapters  adapterResolver
	Processor eventProcessor
	Guard     deliveryGuard
	Logger    *logger.Logger
	Metrics   *metrics.PaymentMetrics
}

// Service is the provider-agnostic webhook ingestor: it verifies the
// delivery with the provider's adapter, deduplicates by event ID, and
// hands verified outcomes to the payment state machine.
type Service struct {
	adapters  adapterResolver
	processor eventProcessor
	guard     deliveryGuard
	logger    *logger.Logger
	metrics   *metrics.PaymentMetrics
}

// NewService builds the webhook ingestor.
func NewService(params ServiceParams) (*Service, error) {
	if params.Adapters == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "adapter registry required")
	}
	if params.Processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event processor required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		adapters:  params.Adapters,
		processor: params.Processor,
		guard:     params.Guard,
		logger:    params.Logger,
		metrics:   params.Metrics,
	}, nil
}

// Ingest handles one raw webhook delivery. Signature failures surface
// as unauthorized; verified deliveries that carry nothing actionable
// return nil so the provider stops retrying.
func (s *Service) Ingest(ctx context.Context, provider enums.PaymentProvider, header http.Header, body []byte) error {
	ctx = s.logger.WithProvider(ctx, string(provider))

	adapter, err := s.adapters.Get(provider)
	if err != nil {
		s.metrics.IncWebhookRejected(string(provider), "unknown_provider")
		return err
	}

	event, err := adapter.VerifyEvent(ctx, header, body)
	if err != nil {
		s.metrics.IncWebhookRejected(string(provider), "invalid_signature")
		s.logger.Warn(s.logger.WithField(ctx, "error", err.Error()), "webhook delivery rejected")
		return err
	}
	if event == nil {
		// Authentic but not actionable, e.g. an event type we ignore.
		return nil
	}

	// Event IDs are provider-assigned; scope the mark so a numeric id
	// from one gateway cannot shadow another's.
	guardKey := string(provider) + ":" + event.EventID
	if s.guard != nil && event.EventID != "" {
		seen, guardErr := s.guard.CheckAndMark(ctx, guardKey)
		if guardErr != nil {
			// Redis being down must not drop deliveries; the state
			// machine resolves replays on its own.
			s.logger.Warn(s.logger.WithField(ctx, "error", guardErr.Error()), "idempotency guard unavailable")
		} else if seen {
			s.metrics.IncWebhookDuplicate(string(provider))
			return nil
		}
	}

	if err := s.processor.ProcessEvent(ctx, provider, event); err != nil {
		if s.guard != nil && event.EventID != "" {
			if delErr := s.guard.Delete(ctx, guardKey); delErr != nil {
				s.logger.Warn(s.logger.WithField(ctx, "error", delErr.Error()), "could not release idempotency mark")
			}
		}
		return err
	}
	return nil
}
