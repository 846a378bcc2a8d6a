package webhooks

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursehub-app/coursehub-backend/internal/gateways"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
)

type fakeAdapter struct {
	provider  enums.PaymentProvider
	event     *gateways.Event
	verifyErr error
}

func (f *fakeAdapter) Provider() enums.PaymentProvider { return f.provider }

func (f *fakeAdapter) CreateCheckout(context.Context, gateways.CheckoutInput) (*gateways.CheckoutSession, error) {
	return nil, nil
}

func (f *fakeAdapter) VerifyEvent(context.Context, http.Header, []byte) (*gateways.Event, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.event, nil
}

func (f *fakeAdapter) Refund(context.Context, gateways.RefundInput) (*gateways.RefundResult, error) {
	return nil, nil
}

type fakeResolver struct {
	adapter *fakeAdapter
}

func (f *fakeResolver) Get(provider enums.PaymentProvider) (gateways.Adapter, error) {
	if f.adapter == nil || f.adapter.provider != provider {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment provider not available")
	}
	return f.adapter, nil
}

type fakeProcessor struct {
	events []*gateways.Event
	err    error
}

func (f *fakeProcessor) ProcessEvent(_ context.Context, _ enums.PaymentProvider, event *gateways.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type fakeStore struct {
	keys map[string]bool
}

func (f *fakeStore) Get(context.Context, string) (string, error) { return "", nil }

func (f *fakeStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if f.keys == nil {
		f.keys = map[string]bool{}
	}
	if f.keys[key] {
		return false, nil
	}
	f.keys[key] = true
	return true, nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string { return scope + ":" + id }

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.keys, key)
	}
	return nil
}

func ingestorFixture(t *testing.T, adapter *fakeAdapter, processor *fakeProcessor) (*Service, *fakeStore) {
	t.Helper()
	store := &fakeStore{}
	guard, err := NewIdempotencyGuard(store, time.Hour, "webhook:"+string(adapter.provider))
	require.NoError(t, err)

	service, err := NewService(ServiceParams{
		Adapters:  &fakeResolver{adapter: adapter},
		Processor: processor,
		Guard:     guard,
		Logger:    logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return service, store
}

func TestIngestDispatchesVerifiedEvent(t *testing.T) {
	adapter := &fakeAdapter{
		provider: enums.PaymentProviderSquare,
		event:    &gateways.Event{EventID: "evt-1", TransactionID: "tx-1", Success: true},
	}
	processor := &fakeProcessor{}
	service, _ := ingestorFixture(t, adapter, processor)

	err := service.Ingest(context.Background(), enums.PaymentProviderSquare, http.Header{}, []byte("{}"))
	require.NoError(t, err)
	require.Len(t, processor.events, 1)
	assert.Equal(t, "tx-1", processor.events[0].TransactionID)
}

func TestIngestRejectsBadSignature(t *testing.T) {
	adapter := &fakeAdapter{
		provider:  enums.PaymentProviderSquare,
		verifyErr: pkgerrors.New(pkgerrors.CodeUnauthorized, "signature mismatch"),
	}
	processor := &fakeProcessor{}
	service, _ := ingestorFixture(t, adapter, processor)

	err := service.Ingest(context.Background(), enums.PaymentProviderSquare, http.Header{}, []byte("{}"))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized))
	assert.Empty(t, processor.events)
}

func TestIngestIgnoresUnactionableDeliveries(t *testing.T) {
	adapter := &fakeAdapter{provider: enums.PaymentProviderSquare}
	processor := &fakeProcessor{}
	service, _ := ingestorFixture(t, adapter, processor)

	err := service.Ingest(context.Background(), enums.PaymentProviderSquare, http.Header{}, []byte("{}"))
	require.NoError(t, err)
	assert.Empty(t, processor.events)
}

func TestIngestDeduplicatesByEventID(t *testing.T) {
	adapter := &fakeAdapter{
		provider: enums.PaymentProviderSquare,
		event:    &gateways.Event{EventID: "evt-1", TransactionID: "tx-1", Success: true},
	}
	processor := &fakeProcessor{}
	service, _ := ingestorFixture(t, adapter, processor)

	require.NoError(t, service.Ingest(context.Background(), enums.PaymentProviderSquare, http.Header{}, []byte("{}")))
	require.NoError(t, service.Ingest(context.Background(), enums.PaymentProviderSquare, http.Header{}, []byte("{}")))
	assert.Len(t, processor.events, 1)
}

func TestIngestReleasesMarkOnProcessorFailure(t *testing.T) {
	adapter := &fakeAdapter{
		provider: enums.PaymentProviderSquare,
		event:    &gateways.Event{EventID: "evt-1", TransactionID: "tx-1", Success: true},
	}
	processor := &fakeProcessor{err: pkgerrors.New(pkgerrors.CodeDependency, "database down")}
	service, store := ingestorFixture(t, adapter, processor)

	err := service.Ingest(context.Background(), enums.PaymentProviderSquare, http.Header{}, []byte("{}"))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
	assert.Empty(t, store.keys, "failed delivery must release its mark so retries can land")

	processor.err = nil
	require.NoError(t, service.Ingest(context.Background(), enums.PaymentProviderSquare, http.Header{}, []byte("{}")))
	assert.Len(t, processor.events, 1)
}

func TestIngestUnknownProvider(t *testing.T) {
	adapter := &fakeAdapter{provider: enums.PaymentProviderSquare}
	service, _ := ingestorFixture(t, adapter, &fakeProcessor{})

	err := service.Ingest(context.Background(), enums.PaymentProviderFawry, http.Header{}, []byte("{}"))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
