package gateways

import (
	"context"
	"net/http"
	"testing"

	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	provider enums.PaymentProvider
}

func (f *fakeAdapter) Provider() enums.PaymentProvider { return f.provider }

func (f *fakeAdapter) CreateCheckout(context.Context, CheckoutInput) (*CheckoutSession, error) {
	return nil, nil
}

func (f *fakeAdapter) VerifyEvent(context.Context, http.Header, []byte) (*Event, error) {
	return nil, nil
}

func (f *fakeAdapter) Refund(context.Context, RefundInput) (*RefundResult, error) {
	return nil, nil
}

func TestRegistrySkipsNilAdapters(t *testing.T) {
	registry := NewRegistry(&fakeAdapter{provider: enums.PaymentProviderSquare}, nil)

	adapter, err := registry.Get(enums.PaymentProviderSquare)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentProviderSquare, adapter.Provider())

	_, err = registry.Get(enums.PaymentProviderPayPal)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestRegistryEnabledFollowsProviderOrder(t *testing.T) {
	registry := NewRegistry(
		&fakeAdapter{provider: enums.PaymentProviderFawry},
		&fakeAdapter{provider: enums.PaymentProviderSquare},
	)

	assert.Equal(t, []enums.PaymentProvider{
		enums.PaymentProviderSquare,
		enums.PaymentProviderFawry,
	}, registry.Enabled())
}
