package gateways

import (
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
)

// Registry holds the configured adapters keyed by provider.
type Registry struct {
	adapters map[enums.PaymentProvider]Adapter
}

// NewRegistry indexes the provided adapters. Nil entries are skipped so
// callers can pass the full set and let configuration decide which
// providers are live.
func NewRegistry(adapters ...Adapter) *Registry {
	indexed := make(map[enums.PaymentProvider]Adapter, len(adapters))
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		indexed[adapter.Provider()] = adapter
	}
	return &Registry{adapters: indexed}
}

// Get returns the adapter for the provider or a validation error when
// the provider is unknown or not configured.
func (r *Registry) Get(provider enums.PaymentProvider) (Adapter, error) {
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment provider not available")
	}
	return adapter, nil
}

// Enabled lists the providers with a configured adapter.
func (r *Registry) Enabled() []enums.PaymentProvider {
	providers := make([]enums.PaymentProvider, 0, len(r.adapters))
	for _, provider := range enums.PaymentProviders() {
		if _, ok := r.adapters[provider]; ok {
			providers = append(providers, provider)
		}
	}
	return providers
}
