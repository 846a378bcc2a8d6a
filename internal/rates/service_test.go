package rates

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
)

type fakeSource struct {
	rates   map[enums.Currency]decimal.Decimal
	err     error
	fetches int
}

func (f *fakeSource) Fetch(_ context.Context, _ enums.Currency) (map[enums.Currency]decimal.Decimal, error) {
	f.fetches++
	if f.err != nil {
		return nil, f.err
	}
	return f.rates, nil
}

func usdRates() map[enums.Currency]decimal.Decimal {
	return map[enums.Currency]decimal.Decimal{
		enums.CurrencyUSD: decimal.NewFromInt(1),
		enums.CurrencyEUR: decimal.RequireFromString("0.90"),
		enums.CurrencyEGP: decimal.RequireFromString("48.50"),
	}
}

func newTestService(t *testing.T, source Source) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Source:       source,
		Base:         enums.CurrencyUSD,
		MaxStaleness: 24 * time.Hour,
		Logger:       logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return service
}

func TestConvertSameCurrency(t *testing.T) {
	source := &fakeSource{rates: usdRates()}
	service := newTestService(t, source)

	got, err := service.Convert(context.Background(), decimal.RequireFromString("49.99"), enums.CurrencyUSD, enums.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("49.99")))
	assert.Zero(t, source.fetches)
}

func TestConvertUsesBaseRates(t *testing.T) {
	service := newTestService(t, &fakeSource{rates: usdRates()})

	got, err := service.Convert(context.Background(), decimal.RequireFromString("100.00"), enums.CurrencyUSD, enums.CurrencyEUR)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("90")), got.String())

	// Cross rate through the base currency.
	got, err = service.Convert(context.Background(), decimal.RequireFromString("9.00"), enums.CurrencyEUR, enums.CurrencyEGP)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("485")), got.String())
}

func TestConvertCachesSnapshot(t *testing.T) {
	source := &fakeSource{rates: usdRates()}
	service := newTestService(t, source)

	for i := 0; i < 5; i++ {
		_, err := service.Convert(context.Background(), decimal.NewFromInt(1), enums.CurrencyUSD, enums.CurrencyEUR)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, source.fetches)
}

func TestConvertRefreshesAfterInterval(t *testing.T) {
	source := &fakeSource{rates: usdRates()}
	service := newTestService(t, source)

	now := time.Now()
	service.now = func() time.Time { return now }
	_, err := service.Convert(context.Background(), decimal.NewFromInt(1), enums.CurrencyUSD, enums.CurrencyEUR)
	require.NoError(t, err)

	service.now = func() time.Time { return now.Add(refreshInterval + time.Minute) }
	_, err = service.Convert(context.Background(), decimal.NewFromInt(1), enums.CurrencyUSD, enums.CurrencyEUR)
	require.NoError(t, err)
	assert.Equal(t, 2, source.fetches)
}

func TestConvertServesStaleWhenSourceDown(t *testing.T) {
	source := &fakeSource{rates: usdRates()}
	service := newTestService(t, source)

	now := time.Now()
	service.now = func() time.Time { return now }
	_, err := service.Convert(context.Background(), decimal.NewFromInt(1), enums.CurrencyUSD, enums.CurrencyEUR)
	require.NoError(t, err)

	source.err = errors.New("connection refused")
	service.now = func() time.Time { return now.Add(2 * time.Hour) }

	got, err := service.Convert(context.Background(), decimal.RequireFromString("100.00"), enums.CurrencyUSD, enums.CurrencyEUR)
	require.NoError(t, err)
	assert.True(t, got.Equal(decimal.RequireFromString("90")))
}

func TestConvertFailsBeyondStalenessBound(t *testing.T) {
	source := &fakeSource{rates: usdRates()}
	service := newTestService(t, source)

	now := time.Now()
	service.now = func() time.Time { return now }
	_, err := service.Convert(context.Background(), decimal.NewFromInt(1), enums.CurrencyUSD, enums.CurrencyEUR)
	require.NoError(t, err)

	source.err = errors.New("connection refused")
	service.now = func() time.Time { return now.Add(25 * time.Hour) }

	_, err = service.Convert(context.Background(), decimal.NewFromInt(1), enums.CurrencyUSD, enums.CurrencyEUR)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
}

func TestConvertUnknownCurrency(t *testing.T) {
	service := newTestService(t, &fakeSource{rates: map[enums.Currency]decimal.Decimal{
		enums.CurrencyUSD: decimal.NewFromInt(1),
	}})

	_, err := service.Convert(context.Background(), decimal.NewFromInt(1), enums.CurrencyUSD, enums.CurrencyEUR)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
