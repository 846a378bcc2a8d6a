package rates

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
)

const (
	snapshotKey = "rates"

	// refreshInterval is how long a snapshot is considered fresh.
	// Between refreshInterval and maxStaleness the snapshot is stale
	// but still usable when the source is down.
	refreshInterval = time.Hour
)

type snapshot struct {
	rates     map[enums.Currency]decimal.Decimal
	fetchedAt time.Time
}

// ServiceParams groups dependencies for the rates service.
type ServiceParams struct {
	Source       Source
	Base         enums.Currency
	MaxStaleness time.Duration
	Logger       *logger.Logger
}

// Service converts amounts between supported currencies using a cached
// rate table. Conversions never hit the source on the hot path more
// than once per refresh interval.
type Service struct {
	source       Source
	base         enums.Currency
	maxStaleness time.Duration
	cache        *gocache.Cache
	logger       *logger.Logger

	now func() time.Time
}

// NewService builds the rates service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Source == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "rates source required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.Base == "" {
		params.Base = enums.CurrencyUSD
	}
	if params.MaxStaleness <= 0 {
		params.MaxStaleness = 24 * time.Hour
	}
	return &Service{
		source:       params.Source,
		base:         params.Base,
		maxStaleness: params.MaxStaleness,
		cache:        gocache.New(gocache.NoExpiration, 10*time.Minute),
		logger:       params.Logger,
		now:          time.Now,
	}, nil
}

// Convert translates amount from one currency to another, rounded to
// two decimal places. Rates older than the staleness bound fail the
// conversion rather than produce a silently wrong price.
func (s *Service) Convert(ctx context.Context, amount decimal.Decimal, from, to enums.Currency) (decimal.Decimal, error) {
	if from == to {
		return amount.Round(2), nil
	}

	snap, err := s.snapshot(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	fromRate, ok := snap.rates[from]
	if !ok || fromRate.IsZero() {
		return decimal.Decimal{}, pkgerrors.New(pkgerrors.CodeValidation, "no exchange rate for source currency")
	}
	toRate, ok := snap.rates[to]
	if !ok {
		return decimal.Decimal{}, pkgerrors.New(pkgerrors.CodeValidation, "no exchange rate for target currency")
	}

	return amount.Div(fromRate).Mul(toRate).Round(2), nil
}

// Rate returns the multiplier from one currency to another.
func (s *Service) Rate(ctx context.Context, from, to enums.Currency) (decimal.Decimal, error) {
	one := decimal.NewFromInt(1)
	if from == to {
		return one, nil
	}
	return s.Convert(ctx, one, from, to)
}

func (s *Service) snapshot(ctx context.Context) (*snapshot, error) {
	cached := s.cached()
	if cached != nil && s.now().Sub(cached.fetchedAt) < refreshInterval {
		return cached, nil
	}

	rates, err := s.source.Fetch(ctx, s.base)
	if err == nil {
		fresh := &snapshot{rates: rates, fetchedAt: s.now()}
		s.cache.Set(snapshotKey, fresh, gocache.NoExpiration)
		return fresh, nil
	}

	// Source is down. A stale snapshot inside the staleness bound is
	// still better than failing checkout.
	if cached != nil && s.now().Sub(cached.fetchedAt) < s.maxStaleness {
		s.logger.Warn(ctx, "rates source unavailable, serving stale snapshot")
		return cached, nil
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "exchange rates unavailable")
}

func (s *Service) cached() *snapshot {
	value, ok := s.cache.Get(snapshotKey)
	if !ok {
		return nil
	}
	snap, ok := value.(*snapshot)
	if !ok {
		return nil
	}
	return snap
}
