package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/coursehub-app/coursehub-backend/pkg/config"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
)

// Source fetches a full rate table quoted against a base currency.
type Source interface {
	Fetch(ctx context.Context, base enums.Currency) (map[enums.Currency]decimal.Decimal, error)
}

type httpSource struct {
	client  *http.Client
	baseURL string
}

// NewHTTPSource reads rates from an open exchange-rate endpoint that
// serves GET {base_url}/{currency}.
func NewHTTPSource(cfg config.RatesConfig) Source {
	return &httpSource{
		client:  &http.Client{Timeout: cfg.HTTPTimeout},
		baseURL: cfg.SourceURL,
	}
}

func (s *httpSource) Fetch(ctx context.Context, base enums.Currency) (map[enums.Currency]decimal.Decimal, error) {
	url := fmt.Sprintf("%s/%s", s.baseURL, base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build rates request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch exchange rates")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("rates endpoint returned %d", resp.StatusCode))
	}

	var payload struct {
		Result string                     `json:"result"`
		Rates  map[string]decimal.Decimal `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode rates payload")
	}
	if payload.Result != "success" || len(payload.Rates) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "rates payload is not usable")
	}

	rates := make(map[enums.Currency]decimal.Decimal, len(payload.Rates))
	for code, rate := range payload.Rates {
		currency, parseErr := enums.ParseCurrency(code)
		if parseErr != nil {
			continue
		}
		rates[currency] = rate
	}
	return rates, nil
}
