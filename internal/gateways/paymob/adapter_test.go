package paymob

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coursehub-app/coursehub-backend/internal/gateways"
	"github.com/coursehub-app/coursehub-backend/pkg/config"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "hmac-secret"

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	baseURL := ""
	if handler != nil {
		server := httptest.NewServer(handler)
		t.Cleanup(server.Close)
		baseURL = server.URL
	}
	return &Adapter{
		httpClient:    http.DefaultClient,
		baseURL:       baseURL,
		apiKey:        "api-key",
		integrationID: "12345",
		iframeID:      "67890",
		hmacSecret:    testSecret,
		logger:        logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	}
}

func TestNewAdapterBoundsHTTPClient(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	cfg := config.PaymobConfig{APIKey: "k", HMACSecret: "s", IntegrationID: "1"}

	adapter, err := NewAdapter(context.Background(), cfg, 3*time.Second, logg, nil)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, adapter.httpClient.Timeout)

	adapter, err = NewAdapter(context.Background(), cfg, 0, logg, nil)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, adapter.httpClient.Timeout)
}

func callbackBody(t *testing.T, success, pending bool) ([]byte, string) {
	t.Helper()
	tx := callbackTransaction{
		ID:          json.Number("111"),
		AmountCents: json.Number("4999"),
		CreatedAt:   "2026-01-01T00:00:00",
		Currency:    "EGP",
		Success:     success,
		Pending:     pending,
	}
	tx.Order.ID = json.Number("222")
	tx.IntegrationID = json.Number("12345")
	tx.Owner = json.Number("1")
	tx.SourceData.Pan = "1234"
	tx.SourceData.SubType = "MasterCard"
	tx.SourceData.Type = "card"

	body, err := json.Marshal(callbackEnvelope{Type: "TRANSACTION", Obj: tx})
	require.NoError(t, err)
	return body, computeHMAC(testSecret, tx)
}

func TestVerifyEventAcceptsValidHMAC(t *testing.T) {
	adapter := newTestAdapter(t, nil)
	body, sig := callbackBody(t, true, false)

	header := http.Header{}
	header.Set("X-Paymob-Hmac", sig)

	event, err := adapter.VerifyEvent(context.Background(), header, body)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.True(t, event.Success)
	assert.Equal(t, "222", event.TransactionID)
	assert.Equal(t, "111", event.EventID)
}

func TestVerifyEventRejectsBadHMAC(t *testing.T) {
	adapter := newTestAdapter(t, nil)
	body, _ := callbackBody(t, true, false)

	header := http.Header{}
	header.Set("X-Paymob-Hmac", "deadbeef")

	_, err := adapter.VerifyEvent(context.Background(), header, body)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized))
}

func TestVerifyEventRejectsMissingHMAC(t *testing.T) {
	adapter := newTestAdapter(t, nil)
	body, _ := callbackBody(t, true, false)

	_, err := adapter.VerifyEvent(context.Background(), http.Header{}, body)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized))
}

func TestVerifyEventFailedTransaction(t *testing.T) {
	adapter := newTestAdapter(t, nil)
	body, sig := callbackBody(t, false, false)

	header := http.Header{}
	header.Set("X-Paymob-Hmac", sig)

	event, err := adapter.VerifyEvent(context.Background(), header, body)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.False(t, event.Success)
}

func TestVerifyEventIgnoresPending(t *testing.T) {
	adapter := newTestAdapter(t, nil)
	body, sig := callbackBody(t, false, true)

	header := http.Header{}
	header.Set("X-Paymob-Hmac", sig)

	event, err := adapter.VerifyEvent(context.Background(), header, body)
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestCreateCheckoutBuildsIframeURL(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/tokens":
			json.NewEncoder(w).Encode(map[string]string{"token": "auth-1"})
		case "/ecommerce/orders":
			json.NewEncoder(w).Encode(map[string]any{"id": 222})
		case "/acceptance/payment_keys":
			json.NewEncoder(w).Encode(map[string]string{"token": "pk-1"})
		default:
			http.NotFound(w, r)
		}
	}))

	session, err := adapter.CreateCheckout(context.Background(), gateways.CheckoutInput{
		PaymentID:   "pay-1",
		CourseTitle: "Intro to Go",
		Amount:      decimal.RequireFromString("49.99"),
		Currency:    enums.CurrencyEGP,
	})
	require.NoError(t, err)
	assert.Equal(t, "222", session.TransactionID)
	assert.Contains(t, session.RedirectURL, "/acceptance/iframes/67890")
	assert.Contains(t, session.RedirectURL, "payment_token=pk-1")
}

func TestRefundResolvesTransaction(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/tokens":
			json.NewEncoder(w).Encode(map[string]string{"token": "auth-1"})
		case "/ecommerce/orders/transaction_inquiry":
			json.NewEncoder(w).Encode(map[string]any{"id": 111})
		case "/acceptance/void_refund/refund":
			json.NewEncoder(w).Encode(map[string]any{"id": 333, "success": true})
		default:
			http.NotFound(w, r)
		}
	}))

	result, err := adapter.Refund(context.Background(), gateways.RefundInput{
		TransactionID: "222",
		Amount:        decimal.RequireFromString("49.99"),
		Currency:      enums.CurrencyEGP,
	})
	require.NoError(t, err)
	assert.Equal(t, "333", result.RefundID)
}
