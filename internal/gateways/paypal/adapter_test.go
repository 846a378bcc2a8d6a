package paypal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coursehub-app/coursehub-backend/internal/gateways"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, handler http.Handler) (*Adapter, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	adapter := &Adapter{
		httpClient: server.Client(),
		baseURL:    server.URL,
		webhookID:  "wh-1",
		logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	}
	return adapter, server
}

func signedHeader() http.Header {
	header := http.Header{}
	header.Set("Paypal-Transmission-Id", "tx-1")
	header.Set("Paypal-Transmission-Sig", "sig-1")
	header.Set("Paypal-Transmission-Time", "2026-01-01T00:00:00Z")
	header.Set("Paypal-Auth-Algo", "SHA256withRSA")
	header.Set("Paypal-Cert-Url", "https://api.paypal.com/cert")
	return header
}

func verificationHandler(status string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/notifications/verify-webhook-signature" {
			json.NewEncoder(w).Encode(map[string]string{"verification_status": status})
			return
		}
		if next != nil {
			next(w, r)
			return
		}
		http.NotFound(w, r)
	}
}

func TestVerifyEventRejectsMissingHeaders(t *testing.T) {
	adapter, _ := newTestAdapter(t, verificationHandler("SUCCESS", nil))

	_, err := adapter.VerifyEvent(context.Background(), http.Header{}, []byte(`{}`))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized))
}

func TestVerifyEventRejectsFailedVerification(t *testing.T) {
	adapter, _ := newTestAdapter(t, verificationHandler("FAILURE", nil))

	_, err := adapter.VerifyEvent(context.Background(), signedHeader(), []byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED"}`))
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeUnauthorized))
}

func TestVerifyEventCaptureCompleted(t *testing.T) {
	adapter, _ := newTestAdapter(t, verificationHandler("SUCCESS", nil))

	body := []byte(`{"id":"evt-1","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"cap-1","status":"COMPLETED","supplementary_data":{"related_ids":{"order_id":"ord-1"}}}}`)
	event, err := adapter.VerifyEvent(context.Background(), signedHeader(), body)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.True(t, event.Success)
	assert.Equal(t, "ord-1", event.TransactionID)
}

func TestVerifyEventCaptureDenied(t *testing.T) {
	adapter, _ := newTestAdapter(t, verificationHandler("SUCCESS", nil))

	body := []byte(`{"id":"evt-2","event_type":"PAYMENT.CAPTURE.DENIED","resource":{"id":"cap-2","supplementary_data":{"related_ids":{"order_id":"ord-2"}}}}`)
	event, err := adapter.VerifyEvent(context.Background(), signedHeader(), body)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.False(t, event.Success)
	assert.Equal(t, "ord-2", event.TransactionID)
}

func TestVerifyEventApprovalTriggersCapture(t *testing.T) {
	var captured bool
	adapter, _ := newTestAdapter(t, verificationHandler("SUCCESS", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/checkout/orders/ord-3/capture" && r.Method == http.MethodPost {
			captured = true
			json.NewEncoder(w).Encode(map[string]any{
				"id":     "ord-3",
				"status": "COMPLETED",
				"purchase_units": []map[string]any{
					{"payments": map[string]any{"captures": []map[string]any{{"id": "cap-3", "status": "COMPLETED"}}}},
				},
			})
			return
		}
		http.NotFound(w, r)
	}))

	body := []byte(`{"id":"evt-3","event_type":"CHECKOUT.ORDER.APPROVED","resource":{"id":"ord-3","status":"APPROVED"}}`)
	event, err := adapter.VerifyEvent(context.Background(), signedHeader(), body)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.True(t, captured)
	assert.True(t, event.Success)
	assert.Equal(t, "ord-3", event.TransactionID)
}

func TestVerifyEventIgnoresUnknownEvents(t *testing.T) {
	adapter, _ := newTestAdapter(t, verificationHandler("SUCCESS", nil))

	event, err := adapter.VerifyEvent(context.Background(), signedHeader(), []byte(`{"id":"evt-4","event_type":"CUSTOMER.DISPUTE.CREATED"}`))
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestCreateCheckoutReturnsApprovalLink(t *testing.T) {
	adapter, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/checkout/orders", r.URL.Path)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "CAPTURE", payload["intent"])

		json.NewEncoder(w).Encode(map[string]any{
			"id":     "ord-9",
			"status": "CREATED",
			"links": []map[string]string{
				{"href": "https://paypal.test/self", "rel": "self"},
				{"href": "https://paypal.test/approve", "rel": "approve"},
			},
		})
	}))

	session, err := adapter.CreateCheckout(context.Background(), gateways.CheckoutInput{
		PaymentID:   "pay-1",
		CourseTitle: "Intro to Go",
		Amount:      decimal.RequireFromString("49.99"),
		Currency:    enums.CurrencyUSD,
		SuccessURL:  "https://coursehub.test/success",
		CancelURL:   "https://coursehub.test/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-9", session.TransactionID)
	assert.Equal(t, "https://paypal.test/approve", session.RedirectURL)
}

func TestRefundLooksUpCapture(t *testing.T) {
	adapter, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/checkout/orders/ord-7":
			json.NewEncoder(w).Encode(map[string]any{
				"id": "ord-7",
				"purchase_units": []map[string]any{
					{"payments": map[string]any{"captures": []map[string]any{{"id": "cap-7", "status": "COMPLETED"}}}},
				},
			})
		case "/v2/payments/captures/cap-7/refund":
			json.NewEncoder(w).Encode(map[string]string{"id": "ref-7", "status": "COMPLETED"})
		default:
			http.NotFound(w, r)
		}
	}))

	result, err := adapter.Refund(context.Background(), gateways.RefundInput{
		TransactionID: "ord-7",
		Amount:        decimal.RequireFromString("49.99"),
		Currency:      enums.CurrencyUSD,
		Reason:        "course refund",
	})
	require.NoError(t, err)
	assert.Equal(t, "ref-7", result.RefundID)
}

func TestRefundWithoutCaptureFails(t *testing.T) {
	adapter, _ := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"id": "ord-8", "purchase_units": []map[string]any{}})
	}))

	_, err := adapter.Refund(context.Background(), gateways.RefundInput{
		TransactionID: "ord-8",
		Amount:        decimal.RequireFromString("10.00"),
		Currency:      enums.CurrencyUSD,
	})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStateConflict))
}
