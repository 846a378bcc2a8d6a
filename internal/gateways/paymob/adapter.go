package paymob

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coursehub-app/coursehub-backend/internal/gateways"
	"github.com/coursehub-app/coursehub-backend/pkg/config"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
	"github.com/coursehub-app/coursehub-backend/pkg/metrics"
)

var (
	errAPIKeyRequired      = errors.New("paymob api key is required")
	errHMACSecretRequired  = errors.New("paymob hmac secret is required")
	errIntegrationRequired = errors.New("paymob integration id is required")
	errLoggerRequired      = errors.New("paymob logger is required")
)

// Adapter drives regional card and cash payments through the Paymob
// Accept API. Checkout is a three-step exchange: auth token, order
// registration, then a payment key that feeds the hosted iframe.
type Adapter struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	integrationID string
	iframeID      string
	hmacSecret    string
	logger        *logger.Logger
	metrics       *metrics.PaymentMetrics
}

func NewAdapter(ctx context.Context, cfg config.PaymobConfig, timeout time.Duration, logg *logger.Logger, m *metrics.PaymentMetrics) (*Adapter, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errAPIKeyRequired
	}
	if strings.TrimSpace(cfg.HMACSecret) == "" {
		return nil, errHMACSecretRequired
	}
	if strings.TrimSpace(cfg.IntegrationID) == "" {
		return nil, errIntegrationRequired
	}

	a := &Adapter{
		httpClient:    &http.Client{Timeout: timeout},
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		integrationID: cfg.IntegrationID,
		iframeID:      cfg.IframeID,
		hmacSecret:    cfg.HMACSecret,
		logger:        logg,
		metrics:       m,
	}
	logg.Info(ctx, "paymob adapter initialized")
	return a, nil
}

func (a *Adapter) Provider() enums.PaymentProvider {
	return enums.PaymentProviderPaymob
}

// CreateCheckout registers a Paymob order and returns the hosted
// iframe URL carrying the payment key.
func (a *Adapter) CreateCheckout(ctx context.Context, in gateways.CheckoutInput) (*gateways.CheckoutSession, error) {
	token, err := a.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	amountCents := in.Amount.Shift(2).IntPart()
	var order struct {
		ID int64 `json:"id"`
	}
	err = a.post(ctx, "/ecommerce/orders", map[string]any{
		"auth_token":        token,
		"delivery_needed":   false,
		"amount_cents":      strconv.FormatInt(amountCents, 10),
		"currency":          string(in.Currency),
		"merchant_order_id": in.PaymentID,
		"items": []map[string]any{
			{
				"name":         in.CourseTitle,
				"amount_cents": strconv.FormatInt(amountCents, 10),
				"quantity":     "1",
			},
		},
	}, "create_order", &order)
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "paymob returned no order id")
	}

	var key struct {
		Token string `json:"token"`
	}
	err = a.post(ctx, "/acceptance/payment_keys", map[string]any{
		"auth_token":     token,
		"amount_cents":   strconv.FormatInt(amountCents, 10),
		"expiration":     3600,
		"order_id":       order.ID,
		"currency":       string(in.Currency),
		"integration_id": a.integrationID,
		"billing_data": map[string]any{
			"email":        defaultField(in.CustomerEmail),
			"first_name":   defaultField(in.CustomerName),
			"last_name":    "NA",
			"phone_number": "NA",
			"country":      "NA",
			"city":         "NA",
			"street":       "NA",
			"building":     "NA",
			"floor":        "NA",
			"apartment":    "NA",
		},
	}, "payment_key", &key)
	if err != nil {
		return nil, err
	}
	if key.Token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "paymob returned no payment key")
	}

	transactionID := strconv.FormatInt(order.ID, 10)
	ctx = a.logger.WithFields(ctx, map[string]any{"order_id": transactionID})
	a.logger.Info(ctx, "paymob checkout created")
	return &gateways.CheckoutSession{
		TransactionID: transactionID,
		RedirectURL:   fmt.Sprintf("%s/acceptance/iframes/%s?payment_token=%s", a.baseURL, a.iframeID, key.Token),
		Raw:           map[string]any{"order_id": order.ID},
	}, nil
}

// hmacFieldOrder is the exact concatenation order Paymob documents for
// transaction callbacks. Changing it breaks verification.
var hmacFieldOrder = []string{
	"amount_cents",
	"created_at",
	"currency",
	"error_occured",
	"has_parent_transaction",
	"id",
	"integration_id",
	"is_3d_secure",
	"is_auth",
	"is_capture",
	"is_refunded",
	"is_standalone_payment",
	"is_voided",
	"order.id",
	"owner",
	"pending",
	"source_data.pan",
	"source_data.sub_type",
	"source_data.type",
	"success",
}

type callbackTransaction struct {
	ID                   json.Number `json:"id"`
	AmountCents          json.Number `json:"amount_cents"`
	CreatedAt            string      `json:"created_at"`
	Currency             string      `json:"currency"`
	ErrorOccured         bool        `json:"error_occured"`
	HasParentTransaction bool        `json:"has_parent_transaction"`
	IntegrationID        json.Number `json:"integration_id"`
	Is3DSecure           bool        `json:"is_3d_secure"`
	IsAuth               bool        `json:"is_auth"`
	IsCapture            bool        `json:"is_capture"`
	IsRefunded           bool        `json:"is_refunded"`
	IsStandalonePayment  bool        `json:"is_standalone_payment"`
	IsVoided             bool        `json:"is_voided"`
	Order                struct {
		ID json.Number `json:"id"`
	} `json:"order"`
	Owner      json.Number `json:"owner"`
	Pending    bool        `json:"pending"`
	SourceData struct {
		Pan     string `json:"pan"`
		SubType string `json:"sub_type"`
		Type    string `json:"type"`
	} `json:"source_data"`
	Success bool `json:"success"`
}

type callbackEnvelope struct {
	Type string              `json:"type"`
	Obj  callbackTransaction `json:"obj"`
}

// VerifyEvent checks the HMAC-SHA512 over the documented ordered
// fields and normalizes the transaction outcome.
func (a *Adapter) VerifyEvent(_ context.Context, header http.Header, body []byte) (*gateways.Event, error) {
	provided := header.Get("X-Paymob-Hmac")
	if provided == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "paymob hmac missing")
	}

	var envelope callbackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode paymob callback")
	}

	expected := computeHMAC(a.hmacSecret, envelope.Obj)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(provided))) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid paymob hmac")
	}
	if !strings.EqualFold(envelope.Type, "TRANSACTION") {
		return nil, nil
	}
	if envelope.Obj.Pending {
		return nil, nil
	}

	return &gateways.Event{
		EventID:       envelope.Obj.ID.String(),
		TransactionID: envelope.Obj.Order.ID.String(),
		Success:       envelope.Obj.Success && !envelope.Obj.ErrorOccured,
		Raw: map[string]any{
			"transaction_id": envelope.Obj.ID.String(),
			"is_refunded":    envelope.Obj.IsRefunded,
		},
	}, nil
}

func computeHMAC(secret string, tx callbackTransaction) string {
	values := map[string]string{
		"amount_cents":           tx.AmountCents.String(),
		"created_at":             tx.CreatedAt,
		"currency":               tx.Currency,
		"error_occured":          strconv.FormatBool(tx.ErrorOccured),
		"has_parent_transaction": strconv.FormatBool(tx.HasParentTransaction),
		"id":                     tx.ID.String(),
		"integration_id":         tx.IntegrationID.String(),
		"is_3d_secure":           strconv.FormatBool(tx.Is3DSecure),
		"is_auth":                strconv.FormatBool(tx.IsAuth),
		"is_capture":             strconv.FormatBool(tx.IsCapture),
		"is_refunded":            strconv.FormatBool(tx.IsRefunded),
		"is_standalone_payment":  strconv.FormatBool(tx.IsStandalonePayment),
		"is_voided":              strconv.FormatBool(tx.IsVoided),
		"order.id":               tx.Order.ID.String(),
		"owner":                  tx.Owner.String(),
		"pending":                strconv.FormatBool(tx.Pending),
		"source_data.pan":        tx.SourceData.Pan,
		"source_data.sub_type":   tx.SourceData.SubType,
		"source_data.type":       tx.SourceData.Type,
		"success":                strconv.FormatBool(tx.Success),
	}

	var concat strings.Builder
	for _, field := range hmacFieldOrder {
		concat.WriteString(values[field])
	}

	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(concat.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Refund issues a refund against the original Paymob transaction. The
// transaction id is resolved from the order because callbacks key by
// order on our side.
func (a *Adapter) Refund(ctx context.Context, in gateways.RefundInput) (*gateways.RefundResult, error) {
	token, err := a.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	var inquiry struct {
		ID json.Number `json:"id"`
	}
	err = a.post(ctx, "/ecommerce/orders/transaction_inquiry", map[string]any{
		"auth_token": token,
		"order_id":   in.TransactionID,
	}, "transaction_inquiry", &inquiry)
	if err != nil {
		return nil, err
	}
	if inquiry.ID.String() == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "paymob order has no transaction")
	}

	var refund struct {
		ID      json.Number `json:"id"`
		Success bool        `json:"success"`
	}
	err = a.post(ctx, "/acceptance/void_refund/refund", map[string]any{
		"auth_token":     token,
		"transaction_id": inquiry.ID.String(),
		"amount_cents":   strconv.FormatInt(in.Amount.Shift(2).IntPart(), 10),
	}, "refund", &refund)
	if err != nil {
		return nil, err
	}
	if !refund.Success {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "paymob refund was not accepted")
	}

	ctx = a.logger.WithFields(ctx, map[string]any{"refund_id": refund.ID.String()})
	a.logger.Info(ctx, "paymob refund issued")
	return &gateways.RefundResult{
		RefundID: refund.ID.String(),
		Raw:      map[string]any{"success": refund.Success},
	}, nil
}

func (a *Adapter) authenticate(ctx context.Context) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := a.post(ctx, "/auth/tokens", map[string]any{"api_key": a.apiKey}, "auth", &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "paymob rejected api key")
	}
	return resp.Token, nil
}

func (a *Adapter) post(ctx context.Context, path string, payload any, operation string, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode paymob request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build paymob request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	a.metrics.ObserveGatewayCall(string(a.Provider()), operation, time.Since(start))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("paymob %s failed", operation))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "read paymob response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("paymob %s returned %d", operation, resp.StatusCode)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "paymob rejected credentials")
		}
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("paymob %s failed", operation))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode paymob response")
	}
	return nil
}

func defaultField(value string) string {
	if strings.TrimSpace(value) == "" {
		return "NA"
	}
	return value
}
