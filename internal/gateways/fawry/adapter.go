package fawry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
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
	errMerchantCodeRequired = errors.New("fawry merchant code is required")
	errSecurityKeyRequired  = errors.New("fawry security key is required")
	errLoggerRequired       = errors.New("fawry logger is required")
)

// Adapter drives cash and card payments through the Fawry reference
// number flow. Requests are authenticated with SHA-256 digests over
// documented field orders instead of HMAC headers.
type Adapter struct {
	httpClient   *http.Client
	baseURL      string
	merchantCode string
	securityKey  string
	logger       *logger.Logger
	metrics      *metrics.PaymentMetrics
}

func NewAdapter(ctx context.Context, cfg config.FawryConfig, timeout time.Duration, logg *logger.Logger, m *metrics.PaymentMetrics) (*Adapter, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if strings.TrimSpace(cfg.MerchantCode) == "" {
		return nil, errMerchantCodeRequired
	}
	if strings.TrimSpace(cfg.SecurityKey) == "" {
		return nil, errSecurityKeyRequired
	}

	a := &Adapter{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		merchantCode: cfg.MerchantCode,
		securityKey:  cfg.SecurityKey,
		logger:       logg,
		metrics:      m,
	}
	logg.Info(ctx, "fawry adapter initialized")
	return a, nil
}

func (a *Adapter) Provider() enums.PaymentProvider {
	return enums.PaymentProviderFawry
}

// CreateCheckout initializes a hosted Fawry session. The merchant
// reference number is our payment id, so callbacks resolve directly.
func (a *Adapter) CreateCheckout(ctx context.Context, in gateways.CheckoutInput) (*gateways.CheckoutSession, error) {
	amount := in.Amount.StringFixed(2)
	signature := digest(
		a.merchantCode,
		in.PaymentID,
		in.SuccessURL,
		amount,
		a.securityKey,
	)

	payload := map[string]any{
		"merchantCode":   a.merchantCode,
		"merchantRefNum": in.PaymentID,
		"customerName":   in.CustomerName,
		"customerEmail":  in.CustomerEmail,
		"paymentExpiry":  time.Now().Add(24 * time.Hour).UnixMilli(),
		"returnUrl":      in.SuccessURL,
		"chargeItems": []map[string]any{
			{
				"itemId":      in.CourseID,
				"description": in.CourseTitle,
				"price":       amount,
				"quantity":    1,
			},
		},
		"signature": signature,
		"language":  "en-gb",
	}

	var resp struct {
		URL               string `json:"url"`
		ReferenceNumber   string `json:"referenceNumber"`
		StatusCode        int    `json:"statusCode"`
		StatusDescription string `json:"statusDescription"`
	}
	if err := a.post(ctx, "/fawrypay-api/api/payments/init", payload, "init_payment", &resp); err != nil {
		return nil, err
	}
	if resp.URL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "fawry returned no checkout url")
	}

	ctx = a.logger.WithFields(ctx, map[string]any{"merchant_ref": in.PaymentID})
	a.logger.Info(ctx, "fawry checkout created")
	return &gateways.CheckoutSession{
		TransactionID: in.PaymentID,
		RedirectURL:   resp.URL,
		Raw:           map[string]any{"reference_number": resp.ReferenceNumber},
	}, nil
}

type serverCallback struct {
	FawryRefNumber        string  `json:"fawryRefNumber"`
	MerchantRefNumber     string  `json:"merchantRefNumber"`
	PaymentAmount         float64 `json:"paymentAmount"`
	OrderAmount           float64 `json:"orderAmount"`
	OrderStatus           string  `json:"orderStatus"`
	PaymentMethod         string  `json:"paymentMethod"`
	PaymentRefrenceNumber string  `json:"paymentRefrenceNumber"`
	MessageSignature      string  `json:"messageSignature"`
}

// VerifyEvent checks the SHA-256 message signature over the documented
// field order and normalizes the order status.
func (a *Adapter) VerifyEvent(_ context.Context, _ http.Header, body []byte) (*gateways.Event, error) {
	var callback serverCallback
	if err := json.Unmarshal(body, &callback); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode fawry callback")
	}
	if callback.MessageSignature == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "fawry signature missing")
	}

	expected := digest(
		callback.FawryRefNumber,
		callback.MerchantRefNumber,
		fmt.Sprintf("%.2f", callback.PaymentAmount),
		fmt.Sprintf("%.2f", callback.OrderAmount),
		callback.OrderStatus,
		callback.PaymentMethod,
		callback.PaymentRefrenceNumber,
		a.securityKey,
	)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(callback.MessageSignature))) != 1 {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid fawry signature")
	}

	eventID := callback.FawryRefNumber + ":" + callback.OrderStatus
	switch strings.ToUpper(callback.OrderStatus) {
	case "PAID":
		return a.event(eventID, callback, true), nil
	case "CANCELED", "EXPIRED", "FAILED":
		return a.event(eventID, callback, false), nil
	default:
		return nil, nil
	}
}

func (a *Adapter) event(eventID string, callback serverCallback, success bool) *gateways.Event {
	return &gateways.Event{
		EventID:       eventID,
		TransactionID: callback.MerchantRefNumber,
		Success:       success,
		Raw: map[string]any{
			"fawry_ref_number": callback.FawryRefNumber,
			"order_status":     callback.OrderStatus,
			"payment_method":   callback.PaymentMethod,
		},
	}
}

// Refund reverses a paid Fawry reference number.
func (a *Adapter) Refund(ctx context.Context, in gateways.RefundInput) (*gateways.RefundResult, error) {
	amount := in.Amount.StringFixed(2)
	payload := map[string]any{
		"merchantCode":    a.merchantCode,
		"referenceNumber": in.TransactionID,
		"refundAmount":    amount,
		"reason":          in.Reason,
		"signature":       digest(a.merchantCode, in.TransactionID, amount, in.Reason, a.securityKey),
	}

	var resp struct {
		StatusCode        int    `json:"statusCode"`
		StatusDescription string `json:"statusDescription"`
	}
	if err := a.post(ctx, "/ECommerceWeb/Fawry/payments/refund", payload, "refund", &resp); err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, fmt.Sprintf("fawry refund rejected: %s", resp.StatusDescription))
	}

	a.logger.Info(a.logger.WithFields(ctx, map[string]any{"reference_number": in.TransactionID}), "fawry refund issued")
	return &gateways.RefundResult{
		RefundID: in.TransactionID,
		Raw:      map[string]any{"status_description": resp.StatusDescription},
	}, nil
}

// digest concatenates parts in order and returns the lowercase hex
// SHA-256, the way Fawry signs every call.
func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

func (a *Adapter) post(ctx context.Context, path string, payload any, operation string, out any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode fawry request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build fawry request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	a.metrics.ObserveGatewayCall(string(a.Provider()), operation, time.Since(start))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("fawry %s failed", operation))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "read fawry response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, fmt.Errorf("fawry %s returned %d", operation, resp.StatusCode), fmt.Sprintf("fawry %s failed", operation))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode fawry response")
	}
	return nil
}
