package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/coursehub-app/coursehub-backend/internal/gateways"
	"github.com/coursehub-app/coursehub-backend/pkg/config"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
	"github.com/coursehub-app/coursehub-backend/pkg/metrics"
	"github.com/google/uuid"
)

const (
	eventOrderApproved    = "CHECKOUT.ORDER.APPROVED"
	eventCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	eventCaptureDenied    = "PAYMENT.CAPTURE.DENIED"
)

var (
	errCredentialsRequired = errors.New("paypal client credentials are required")
	errWebhookIDRequired   = errors.New("paypal webhook id is required")
	errLoggerRequired      = errors.New("paypal logger is required")
)

// Adapter drives wallet payments through the PayPal Orders v2 API.
// Checkout is two-phase: an order is created here and captured when the
// buyer approval notification arrives.
type Adapter struct {
	httpClient *http.Client
	baseURL    string
	webhookID  string
	logger     *logger.Logger
	metrics    *metrics.PaymentMetrics
}

// NewAdapter wires the OAuth2 client-credentials transport and
// validates configuration. Calls against PayPal are bounded by
// timeout; a hanging provider must not hang the request.
func NewAdapter(ctx context.Context, cfg config.PayPalConfig, timeout time.Duration, logg *logger.Logger, m *metrics.PaymentMetrics) (*Adapter, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	clientID := strings.TrimSpace(cfg.ClientID)
	secret := strings.TrimSpace(cfg.ClientSecret)
	if clientID == "" || secret == "" {
		return nil, errCredentialsRequired
	}
	webhookID := strings.TrimSpace(cfg.WebhookID)
	if webhookID == "" {
		return nil, errWebhookIDRequired
	}

	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	baseURL := cfg.BaseURL()
	oauthCfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		TokenURL:     baseURL + "/v1/oauth2/token",
	}
	// oauth2 derives both the token and API transports from the client
	// carried in the context, timeout included.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: timeout})

	a := &Adapter{
		httpClient: oauthCfg.Client(ctx),
		baseURL:    baseURL,
		webhookID:  webhookID,
		logger:     logg,
		metrics:    m,
	}
	logg.Info(ctx, "paypal adapter initialized")
	return a, nil
}

func (a *Adapter) Provider() enums.PaymentProvider {
	return enums.PaymentProviderPayPal
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// CreateCheckout creates a PayPal order and returns the buyer approval
// link.
func (a *Adapter) CreateCheckout(ctx context.Context, in gateways.CheckoutInput) (*gateways.CheckoutSession, error) {
	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{
				"reference_id": in.PaymentID,
				"description":  in.CourseTitle,
				"amount": map[string]any{
					"currency_code": string(in.Currency),
					"value":         in.Amount.StringFixed(2),
				},
			},
		},
		"application_context": map[string]any{
			"return_url": in.SuccessURL,
			"cancel_url": in.CancelURL,
		},
	}

	var order orderResponse
	if err := a.do(ctx, http.MethodPost, "/v2/checkout/orders", payload, "create_order", &order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "paypal returned no order id")
	}

	approveURL := ""
	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			approveURL = link.Href
			break
		}
	}

	ctx = a.logger.WithFields(ctx, map[string]any{"order_id": order.ID})
	a.logger.Info(ctx, "paypal order created")
	return &gateways.CheckoutSession{
		TransactionID: order.ID,
		RedirectURL:   approveURL,
		Raw:           map[string]any{"order_id": order.ID, "status": order.Status},
	}, nil
}

type webhookEnvelope struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string `json:"id"`
		Status            string `json:"status"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

// VerifyEvent authenticates a PayPal notification through the
// verify-webhook-signature API and normalizes the outcome. Buyer
// approval triggers the capture here so callers only ever see terminal
// results.
func (a *Adapter) VerifyEvent(ctx context.Context, header http.Header, body []byte) (*gateways.Event, error) {
	if err := a.verifySignature(ctx, header, body); err != nil {
		return nil, err
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode paypal event")
	}

	switch envelope.EventType {
	case eventOrderApproved:
		return a.captureOrder(ctx, envelope.ID, envelope.Resource.ID)
	case eventCaptureCompleted:
		orderID := envelope.Resource.SupplementaryData.RelatedIDs.OrderID
		if orderID == "" {
			orderID = envelope.Resource.ID
		}
		return &gateways.Event{
			EventID:       envelope.ID,
			TransactionID: orderID,
			Success:       true,
			Raw:           map[string]any{"event_type": envelope.EventType},
		}, nil
	case eventCaptureDenied:
		orderID := envelope.Resource.SupplementaryData.RelatedIDs.OrderID
		if orderID == "" {
			orderID = envelope.Resource.ID
		}
		return &gateways.Event{
			EventID:       envelope.ID,
			TransactionID: orderID,
			Success:       false,
			Raw:           map[string]any{"event_type": envelope.EventType},
		}, nil
	default:
		return nil, nil
	}
}

func (a *Adapter) captureOrder(ctx context.Context, eventID, orderID string) (*gateways.Event, error) {
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paypal order id missing")
	}
	var order orderResponse
	path := fmt.Sprintf("/v2/checkout/orders/%s/capture", orderID)
	if err := a.do(ctx, http.MethodPost, path, map[string]any{}, "capture_order", &order); err != nil {
		return nil, err
	}

	success := strings.EqualFold(order.Status, "COMPLETED")
	captureID := ""
	for _, unit := range order.PurchaseUnits {
		for _, capture := range unit.Payments.Captures {
			captureID = capture.ID
		}
	}
	return &gateways.Event{
		EventID:       eventID,
		TransactionID: orderID,
		Success:       success,
		Raw:           map[string]any{"status": order.Status, "capture_id": captureID},
	}, nil
}

type verificationRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

func (a *Adapter) verifySignature(ctx context.Context, header http.Header, body []byte) error {
	req := verificationRequest{
		AuthAlgo:         header.Get("Paypal-Auth-Algo"),
		CertURL:          header.Get("Paypal-Cert-Url"),
		TransmissionID:   header.Get("Paypal-Transmission-Id"),
		TransmissionSig:  header.Get("Paypal-Transmission-Sig"),
		TransmissionTime: header.Get("Paypal-Transmission-Time"),
		WebhookID:        a.webhookID,
		WebhookEvent:     json.RawMessage(body),
	}
	if req.TransmissionID == "" || req.TransmissionSig == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "paypal signature headers missing")
	}

	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", req, "verify_webhook", &result); err != nil {
		return err
	}
	if result.VerificationStatus != "SUCCESS" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid paypal signature")
	}
	return nil
}

type refundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Refund returns money on a captured PayPal payment. The capture id is
// looked up from the order because our stored transaction id is the
// order id.
func (a *Adapter) Refund(ctx context.Context, in gateways.RefundInput) (*gateways.RefundResult, error) {
	var order orderResponse
	if err := a.do(ctx, http.MethodGet, fmt.Sprintf("/v2/checkout/orders/%s", in.TransactionID), nil, "get_order", &order); err != nil {
		return nil, err
	}

	captureID := ""
	for _, unit := range order.PurchaseUnits {
		for _, capture := range unit.Payments.Captures {
			if strings.EqualFold(capture.Status, "COMPLETED") {
				captureID = capture.ID
			}
		}
	}
	if captureID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "paypal order has no completed capture")
	}

	payload := map[string]any{
		"amount": map[string]any{
			"currency_code": string(in.Currency),
			"value":         in.Amount.StringFixed(2),
		},
	}
	if in.Reason != "" {
		payload["note_to_payer"] = in.Reason
	}

	var refund refundResponse
	path := fmt.Sprintf("/v2/payments/captures/%s/refund", captureID)
	if err := a.do(ctx, http.MethodPost, path, payload, "refund", &refund); err != nil {
		return nil, err
	}

	ctx = a.logger.WithFields(ctx, map[string]any{"refund_id": refund.ID})
	a.logger.Info(ctx, "paypal refund issued")
	return &gateways.RefundResult{
		RefundID: refund.ID,
		Raw:      map[string]any{"status": refund.Status},
	}, nil
}

func (a *Adapter) do(ctx context.Context, method, path string, payload any, operation string, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode paypal request")
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build paypal request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Paypal-Request-Id", uuid.NewString())

	start := time.Now()
	resp, err := a.httpClient.Do(req)
	a.metrics.ObserveGatewayCall(string(a.Provider()), operation, time.Since(start))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("paypal %s failed", operation))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "read paypal response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("paypal %s returned %d: %s", operation, resp.StatusCode, truncate(raw, 512))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "paypal rejected credentials")
		}
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("paypal %s failed", operation))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode paypal response")
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
