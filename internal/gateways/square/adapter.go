package square

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sq "github.com/square/square-go-sdk"
	sqcheckout "github.com/square/square-go-sdk/checkout"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/coursehub-app/coursehub-backend/internal/gateways"
	"github.com/coursehub-app/coursehub-backend/pkg/config"
	"github.com/coursehub-app/coursehub-backend/pkg/enums"
	pkgerrors "github.com/coursehub-app/coursehub-backend/pkg/errors"
	"github.com/coursehub-app/coursehub-backend/pkg/logger"
	"github.com/coursehub-app/coursehub-backend/pkg/metrics"
	"github.com/google/uuid"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"

	signatureHeader = "Square-Signature"
)

var (
	errAccessTokenRequired   = errors.New("square access token is required")
	errLocationRequired      = errors.New("square location id is required")
	errWebhookSecretRequired = errors.New("square webhook secret is required")
	errInvalidSquareEnv      = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired        = errors.New("square logger is required")
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// Adapter drives card payments through Square hosted payment links.
type Adapter struct {
	sdk           *sqclient.Client
	locationID    string
	webhookSecret string
	environment   string
	logger        *logger.Logger
	metrics       *metrics.PaymentMetrics
}

// NewAdapter initializes the Square wrapper and validates the credentials.
func NewAdapter(ctx context.Context, cfg config.SquareConfig, timeout time.Duration, logg *logger.Logger, m *metrics.PaymentMetrics) (*Adapter, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}
	locationID := strings.TrimSpace(cfg.LocationID)
	if locationID == "" {
		return nil, errLocationRequired
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}

	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURLs[env]),
		sqoption.WithToken(accessToken),
		sqoption.WithHTTPClient(&http.Client{Timeout: timeout}),
	)

	a := &Adapter{
		sdk:           sdk,
		locationID:    locationID,
		webhookSecret: webhookSecret,
		environment:   env,
		logger:        logg,
		metrics:       m,
	}
	logg.Info(ctx, "square adapter initialized")
	return a, nil
}

func (a *Adapter) Provider() enums.PaymentProvider {
	return enums.PaymentProviderSquare
}

// CreateCheckout opens a hosted Square payment link for the pending payment.
func (a *Adapter) CreateCheckout(ctx context.Context, in gateways.CheckoutInput) (*gateways.CheckoutSession, error) {
	req := &sqcheckout.CreatePaymentLinkRequest{
		IdempotencyKey: ptrString(fmt.Sprintf("checkout-%s", in.PaymentID)),
		QuickPay: &sq.QuickPay{
			Name:       in.CourseTitle,
			LocationID: a.locationID,
			PriceMoney: moneyPtr(in.Amount.Shift(2).IntPart(), string(in.Currency)),
		},
	}
	if in.SuccessURL != "" {
		req.CheckoutOptions = &sq.CheckoutOptions{RedirectURL: ptrString(in.SuccessURL)}
	}
	if in.CustomerEmail != "" {
		req.PrePopulatedData = &sq.PrePopulatedData{BuyerEmail: ptrString(in.CustomerEmail)}
	}

	start := time.Now()
	resp, err := a.sdk.Checkout.PaymentLinks.Create(ctx, req)
	a.metrics.ObserveGatewayCall(string(a.Provider()), "create_checkout", time.Since(start))
	if err != nil {
		return nil, a.mapSquareError(err, "create payment link")
	}

	link := resp.GetPaymentLink()
	if link == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "square returned no payment link")
	}
	session := &gateways.CheckoutSession{
		TransactionID: stringValue(link.OrderID),
		RedirectURL:   stringValue(link.URL),
		Raw: map[string]any{
			"payment_link_id": stringValue(link.ID),
			"order_id":        stringValue(link.OrderID),
		},
	}
	ctx = a.logger.WithFields(ctx, map[string]any{"order_id": session.TransactionID})
	a.logger.Info(ctx, "square checkout created")
	return session, nil
}

type webhookEnvelope struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Data    struct {
		ID     string `json:"id"`
		Object struct {
			Payment struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Status  string `json:"status"`
			} `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}

// VerifyEvent authenticates a Square notification and normalizes the
// payment outcome. Non-terminal payment states verify cleanly but yield
// a nil event.
func (a *Adapter) VerifyEvent(_ context.Context, header http.Header, body []byte) (*gateways.Event, error) {
	sig := header.Get(signatureHeader)
	if sig == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "square signature missing")
	}
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid square signature")
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode square event")
	}
	if !strings.HasPrefix(envelope.Type, "payment.") {
		return nil, nil
	}

	payment := envelope.Data.Object.Payment
	transactionID := payment.OrderID
	if transactionID == "" {
		transactionID = payment.ID
	}
	switch strings.ToUpper(payment.Status) {
	case "COMPLETED":
		return a.event(envelope.EventID, transactionID, true, payment.Status), nil
	case "FAILED", "CANCELED":
		return a.event(envelope.EventID, transactionID, false, payment.Status), nil
	default:
		return nil, nil
	}
}

func (a *Adapter) event(eventID, transactionID string, success bool, status string) *gateways.Event {
	return &gateways.Event{
		EventID:       eventID,
		TransactionID: transactionID,
		Success:       success,
		Raw:           map[string]any{"status": status},
	}
}

// Refund returns money on a captured Square payment.
func (a *Adapter) Refund(ctx context.Context, in gateways.RefundInput) (*gateways.RefundResult, error) {
	req := &sq.RefundPaymentRequest{
		IdempotencyKey: fmt.Sprintf("refund-%s-%s", in.TransactionID, uuid.NewString()),
		PaymentID:      ptrString(in.TransactionID),
		AmountMoney:    moneyPtr(in.Amount.Shift(2).IntPart(), string(in.Currency)),
	}
	if in.Reason != "" {
		req.Reason = ptrString(in.Reason)
	}

	start := time.Now()
	resp, err := a.sdk.Refunds.RefundPayment(ctx, req)
	a.metrics.ObserveGatewayCall(string(a.Provider()), "refund", time.Since(start))
	if err != nil {
		return nil, a.mapSquareError(err, "refund payment")
	}

	refund := resp.GetRefund()
	if refund == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "square returned no refund")
	}
	result := &gateways.RefundResult{
		RefundID: refund.GetID(),
		Raw:      map[string]any{"status": stringValue(refund.Status)},
	}
	ctx = a.logger.WithFields(ctx, map[string]any{"refund_id": result.RefundID})
	a.logger.Info(ctx, "square refund issued")
	return result, nil
}

func (a *Adapter) mapSquareError(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *sqcore.APIError
	if errors.As(err, &apiErr) {
		code := domainCodeForStatus(apiErr.StatusCode)
		return pkgerrors.Wrap(code, err, fmt.Sprintf("square %s failed", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("square %s failed", op))
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return pkgerrors.CodeUnauthorized
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeGateway
	}
}

func ptrString(s string) *string {
	return &s
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func moneyPtr(amount int64, currency string) *sq.Money {
	c := sq.Currency(strings.ToUpper(strings.TrimSpace(currency)))
	return &sq.Money{
		Amount:   &amount,
		Currency: &c,
	}
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = sandboxEnv
	}
	switch env {
	case sandboxEnv, productionEnv:
		return env, nil
	default:
		return "", errInvalidSquareEnv
	}
}
