package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics records payment lifecycle counters and gateway call latency.
type PaymentMetrics struct {
	checkoutStarted  *prometheus.CounterVec
	webhookProcessed *prometheus.CounterVec
	webhookDuplicate *prometheus.CounterVec
	webhookRejected  *prometheus.CounterVec
	refundIssued     *prometheus.CounterVec
	gatewayDuration  *prometheus.HistogramVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_started_total",
		Help: "Checkout sessions successfully opened at a provider.",
	}, []string{"provider"})
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_processed_total",
		Help: "Webhook deliveries that drove a payment transition.",
	}, []string{"provider", "status"})
	duplicate := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_duplicate_total",
		Help: "Webhook deliveries resolved as idempotent no-ops.",
	}, []string{"provider"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_rejected_total",
		Help: "Webhook deliveries rejected before mutating state.",
	}, []string{"provider", "reason"})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "refund_issued_total",
		Help: "Refunds successfully issued at the provider.",
	}, []string{"provider"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_call_duration_seconds",
		Help:    "Duration of outbound gateway calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})
	reg.MustRegister(checkouts, processed, duplicate, rejected, refunds, duration)
	return &PaymentMetrics{
		checkoutStarted:  checkouts,
		webhookProcessed: processed,
		webhookDuplicate: duplicate,
		webhookRejected:  rejected,
		refundIssued:     refunds,
		gatewayDuration:  duration,
	}
}

// IncCheckoutStarted counts a checkout session opened at a provider.
func (m *PaymentMetrics) IncCheckoutStarted(provider string) {
	if m == nil || m.checkoutStarted == nil {
		return
	}
	m.checkoutStarted.WithLabelValues(normalizeLabel(provider)).Inc()
}

// IncWebhookProcessed counts a delivery that moved a payment to status.
func (m *PaymentMetrics) IncWebhookProcessed(provider, status string) {
	if m == nil || m.webhookProcessed == nil {
		return
	}
	m.webhookProcessed.WithLabelValues(normalizeLabel(provider), normalizeLabel(status)).Inc()
}

// IncWebhookDuplicate counts a same-target replay resolved as a no-op.
func (m *PaymentMetrics) IncWebhookDuplicate(provider string) {
	if m == nil || m.webhookDuplicate == nil {
		return
	}
	m.webhookDuplicate.WithLabelValues(normalizeLabel(provider)).Inc()
}

// IncWebhookRejected counts a delivery refused before any state change.
func (m *PaymentMetrics) IncWebhookRejected(provider, reason string) {
	if m == nil || m.webhookRejected == nil {
		return
	}
	m.webhookRejected.WithLabelValues(normalizeLabel(provider), normalizeLabel(reason)).Inc()
}

// IncRefundIssued counts a provider-confirmed refund.
func (m *PaymentMetrics) IncRefundIssued(provider string) {
	if m == nil || m.refundIssued == nil {
		return
	}
	m.refundIssued.WithLabelValues(normalizeLabel(provider)).Inc()
}

// ObserveGatewayCall records the duration of one outbound provider call.
func (m *PaymentMetrics) ObserveGatewayCall(provider, operation string, d time.Duration) {
	if m == nil || m.gatewayDuration == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation)).Observe(d.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
