package enums

import "fmt"

// AuditEventType labels the append-only transaction log entries.
type AuditEventType string

const (
	AuditEventCheckoutCreated  AuditEventType = "checkout_created"
	AuditEventPaymentCompleted AuditEventType = "payment_completed"
	AuditEventPaymentFailed    AuditEventType = "payment_failed"
	AuditEventPaymentCancelled AuditEventType = "payment_cancelled"
	AuditEventPaymentRefunded  AuditEventType = "payment_refunded"
	AuditEventAnomalyDetected  AuditEventType = "anomaly_detected"
)

var validAuditEventTypes = []AuditEventType{
	AuditEventCheckoutCreated,
	AuditEventPaymentCompleted,
	AuditEventPaymentFailed,
	AuditEventPaymentCancelled,
	AuditEventPaymentRefunded,
	AuditEventAnomalyDetected,
}

// String implements fmt.Stringer.
func (a AuditEventType) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AuditEventType.
func (a AuditEventType) IsValid() bool {
	for _, candidate := range validAuditEventTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAuditEventType converts raw input into an AuditEventType.
func ParseAuditEventType(value string) (AuditEventType, error) {
	for _, candidate := range validAuditEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit event type %q", value)
}
