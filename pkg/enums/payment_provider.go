package enums

import "fmt"

// PaymentProvider identifies the external gateway that owns a payment.
type PaymentProvider string

const (
	PaymentProviderSquare PaymentProvider = "square"
	PaymentProviderPayPal PaymentProvider = "paypal"
	PaymentProviderPaymob PaymentProvider = "paymob"
	PaymentProviderFawry  PaymentProvider = "fawry"
)

var validPaymentProviders = []PaymentProvider{
	PaymentProviderSquare,
	PaymentProviderPayPal,
	PaymentProviderPaymob,
	PaymentProviderFawry,
}

// String implements fmt.Stringer.
func (p PaymentProvider) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentProvider.
func (p PaymentProvider) IsValid() bool {
	for _, candidate := range validPaymentProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentProvider converts raw input into a PaymentProvider.
func ParsePaymentProvider(value string) (PaymentProvider, error) {
	for _, candidate := range validPaymentProviders {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment provider %q", value)
}

// PaymentProviders returns every supported provider tag.
func PaymentProviders() []PaymentProvider {
	out := make([]PaymentProvider, len(validPaymentProviders))
	copy(out, validPaymentProviders)
	return out
}
