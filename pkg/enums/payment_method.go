package enums

import "fmt"

// PaymentMethod is how the customer settles an order.
type PaymentMethod string

const (
	PaymentMethodSSL   PaymentMethod = "SSL"
	PaymentMethodBKash PaymentMethod = "BKASH"
	PaymentMethodNagad PaymentMethod = "NAGAD"
	PaymentMethodCOD   PaymentMethod = "COD"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodSSL,
	PaymentMethodBKash,
	PaymentMethodNagad,
	PaymentMethodCOD,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}

// IsGateway reports whether the method settles through an online gateway.
func (p PaymentMethod) IsGateway() bool {
	return p.IsValid() && p != PaymentMethodCOD
}
