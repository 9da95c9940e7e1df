package enums

import "fmt"

// PaymentAttemptStatus tracks a single gateway session.
type PaymentAttemptStatus string

const (
	AttemptStatusInitiated PaymentAttemptStatus = "INITIATED"
	AttemptStatusSucceeded PaymentAttemptStatus = "SUCCEEDED"
	AttemptStatusFailed    PaymentAttemptStatus = "FAILED"
	AttemptStatusCancelled PaymentAttemptStatus = "CANCELLED"
)

var validPaymentAttemptStatuss = []PaymentAttemptStatus{
	AttemptStatusInitiated,
	AttemptStatusSucceeded,
	AttemptStatusFailed,
	AttemptStatusCancelled,
}

// IsValid reports whether the value is a known PaymentAttemptStatus.
func (p PaymentAttemptStatus) IsValid() bool {
	for _, candidate := range validPaymentAttemptStatuss {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentAttemptStatus converts raw input into a PaymentAttemptStatus.
func ParsePaymentAttemptStatus(value string) (PaymentAttemptStatus, error) {
	for _, candidate := range validPaymentAttemptStatuss {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment attempt status %q", value)
}
