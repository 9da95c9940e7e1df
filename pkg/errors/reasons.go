package errors

// Reason is the machine-readable cause carried in details.reason.
type Reason string

const (
	ReasonProductNotFound     Reason = "PRODUCT_NOT_FOUND"
	ReasonInsufficientStock   Reason = "INSUFFICIENT_STOCK"
	ReasonCouponExpired       Reason = "EXPIRED"
	ReasonCouponUsageExceeded Reason = "USAGE_EXCEEDED"
	ReasonCouponBelowMinimum  Reason = "BELOW_MINIMUM"
	ReasonCouponScopeMismatch Reason = "SCOPE_MISMATCH"
	ReasonCouponNotFound      Reason = "COUPON_NOT_FOUND"
	ReasonInsufficientBalance Reason = "INSUFFICIENT_BALANCE"
	ReasonInvalidTransition   Reason = "INVALID_TRANSITION"
)

// ReasonOf returns the reason of the outermost typed error, or "".
func ReasonOf(err error) Reason {
	if typed := As(err); typed != nil {
		return typed.reason
	}
	return ""
}
