package enums

import "fmt"

// CouponScope limits which cart lines a coupon applies to.
type CouponScope string

const (
	CouponScopeGlobal  CouponScope = "GLOBAL"
	CouponScopeVendor  CouponScope = "VENDOR"
	CouponScopeProduct CouponScope = "PRODUCT"
)

var validCouponScopes = []CouponScope{
	CouponScopeGlobal,
	CouponScopeVendor,
	CouponScopeProduct,
}

// String implements fmt.Stringer.
func (c CouponScope) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CouponScope.
func (c CouponScope) IsValid() bool {
	for _, candidate := range validCouponScopes {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseCouponScope converts raw input into a CouponScope.
func ParseCouponScope(value string) (CouponScope, error) {
	for _, candidate := range validCouponScopes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid coupon scope %q", value)
}
