package coupons

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
)

var evalNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func baseCoupon() *models.Coupon {
	return &models.Coupon{
		Code:            "SAVE10",
		DiscountPercent: decimal.NewFromInt(10),
		MinAmount:       decimal.NewFromInt(500),
		MaxUsage:        5,
		UsedCount:       0,
		Scope:           enums.CouponScopeGlobal,
		ValidFrom:       evalNow.Add(-24 * time.Hour),
		ValidTill:       evalNow.Add(24 * time.Hour),
		Active:          true,
	}
}

func TestEvaluate(t *testing.T) {
	productID := uuid.New()
	vendorID := uuid.New()
	lines := []CartLine{{ProductID: productID, VendorID: vendorID, Price: decimal.NewFromInt(1000), Quantity: 1}}
	subtotal := decimal.NewFromInt(1000)
	otherID := uuid.New()

	cases := []struct {
		name     string
		mutate   func(c *models.Coupon)
		subtotal decimal.Decimal
		reason   pkgerrors.Reason
		discount decimal.Decimal
	}{
		{name: "global applies", subtotal: subtotal, discount: decimal.NewFromInt(100)},
		{name: "not yet valid", mutate: func(c *models.Coupon) { c.ValidFrom = evalNow.Add(time.Hour) }, subtotal: subtotal, reason: pkgerrors.ReasonCouponExpired},
		{name: "past validity", mutate: func(c *models.Coupon) { c.ValidTill = evalNow.Add(-time.Hour) }, subtotal: subtotal, reason: pkgerrors.ReasonCouponExpired},
		{name: "inactive", mutate: func(c *models.Coupon) { c.Active = false }, subtotal: subtotal, reason: pkgerrors.ReasonCouponExpired},
		{name: "usage exhausted", mutate: func(c *models.Coupon) { c.UsedCount = 5 }, subtotal: subtotal, reason: pkgerrors.ReasonCouponUsageExceeded},
		{name: "below minimum", subtotal: decimal.NewFromInt(499), reason: pkgerrors.ReasonCouponBelowMinimum},
		{name: "exactly minimum", subtotal: decimal.NewFromInt(500), discount: decimal.NewFromInt(50)},
		{name: "product scope match", mutate: func(c *models.Coupon) { c.Scope = enums.CouponScopeProduct; c.ProductID = &productID }, subtotal: subtotal, discount: decimal.NewFromInt(100)},
		{name: "product scope mismatch", mutate: func(c *models.Coupon) { c.Scope = enums.CouponScopeProduct; c.ProductID = &otherID }, subtotal: subtotal, reason: pkgerrors.ReasonCouponScopeMismatch},
		{name: "vendor scope match", mutate: func(c *models.Coupon) { c.Scope = enums.CouponScopeVendor; c.VendorID = &vendorID }, subtotal: subtotal, discount: decimal.NewFromInt(100)},
		{name: "vendor scope mismatch", mutate: func(c *models.Coupon) { c.Scope = enums.CouponScopeVendor; c.VendorID = &otherID }, subtotal: subtotal, reason: pkgerrors.ReasonCouponScopeMismatch},
		{name: "expiry checked before usage", mutate: func(c *models.Coupon) { c.UsedCount = 5; c.ValidTill = evalNow.Add(-time.Hour) }, subtotal: subtotal, reason: pkgerrors.ReasonCouponExpired},
		{name: "rounds to two places", mutate: func(c *models.Coupon) { c.DiscountPercent = decimal.NewFromFloat(12.5); c.MinAmount = decimal.Zero }, subtotal: decimal.RequireFromString("99.99"), discount: decimal.RequireFromString("12.50")},
		{name: "no cap above subtotal", mutate: func(c *models.Coupon) { c.DiscountPercent = decimal.NewFromInt(150) }, subtotal: subtotal, discount: decimal.NewFromInt(1500)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			coupon := baseCoupon()
			if tc.mutate != nil {
				tc.mutate(coupon)
			}
			result := Evaluate(coupon, lines, tc.subtotal, evalNow)
			if tc.reason != "" {
				if result.Valid || result.Reason != tc.reason {
					t.Fatalf("expected rejection %s, got %+v", tc.reason, result)
				}
				if pkgerrors.ReasonOf(result.Err()) != tc.reason {
					t.Fatalf("expected error reason %s", tc.reason)
				}
				return
			}
			if !result.Valid {
				t.Fatalf("expected valid coupon, got %s", result.Reason)
			}
			if !result.DiscountAmount.Equal(tc.discount) {
				t.Fatalf("expected discount %s, got %s", tc.discount, result.DiscountAmount)
			}
			if result.Err() != nil {
				t.Fatalf("valid result should not error")
			}
		})
	}
}

func TestEvaluateNilCoupon(t *testing.T) {
	if Evaluate(nil, nil, decimal.NewFromInt(10), evalNow).Valid {
		t.Fatal("nil coupon must not be valid")
	}
}
