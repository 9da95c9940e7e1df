package coupons

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/money"
)

// CartLine is the priced view of one cart entry the evaluator needs for scope checks.
type CartLine struct {
	ProductID uuid.UUID
	VendorID  uuid.UUID
	Price     decimal.Decimal
	Quantity  int
}

// Result is the outcome of evaluating a coupon against a cart.
type Result struct {
	Valid          bool             `json:"valid"`
	DiscountAmount decimal.Decimal  `json:"discountAmount"`
	Reason         pkgerrors.Reason `json:"reason,omitempty"`
}

// Err converts a rejection into a validation error carrying the reason.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "coupon cannot be applied").WithReason(r.Reason)
}

func reject(reason pkgerrors.Reason) Result {
	return Result{Reason: reason, DiscountAmount: decimal.Zero}
}

// Evaluate decides whether coupon applies to the cart at now. It never touches
// usage counters; callers consume the coupon separately.
func Evaluate(coupon *models.Coupon, lines []CartLine, subtotal decimal.Decimal, now time.Time) Result {
	if coupon == nil {
		return reject(pkgerrors.ReasonCouponExpired)
	}
	if !coupon.Active || now.Before(coupon.ValidFrom) || now.After(coupon.ValidTill) {
		return reject(pkgerrors.ReasonCouponExpired)
	}
	if coupon.UsedCount >= coupon.MaxUsage {
		return reject(pkgerrors.ReasonCouponUsageExceeded)
	}
	if subtotal.LessThan(coupon.MinAmount) {
		return reject(pkgerrors.ReasonCouponBelowMinimum)
	}
	if !inScope(coupon, lines) {
		return reject(pkgerrors.ReasonCouponScopeMismatch)
	}
	return Result{Valid: true, DiscountAmount: money.Percent(subtotal, coupon.DiscountPercent)}
}

func inScope(coupon *models.Coupon, lines []CartLine) bool {
	switch coupon.Scope {
	case enums.CouponScopeGlobal:
		return true
	case enums.CouponScopeProduct:
		if coupon.ProductID == nil {
			return false
		}
		for _, line := range lines {
			if line.ProductID == *coupon.ProductID {
				return true
			}
		}
	case enums.CouponScopeVendor:
		if coupon.VendorID == nil {
			return false
		}
		for _, line := range lines {
			if line.VendorID == *coupon.VendorID {
				return true
			}
		}
	}
	return false
}
