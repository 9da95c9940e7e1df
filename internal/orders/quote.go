package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/shophub-settlement/internal/coupons"
	"github.com/angelmondragon/shophub-settlement/internal/products"
	"github.com/angelmondragon/shophub-settlement/pkg/db"
	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/money"
)

// CartItem is one requested product and quantity.
type CartItem struct {
	ProductID uuid.UUID `json:"productId" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
}

// QuoteLine is a priced snapshot of one merged cart line.
type QuoteLine struct {
	ProductID uuid.UUID       `json:"productId"`
	VendorID  uuid.UUID       `json:"vendorId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

// Quote is the priced cart shared by preview and order creation.
type Quote struct {
	Items           []QuoteLine      `json:"items"`
	Subtotal        decimal.Decimal  `json:"subtotal"`
	ShippingCost    decimal.Decimal  `json:"shippingCost"`
	DiscountAmount  decimal.Decimal  `json:"discountAmount"`
	TotalAmount     decimal.Decimal  `json:"totalAmount"`
	CouponCode      *string          `json:"couponCode,omitempty"`
	CouponRejection pkgerrors.Reason `json:"couponRejection,omitempty"`

	coupon *models.Coupon
}

// Pricing holds the shipping rule.
type Pricing struct {
	FreeShippingThreshold decimal.Decimal
	FlatShippingFee       decimal.Decimal
}

// Shipping is free strictly above the threshold.
func (p Pricing) Shipping(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThan(p.FreeShippingThreshold) {
		return decimal.Zero
	}
	return p.FlatShippingFee
}

// mergeItems sums quantities of repeated products, keeping first-appearance order.
func mergeItems(items []CartItem) ([]CartItem, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	merged := make([]CartItem, 0, len(items))
	index := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "productId is required")
		}
		if item.Quantity < 1 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
		}
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}

// buildQuote prices the cart against the current catalog. It only reads.
func buildQuote(ctx context.Context, productRepo products.Repository, couponRepo coupons.Repository, pricing Pricing, items []CartItem, couponCode string, now time.Time) (*Quote, error) {
	merged, err := mergeItems(items)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(merged))
	for _, item := range merged {
		ids = append(ids, item.ProductID)
	}
	rows, err := productRepo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	byID := make(map[uuid.UUID]models.Product, len(rows))
	for _, p := range rows {
		byID[p.ID] = p
	}

	quote := &Quote{Items: make([]QuoteLine, 0, len(merged)), Subtotal: decimal.Zero, DiscountAmount: decimal.Zero}
	lines := make([]coupons.CartLine, 0, len(merged))
	for _, item := range merged {
		product, ok := byID[item.ProductID]
		if !ok || !product.IsActive {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product not found").
				WithDetails(map[string]any{"productId": item.ProductID.String()}).
				WithReason(pkgerrors.ReasonProductNotFound)
		}
		if product.Stock < item.Quantity {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "insufficient stock").
				WithDetails(map[string]any{
					"productId": product.ID.String(),
					"available": product.Stock,
					"requested": item.Quantity,
				}).
				WithReason(pkgerrors.ReasonInsufficientStock)
		}
		lineTotal := product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		quote.Items = append(quote.Items, QuoteLine{
			ProductID: product.ID,
			VendorID:  product.VendorID,
			Name:      product.Name,
			Price:     product.Price,
			Quantity:  item.Quantity,
			LineTotal: lineTotal,
		})
		lines = append(lines, coupons.CartLine{
			ProductID: product.ID,
			VendorID:  product.VendorID,
			Price:     product.Price,
			Quantity:  item.Quantity,
		})
		quote.Subtotal = quote.Subtotal.Add(lineTotal)
	}
	quote.Subtotal = money.Round(quote.Subtotal)

	if code := coupons.NormalizeCode(couponCode); code != "" {
		if err := applyCoupon(ctx, couponRepo, quote, lines, code, now); err != nil {
			return nil, err
		}
	}

	quote.ShippingCost = pricing.Shipping(quote.Subtotal)
	quote.TotalAmount = quote.Subtotal.Add(quote.ShippingCost).Sub(quote.DiscountAmount)
	return quote, nil
}

// applyCoupon records the discount or the rejection reason. A rejected coupon
// never fails the quote.
func applyCoupon(ctx context.Context, couponRepo coupons.Repository, quote *Quote, lines []coupons.CartLine, code string, now time.Time) error {
	coupon, err := couponRepo.GetByCode(ctx, code)
	if err != nil {
		if db.IsNotFound(err) {
			quote.CouponRejection = pkgerrors.ReasonCouponNotFound
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon")
	}
	result := coupons.Evaluate(coupon, lines, quote.Subtotal, now)
	if !result.Valid {
		quote.CouponRejection = result.Reason
		return nil
	}
	quote.coupon = coupon
	quote.CouponCode = &coupon.Code
	quote.DiscountAmount = result.DiscountAmount
	return nil
}

// dropCoupon removes a coupon that lost the race for its last usage slot.
func (q *Quote) dropCoupon() {
	q.coupon = nil
	q.CouponCode = nil
	q.CouponRejection = pkgerrors.ReasonCouponUsageExceeded
	q.DiscountAmount = decimal.Zero
	q.TotalAmount = q.Subtotal.Add(q.ShippingCost)
}
