package coupons

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/shophub-settlement/pkg/db"
	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/money"
	"github.com/angelmondragon/shophub-settlement/pkg/types"
)

type productLookup interface {
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
}

// Service exposes coupon checks and management outside of order creation.
type Service interface {
	Apply(ctx context.Context, input ApplyInput) (*Result, error)
	Create(ctx context.Context, actor types.Actor, input CreateInput) (*models.Coupon, error)
	List(ctx context.Context) ([]models.Coupon, error)
}

// ItemRef is a cart entry as submitted by the client.
type ItemRef struct {
	ProductID uuid.UUID
	Quantity  int
}

type ApplyInput struct {
	Code  string
	Items []ItemRef
}

type CreateInput struct {
	Code            string
	DiscountPercent decimal.Decimal
	MinAmount       decimal.Decimal
	MaxUsage        int
	Scope           enums.CouponScope
	VendorID        *uuid.UUID
	ProductID       *uuid.UUID
	ValidFrom       time.Time
	ValidTill       time.Time
}

type service struct {
	repo     Repository
	products productLookup
	now      func() time.Time
}

func NewService(repo Repository, products productLookup) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("coupon repository required")
	}
	if products == nil {
		return nil, fmt.Errorf("product lookup required")
	}
	return &service{repo: repo, products: products, now: time.Now}, nil
}

// NormalizeCode is the canonical form codes are stored and looked up in.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *service) Apply(ctx context.Context, input ApplyInput) (*Result, error) {
	code := NormalizeCode(input.Code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code is required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	coupon, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon")
	}
	if !coupon.Active {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found")
	}

	lines, subtotal, err := s.price(ctx, input.Items)
	if err != nil {
		return nil, err
	}
	result := Evaluate(coupon, lines, subtotal, s.now().UTC())
	if err := result.Err(); err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *service) price(ctx context.Context, items []ItemRef) ([]CartLine, decimal.Decimal, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
		}
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.ListByIDs(ctx, ids)
	if err != nil {
		return nil, decimal.Zero, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	byID := make(map[uuid.UUID]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	lines := make([]CartLine, 0, len(items))
	subtotal := decimal.Zero
	for _, item := range items {
		product, ok := byID[item.ProductID]
		if !ok || !product.IsActive {
			return nil, decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "product not found").
				WithDetails(map[string]any{"productId": item.ProductID.String()}).
				WithReason(pkgerrors.ReasonProductNotFound)
		}
		lines = append(lines, CartLine{
			ProductID: product.ID,
			VendorID:  product.VendorID,
			Price:     product.Price,
			Quantity:  item.Quantity,
		})
		subtotal = subtotal.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return lines, subtotal, nil
}

func (s *service) Create(ctx context.Context, actor types.Actor, input CreateInput) (*models.Coupon, error) {
	code := NormalizeCode(input.Code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code is required")
	}
	if !input.DiscountPercent.IsPositive() || !money.ValidPercent(input.DiscountPercent) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount percent must be within (0, 100]")
	}
	if input.MinAmount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "minimum amount cannot be negative")
	}
	if input.MaxUsage == 0 {
		input.MaxUsage = 1
	}
	if input.MaxUsage < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "max usage must be at least 1")
	}
	if !input.ValidTill.After(input.ValidFrom) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "validTill must be after validFrom")
	}
	if !input.Scope.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid coupon scope")
	}

	switch actor.Role {
	case enums.RoleAdmin:
	case enums.RoleVendor:
		if actor.VendorID == nil {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "vendor profile required")
		}
		if input.Scope == enums.CouponScopeGlobal {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "vendors cannot create global coupons")
		}
		vendorID := *actor.VendorID
		input.VendorID = &vendorID
	default:
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins and vendors can create coupons")
	}

	switch input.Scope {
	case enums.CouponScopeGlobal:
		input.VendorID, input.ProductID = nil, nil
	case enums.CouponScopeVendor:
		if input.VendorID == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendorId is required for VENDOR scope")
		}
		input.ProductID = nil
	case enums.CouponScopeProduct:
		if input.ProductID == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "productId is required for PRODUCT scope")
		}
		if err := s.checkProductOwner(ctx, *input.ProductID, input.VendorID); err != nil {
			return nil, err
		}
	}

	creator := actor.UserID
	coupon := &models.Coupon{
		Code:            code,
		DiscountPercent: input.DiscountPercent,
		MinAmount:       money.Round(input.MinAmount),
		MaxUsage:        input.MaxUsage,
		Scope:           input.Scope,
		VendorID:        input.VendorID,
		ProductID:       input.ProductID,
		ValidFrom:       input.ValidFrom.UTC(),
		ValidTill:       input.ValidTill.UTC(),
		Active:          true,
		CreatedBy:       &creator,
	}
	created, err := s.repo.Create(ctx, coupon)
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "coupon code already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create coupon")
	}
	return created, nil
}

// checkProductOwner ensures a PRODUCT coupon points at a real product and, when
// a vendor is set, one that vendor sells.
func (s *service) checkProductOwner(ctx context.Context, productID uuid.UUID, vendorID *uuid.UUID) error {
	products, err := s.products.ListByIDs(ctx, []uuid.UUID{productID})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
	}
	if len(products) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "product not found").WithReason(pkgerrors.ReasonProductNotFound)
	}
	if vendorID != nil && products[0].VendorID != *vendorID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "product belongs to another vendor")
	}
	return nil
}

func (s *service) List(ctx context.Context) ([]models.Coupon, error) {
	coupons, err := s.repo.ListValid(ctx, s.now().UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list coupons")
	}
	return coupons, nil
}
