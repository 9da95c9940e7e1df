package coupons

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/shophub-settlement/api/controllers"
	"github.com/angelmondragon/shophub-settlement/api/responses"
	"github.com/angelmondragon/shophub-settlement/api/validators"
	internalcoupons "github.com/angelmondragon/shophub-settlement/internal/coupons"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/logger"
)

type applyItem struct {
	ProductID uuid.UUID `json:"productId" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
}

type applyRequest struct {
	Items []applyItem `json:"items" validate:"required,min=1,dive"`
}

type createRequest struct {
	Code            string          `json:"code" validate:"required,max=64"`
	DiscountPercent decimal.Decimal `json:"discountPercent" validate:"dpos,percent"`
	MinAmount       decimal.Decimal `json:"minAmount" validate:"dnonneg"`
	MaxUsage        int             `json:"maxUsage" validate:"omitempty,min=1"`
	Scope           string          `json:"scope"`
	VendorID        *uuid.UUID      `json:"vendorId"`
	ProductID       *uuid.UUID      `json:"productId"`
	ValidFrom       time.Time       `json:"validFrom" validate:"required"`
	ValidTill       time.Time       `json:"validTill" validate:"required"`
}

// Apply checks a coupon against a cart and returns the discount it would give.
func Apply(svc internalcoupons.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.TrimSpace(chi.URLParam(r, "code"))
		if code == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "coupon code is required"))
			return
		}

		var req applyRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]internalcoupons.ItemRef, 0, len(req.Items))
		for _, item := range req.Items {
			items = append(items, internalcoupons.ItemRef{ProductID: item.ProductID, Quantity: item.Quantity})
		}

		result, err := svc.Apply(r.Context(), internalcoupons.ApplyInput{Code: code, Items: items})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// List returns the coupons that are active right now.
func List(svc internalcoupons.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.List(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Create registers a coupon. defaultScope applies when the body omits one;
// the service decides which scopes the caller may use.
func Create(svc internalcoupons.Service, defaultScope enums.CouponScope, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := controllers.Actor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		scope := defaultScope
		if raw := strings.TrimSpace(req.Scope); raw != "" {
			scope, err = enums.ParseCouponScope(validators.NormalizeEnum(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid coupon scope"))
				return
			}
		}

		coupon, err := svc.Create(r.Context(), actor, internalcoupons.CreateInput{
			Code:            req.Code,
			DiscountPercent: req.DiscountPercent,
			MinAmount:       req.MinAmount,
			MaxUsage:        req.MaxUsage,
			Scope:           scope,
			VendorID:        req.VendorID,
			ProductID:       req.ProductID,
			ValidFrom:       req.ValidFrom,
			ValidTill:       req.ValidTill,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, coupon)
	}
}
