package orders

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/shophub-settlement/api/controllers"
	"github.com/angelmondragon/shophub-settlement/api/responses"
	"github.com/angelmondragon/shophub-settlement/api/validators"
	internalorders "github.com/angelmondragon/shophub-settlement/internal/orders"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/logger"
	"github.com/angelmondragon/shophub-settlement/pkg/types"
)

type previewRequest struct {
	Items      []internalorders.CartItem `json:"items" validate:"required,min=1,dive"`
	CouponCode string                    `json:"couponCode" validate:"omitempty,max=64"`
}

type createRequest struct {
	Items           []internalorders.CartItem `json:"items" validate:"required,min=1,dive"`
	PaymentMethod   string                    `json:"paymentMethod" validate:"required"`
	ShippingAddress types.ShippingAddress     `json:"shippingAddress"`
	CouponCode      string                    `json:"couponCode" validate:"omitempty,max=64"`
}

type patchRequest struct {
	OrderStatus   *string `json:"orderStatus"`
	PaymentStatus *string `json:"paymentStatus"`
}

// Preview prices a cart without persisting anything.
func Preview(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req previewRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		quote, err := svc.Preview(r.Context(), internalorders.PreviewInput{
			Items:      req.Items,
			CouponCode: strings.TrimSpace(req.CouponCode),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, quote)
	}
}

// Create places an order for the caller.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
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
		method, err := enums.ParsePaymentMethod(validators.NormalizeEnum(req.PaymentMethod))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		order, err := svc.Create(r.Context(), internalorders.CreateInput{
			UserID:          actor.UserID,
			Items:           req.Items,
			PaymentMethod:   method,
			ShippingAddress: req.ShippingAddress.Normalize(),
			CouponCode:      strings.TrimSpace(req.CouponCode),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}

// ListMine pages through the caller's orders, newest first.
func ListMine(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := controllers.Actor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListForUser(r.Context(), actor.UserID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// Get returns one order. Customers only see their own; admins see any.
func Get(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := controllers.Actor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

// Invoice streams the order invoice as a PDF attachment.
func Invoice(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := controllers.Actor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var buf bytes.Buffer
		if err := svc.Invoice(r.Context(), actor, orderID, &buf); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteFile(w, "application/pdf", invoiceFilename(orderID), buf.Bytes())
	}
}

// AdminList pages through all orders with optional status and user filters.
func AdminList(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter, err := parseListFilter(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListAll(r.Context(), filter, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// AdminPatch applies an explicit status override.
func AdminPatch(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := controllers.Actor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req patchRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		patch, err := req.toPatch()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		order, err := svc.AdminPatch(ctx, actor, orderID, patch)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, order)
	}
}

func (p patchRequest) toPatch() (internalorders.OrderPatch, error) {
	var patch internalorders.OrderPatch
	if p.OrderStatus != nil {
		status, err := enums.ParseOrderStatus(*p.OrderStatus)
		if err != nil {
			return patch, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order status")
		}
		patch.OrderStatus = &status
	}
	if p.PaymentStatus != nil {
		status, err := enums.ParsePaymentStatus(*p.PaymentStatus)
		if err != nil {
			return patch, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment status")
		}
		patch.PaymentStatus = &status
	}
	if patch.OrderStatus == nil && patch.PaymentStatus == nil {
		return patch, pkgerrors.New(pkgerrors.CodeValidation, "nothing to update")
	}
	return patch, nil
}

func parseListFilter(r *http.Request) (internalorders.ListFilter, error) {
	var filter internalorders.ListFilter

	userID, err := validators.ParseUUIDQuery(r, "userId")
	if err != nil {
		return filter, err
	}
	filter.UserID = userID

	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("paymentStatus")); raw != "" {
		status, err := enums.ParsePaymentStatus(validators.NormalizeEnum(raw))
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid paymentStatus")
		}
		filter.PaymentStatus = &status
	}
	if raw := strings.TrimSpace(query.Get("orderStatus")); raw != "" {
		status, err := enums.ParseOrderStatus(validators.NormalizeEnum(raw))
		if err != nil {
			return filter, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid orderStatus")
		}
		filter.OrderStatus = &status
	}
	return filter, nil
}

func invoiceFilename(orderID uuid.UUID) string {
	return fmt.Sprintf("invoice-%s.pdf", strings.ToUpper(orderID.String()[:8]))
}
