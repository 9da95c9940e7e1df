package refunds

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/shophub-settlement/api/controllers"
	"github.com/angelmondragon/shophub-settlement/api/responses"
	"github.com/angelmondragon/shophub-settlement/api/validators"
	internalrefunds "github.com/angelmondragon/shophub-settlement/internal/refunds"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/logger"
)

type requestBody struct {
	OrderID uuid.UUID        `json:"orderId" validate:"required"`
	Reason  string           `json:"reason" validate:"required,max=1000"`
	Amount  *decimal.Decimal `json:"amount" validate:"omitempty,dpos"`
}

// Request files a refund request against one of the caller's paid orders.
func Request(svc internalrefunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := controllers.Actor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body requestBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, body.OrderID.String())
		}
		refund, err := svc.Request(ctx, internalrefunds.RequestInput{
			OrderID: body.OrderID,
			UserID:  actor.UserID,
			Reason:  validators.SanitizeString(body.Reason, validators.MaxTextLength),
			Amount:  body.Amount,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, refund)
	}
}

func ListMine(svc internalrefunds.Service, logg *logger.Logger) http.HandlerFunc {
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

// AdminList filters by userId, orderId and status.
func AdminList(svc internalrefunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var filter internalrefunds.ListFilter
		if filter.UserID, err = validators.ParseUUIDQuery(r, "userId"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filter.OrderID, err = validators.ParseUUIDQuery(r, "orderId"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseRefundStatus(validators.NormalizeEnum(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			filter.Status = &status
		}

		page, err := svc.ListAll(r.Context(), filter, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}
