package disputes

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/shophub-settlement/api/controllers"
	"github.com/angelmondragon/shophub-settlement/api/responses"
	"github.com/angelmondragon/shophub-settlement/api/validators"
	internaldisputes "github.com/angelmondragon/shophub-settlement/internal/disputes"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/logger"
)

type createRequest struct {
	OrderID uuid.UUID `json:"orderId" validate:"required"`
	Reason  string    `json:"reason" validate:"required,max=2000"`
}

type resolveRequest struct {
	Status       string          `json:"status" validate:"required"`
	RefundAmount decimal.Decimal `json:"refundAmount" validate:"dnonneg"`
	AdminNote    *string         `json:"adminNote" validate:"omitempty,max=2000"`
}

// Create opens a dispute on one of the caller's paid orders.
func Create(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
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

		dispute, err := svc.Create(r.Context(), internaldisputes.CreateInput{
			OrderID: req.OrderID,
			UserID:  actor.UserID,
			Reason:  validators.SanitizeString(req.Reason, validators.MaxTextLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dispute)
	}
}

// AdminList filters by status, userId or customer email.
func AdminList(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filter := internaldisputes.Filter{Email: strings.TrimSpace(r.URL.Query().Get("email"))}
		if filter.UserID, err = validators.ParseUUIDQuery(r, "userId"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseDisputeStatus(validators.NormalizeEnum(raw))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			filter.Status = &status
		}

		page, err := svc.List(r.Context(), filter, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func Get(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := controllers.Actor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dispute, err := svc.Get(r.Context(), actor, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dispute)
	}
}

// AdminResolve records the admin decision. A RESOLVED decision with a
// positive refundAmount refunds the order and reverses vendor commission.
func AdminResolve(svc internaldisputes.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := controllers.Actor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := validators.ParseUUIDParam(r, "disputeId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req resolveRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		decision, err := enums.ParseDisputeStatus(validators.NormalizeEnum(req.Status))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithField(ctx, "dispute_id", id.String())
		}
		result, err := svc.Resolve(ctx, internaldisputes.ResolveInput{
			DisputeID:    id,
			Decision:     decision,
			RefundAmount: req.RefundAmount,
			AdminNote:    req.AdminNote,
			AdminID:      actor.UserID,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
