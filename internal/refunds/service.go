package refunds

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/internal/orders"
	"github.com/angelmondragon/shophub-settlement/pkg/db"
	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/logger"
	"github.com/angelmondragon/shophub-settlement/pkg/money"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/shophub-settlement/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service records customer refund requests. It never moves money or stock;
// settlement happens through dispute resolution.
type Service interface {
	Request(ctx context.Context, input RequestInput) (*models.Refund, error)
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.Refund], error)
	ListAll(ctx context.Context, filter ListFilter, params pagination.Params) (pagination.Page[models.Refund], error)
}

// RequestInput asks for Amount back, or the order total when Amount is nil.
type RequestInput struct {
	OrderID uuid.UUID
	UserID  uuid.UUID
	Reason  string
	Amount  *decimal.Decimal
}

type ServiceParams struct {
	Repo   Repository
	Orders orders.Repository
	Tx     txRunner
	Outbox outbox.Emitter
	Logger *logger.Logger
}

type service struct {
	repo   Repository
	orders orders.Repository
	tx     txRunner
	outbox outbox.Emitter
	logg   *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("refund repository required")
	case params.Orders == nil:
		return nil, fmt.Errorf("order repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		repo:   params.Repo,
		orders: params.Orders,
		tx:     params.Tx,
		outbox: params.Outbox,
		logg:   params.Logger,
	}, nil
}

func (s *service) Request(ctx context.Context, input RequestInput) (*models.Refund, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}

	var refund *models.Refund
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := s.orders.WithTx(tx)
		order, err := orderRepo.GetByIDForUpdate(ctx, input.OrderID)
		if err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.UserID != input.UserID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if order.PaymentStatus != enums.PaymentStatusPaid {
			return pkgerrors.New(pkgerrors.CodeValidation, "only paid orders can be refunded").
				WithDetails(map[string]any{"paymentStatus": order.PaymentStatus}).
				WithReason(pkgerrors.ReasonInvalidTransition)
		}

		amount := order.TotalAmount
		if input.Amount != nil {
			amount = money.Round(*input.Amount)
		}
		if !amount.IsPositive() || amount.GreaterThan(order.TotalAmount) {
			return pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive and at most the order total").
				WithDetails(map[string]any{"max": order.TotalAmount.StringFixed(2)})
		}

		refund = &models.Refund{
			OrderID:  order.ID,
			UserID:   order.UserID,
			VendorID: order.PrimaryVendorID(),
			Amount:   amount,
			Reason:   reason,
			Status:   enums.RefundStatusPending,
		}
		if err := s.repo.WithTx(tx).Create(ctx, refund); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund")
		}

		pending := enums.PaymentStatusRefundPending
		applied, err := orderRepo.Transition(ctx, order.ID, orders.Transition{
			FromPayment: []enums.PaymentStatus{enums.PaymentStatusPaid},
			ToPayment:   &pending,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark refund pending")
		}
		if !applied {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed while requesting refund")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundRequested,
			AggregateType: enums.AggregateRefund,
			AggregateID:   refund.ID,
			Actor:         &outbox.ActorRef{UserID: input.UserID, Role: string(enums.RoleCustomer)},
			Data: payloads.RefundRequestedEvent{
				RefundID: refund.ID,
				OrderID:  refund.OrderID,
				UserID:   refund.UserID,
				VendorID: refund.VendorID,
				Amount:   refund.Amount,
				Reason:   refund.Reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, refund.OrderID.String())
		s.logg.Info(s.logg.WithField(logCtx, "refund_id", refund.ID.String()), "refund requested")
	}
	return refund, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.Refund], error) {
	return s.list(ctx, ListFilter{UserID: &userID}, params)
}

func (s *service) ListAll(ctx context.Context, filter ListFilter, params pagination.Params) (pagination.Page[models.Refund], error) {
	if filter.Status != nil && !filter.Status.IsValid() {
		return pagination.Page[models.Refund]{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid refund status")
	}
	return s.list(ctx, filter, params)
}

func (s *service) list(ctx context.Context, filter ListFilter, params pagination.Params) (pagination.Page[models.Refund], error) {
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[models.Refund]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, filter, params)
	if err != nil {
		return pagination.Page[models.Refund]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refunds")
	}
	return pagination.BuildPage(rows, params.Limit, func(r models.Refund) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	}), nil
}
