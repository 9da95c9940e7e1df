package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/internal/commission"
	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/shophub-settlement/pkg/types"
)

// PaidOutcome reports what the paid transition did.
type PaidOutcome string

const (
	PaidApplied   PaidOutcome = "applied"
	PaidDuplicate PaidOutcome = "duplicate"
	PaidIgnored   PaidOutcome = "ignored"
)

type PaidInput struct {
	Method    enums.PaymentMethod
	Reference string
	ActorID   *uuid.UUID
}

type PaidResult struct {
	Outcome PaidOutcome
	Order   *models.Order
	Shares  []commission.VendorShare
}

var orderTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPlaced:     {enums.OrderStatusProcessing, enums.OrderStatusCancelled},
	enums.OrderStatusProcessing: {enums.OrderStatusShipped, enums.OrderStatusCancelled},
	enums.OrderStatusShipped:    {enums.OrderStatusDelivered},
}

func orderTransitionAllowed(from, to enums.OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func invalidTransition(field string, from, to string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("cannot move %s from %s to %s", field, from, to)).
		WithDetails(map[string]any{"field": field, "from": from, "to": to}).
		WithReason(pkgerrors.ReasonInvalidTransition)
}

// MarkPaid moves a PLACED order from PENDING or FAILED to PAID/PROCESSING and
// distributes commission in tx. A replay on an already-paid order is a duplicate.
func (s *service) MarkPaid(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, input PaidInput) (*PaidResult, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	repo := s.repo.WithTx(tx)
	paidAt := s.now()
	payment := enums.PaymentStatusPaid
	processing := enums.OrderStatusProcessing
	applied, err := repo.Transition(ctx, orderID, Transition{
		FromPayment: []enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusFailed},
		FromOrder:   []enums.OrderStatus{enums.OrderStatusPlaced},
		ToPayment:   &payment,
		ToOrder:     &processing,
		PaidAt:      &paidAt,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
	}
	return s.afterPaidTransition(ctx, tx, orderID, applied, input)
}

func (s *service) afterPaidTransition(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, applied bool, input PaidInput) (*PaidResult, error) {
	order, err := s.repo.WithTx(tx).GetByID(ctx, orderID)
	if err != nil {
		return nil, notFoundOr(err, "load order")
	}
	if !applied {
		switch order.PaymentStatus {
		case enums.PaymentStatusPaid, enums.PaymentStatusRefundPending, enums.PaymentStatusRefunded:
			return &PaidResult{Outcome: PaidDuplicate, Order: order}, nil
		default:
			return &PaidResult{Outcome: PaidIgnored, Order: order}, nil
		}
	}

	shares, err := s.commission.Distribute(ctx, tx, order)
	if err != nil && !errors.Is(err, commission.ErrAlreadyDistributed) {
		return nil, err
	}

	method := input.Method
	if method == "" {
		method = order.PaymentMethod
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderPaidEvent{
			OrderID:       order.ID,
			PaymentMethod: method,
			Reference:     input.Reference,
			Amount:        order.TotalAmount,
			PaidAt:        *order.PaidAt,
		},
	}
	if input.ActorID != nil {
		event.Actor = &outbox.ActorRef{UserID: *input.ActorID, Role: string(enums.RoleAdmin)}
	}
	if err := s.outbox.Emit(ctx, tx, event); err != nil {
		return nil, err
	}
	return &PaidResult{Outcome: PaidApplied, Order: order, Shares: shares}, nil
}

// MarkFailed applies PENDING to FAILED. It never touches a paid order.
func (s *service) MarkFailed(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error) {
	failed := enums.PaymentStatusFailed
	applied, err := s.repo.WithTx(tx).Transition(ctx, orderID, Transition{
		FromPayment: []enums.PaymentStatus{enums.PaymentStatusPending},
		ToPayment:   &failed,
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order failed")
	}
	return applied, nil
}

// CancelUnpaid cancels a PLACED order that was never paid and puts its stock back.
func (s *service) CancelUnpaid(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, bool, error) {
	if tx == nil {
		return nil, false, fmt.Errorf("transaction required")
	}
	failed := enums.PaymentStatusFailed
	cancelled := enums.OrderStatusCancelled
	applied, err := s.repo.WithTx(tx).Transition(ctx, orderID, Transition{
		FromPayment: []enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusFailed},
		FromOrder:   []enums.OrderStatus{enums.OrderStatusPlaced},
		ToPayment:   &failed,
		ToOrder:     &cancelled,
	})
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
	}
	if !applied {
		return nil, false, nil
	}
	order, err := s.repo.WithTx(tx).GetByID(ctx, orderID)
	if err != nil {
		return nil, false, notFoundOr(err, "load order")
	}
	if err := s.restock(ctx, tx, order); err != nil {
		return nil, false, err
	}
	return order, true, nil
}

func (s *service) restock(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	productRepo := s.products.WithTx(tx)
	for _, item := range order.Items {
		if err := productRepo.Restock(ctx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) AdminPatch(ctx context.Context, actor types.Actor, orderID uuid.UUID, patch OrderPatch) (*models.Order, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	if patch.OrderStatus == nil && patch.PaymentStatus == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nothing to update")
	}
	if patch.OrderStatus != nil && !patch.OrderStatus.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}
	if patch.PaymentStatus != nil && !patch.PaymentStatus.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment status")
	}

	var (
		updated *models.Order
		paid    *PaidResult
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		before, err := repo.GetByIDForUpdate(ctx, orderID)
		if err != nil {
			return notFoundOr(err, "load order")
		}
		current := *before

		if to := patch.PaymentStatus; to != nil && *to != current.PaymentStatus {
			paid, err = s.patchPayment(ctx, tx, actor, &current, *to)
			if err != nil {
				return err
			}
		}

		if to := patch.OrderStatus; to != nil && *to != current.OrderStatus {
			if err := s.patchOrder(ctx, tx, actor, &current, *to); err != nil {
				return err
			}
		}

		updated, err = repo.GetByID(ctx, orderID)
		if err != nil {
			return notFoundOr(err, "reload order")
		}
		if updated.OrderStatus == before.OrderStatus && updated.PaymentStatus == before.PaymentStatus {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)},
			Data: payloads.OrderStatusChangedEvent{
				OrderID:           orderID,
				FromOrderStatus:   before.OrderStatus,
				ToOrderStatus:     updated.OrderStatus,
				FromPaymentStatus: before.PaymentStatus,
				ToPaymentStatus:   updated.PaymentStatus,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if paid != nil && paid.Outcome == PaidApplied {
		s.metrics.IncDistribution(len(paid.Shares))
	}
	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, orderID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"order_status":   updated.OrderStatus,
			"payment_status": updated.PaymentStatus,
			"admin_id":       actor.UserID.String(),
		})
		s.logg.Info(logCtx, "order updated by admin")
	}
	return updated, nil
}

// patchPayment applies one admin payment transition and refreshes current.
func (s *service) patchPayment(ctx context.Context, tx *gorm.DB, actor types.Actor, current *models.Order, to enums.PaymentStatus) (*PaidResult, error) {
	from := current.PaymentStatus
	repo := s.repo.WithTx(tx)
	switch {
	case from == enums.PaymentStatusPending && to == enums.PaymentStatusPaid:
		if current.OrderStatus == enums.OrderStatusCancelled {
			return nil, invalidTransition("paymentStatus", string(from), string(to))
		}
		// Collected payment (usually COD) keeps the fulfilment status unless
		// the order has not started processing yet.
		paidAt := s.now()
		t := Transition{
			FromPayment: []enums.PaymentStatus{enums.PaymentStatusPending},
			FromOrder:   []enums.OrderStatus{current.OrderStatus},
			ToPayment:   &to,
			PaidAt:      &paidAt,
		}
		if current.OrderStatus == enums.OrderStatusPlaced {
			processing := enums.OrderStatusProcessing
			t.ToOrder = &processing
		}
		applied, err := repo.Transition(ctx, current.ID, t)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order paid")
		}
		result, err := s.afterPaidTransition(ctx, tx, current.ID, applied, PaidInput{
			Method:  current.PaymentMethod,
			ActorID: &actor.UserID,
		})
		if err != nil {
			return nil, err
		}
		if result.Outcome != PaidApplied {
			return nil, invalidTransition("paymentStatus", string(from), string(to))
		}
		*current = *result.Order
		return result, nil

	case from == enums.PaymentStatusPending && to == enums.PaymentStatusFailed,
		from == enums.PaymentStatusRefundPending && to == enums.PaymentStatusPaid:
		applied, err := repo.Transition(ctx, current.ID, Transition{
			FromPayment: []enums.PaymentStatus{from},
			ToPayment:   &to,
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
		}
		if !applied {
			return nil, invalidTransition("paymentStatus", string(from), string(to))
		}
		current.PaymentStatus = to
		return nil, nil
	}
	return nil, invalidTransition("paymentStatus", string(from), string(to))
}

func (s *service) patchOrder(ctx context.Context, tx *gorm.DB, actor types.Actor, current *models.Order, to enums.OrderStatus) error {
	from := current.OrderStatus
	if !orderTransitionAllowed(from, to) {
		return invalidTransition("orderStatus", string(from), string(to))
	}
	applied, err := s.repo.WithTx(tx).Transition(ctx, current.ID, Transition{
		FromOrder: []enums.OrderStatus{from},
		ToOrder:   &to,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !applied {
		return invalidTransition("orderStatus", string(from), string(to))
	}
	current.OrderStatus = to
	if to != enums.OrderStatusCancelled {
		return nil
	}

	restocked := false
	if from == enums.OrderStatusPlaced &&
		(current.PaymentStatus == enums.PaymentStatusPending || current.PaymentStatus == enums.PaymentStatusFailed) {
		if err := s.restock(ctx, tx, current); err != nil {
			return err
		}
		restocked = true
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCancelled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   current.ID,
		Actor:         &outbox.ActorRef{UserID: actor.UserID, Role: string(actor.Role)},
		Data: payloads.OrderCancelledEvent{
			OrderID:     current.ID,
			Restocked:   restocked,
			CancelledAt: s.now(),
		},
	})
}
