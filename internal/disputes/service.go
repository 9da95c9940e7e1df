package disputes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/internal/commission"
	"github.com/angelmondragon/shophub-settlement/internal/orders"
	"github.com/angelmondragon/shophub-settlement/internal/products"
	"github.com/angelmondragon/shophub-settlement/internal/refunds"
	"github.com/angelmondragon/shophub-settlement/pkg/db"
	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/logger"
	"github.com/angelmondragon/shophub-settlement/pkg/metrics"
	"github.com/angelmondragon/shophub-settlement/pkg/money"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/shophub-settlement/pkg/pagination"
	"github.com/angelmondragon/shophub-settlement/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// userDirectory resolves the admin email filter.
type userDirectory interface {
	UserIDByEmail(ctx context.Context, email string) (uuid.UUID, bool, error)
}

// Service opens disputes for customers and resolves them for admins.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Dispute, error)
	Resolve(ctx context.Context, input ResolveInput) (*ResolveResult, error)
	List(ctx context.Context, filter Filter, params pagination.Params) (pagination.Page[models.Dispute], error)
	Get(ctx context.Context, actor types.Actor, id uuid.UUID) (*models.Dispute, error)
}

type CreateInput struct {
	OrderID uuid.UUID
	UserID  uuid.UUID
	Reason  string
}

// ResolveInput is the admin decision. RefundAmount only moves money when the
// decision is RESOLVED.
type ResolveInput struct {
	DisputeID    uuid.UUID
	Decision     enums.DisputeStatus
	RefundAmount decimal.Decimal
	AdminNote    *string
	AdminID      uuid.UUID
}

type ResolveResult struct {
	Dispute  *models.Dispute          `json:"dispute"`
	Refund   *models.Refund           `json:"refund,omitempty"`
	Reversed []commission.VendorShare `json:"reversed,omitempty"`
}

// Filter narrows dispute listings. Email is matched through the user directory.
type Filter struct {
	UserID *uuid.UUID
	Email  string
	Status *enums.DisputeStatus
}

type ServiceParams struct {
	Repo       Repository
	Orders     orders.Repository
	Products   products.Repository
	Refunds    refunds.Repository
	Commission commission.Distributor
	Users      userDirectory
	Tx         txRunner
	Outbox     outbox.Emitter
	Metrics    *metrics.SettlementMetrics
	Logger     *logger.Logger
}

type service struct {
	repo       Repository
	orders     orders.Repository
	products   products.Repository
	refunds    refunds.Repository
	commission commission.Distributor
	users      userDirectory
	tx         txRunner
	outbox     outbox.Emitter
	metrics    *metrics.SettlementMetrics
	logg       *logger.Logger
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("dispute repository required")
	case params.Orders == nil:
		return nil, fmt.Errorf("order repository required")
	case params.Products == nil:
		return nil, fmt.Errorf("product repository required")
	case params.Refunds == nil:
		return nil, fmt.Errorf("refund repository required")
	case params.Commission == nil:
		return nil, fmt.Errorf("commission distributor required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:       params.Repo,
		orders:     params.Orders,
		products:   params.Products,
		refunds:    params.Refunds,
		commission: params.Commission,
		users:      params.Users,
		tx:         params.Tx,
		outbox:     params.Outbox,
		metrics:    params.Metrics,
		logg:       params.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Dispute, error) {
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}

	var dispute *models.Dispute
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		orderRepo := s.orders.WithTx(tx)
		order, err := orderRepo.GetByIDForUpdate(ctx, input.OrderID)
		if err != nil {
			return orderNotFoundOr(err)
		}
		if order.UserID != input.UserID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if order.PaymentStatus != enums.PaymentStatusPaid && order.PaymentStatus != enums.PaymentStatusRefundPending {
			return pkgerrors.New(pkgerrors.CodeValidation, "only paid orders can be disputed").
				WithDetails(map[string]any{"paymentStatus": order.PaymentStatus}).
				WithReason(pkgerrors.ReasonInvalidTransition)
		}

		repo := s.repo.WithTx(tx)
		pending, err := repo.HasPending(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check open disputes")
		}
		if pending {
			return pkgerrors.New(pkgerrors.CodeConflict, "order already has an open dispute")
		}

		dispute = &models.Dispute{
			OrderID:             order.ID,
			UserID:              input.UserID,
			Reason:              reason,
			Status:              enums.DisputeStatusPending,
			RefundAmount:        decimal.Zero,
			PreviousOrderStatus: order.OrderStatus,
		}
		if err := repo.Create(ctx, dispute); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create dispute")
		}

		disputed := enums.OrderStatusDisputed
		if _, err := orderRepo.Transition(ctx, order.ID, orders.Transition{
			FromOrder: []enums.OrderStatus{order.OrderStatus},
			ToOrder:   &disputed,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order disputed")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeOpened,
			AggregateType: enums.AggregateDispute,
			AggregateID:   dispute.ID,
			Actor:         &outbox.ActorRef{UserID: input.UserID, Role: string(enums.RoleCustomer)},
			Data: payloads.DisputeOpenedEvent{
				DisputeID:    dispute.ID,
				OrderID:      dispute.OrderID,
				UserID:       dispute.UserID,
				RefundAmount: dispute.RefundAmount,
				Reason:       dispute.Reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithOrderID(ctx, dispute.OrderID.String())
	s.logg.Info(s.logg.WithField(logCtx, "dispute_id", dispute.ID.String()), "dispute opened")
	return dispute, nil
}

// Resolve applies the admin decision in one transaction. Any failure after the
// refund branch starts rolls the whole decision back.
func (s *service) Resolve(ctx context.Context, input ResolveInput) (*ResolveResult, error) {
	if input.Decision != enums.DisputeStatusResolved && input.Decision != enums.DisputeStatusRejected {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "decision must be RESOLVED or REJECTED")
	}
	if input.RefundAmount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refundAmount cannot be negative")
	}
	amount := money.Round(input.RefundAmount)
	refunding := input.Decision == enums.DisputeStatusResolved && amount.IsPositive()

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"dispute_id": input.DisputeID.String(),
		"admin_id":   input.AdminID.String(),
		"decision":   input.Decision,
	})

	result := &ResolveResult{}
	reversing := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		dispute, err := repo.GetByIDForUpdate(ctx, input.DisputeID)
		if err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispute")
		}
		if dispute.Status != enums.DisputeStatusPending {
			return pkgerrors.New(pkgerrors.CodeConflict, "dispute already resolved").
				WithDetails(map[string]any{"status": dispute.Status})
		}

		order, err := s.orders.WithTx(tx).GetByIDForUpdate(ctx, dispute.OrderID)
		if err != nil {
			return orderNotFoundOr(err)
		}
		if refunding && amount.GreaterThan(order.TotalAmount) {
			return pkgerrors.New(pkgerrors.CodeValidation, "refundAmount exceeds the order total").
				WithDetails(map[string]any{"max": order.TotalAmount.StringFixed(2)})
		}

		now := s.now()
		dispute.Status = input.Decision
		dispute.RefundAmount = amount
		dispute.ResolvedBy = &input.AdminID
		dispute.AdminNote = input.AdminNote
		dispute.ResolvedAt = &now
		if err := repo.Save(ctx, dispute); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update dispute")
		}
		result.Dispute = dispute

		if refunding {
			reversing = true
			if err := s.refund(ctx, tx, order, dispute, input, result); err != nil {
				return err
			}
		} else if err := s.restoreOrderStatus(ctx, tx, order, dispute); err != nil {
			return err
		}

		event := payloads.DisputeResolvedEvent{
			DisputeID:    dispute.ID,
			OrderID:      dispute.OrderID,
			Status:       dispute.Status,
			ResolvedBy:   input.AdminID,
			RefundAmount: dispute.RefundAmount,
			AdminNote:    dispute.AdminNote,
		}
		if result.Refund != nil {
			event.RefundID = &result.Refund.ID
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventDisputeResolved,
			AggregateType: enums.AggregateDispute,
			AggregateID:   dispute.ID,
			Actor:         &outbox.ActorRef{UserID: input.AdminID, Role: string(enums.RoleAdmin)},
			Data:          event,
		})
	})
	if err != nil {
		if reversing {
			s.metrics.IncReversalFailure()
			s.logg.Alert(logCtx, "dispute refund rolled back", err)
		}
		return nil, err
	}

	if refunding {
		s.metrics.IncReversal()
		logCtx = s.logg.WithField(logCtx, "refund_amount", amount.StringFixed(2))
	}
	s.logg.Info(logCtx, "dispute resolved")
	return result, nil
}

func (s *service) refund(ctx context.Context, tx *gorm.DB, order *models.Order, dispute *models.Dispute, input ResolveInput, result *ResolveResult) error {
	refunded := enums.PaymentStatusRefunded
	cancelled := enums.OrderStatusCancelled
	applied, err := s.orders.WithTx(tx).Transition(ctx, order.ID, orders.Transition{
		FromPayment: []enums.PaymentStatus{enums.PaymentStatusPaid, enums.PaymentStatusRefundPending},
		ToPayment:   &refunded,
		ToOrder:     &cancelled,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order refunded")
	}
	if !applied {
		return pkgerrors.New(pkgerrors.CodeValidation, "order is no longer refundable").
			WithDetails(map[string]any{"paymentStatus": order.PaymentStatus}).
			WithReason(pkgerrors.ReasonInvalidTransition)
	}

	reversed, err := s.commission.Reverse(ctx, tx, order, &input.AdminID)
	if err != nil {
		if errors.Is(err, commission.ErrAlreadyReversed) {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "commission already reversed")
		}
		return err
	}
	result.Reversed = reversed

	productRepo := s.products.WithTx(tx)
	for _, item := range order.Items {
		if err := productRepo.Restock(ctx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}

	now := *dispute.ResolvedAt
	refundRepo := s.refunds.WithTx(tx)
	if _, err := refundRepo.SettlePending(ctx, order.ID, enums.RefundStatusRejected, "superseded by dispute "+dispute.ID.String(), now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close pending refunds")
	}
	refund := &models.Refund{
		OrderID:     order.ID,
		UserID:      order.UserID,
		VendorID:    order.PrimaryVendorID(),
		DisputeID:   &dispute.ID,
		Amount:      dispute.RefundAmount,
		Reason:      dispute.Reason,
		Status:      enums.RefundStatusApproved,
		AdminNote:   input.AdminNote,
		ProcessedAt: &now,
	}
	if err := refundRepo.Create(ctx, refund); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund")
	}
	result.Refund = refund
	return nil
}

func (s *service) restoreOrderStatus(ctx context.Context, tx *gorm.DB, order *models.Order, dispute *models.Dispute) error {
	if order.OrderStatus != enums.OrderStatusDisputed || !dispute.PreviousOrderStatus.IsValid() {
		return nil
	}
	previous := dispute.PreviousOrderStatus
	if _, err := s.orders.WithTx(tx).Transition(ctx, order.ID, orders.Transition{
		FromOrder: []enums.OrderStatus{enums.OrderStatusDisputed},
		ToOrder:   &previous,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "restore order status")
	}
	return nil
}

func (s *service) List(ctx context.Context, filter Filter, params pagination.Params) (pagination.Page[models.Dispute], error) {
	if filter.Status != nil && !filter.Status.IsValid() {
		return pagination.Page[models.Dispute]{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid dispute status")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[models.Dispute]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	if email := strings.TrimSpace(filter.Email); email != "" {
		if s.users == nil {
			s.logg.Warn(ctx, "email filter requested without a user directory")
			return pagination.Page[models.Dispute]{Items: []models.Dispute{}}, nil
		}
		userID, ok, err := s.users.UserIDByEmail(ctx, email)
		if err != nil {
			return pagination.Page[models.Dispute]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve email filter")
		}
		if !ok || (filter.UserID != nil && *filter.UserID != userID) {
			return pagination.Page[models.Dispute]{Items: []models.Dispute{}}, nil
		}
		filter.UserID = &userID
	}

	rows, err := s.repo.List(ctx, filter, params)
	if err != nil {
		return pagination.Page[models.Dispute]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list disputes")
	}
	return pagination.BuildPage(rows, params.Limit, func(d models.Dispute) pagination.Cursor {
		return pagination.Cursor{CreatedAt: d.CreatedAt, ID: d.ID}
	}), nil
}

func (s *service) Get(ctx context.Context, actor types.Actor, id uuid.UUID) (*models.Dispute, error) {
	dispute, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load dispute")
	}
	if !actor.Owns(dispute.UserID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dispute not found")
	}
	return dispute, nil
}

func orderNotFoundOr(err error) error {
	if db.IsNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}
