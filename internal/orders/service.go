package orders

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/internal/commission"
	"github.com/angelmondragon/shophub-settlement/internal/coupons"
	"github.com/angelmondragon/shophub-settlement/internal/products"
	"github.com/angelmondragon/shophub-settlement/pkg/db"
	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/logger"
	"github.com/angelmondragon/shophub-settlement/pkg/metrics"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/shophub-settlement/pkg/pagination"
	"github.com/angelmondragon/shophub-settlement/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type invoiceRenderer interface {
	Render(w io.Writer, order *models.Order) error
}

// Service defines order building, reads, admin updates and the payment
// transitions shared with the gateway bridge and the expiry job.
type Service interface {
	Preview(ctx context.Context, input PreviewInput) (*Quote, error)
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	Get(ctx context.Context, actor types.Actor, orderID uuid.UUID) (*models.Order, error)
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error)
	ListAll(ctx context.Context, filter ListFilter, params pagination.Params) (pagination.Page[models.Order], error)
	AdminPatch(ctx context.Context, actor types.Actor, orderID uuid.UUID, patch OrderPatch) (*models.Order, error)
	Invoice(ctx context.Context, actor types.Actor, orderID uuid.UUID, w io.Writer) error

	MarkPaid(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, input PaidInput) (*PaidResult, error)
	MarkFailed(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error)
	CancelUnpaid(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, bool, error)
}

type PreviewInput struct {
	Items      []CartItem
	CouponCode string
}

type CreateInput struct {
	UserID          uuid.UUID
	Items           []CartItem
	PaymentMethod   enums.PaymentMethod
	ShippingAddress types.ShippingAddress
	CouponCode      string
}

// OrderPatch is the explicit admin update. Nil fields are left unchanged.
type OrderPatch struct {
	OrderStatus   *enums.OrderStatus
	PaymentStatus *enums.PaymentStatus
}

type ServiceParams struct {
	Repo       Repository
	Products   products.Repository
	Coupons    coupons.Repository
	Commission commission.Distributor
	Tx         txRunner
	Outbox     outbox.Emitter
	Pricing    Pricing
	Invoices   invoiceRenderer
	Metrics    *metrics.SettlementMetrics
	Logger     *logger.Logger
}

type service struct {
	repo       Repository
	products   products.Repository
	coupons    coupons.Repository
	commission commission.Distributor
	tx         txRunner
	outbox     outbox.Emitter
	pricing    Pricing
	invoices   invoiceRenderer
	metrics    *metrics.SettlementMetrics
	logg       *logger.Logger
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("order repository required")
	case params.Products == nil:
		return nil, fmt.Errorf("product repository required")
	case params.Coupons == nil:
		return nil, fmt.Errorf("coupon repository required")
	case params.Commission == nil:
		return nil, fmt.Errorf("commission distributor required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		repo:       params.Repo,
		products:   params.Products,
		coupons:    params.Coupons,
		commission: params.Commission,
		tx:         params.Tx,
		outbox:     params.Outbox,
		pricing:    params.Pricing,
		invoices:   params.Invoices,
		metrics:    params.Metrics,
		logg:       params.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) Preview(ctx context.Context, input PreviewInput) (*Quote, error) {
	return buildQuote(ctx, s.products, s.coupons, s.pricing, input.Items, input.CouponCode, s.now())
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user is required")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}
	address := input.ShippingAddress.Normalize()
	if address.Name == "" || address.Phone == "" || address.Address == "" || address.City == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address is incomplete")
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		productRepo := s.products.WithTx(tx)
		couponRepo := s.coupons.WithTx(tx)

		quote, err := buildQuote(ctx, productRepo, couponRepo, s.pricing, input.Items, input.CouponCode, s.now())
		if err != nil {
			return err
		}
		for _, line := range quote.Items {
			if err := productRepo.DecrementStock(ctx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}
		if quote.coupon != nil {
			consumed, err := couponRepo.IncrementUsage(ctx, quote.coupon.ID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consume coupon")
			}
			if !consumed {
				quote.dropCoupon()
			}
		}

		order = &models.Order{
			UserID:          input.UserID,
			Subtotal:        quote.Subtotal,
			ShippingCost:    quote.ShippingCost,
			DiscountAmount:  quote.DiscountAmount,
			CouponCode:      quote.CouponCode,
			TotalAmount:     quote.TotalAmount,
			PaymentMethod:   input.PaymentMethod,
			PaymentStatus:   enums.PaymentStatusPending,
			OrderStatus:     enums.OrderStatusPlaced,
			ShippingAddress: address,
			Items:           make([]models.OrderItem, 0, len(quote.Items)),
		}
		vendorIDs := make([]uuid.UUID, 0, len(quote.Items))
		seen := map[uuid.UUID]bool{}
		for i, line := range quote.Items {
			order.Items = append(order.Items, models.OrderItem{
				Position:  i,
				ProductID: line.ProductID,
				VendorID:  line.VendorID,
				Name:      line.Name,
				Price:     line.Price,
				Quantity:  line.Quantity,
			})
			if !seen[line.VendorID] {
				seen[line.VendorID] = true
				vendorIDs = append(vendorIDs, line.VendorID)
			}
		}
		if err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.UserID, Role: string(enums.RoleCustomer)},
			Data: payloads.OrderCreatedEvent{
				OrderID:        order.ID,
				UserID:         order.UserID,
				VendorIDs:      vendorIDs,
				TotalAmount:    order.TotalAmount,
				DiscountAmount: order.DiscountAmount,
				CouponCode:     order.CouponCode,
				PaymentMethod:  order.PaymentMethod,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderID(ctx, order.ID.String())
		logCtx = s.logg.WithField(logCtx, "total_amount", order.TotalAmount.StringFixed(2))
		s.logg.Info(logCtx, "order created")
	}
	return order, nil
}

func (s *service) Get(ctx context.Context, actor types.Actor, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, notFoundOr(err, "load order")
	}
	if !actor.Owns(order.UserID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (pagination.Page[models.Order], error) {
	return s.list(ctx, ListFilter{UserID: &userID}, params)
}

func (s *service) ListAll(ctx context.Context, filter ListFilter, params pagination.Params) (pagination.Page[models.Order], error) {
	if filter.PaymentStatus != nil && !filter.PaymentStatus.IsValid() {
		return pagination.Page[models.Order]{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment status")
	}
	if filter.OrderStatus != nil && !filter.OrderStatus.IsValid() {
		return pagination.Page[models.Order]{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}
	return s.list(ctx, filter, params)
}

func (s *service) list(ctx context.Context, filter ListFilter, params pagination.Params) (pagination.Page[models.Order], error) {
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[models.Order]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, filter, params)
	if err != nil {
		return pagination.Page[models.Order]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return pagination.BuildPage(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	}), nil
}

func (s *service) Invoice(ctx context.Context, actor types.Actor, orderID uuid.UUID, w io.Writer) error {
	if s.invoices == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "invoice renderer not configured")
	}
	order, err := s.Get(ctx, actor, orderID)
	if err != nil {
		return err
	}
	if err := s.invoices.Render(w, order); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "render invoice")
	}
	return nil
}

func notFoundOr(err error, action string) error {
	if db.IsNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}
