package orders

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/internal/commission"
	"github.com/angelmondragon/shophub-settlement/internal/coupons"
	"github.com/angelmondragon/shophub-settlement/internal/ledger"
	"github.com/angelmondragon/shophub-settlement/internal/products"
	"github.com/angelmondragon/shophub-settlement/internal/vendors"
	"github.com/angelmondragon/shophub-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/invoice"
	"github.com/angelmondragon/shophub-settlement/pkg/logger"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox"
	"github.com/angelmondragon/shophub-settlement/pkg/pagination"
	"github.com/angelmondragon/shophub-settlement/pkg/types"
)

type fixture struct {
	conn    *gorm.DB
	svc     *service
	vendors vendors.Repository
	coupons coupons.Repository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client, conn := dbtest.Client(t)
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	vendorRepo := vendors.NewRepository(conn)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	dist, err := commission.NewDistributor(commission.DistributorParams{
		Vendors: vendorRepo,
		Ledger:  ledgerSvc,
		Outbox:  emitter,
		Logger:  logger.Nop(),
	})
	require.NoError(t, err)

	couponRepo := coupons.NewRepository(conn)
	svc, err := NewService(ServiceParams{
		Repo:       NewRepository(conn),
		Products:   products.NewRepository(conn),
		Coupons:    couponRepo,
		Commission: dist,
		Tx:         client,
		Outbox:     emitter,
		Pricing: Pricing{
			FreeShippingThreshold: decimal.NewFromInt(5000),
			FlatShippingFee:       decimal.NewFromInt(100),
		},
		Invoices: invoice.NewRenderer("ShopHub"),
		Logger:   logger.Nop(),
	})
	require.NoError(t, err)
	return fixture{conn: conn, svc: svc.(*service), vendors: vendorRepo, coupons: couponRepo}
}

func (f fixture) vendor(t *testing.T) *models.Vendor {
	t.Helper()
	v, err := f.vendors.Create(context.Background(), &models.Vendor{
		UserID:         uuid.New(),
		ShopName:       "Shop " + uuid.NewString()[:8],
		CommissionRate: decimal.NewFromInt(10),
		Status:         enums.VendorStatusApproved,
	})
	require.NoError(t, err)
	return v
}

func (f fixture) product(t *testing.T, vendorID uuid.UUID, price int64, stock int) *models.Product {
	t.Helper()
	p := &models.Product{
		VendorID: vendorID,
		Name:     "Item " + uuid.NewString()[:6],
		Slug:     "item-" + uuid.NewString(),
		Price:    decimal.NewFromInt(price),
		Stock:    stock,
		IsActive: true,
	}
	require.NoError(t, f.conn.Create(p).Error)
	return p
}

func (f fixture) coupon(t *testing.T, code string, pct int64, maxUsage int) *models.Coupon {
	t.Helper()
	now := time.Now().UTC()
	c, err := f.coupons.Create(context.Background(), &models.Coupon{
		Code:            code,
		DiscountPercent: decimal.NewFromInt(pct),
		MinAmount:       decimal.Zero,
		MaxUsage:        maxUsage,
		Scope:           enums.CouponScopeGlobal,
		ValidFrom:       now.Add(-time.Hour),
		ValidTill:       now.Add(24 * time.Hour),
		Active:          true,
	})
	require.NoError(t, err)
	return c
}

func (f fixture) stock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var p models.Product
	require.NoError(t, f.conn.First(&p, "id = ?", id).Error)
	return p.Stock
}

func (f fixture) events(t *testing.T, aggregateID uuid.UUID) []enums.OutboxEventType {
	t.Helper()
	var rows []models.OutboxEvent
	require.NoError(t, f.conn.Where("aggregate_id = ?", aggregateID).Order("created_at ASC").Find(&rows).Error)
	out := make([]enums.OutboxEventType, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.EventType)
	}
	return out
}

func address() types.ShippingAddress {
	return types.ShippingAddress{Name: "Rahim", Phone: "01700000000", Address: "House 1, Road 2", City: "Dhaka"}
}

func customer(id uuid.UUID) types.Actor {
	return types.Actor{UserID: id, Role: enums.RoleCustomer}
}

func adminActor() types.Actor {
	return types.Actor{UserID: uuid.New(), Role: enums.RoleAdmin}
}

func ptr[T any](v T) *T { return &v }

func (f fixture) placeOrder(t *testing.T, userID uuid.UUID, method enums.PaymentMethod, items ...CartItem) *models.Order {
	t.Helper()
	order, err := f.svc.Create(context.Background(), CreateInput{
		UserID:          userID,
		Items:           items,
		PaymentMethod:   method,
		ShippingAddress: address(),
	})
	require.NoError(t, err)
	return order
}

func TestCreateBuildsOrderAndDecrementsStock(t *testing.T) {
	f := newFixture(t)
	v := f.vendor(t)
	p := f.product(t, v.ID, 500, 5)
	userID := uuid.New()

	order := f.placeOrder(t, userID, enums.PaymentMethodSSL,
		CartItem{ProductID: p.ID, Quantity: 1},
		CartItem{ProductID: p.ID, Quantity: 1},
	)

	require.Equal(t, "1000", order.Subtotal.String())
	require.Equal(t, "100", order.ShippingCost.String())
	require.Equal(t, "1100", order.TotalAmount.String())
	require.Equal(t, enums.PaymentStatusPending, order.PaymentStatus)
	require.Equal(t, enums.OrderStatusPlaced, order.OrderStatus)
	require.Len(t, order.Items, 1)
	require.Equal(t, 2, order.Items[0].Quantity)
	require.Equal(t, 3, f.stock(t, p.ID))
	require.Equal(t, []enums.OutboxEventType{enums.EventOrderCreated}, f.events(t, order.ID))
}

func TestCreateShipsFreeAboveThreshold(t *testing.T) {
	f := newFixture(t)
	v := f.vendor(t)
	p := f.product(t, v.ID, 5001, 1)

	order := f.placeOrder(t, uuid.New(), enums.PaymentMethodCOD, CartItem{ProductID: p.ID, Quantity: 1})

	require.True(t, order.ShippingCost.IsZero())
	require.Equal(t, "5001", order.TotalAmount.String())
}

func TestCreateInsufficientStockRollsBack(t *testing.T) {
	f := newFixture(t)
	v := f.vendor(t)
	plenty := f.product(t, v.ID, 100, 10)
	scarce := f.product(t, v.ID, 100, 1)

	_, err := f.svc.Create(context.Background(), CreateInput{
		UserID: uuid.New(),
		Items: []CartItem{
			{ProductID: plenty.ID, Quantity: 2},
			{ProductID: scarce.ID, Quantity: 2},
		},
		PaymentMethod:   enums.PaymentMethodCOD,
		ShippingAddress: address(),
	})
	require.Error(t, err)
	require.Equal(t, pkgerrors.ReasonInsufficientStock, pkgerrors.ReasonOf(err))
	require.Equal(t, 10, f.stock(t, plenty.ID))
	require.Equal(t, 1, f.stock(t, scarce.ID))

	var count int64
	require.NoError(t, f.conn.Model(&models.Order{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestCreateRejectsInactiveProduct(t *testing.T) {
	f := newFixture(t)
	v := f.vendor(t)
	p := f.product(t, v.ID, 100, 10)
	require.NoError(t, f.conn.Model(p).Update("is_active", false).Error)

	_, err := f.svc.Create(context.Background(), CreateInput{
		UserID:          uuid.New(),
		Items:           []CartItem{{ProductID: p.ID, Quantity: 1}},
		PaymentMethod:   enums.PaymentMethodCOD,
		ShippingAddress: address(),
	})
	require.Equal(t, pkgerrors.ReasonProductNotFound, pkgerrors.ReasonOf(err))
}

func TestCreateValidatesInput(t *testing.T) {
	f := newFixture(t)
	v := f.vendor(t)
	p := f.product(t, v.ID, 100, 10)
	valid := CreateInput{
		UserID:          uuid.New(),
		Items:           []CartItem{{ProductID: p.ID, Quantity: 1}},
		PaymentMethod:   enums.PaymentMethodCOD,
		ShippingAddress: address(),
	}

	cases := map[string]func(in *CreateInput){
		"empty cart":     func(in *CreateInput) { in.Items = nil },
		"zero quantity":  func(in *CreateInput) { in.Items = []CartItem{{ProductID: p.ID, Quantity: 0}} },
		"bad method":     func(in *CreateInput) { in.PaymentMethod = "PAYPAL" },
		"missing street": func(in *CreateInput) { in.ShippingAddress.Address = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := valid
			mutate(&in)
			_, err := f.svc.Create(context.Background(), in)
			require.Error(t, err)
			require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
		})
	}
	require.Equal(t, 10, f.stock(t, p.ID))
}

func TestCreateAppliesCouponAndConsumesUsage(t *testing.T) {
	f := newFixture(t)
	v := f.vendor(t)
	p := f.product(t, v.ID, 1000, 5)
	c := f.coupon(t, "SAVE10", 10, 2)

	order, err := f.svc.Create(context.Background(), CreateInput{
		UserID:          uuid.New(),
		Items:           []CartItem{{ProductID: p.ID, Quantity: 2}},
		PaymentMethod:   enums.PaymentMethodCOD,
		ShippingAddress: address(),
		CouponCode:      " save10 ",
	})
	require.NoError(t, err)
	require.NotNil(t, order.CouponCode)
	require.Equal(t, "SAVE10", *order.CouponCode)
	require.Equal(t, "200", order.DiscountAmount.String())
	require.Equal(t, "1900", order.TotalAmount.String())

	reloaded, err := f.coupons.GetByCode(context.Background(), c.Code)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.UsedCount)
}

func TestCreateIgnoresRejectedCoupon(t *testing.T) {
	f := newFixture(t)
	v := f.vendor(t)
	p := f.product(t, v.ID, 1000, 5)

	order, err := f.svc.Create(context.Background(), CreateInput{
		UserID:          uuid.New(),
		Items:           []CartItem{{ProductID: p.ID, Quantity: 1}},
		PaymentMethod:   enums.PaymentMethodCOD,
		ShippingAddress: address(),
		CouponCode:      "NOPE",
	})
	require.NoError(t, err)
	require.Nil(t, order.CouponCode)
	require.Equal(t, "1100", order.TotalAmount.String())
}

// exhaustedCoupons simulates another checkout taking the last usage slot
// between evaluation and the increment.
type exhaustedCoupons struct {
	coupons.Repository
}

func (e exhaustedCoupons) WithTx(tx *gorm.DB) coupons.Repository {
	return exhaustedCoupons{Repository: e.Repository.WithTx(tx)}
}

func (e exhaustedCoupons) IncrementUsage(context.Context, uuid.UUID) (bool, error) {
	return false, nil
}

func TestCreateDropsCouponThatLostUsageRace(t *testing.T) {
	f := newFixture(t)
	v := f.vendor(t)
	p := f.product(t, v.ID, 1000, 5)
	f.coupon(t, "LAST", 50, 1)
	f.svc.coupons = exhaustedCoupons{Repository: f.coupons}

	order := f.placeOrderWithCoupon(t, p.ID, "LAST")

	require.Nil(t, order.CouponCode)
	require.True(t, order.DiscountAmount.IsZero())
	require.Equal(t, "1100", order.TotalAmount.String())
}

func (f fixture) placeOrderWithCoupon(t *testing.T, productID uuid.UUID, code string) *models.Order {
	t.Helper()
	order, err := f.svc.Create(context.Background(), CreateInput{
		UserID:          uuid.New(),
		Items:           []CartItem{{ProductID: productID, Quantity: 1}},
		PaymentMethod:   enums.PaymentMethodCOD,
		ShippingAddress: address(),
		CouponCode:      code,
	})
	require.NoError(t, err)
	return order
}

func TestPreviewDoesNotWrite(t *testing.T) {
	f := newFixture(t)
	v := f.vendor(t)
	p := f.product(t, v.ID, 1000, 5)
	c := f.coupon(t, "PEEK", 10, 1)

	quote, err := f.svc.Preview(context.Background(), PreviewInput{
		Items:      []CartItem{{ProductID: p.ID, Quantity: 3}},
		CouponCode: "peek",
	})
	require.NoError(t, err)
	require.Equal(t, "3000", quote.Subtotal.String())
	require.Equal(t, "300", quote.DiscountAmount.String())
	require.Equal(t, "2800", quote.TotalAmount.String())
	require.Empty(t, quote.CouponRejection)

	require.Equal(t, 5, f.stock(t, p.ID))
	reloaded, err := f.coupons.GetByCode(context.Background(), c.Code)
	require.NoError(t, err)
	require.Zero(t, reloaded.UsedCount)
}

func TestPreviewReportsCouponRejection(t *testing.T) {
	f := newFixture(t)
	v := f.vendor(t)
	p := f.product(t, v.ID, 100, 5)

	quote, err := f.svc.Preview(context.Background(), PreviewInput{
		Items:      []CartItem{{ProductID: p.ID, Quantity: 1}},
		CouponCode: "MISSING",
	})
	require.NoError(t, err)
	require.Equal(t, pkgerrors.ReasonCouponNotFound, quote.CouponRejection)
	require.Equal(t, "200", quote.TotalAmount.String())
}

func TestGetHidesOtherCustomersOrders(t *testing.T) {
	f := newFixture(t)
	v := f.vendor(t)
	p := f.product(t, v.ID, 100, 5)
	owner := uuid.New()
	order := f.placeOrder(t, owner, enums.PaymentMethodCOD, CartItem{ProductID: p.ID, Quantity: 1})

	got, err := f.svc.Get(context.Background(), customer(owner), order.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)

	_, err = f.svc.Get(context.Background(), customer(uuid.New()), order.ID)
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	_, err = f.svc.Get(context.Background(), adminActor(), order.ID)
	require.NoError(t, err)
}

func TestListForUserPaginates(t *testing.T) {
	f := newFixture(t)
	v := f.vendor(t)
	p := f.product(t, v.ID, 100, 10)
	owner := uuid.New()
	for i := 0; i < 3; i++ {
		f.placeOrder(t, owner, enums.PaymentMethodCOD, CartItem{ProductID: p.ID, Quantity: 1})
	}
	f.placeOrder(t, uuid.New(), enums.PaymentMethodCOD, CartItem{ProductID: p.ID, Quantity: 1})

	page, err := f.svc.ListForUser(context.Background(), owner, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	next, err := f.svc.ListForUser(context.Background(), owner, pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	require.Empty(t, next.NextCursor)

	_, err = f.svc.ListAll(context.Background(), ListFilter{}, pagination.Params{Cursor: "%%%"})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func (f fixture) markPaid(t *testing.T, orderID uuid.UUID) *PaidResult {
	t.Helper()
	var result *PaidResult
	require.NoError(t, f.conn.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = f.svc.MarkPaid(context.Background(), tx, orderID, PaidInput{Method: enums.PaymentMethodSSL, Reference: "ref-1"})
		return err
	}))
	return result
}

func TestMarkPaidDistributesOnceAndDetectsDuplicate(t *testing.T) {
	f := newFixture(t)
	v := f.vendor(t)
	p := f.product(t, v.ID, 1000, 5)
	order := f.placeOrder(t, uuid.New(), enums.PaymentMethodSSL, CartItem{ProductID: p.ID, Quantity: 1})

	first := f.markPaid(t, order.ID)
	require.Equal(t, PaidApplied, first.Outcome)
	require.Len(t, first.Shares, 1)
	require.Equal(t, enums.PaymentStatusPaid, first.Order.PaymentStatus)
	require.Equal(t, enums.OrderStatusProcessing, first.Order.OrderStatus)
	require.NotNil(t, first.Order.PaidAt)

	second := f.markPaid(t, order.ID)
	require.Equal(t, PaidDuplicate, second.Outcome)

	reloaded, err := f.vendors.GetByID(context.Background(), v.ID)
	require.NoError(t, err)
	require.True(t, reloaded.Balance.Equal(decimal.NewFromInt(900)))
	require.Contains(t, f.events(t, order.ID), enums.EventOrderPaid)
}

func TestMarkPaidIgnoresCancelledOrder(t *testing.T) {
	f := newFixture(t)
	v := f.vendor(t)
	p := f.product(t, v.ID, 1000, 5)
	order := f.placeOrder(t, uuid.New(), enums.PaymentMethodSSL, CartItem{ProductID: p.ID, Quantity: 1})

	require.NoError(t, f.conn.Transaction(func(tx *gorm.DB) error {
		_, ok, err := f.svc.CancelUnpaid(context.Background(), tx, order.ID)
		require.True(t, ok)
		return err
	}))
	require.Equal(t, 5, f.stock(t, p.ID))

	result := f.markPaid(t, order.ID)
	require.Equal(t, PaidIgnored, result.Outcome)
}

func TestMarkFailedNeverRegressesPaidOrder(t *testing.T) {
	f := newFixture(t)
	v := f.vendor(t)
	p := f.product(t, v.ID, 1000, 5)
	order := f.placeOrder(t, uuid.New(), enums.PaymentMethodSSL, CartItem{ProductID: p.ID, Quantity: 1})
	f.markPaid(t, order.ID)

	var applied bool
	require.NoError(t, f.conn.Transaction(func(tx *gorm.DB) error {
		var err error
		applied, err = f.svc.MarkFailed(context.Background(), tx, order.ID)
		return err
	}))
	require.False(t, applied)

	got, err := f.svc.Get(context.Background(), adminActor(), order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPaid, got.PaymentStatus)
}

func TestAdminPatchFollowsTransitionTable(t *testing.T) {
	f := newFixture(t)
	v := f.vendor(t)
	p := f.product(t, v.ID, 1000, 5)
	order := f.placeOrder(t, uuid.New(), enums.PaymentMethodCOD, CartItem{ProductID: p.ID, Quantity: 1})
	ctx := context.Background()
	admin := adminActor()

	_, err := f.svc.AdminPatch(ctx, admin, order.ID, OrderPatch{OrderStatus: ptr(enums.OrderStatusDelivered)})
	require.Equal(t, pkgerrors.ReasonInvalidTransition, pkgerrors.ReasonOf(err))

	for _, next := range []enums.OrderStatus{enums.OrderStatusProcessing, enums.OrderStatusShipped, enums.OrderStatusDelivered} {
		updated, err := f.svc.AdminPatch(ctx, admin, order.ID, OrderPatch{OrderStatus: ptr(next)})
		require.NoError(t, err)
		require.Equal(t, next, updated.OrderStatus)
	}

	_, err = f.svc.AdminPatch(ctx, admin, order.ID, OrderPatch{OrderStatus: ptr(enums.OrderStatusCancelled)})
	require.Equal(t, pkgerrors.ReasonInvalidTransition, pkgerrors.ReasonOf(err))

	_, err = f.svc.AdminPatch(ctx, customer(uuid.New()), order.ID, OrderPatch{OrderStatus: ptr(enums.OrderStatusCancelled)})
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())
}

func TestAdminPatchCollectsCODPayment(t *testing.T) {
	f := newFixture(t)
	v := f.vendor(t)
	p := f.product(t, v.ID, 1000, 5)
	order := f.placeOrder(t, uuid.New(), enums.PaymentMethodCOD, CartItem{ProductID: p.ID, Quantity: 1})
	ctx := context.Background()
	admin := adminActor()

	for _, next := range []enums.OrderStatus{enums.OrderStatusProcessing, enums.OrderStatusShipped, enums.OrderStatusDelivered} {
		_, err := f.svc.AdminPatch(ctx, admin, order.ID, OrderPatch{OrderStatus: ptr(next)})
		require.NoError(t, err)
	}

	updated, err := f.svc.AdminPatch(ctx, admin, order.ID, OrderPatch{PaymentStatus: ptr(enums.PaymentStatusPaid)})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPaid, updated.PaymentStatus)
	require.Equal(t, enums.OrderStatusDelivered, updated.OrderStatus)

	reloaded, err := f.vendors.GetByID(ctx, v.ID)
	require.NoError(t, err)
	require.True(t, reloaded.Balance.Equal(decimal.NewFromInt(900)))

	_, err = f.svc.AdminPatch(ctx, admin, order.ID, OrderPatch{PaymentStatus: ptr(enums.PaymentStatusRefunded)})
	require.Equal(t, pkgerrors.ReasonInvalidTransition, pkgerrors.ReasonOf(err))
}

func TestAdminCancelRestocksUnpaidOrder(t *testing.T) {
	f := newFixture(t)
	v := f.vendor(t)
	p := f.product(t, v.ID, 1000, 5)
	order := f.placeOrder(t, uuid.New(), enums.PaymentMethodCOD, CartItem{ProductID: p.ID, Quantity: 2})
	require.Equal(t, 3, f.stock(t, p.ID))

	updated, err := f.svc.AdminPatch(context.Background(), adminActor(), order.ID, OrderPatch{OrderStatus: ptr(enums.OrderStatusCancelled)})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, updated.OrderStatus)
	require.Equal(t, 5, f.stock(t, p.ID))

	events := f.events(t, order.ID)
	require.Contains(t, events, enums.EventOrderCancelled)
	require.Contains(t, events, enums.EventOrderStatusChanged)
}

func TestInvoiceRendersForOwner(t *testing.T) {
	f := newFixture(t)
	v := f.vendor(t)
	p := f.product(t, v.ID, 1000, 5)
	owner := uuid.New()
	order := f.placeOrder(t, owner, enums.PaymentMethodCOD, CartItem{ProductID: p.ID, Quantity: 1})

	var buf bytes.Buffer
	require.NoError(t, f.svc.Invoice(context.Background(), customer(owner), order.ID, &buf))
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))

	err := f.svc.Invoice(context.Background(), customer(uuid.New()), order.ID, &bytes.Buffer{})
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}
