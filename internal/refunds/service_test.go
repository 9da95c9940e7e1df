package refunds

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/internal/orders"
	"github.com/angelmondragon/shophub-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/logger"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox"
	"github.com/angelmondragon/shophub-settlement/pkg/pagination"
	"github.com/angelmondragon/shophub-settlement/pkg/types"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	client, conn := dbtest.Client(t)
	svc, err := NewService(ServiceParams{
		Repo:   NewRepository(conn),
		Orders: orders.NewRepository(conn),
		Tx:     client,
		Outbox: outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Logger: logger.Nop(),
	})
	require.NoError(t, err)
	return svc, conn
}

func seedOrder(t *testing.T, conn *gorm.DB, userID uuid.UUID, status enums.PaymentStatus) *models.Order {
	t.Helper()
	vendorID := uuid.New()
	order := &models.Order{
		UserID:         userID,
		Subtotal:       decimal.NewFromInt(1500),
		ShippingCost:   decimal.NewFromInt(100),
		DiscountAmount: decimal.Zero,
		TotalAmount:    decimal.NewFromInt(1600),
		PaymentMethod:  enums.PaymentMethodBKash,
		PaymentStatus:  status,
		OrderStatus:    enums.OrderStatusProcessing,
		ShippingAddress: types.ShippingAddress{
			Name: "Sumi", Phone: "01900000000", Address: "Lane 3", City: "Sylhet",
		},
		Items: []models.OrderItem{
			{Position: 0, ProductID: uuid.New(), VendorID: vendorID, Name: "Kettle", Price: decimal.NewFromInt(1000), Quantity: 1},
			{Position: 1, ProductID: uuid.New(), VendorID: uuid.New(), Name: "Mug", Price: decimal.NewFromInt(500), Quantity: 1},
		},
	}
	require.NoError(t, conn.Create(order).Error)
	return order
}

func TestRequestDefaultsToOrderTotal(t *testing.T) {
	svc, conn := newTestService(t)
	userID := uuid.New()
	order := seedOrder(t, conn, userID, enums.PaymentStatusPaid)

	refund, err := svc.Request(context.Background(), RequestInput{OrderID: order.ID, UserID: userID, Reason: " damaged "})
	require.NoError(t, err)
	require.True(t, refund.Amount.Equal(decimal.NewFromInt(1600)))
	require.Equal(t, enums.RefundStatusPending, refund.Status)
	require.Equal(t, order.Items[0].VendorID, refund.VendorID)
	require.Equal(t, "damaged", refund.Reason)

	var reloaded models.Order
	require.NoError(t, conn.First(&reloaded, "id = ?", order.ID).Error)
	require.Equal(t, enums.PaymentStatusRefundPending, reloaded.PaymentStatus)

	var events []models.OutboxEvent
	require.NoError(t, conn.Where("aggregate_id = ?", refund.ID).Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, enums.EventRefundRequested, events[0].EventType)

	_, err = svc.Request(context.Background(), RequestInput{OrderID: order.ID, UserID: userID, Reason: "again"})
	require.Equal(t, pkgerrors.ReasonInvalidTransition, pkgerrors.ReasonOf(err))
}

func TestRequestValidatesAmountAndOwnership(t *testing.T) {
	svc, conn := newTestService(t)
	userID := uuid.New()
	order := seedOrder(t, conn, userID, enums.PaymentStatusPaid)
	ctx := context.Background()

	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5), decimal.NewFromInt(1601)} {
		amt := amount
		_, err := svc.Request(ctx, RequestInput{OrderID: order.ID, UserID: userID, Reason: "x", Amount: &amt})
		require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code(), amount.String())
	}

	_, err := svc.Request(ctx, RequestInput{OrderID: order.ID, UserID: userID, Reason: "  "})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = svc.Request(ctx, RequestInput{OrderID: order.ID, UserID: uuid.New(), Reason: "x"})
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	partial := decimal.NewFromInt(400)
	refund, err := svc.Request(ctx, RequestInput{OrderID: order.ID, UserID: userID, Reason: "one item broken", Amount: &partial})
	require.NoError(t, err)
	require.True(t, refund.Amount.Equal(partial))
}

func TestRequestRequiresPaidOrder(t *testing.T) {
	svc, conn := newTestService(t)
	userID := uuid.New()
	order := seedOrder(t, conn, userID, enums.PaymentStatusPending)

	_, err := svc.Request(context.Background(), RequestInput{OrderID: order.ID, UserID: userID, Reason: "x"})
	require.Equal(t, pkgerrors.ReasonInvalidTransition, pkgerrors.ReasonOf(err))
}

func TestListScopesToUser(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	for _, user := range []uuid.UUID{alice, alice, bob} {
		order := seedOrder(t, conn, user, enums.PaymentStatusPaid)
		_, err := svc.Request(ctx, RequestInput{OrderID: order.ID, UserID: user, Reason: "x"})
		require.NoError(t, err)
	}

	mine, err := svc.ListForUser(ctx, alice, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, mine.Items, 2)

	pending := enums.RefundStatusPending
	all, err := svc.ListAll(ctx, ListFilter{Status: &pending}, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, all.Items, 2)
	require.NotEmpty(t, all.NextCursor)

	bad := enums.RefundStatus("LOST")
	_, err = svc.ListAll(ctx, ListFilter{Status: &bad}, pagination.Params{})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}
