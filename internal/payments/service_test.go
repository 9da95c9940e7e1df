package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/internal/commission"
	"github.com/angelmondragon/shophub-settlement/internal/coupons"
	"github.com/angelmondragon/shophub-settlement/internal/ledger"
	"github.com/angelmondragon/shophub-settlement/internal/orders"
	"github.com/angelmondragon/shophub-settlement/internal/products"
	"github.com/angelmondragon/shophub-settlement/internal/vendors"
	"github.com/angelmondragon/shophub-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/gateways"
	"github.com/angelmondragon/shophub-settlement/pkg/logger"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox"
	"github.com/angelmondragon/shophub-settlement/pkg/types"
)

type fakeGateway struct {
	name     enums.PaymentMethod
	result   gateways.InitiateResult
	err      error
	requests []gateways.InitiateRequest
}

func (f *fakeGateway) Name() enums.PaymentMethod { return f.name }

func (f *fakeGateway) Initiate(_ context.Context, req gateways.InitiateRequest) (gateways.InitiateResult, error) {
	f.requests = append(f.requests, req)
	return f.result, f.err
}

type fakeValidator struct {
	status string
	tranID string
	amount decimal.Decimal
	calls  []string
}

func (f *fakeValidator) ValidateTransaction(_ context.Context, valID string) (gateways.Validation, error) {
	f.calls = append(f.calls, valID)
	return gateways.Validation{Status: f.status, TranID: f.tranID, ValID: valID, Amount: f.amount}, nil
}

type fixture struct {
	conn      *gorm.DB
	svc       Service
	orders    orders.Service
	vendors   vendors.Repository
	ssl       *fakeGateway
	validator *fakeValidator
	vendor    *models.Vendor
	product   *models.Product
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client, conn := dbtest.Client(t)
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	vendorRepo := vendors.NewRepository(conn)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	dist, err := commission.NewDistributor(commission.DistributorParams{
		Vendors: vendorRepo, Ledger: ledgerSvc, Outbox: emitter, Logger: logger.Nop(),
	})
	require.NoError(t, err)

	orderRepo := orders.NewRepository(conn)
	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:       orderRepo,
		Products:   products.NewRepository(conn),
		Coupons:    coupons.NewRepository(conn),
		Commission: dist,
		Tx:         client,
		Outbox:     emitter,
		Pricing:    orders.Pricing{FreeShippingThreshold: decimal.NewFromInt(5000), FlatShippingFee: decimal.NewFromInt(100)},
		Logger:     logger.Nop(),
	})
	require.NoError(t, err)

	ssl := &fakeGateway{
		name:   enums.PaymentMethodSSL,
		result: gateways.InitiateResult{Success: true, RedirectURL: "https://gw.test/pay", GatewayReference: "SESSION-1"},
	}
	validator := &fakeValidator{status: "VALID"}
	svc, err := NewService(ServiceParams{
		Attempts:        NewRepository(conn),
		Orders:          orderRepo,
		Lifecycle:       orderSvc,
		Gateways:        []gateways.Gateway{ssl},
		Validator:       validator,
		VerifyIPN:       true,
		CallbackBaseURL: "https://api.test/api/v1/payments/",
		Tx:              client,
		Outbox:          emitter,
		Logger:          logger.Nop(),
	})
	require.NoError(t, err)

	vendor, err := vendorRepo.Create(context.Background(), &models.Vendor{
		UserID:         uuid.New(),
		ShopName:       "Gadget Hut",
		CommissionRate: decimal.NewFromInt(10),
		Status:         enums.VendorStatusApproved,
	})
	require.NoError(t, err)
	product := &models.Product{
		VendorID: vendor.ID,
		Name:     "Headphones",
		Slug:     "headphones-" + uuid.NewString(),
		Price:    decimal.NewFromInt(1000),
		Stock:    5,
		IsActive: true,
	}
	require.NoError(t, conn.Create(product).Error)

	return fixture{conn: conn, svc: svc, orders: orderSvc, vendors: vendorRepo, ssl: ssl, validator: validator, vendor: vendor, product: product}
}

func (f fixture) placeOrder(t *testing.T, userID uuid.UUID) *models.Order {
	t.Helper()
	order, err := f.orders.Create(context.Background(), orders.CreateInput{
		UserID:        userID,
		Items:         []orders.CartItem{{ProductID: f.product.ID, Quantity: 2}},
		PaymentMethod: enums.PaymentMethodSSL,
		ShippingAddress: types.ShippingAddress{
			Name: "Karim", Phone: "01800000000", Address: "Road 5", City: "Chattogram",
		},
	})
	require.NoError(t, err)
	return order
}

func (f fixture) initiate(t *testing.T, order *models.Order) *InitiateResult {
	t.Helper()
	res, err := f.svc.Initiate(context.Background(), InitiateInput{
		OrderID: order.ID,
		Gateway: enums.PaymentMethodSSL,
		Actor:   types.Actor{UserID: order.UserID, Role: enums.RoleCustomer},
	})
	require.NoError(t, err)
	return res
}

func (f fixture) reload(t *testing.T, id uuid.UUID) *models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, f.conn.First(&order, "id = ?", id).Error)
	return &order
}

func (f fixture) attempt(t *testing.T, reference string) *models.PaymentAttempt {
	t.Helper()
	var attempt models.PaymentAttempt
	require.NoError(t, f.conn.First(&attempt, "reference = ?", reference).Error)
	return &attempt
}

func (f fixture) stock(t *testing.T) int {
	t.Helper()
	var p models.Product
	require.NoError(t, f.conn.First(&p, "id = ?", f.product.ID).Error)
	return p.Stock
}

func (f fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	v, err := f.vendors.GetByID(context.Background(), f.vendor.ID)
	require.NoError(t, err)
	return v.Balance
}

func TestInitiateRecordsAttemptAndCallbackURLs(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, uuid.New())

	res := f.initiate(t, order)

	require.Equal(t, "https://gw.test/pay", res.RedirectURL)
	require.Len(t, res.Reference, 26)
	require.Len(t, f.ssl.requests, 1)
	req := f.ssl.requests[0]
	require.True(t, req.Amount.Equal(decimal.NewFromInt(2100)))
	require.Equal(t, "https://api.test/api/v1/payments/ssl/success?ref="+res.Reference, req.SuccessURL)
	require.Equal(t, "https://api.test/api/v1/payments/ssl/ipn?ref="+res.Reference, req.IPNURL)

	attempt := f.attempt(t, res.Reference)
	require.Equal(t, enums.AttemptStatusInitiated, attempt.Status)
	require.NotNil(t, attempt.GatewayReference)
	require.Equal(t, "SESSION-1", *attempt.GatewayReference)
	require.Equal(t, enums.PaymentMethodSSL, f.reload(t, order.ID).PaymentMethod)
}

func TestInitiateGatewayFailureLeavesOrderPending(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, uuid.New())

	f.ssl.result = gateways.InitiateResult{Success: false, FailureReason: "Store Credential Error"}
	_, err := f.svc.Initiate(context.Background(), InitiateInput{
		OrderID: order.ID,
		Gateway: enums.PaymentMethodSSL,
		Actor:   types.Actor{UserID: order.UserID, Role: enums.RoleCustomer},
	})
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeUpstream, pkgerrors.As(err).Code())

	f.ssl.result = gateways.InitiateResult{}
	f.ssl.err = errors.New("timeout")
	_, err = f.svc.Initiate(context.Background(), InitiateInput{
		OrderID: order.ID,
		Gateway: enums.PaymentMethodSSL,
		Actor:   types.Actor{UserID: order.UserID, Role: enums.RoleCustomer},
	})
	require.Equal(t, pkgerrors.CodeUpstream, pkgerrors.As(err).Code())

	var attempts []models.PaymentAttempt
	require.NoError(t, f.conn.Where("order_id = ?", order.ID).Find(&attempts).Error)
	require.Len(t, attempts, 2)
	for _, a := range attempts {
		require.Equal(t, enums.AttemptStatusFailed, a.Status)
	}
	require.Equal(t, enums.PaymentStatusPending, f.reload(t, order.ID).PaymentStatus)
}

func TestInitiateRejections(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, uuid.New())
	owner := types.Actor{UserID: order.UserID, Role: enums.RoleCustomer}

	_, err := f.svc.Initiate(context.Background(), InitiateInput{OrderID: order.ID, Gateway: enums.PaymentMethodCOD, Actor: owner})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = f.svc.Initiate(context.Background(), InitiateInput{OrderID: order.ID, Gateway: enums.PaymentMethodNagad, Actor: owner})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	stranger := types.Actor{UserID: uuid.New(), Role: enums.RoleCustomer}
	_, err = f.svc.Initiate(context.Background(), InitiateInput{OrderID: order.ID, Gateway: enums.PaymentMethodSSL, Actor: stranger})
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())

	res := f.initiate(t, order)
	_, err = f.svc.HandleCallback(context.Background(), Callback{Gateway: enums.PaymentMethodSSL, Event: EventSuccess, Reference: res.Reference, ValidationID: "val-ok"})
	require.NoError(t, err)

	_, err = f.svc.Initiate(context.Background(), InitiateInput{OrderID: order.ID, Gateway: enums.PaymentMethodSSL, Actor: owner})
	require.Equal(t, pkgerrors.ReasonInvalidTransition, pkgerrors.ReasonOf(err))
}

func TestSuccessCallbackPaysOnceAndCreditsVendor(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, uuid.New())
	res := f.initiate(t, order)
	cb := Callback{Gateway: enums.PaymentMethodSSL, Event: EventSuccess, Reference: res.Reference, ValidationID: "val-ok"}

	first, err := f.svc.HandleCallback(context.Background(), cb)
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, first.Outcome)
	require.Equal(t, order.ID, first.OrderID)

	second, err := f.svc.HandleCallback(context.Background(), cb)
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, second.Outcome)

	reloaded := f.reload(t, order.ID)
	require.Equal(t, enums.PaymentStatusPaid, reloaded.PaymentStatus)
	require.Equal(t, enums.OrderStatusProcessing, reloaded.OrderStatus)
	require.True(t, f.balance(t).Equal(decimal.NewFromInt(1800)))
	require.Equal(t, enums.AttemptStatusSucceeded, f.attempt(t, res.Reference).Status)
}

func TestFailCallbackNeverRegressesPaidOrder(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, uuid.New())
	res := f.initiate(t, order)

	_, err := f.svc.HandleCallback(context.Background(), Callback{Gateway: enums.PaymentMethodSSL, Event: EventSuccess, Reference: res.Reference, ValidationID: "val-ok"})
	require.NoError(t, err)

	out, err := f.svc.HandleCallback(context.Background(), Callback{Gateway: enums.PaymentMethodSSL, Event: EventFail, Reference: res.Reference})
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, out.Outcome)
	require.Equal(t, enums.PaymentStatusPaid, f.reload(t, order.ID).PaymentStatus)
	require.Equal(t, enums.AttemptStatusSucceeded, f.attempt(t, res.Reference).Status)
}

func TestFailThenRetrySucceeds(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, uuid.New())
	res := f.initiate(t, order)

	out, err := f.svc.HandleCallback(context.Background(), Callback{
		Gateway: enums.PaymentMethodSSL, Event: EventFail, Reference: res.Reference, GatewayStatus: "FAILED",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, out.Outcome)
	require.Equal(t, enums.PaymentStatusFailed, f.reload(t, order.ID).PaymentStatus)

	retry := f.initiate(t, order)
	out, err = f.svc.HandleCallback(context.Background(), Callback{Gateway: enums.PaymentMethodSSL, Event: EventSuccess, Reference: retry.Reference, ValidationID: "val-ok"})
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, out.Outcome)
}

func TestCancelCallbackReleasesStock(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, uuid.New())
	require.Equal(t, 3, f.stock(t))
	res := f.initiate(t, order)

	out, err := f.svc.HandleCallback(context.Background(), Callback{Gateway: enums.PaymentMethodSSL, Event: EventCancel, Reference: res.Reference})
	require.NoError(t, err)
	require.Equal(t, OutcomeCancelled, out.Outcome)

	reloaded := f.reload(t, order.ID)
	require.Equal(t, enums.PaymentStatusFailed, reloaded.PaymentStatus)
	require.Equal(t, enums.OrderStatusCancelled, reloaded.OrderStatus)
	require.Equal(t, 5, f.stock(t))
	require.Equal(t, enums.AttemptStatusCancelled, f.attempt(t, res.Reference).Status)

	again, err := f.svc.HandleCallback(context.Background(), Callback{Gateway: enums.PaymentMethodSSL, Event: EventCancel, Reference: res.Reference})
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, again.Outcome)
	require.Equal(t, 5, f.stock(t))
}

func TestIPNRequiresValidStatusAndValidation(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, uuid.New())
	res := f.initiate(t, order)

	out, err := f.svc.HandleCallback(context.Background(), Callback{
		Gateway: enums.PaymentMethodSSL, Event: EventIPN, Reference: res.Reference, GatewayStatus: "FAILED",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, out.Outcome)
	require.Empty(t, f.validator.calls)

	f.validator.status = "INVALID_TRANSACTION"
	out, err = f.svc.HandleCallback(context.Background(), Callback{
		Gateway: enums.PaymentMethodSSL, Event: EventIPN, Reference: res.Reference, GatewayStatus: "VALID", ValidationID: "val-1",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, out.Outcome)
	require.Equal(t, enums.PaymentStatusPending, f.reload(t, order.ID).PaymentStatus)

	f.validator.status = "VALIDATED"
	out, err = f.svc.HandleCallback(context.Background(), Callback{
		Gateway: enums.PaymentMethodSSL, Event: EventIPN, Reference: res.Reference, GatewayStatus: "VALID", ValidationID: "val-2",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, out.Outcome)
	require.Equal(t, []string{"val-1", "val-2"}, f.validator.calls)
}

func TestForgedSuccessRedirectDoesNotPay(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, uuid.New())
	f.initiate(t, order)
	f.validator.status = "INVALID_TRANSACTION"

	out, err := f.svc.HandleCallback(context.Background(), Callback{
		Gateway: enums.PaymentMethodSSL, Event: EventSuccess, Reference: order.ID.String(),
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeAwaitingIPN, out.Outcome)
	require.Empty(t, f.validator.calls)

	out, err = f.svc.HandleCallback(context.Background(), Callback{
		Gateway: enums.PaymentMethodSSL, Event: EventSuccess, Reference: order.ID.String(), ValidationID: "forged",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeAwaitingIPN, out.Outcome)

	out, err = f.svc.HandleCallback(context.Background(), Callback{
		Gateway: enums.PaymentMethodSSL, Event: EventIPN, Reference: order.ID.String(), GatewayStatus: "VALID", ValidationID: "forged",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeIgnored, out.Outcome)

	require.Equal(t, []string{"forged", "forged"}, f.validator.calls)
	require.Equal(t, enums.PaymentStatusPending, f.reload(t, order.ID).PaymentStatus)
	require.True(t, f.balance(t).IsZero())
}

func TestSuccessRedirectChecksValidatedTransaction(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, uuid.New())
	res := f.initiate(t, order)
	cb := Callback{Gateway: enums.PaymentMethodSSL, Event: EventSuccess, Reference: res.Reference, ValidationID: "val-1"}

	f.validator.tranID = "01OTHERATTEMPT"
	out, err := f.svc.HandleCallback(context.Background(), cb)
	require.NoError(t, err)
	require.Equal(t, OutcomeAwaitingIPN, out.Outcome)

	f.validator.tranID = res.Reference
	f.validator.amount = decimal.NewFromInt(10)
	out, err = f.svc.HandleCallback(context.Background(), cb)
	require.NoError(t, err)
	require.Equal(t, OutcomeAwaitingIPN, out.Outcome)
	require.Equal(t, enums.PaymentStatusPending, f.reload(t, order.ID).PaymentStatus)

	f.validator.amount = order.TotalAmount
	out, err = f.svc.HandleCallback(context.Background(), cb)
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, out.Outcome)
	require.True(t, f.balance(t).Equal(decimal.NewFromInt(1800)))
}

func TestUnverifiableSuccessRedirectAwaitsIPN(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, uuid.New())
	res := f.initiate(t, order)

	out, err := f.svc.HandleCallback(context.Background(), Callback{
		Gateway: enums.PaymentMethodBKash, Event: EventSuccess, Reference: res.Reference,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeAwaitingIPN, out.Outcome)
	require.Equal(t, enums.PaymentStatusPending, f.reload(t, order.ID).PaymentStatus)
	require.Empty(t, f.validator.calls)

	out, err = f.svc.HandleCallback(context.Background(), Callback{
		Gateway: enums.PaymentMethodBKash, Event: EventIPN, Reference: res.Reference, GatewayStatus: "VALID",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, out.Outcome)
}

func TestCallbackReferenceResolution(t *testing.T) {
	f := newFixture(t)
	order := f.placeOrder(t, uuid.New())
	f.initiate(t, order)

	out, err := f.svc.HandleCallback(context.Background(), Callback{Gateway: enums.PaymentMethodSSL, Event: EventSuccess, Reference: "does-not-exist"})
	require.NoError(t, err)
	require.Equal(t, OutcomeUnknown, out.Outcome)

	out, err = f.svc.HandleCallback(context.Background(), Callback{Gateway: enums.PaymentMethodSSL, Event: EventSuccess, Reference: uuid.NewString()})
	require.NoError(t, err)
	require.Equal(t, OutcomeUnknown, out.Outcome)

	out, err = f.svc.HandleCallback(context.Background(), Callback{Gateway: enums.PaymentMethodSSL, Event: EventSuccess, Reference: "SESSION-1", ValidationID: "val-ok"})
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, out.Outcome)
	require.Equal(t, order.ID, out.OrderID)

	other := f.placeOrder(t, uuid.New())
	out, err = f.svc.HandleCallback(context.Background(), Callback{Gateway: enums.PaymentMethodSSL, Event: EventSuccess, Reference: other.ID.String(), ValidationID: "val-ok"})
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, out.Outcome)

	out, err = f.svc.HandleCallback(context.Background(), Callback{Gateway: enums.PaymentMethodSSL, Event: EventSuccess, Reference: "  "})
	require.NoError(t, err)
	require.Equal(t, OutcomeInvalid, out.Outcome)
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent(" IPN ")
	require.NoError(t, err)
	require.Equal(t, EventIPN, ev)

	_, err = ParseEvent("refund")
	require.Error(t, err)
}
