package vendors

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/internal/ledger"
	"github.com/angelmondragon/shophub-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/logger"
	"github.com/angelmondragon/shophub-settlement/pkg/metrics"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox"
	"github.com/angelmondragon/shophub-settlement/pkg/pagination"
)

type fixture struct {
	conn *gorm.DB
	repo Repository
	svc  Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client, conn := dbtest.Client(t)
	repo := NewRepository(conn)
	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn))
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Repo:    repo,
		Ledger:  ledgerSvc,
		Tx:      client,
		Outbox:  outbox.NewService(outbox.NewRepository(conn), logger.Nop()),
		Metrics: metrics.NewSettlementMetrics(prometheus.NewRegistry()),
		Logger:  logger.Nop(),
	})
	require.NoError(t, err)
	return fixture{conn: conn, repo: repo, svc: svc}
}

func (f fixture) seedVendor(t *testing.T, balance int64) *models.Vendor {
	t.Helper()
	vendor, err := f.repo.Create(context.Background(), &models.Vendor{
		UserID:         uuid.New(),
		ShopName:       "Dhaka Crafts",
		CommissionRate: models.DefaultCommissionRate,
		Balance:        decimal.NewFromInt(balance),
		Status:         enums.VendorStatusApproved,
	})
	require.NoError(t, err)
	return vendor
}

func amount(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestApprovePayoutPartialAmount(t *testing.T) {
	f := newFixture(t)
	vendor := f.seedVendor(t, 900)

	result, err := f.svc.ApprovePayout(context.Background(), PayoutInput{VendorID: vendor.ID, Amount: amount(400), AdminID: uuid.New()})
	require.NoError(t, err)
	require.True(t, result.NewBalance.Equal(decimal.NewFromInt(500)), result.NewBalance.String())

	var entries []models.VendorLedgerEntry
	require.NoError(t, f.conn.Where("vendor_id = ?", vendor.ID).Find(&entries).Error)
	require.Len(t, entries, 1)
	require.Equal(t, enums.LedgerEntryVendorPayout, entries[0].Type)
	require.True(t, entries[0].Amount.Equal(decimal.NewFromInt(-400)))

	var events []models.OutboxEvent
	require.NoError(t, f.conn.Where("aggregate_id = ?", vendor.ID).Find(&events).Error)
	require.Len(t, events, 1)
	require.Equal(t, enums.EventVendorPayoutApproved, events[0].EventType)
}

func TestApprovePayoutDefaultsToFullBalance(t *testing.T) {
	f := newFixture(t)
	vendor := f.seedVendor(t, 900)

	result, err := f.svc.ApprovePayout(context.Background(), PayoutInput{VendorID: vendor.ID, AdminID: uuid.New()})
	require.NoError(t, err)
	require.True(t, result.Amount.Equal(decimal.NewFromInt(900)))
	require.True(t, result.NewBalance.IsZero())
}

func TestApprovePayoutRejectsAmountAboveBalance(t *testing.T) {
	f := newFixture(t)
	vendor := f.seedVendor(t, 900)

	_, err := f.svc.ApprovePayout(context.Background(), PayoutInput{VendorID: vendor.ID, Amount: amount(1000), AdminID: uuid.New()})
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
	require.Equal(t, pkgerrors.ReasonInsufficientBalance, pkgerrors.ReasonOf(err))

	reloaded, err := f.repo.GetByID(context.Background(), vendor.ID)
	require.NoError(t, err)
	require.True(t, reloaded.Balance.Equal(decimal.NewFromInt(900)))
}

func TestApprovePayoutRejectsEmptyBalance(t *testing.T) {
	f := newFixture(t)
	vendor := f.seedVendor(t, 0)

	_, err := f.svc.ApprovePayout(context.Background(), PayoutInput{VendorID: vendor.ID, AdminID: uuid.New()})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = f.svc.ApprovePayout(context.Background(), PayoutInput{VendorID: vendor.ID, Amount: amount(-5), AdminID: uuid.New()})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestApprovePayoutUnknownVendor(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ApprovePayout(context.Background(), PayoutInput{VendorID: uuid.New(), AdminID: uuid.New()})
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	vendor := f.seedVendor(t, 0)

	updated, err := f.svc.UpdateStatus(context.Background(), vendor.ID, enums.VendorStatusSuspended)
	require.NoError(t, err)
	require.Equal(t, enums.VendorStatusSuspended, updated.Status)

	_, err = f.svc.UpdateStatus(context.Background(), vendor.ID, enums.VendorStatusPending)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = f.svc.UpdateStatus(context.Background(), uuid.New(), enums.VendorStatusApproved)
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestUpdateCommissionRate(t *testing.T) {
	f := newFixture(t)
	vendor := f.seedVendor(t, 0)
	require.True(t, vendor.CommissionRate.Equal(models.DefaultCommissionRate))

	updated, err := f.svc.UpdateCommissionRate(context.Background(), vendor.ID, decimal.NewFromFloat(12.5))
	require.NoError(t, err)
	require.True(t, updated.CommissionRate.Equal(decimal.NewFromFloat(12.5)))

	_, err = f.svc.UpdateCommissionRate(context.Background(), vendor.ID, decimal.NewFromInt(101))
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestAdjustBalanceIsSigned(t *testing.T) {
	f := newFixture(t)
	vendor := f.seedVendor(t, 100)

	balance, err := f.repo.AdjustBalance(context.Background(), vendor.ID, decimal.NewFromInt(-150))
	require.NoError(t, err)
	require.True(t, balance.Equal(decimal.NewFromInt(-50)), balance.String())

	_, err = f.repo.AdjustBalance(context.Background(), uuid.New(), decimal.NewFromInt(1))
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestListAndLedger(t *testing.T) {
	f := newFixture(t)
	vendor := f.seedVendor(t, 300)
	f.seedVendor(t, 0)

	page, err := f.svc.List(context.Background(), ListFilter{Params: pagination.Params{Limit: 10}})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)

	_, err = f.svc.ApprovePayout(context.Background(), PayoutInput{VendorID: vendor.ID, AdminID: uuid.New()})
	require.NoError(t, err)

	entries, err := f.svc.Ledger(context.Background(), vendor.ID, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, entries.Items, 1)

	_, err = f.svc.Ledger(context.Background(), uuid.New(), pagination.Params{})
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestCreateKeepsZeroCommissionRate(t *testing.T) {
	f := newFixture(t)
	vendor, err := f.repo.Create(context.Background(), &models.Vendor{
		UserID:   uuid.New(),
		ShopName: "Zero Fee Co-op",
		Status:   enums.VendorStatusApproved,
	})
	require.NoError(t, err)

	reloaded, err := f.repo.GetByID(context.Background(), vendor.ID)
	require.NoError(t, err)
	require.True(t, reloaded.CommissionRate.IsZero(), reloaded.CommissionRate.String())
}

func TestApplyFilesPendingApplication(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()

	vendor, err := f.svc.Apply(context.Background(), ApplyInput{UserID: userID, ShopName: "  Sylhet Tea  ", Phone: "01700000000"})
	require.NoError(t, err)
	require.Equal(t, enums.VendorStatusPending, vendor.Status)
	require.Equal(t, "Sylhet Tea", vendor.ShopName)
	require.True(t, vendor.CommissionRate.Equal(models.DefaultCommissionRate))
	require.True(t, vendor.Balance.IsZero())
	require.NotNil(t, vendor.Phone)
	require.Nil(t, vendor.Address)

	_, err = f.svc.Apply(context.Background(), ApplyInput{UserID: userID, ShopName: "Second Try"})
	require.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())

	_, err = f.svc.Apply(context.Background(), ApplyInput{UserID: uuid.New(), ShopName: "   "})
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	approved, err := f.svc.UpdateStatus(context.Background(), vendor.ID, enums.VendorStatusApproved)
	require.NoError(t, err)
	require.Equal(t, enums.VendorStatusApproved, approved.Status)
}

func TestProfileLooksUpCallersVendor(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	applied, err := f.svc.Apply(context.Background(), ApplyInput{UserID: userID, ShopName: "Khulna Books"})
	require.NoError(t, err)

	profile, err := f.svc.Profile(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, applied.ID, profile.ID)

	_, err = f.svc.Profile(context.Background(), uuid.New())
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestDashboardRequiresApproval(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()
	vendor, err := f.svc.Apply(context.Background(), ApplyInput{UserID: userID, ShopName: "Rajshahi Mangoes"})
	require.NoError(t, err)

	_, err = f.svc.Dashboard(context.Background(), userID)
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())

	_, err = f.svc.UpdateStatus(context.Background(), vendor.ID, enums.VendorStatusApproved)
	require.NoError(t, err)
	_, err = f.repo.AdjustBalance(context.Background(), vendor.ID, decimal.NewFromInt(700))
	require.NoError(t, err)
	_, err = f.svc.ApprovePayout(context.Background(), PayoutInput{VendorID: vendor.ID, Amount: amount(200), AdminID: uuid.New()})
	require.NoError(t, err)

	dashboard, err := f.svc.Dashboard(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, vendor.ID, dashboard.VendorID)
	require.True(t, dashboard.Balance.Equal(decimal.NewFromInt(500)), dashboard.Balance.String())
	require.Len(t, dashboard.RecentEntries, 1)
	require.Equal(t, enums.LedgerEntryVendorPayout, dashboard.RecentEntries[0].Type)

	_, err = f.svc.UpdateStatus(context.Background(), vendor.ID, enums.VendorStatusSuspended)
	require.NoError(t, err)
	_, err = f.svc.Dashboard(context.Background(), userID)
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())
}
