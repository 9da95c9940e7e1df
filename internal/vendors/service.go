package vendors

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/internal/ledger"
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
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service covers vendor self-service (apply, profile, dashboard) and the admin
// surface over vendors: status, commission rate and payouts.
type Service interface {
	Apply(ctx context.Context, input ApplyInput) (*models.Vendor, error)
	Profile(ctx context.Context, userID uuid.UUID) (*models.Vendor, error)
	Dashboard(ctx context.Context, userID uuid.UUID) (*Dashboard, error)

	Get(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
	List(ctx context.Context, filter ListFilter) (pagination.Page[models.Vendor], error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.VendorStatus) (*models.Vendor, error)
	UpdateCommissionRate(ctx context.Context, id uuid.UUID, rate decimal.Decimal) (*models.Vendor, error)
	ApprovePayout(ctx context.Context, input PayoutInput) (*PayoutResult, error)
	Ledger(ctx context.Context, vendorID uuid.UUID, params pagination.Params) (pagination.Page[models.VendorLedgerEntry], error)
}

// ApplyInput is a user's request to open a shop.
type ApplyInput struct {
	UserID   uuid.UUID
	ShopName string
	Phone    string
	Address  string
}

// Dashboard is an approved vendor's own view of its balance.
type Dashboard struct {
	VendorID       uuid.UUID                  `json:"vendorId"`
	ShopName       string                     `json:"shopName"`
	Balance        decimal.Decimal            `json:"balance"`
	CommissionRate decimal.Decimal            `json:"commissionRate"`
	Status         enums.VendorStatus         `json:"status"`
	RecentEntries  []models.VendorLedgerEntry `json:"recentEntries"`
}

const (
	maxShopNameLen       = 120
	dashboardLedgerLimit = 10
)

// ListFilter narrows the admin vendor listing.
type ListFilter struct {
	Status *enums.VendorStatus
	Params pagination.Params
}

// PayoutInput pays out Amount, or the whole balance when Amount is nil.
type PayoutInput struct {
	VendorID uuid.UUID
	Amount   *decimal.Decimal
	AdminID  uuid.UUID
}

type PayoutResult struct {
	VendorID   uuid.UUID       `json:"vendorId"`
	Amount     decimal.Decimal `json:"amount"`
	NewBalance decimal.Decimal `json:"newBalance"`
}

// ServiceParams groups the collaborators required by NewService.
type ServiceParams struct {
	Repo    Repository
	Ledger  ledger.Service
	Tx      txRunner
	Outbox  outbox.Emitter
	Metrics *metrics.SettlementMetrics
	Logger  *logger.Logger
}

type service struct {
	repo    Repository
	ledger  ledger.Service
	tx      txRunner
	outbox  outbox.Emitter
	metrics *metrics.SettlementMetrics
	logg    *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("vendor repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{
		repo:    params.Repo,
		ledger:  params.Ledger,
		tx:      params.Tx,
		outbox:  params.Outbox,
		metrics: params.Metrics,
		logg:    params.Logger,
	}, nil
}

// Apply files a PENDING vendor application at the default commission rate.
// A user holds at most one application.
func (s *service) Apply(ctx context.Context, input ApplyInput) (*models.Vendor, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user required")
	}
	name := strings.TrimSpace(input.ShopName)
	if name == "" || utf8.RuneCountInString(name) > maxShopNameLen {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shop name is required").
			WithDetails(map[string]any{"maxLength": maxShopNameLen})
	}

	if _, err := s.repo.GetByUserID(ctx, input.UserID); err == nil {
		return nil, alreadyApplied()
	} else if !db.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vendor application")
	}

	vendor, err := s.repo.Create(ctx, &models.Vendor{
		UserID:         input.UserID,
		ShopName:       name,
		Phone:          optional(input.Phone),
		Address:        optional(input.Address),
		CommissionRate: models.DefaultCommissionRate,
		Status:         enums.VendorStatusPending,
	})
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, alreadyApplied()
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create vendor application")
	}
	if s.logg != nil {
		s.logg.Info(s.logg.WithField(ctx, "vendor_id", vendor.ID.String()), "vendor application filed")
	}
	return vendor, nil
}

// Profile returns the caller's vendor record in any status.
func (s *service) Profile(ctx context.Context, userID uuid.UUID) (*models.Vendor, error) {
	vendor, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, notFoundOr(err, "load vendor profile")
	}
	return vendor, nil
}

// Dashboard is only available once the vendor is APPROVED.
func (s *service) Dashboard(ctx context.Context, userID uuid.UUID) (*Dashboard, error) {
	vendor, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if vendor.Status != enums.VendorStatusApproved {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "vendor not approved yet").
			WithDetails(map[string]any{"status": vendor.Status})
	}
	recent, err := s.ledger.ListForVendor(ctx, vendor.ID, pagination.Params{Limit: dashboardLedgerLimit})
	if err != nil {
		return nil, err
	}
	return &Dashboard{
		VendorID:       vendor.ID,
		ShopName:       vendor.ShopName,
		Balance:        vendor.Balance,
		CommissionRate: vendor.CommissionRate,
		Status:         vendor.Status,
		RecentEntries:  recent.Items,
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	vendor, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "load vendor")
	}
	return vendor, nil
}

func (s *service) List(ctx context.Context, filter ListFilter) (pagination.Page[models.Vendor], error) {
	if filter.Status != nil && !filter.Status.IsValid() {
		return pagination.Page[models.Vendor]{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid vendor status")
	}
	if _, err := pagination.ParseCursor(filter.Params.Cursor); err != nil {
		return pagination.Page[models.Vendor]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, filter.Status, filter.Params)
	if err != nil {
		return pagination.Page[models.Vendor]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list vendors")
	}
	return pagination.BuildPage(rows, filter.Params.Limit, func(v models.Vendor) pagination.Cursor {
		return pagination.Cursor{CreatedAt: v.CreatedAt, ID: v.ID}
	}), nil
}

func (s *service) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.VendorStatus) (*models.Vendor, error) {
	switch status {
	case enums.VendorStatusApproved, enums.VendorStatusRejected, enums.VendorStatusSuspended:
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "status must be APPROVED, REJECTED or SUSPENDED")
	}
	if err := s.repo.UpdateStatus(ctx, id, status); err != nil {
		return nil, notFoundOr(err, "update vendor status")
	}
	return s.Get(ctx, id)
}

func (s *service) UpdateCommissionRate(ctx context.Context, id uuid.UUID, rate decimal.Decimal) (*models.Vendor, error) {
	if !money.ValidPercent(rate) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "commission rate must be between 0 and 100")
	}
	if err := s.repo.UpdateCommissionRate(ctx, id, rate.Round(2)); err != nil {
		return nil, notFoundOr(err, "update commission rate")
	}
	return s.Get(ctx, id)
}

func (s *service) ApprovePayout(ctx context.Context, input PayoutInput) (*PayoutResult, error) {
	if input.VendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	if input.Amount != nil && !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout amount must be positive")
	}

	var result *PayoutResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		vendor, err := repo.GetByIDForUpdate(ctx, input.VendorID)
		if err != nil {
			return notFoundOr(err, "load vendor")
		}

		amount := vendor.Balance
		if input.Amount != nil {
			amount = money.Round(*input.Amount)
		} else if !amount.IsPositive() {
			return pkgerrors.New(pkgerrors.CodeValidation, "vendor has no balance to pay out")
		}
		if amount.GreaterThan(vendor.Balance) {
			return insufficientBalance(vendor.Balance, amount)
		}

		balance, ok, err := repo.DebitIfSufficient(ctx, vendor.ID, amount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "debit vendor balance")
		}
		if !ok {
			return insufficientBalance(vendor.Balance, amount)
		}

		actor := input.AdminID
		if _, err := s.ledger.Record(ctx, tx, ledger.RecordInput{
			VendorID:     vendor.ID,
			Type:         enums.LedgerEntryVendorPayout,
			Amount:       amount.Neg(),
			BalanceAfter: balance,
			ActorUserID:  &actor,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payout")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventVendorPayoutApproved,
			AggregateType: enums.AggregateVendor,
			AggregateID:   vendor.ID,
			Actor:         &outbox.ActorRef{UserID: input.AdminID, Role: string(enums.RoleAdmin)},
			Data: payloads.VendorPayoutApprovedEvent{
				VendorID:     vendor.ID,
				Amount:       amount,
				BalanceAfter: balance,
				ApprovedBy:   input.AdminID,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payout event")
		}

		result = &PayoutResult{VendorID: vendor.ID, Amount: amount, NewBalance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncPayout()
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"vendor_id": result.VendorID.String(),
			"amount":    result.Amount.StringFixed(2),
		})
		s.logg.Info(logCtx, "vendor payout approved")
	}
	return result, nil
}

func (s *service) Ledger(ctx context.Context, vendorID uuid.UUID, params pagination.Params) (pagination.Page[models.VendorLedgerEntry], error) {
	if _, err := s.Get(ctx, vendorID); err != nil {
		return pagination.Page[models.VendorLedgerEntry]{}, err
	}
	return s.ledger.ListForVendor(ctx, vendorID, params)
}

func insufficientBalance(balance, amount decimal.Decimal) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "payout exceeds vendor balance").
		WithDetails(map[string]any{
			"balance": balance.StringFixed(2),
			"amount":  amount.StringFixed(2),
		}).
		WithReason(pkgerrors.ReasonInsufficientBalance)
}

func alreadyApplied() error {
	return pkgerrors.New(pkgerrors.CodeConflict, "vendor application already exists")
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func notFoundOr(err error, action string) error {
	if db.IsNotFound(err) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "vendor not found")
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}
