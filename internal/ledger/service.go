package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/pkg/db"
	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/pagination"
)

// ErrAlreadyRecorded is returned when an entry of the same type already exists
// for the order and vendor.
var ErrAlreadyRecorded = errors.New("ledger entry already recorded")

// Service defines operations that record and read vendor balance history.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.VendorLedgerEntry, error)
	CreditsForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.VendorLedgerEntry, error)
	ListForVendor(ctx context.Context, vendorID uuid.UUID, params pagination.Params) (pagination.Page[models.VendorLedgerEntry], error)
}

type service struct {
	repo Repository
}

// RecordInput captures one signed balance mutation. Amount is positive for
// credits and negative for reversals and payouts.
type RecordInput struct {
	VendorID         uuid.UUID
	OrderID          *uuid.UUID
	Type             enums.LedgerEntryType
	Amount           decimal.Decimal
	GrossAmount      decimal.Decimal
	CommissionAmount decimal.Decimal
	CommissionRate   decimal.Decimal
	BalanceAfter     decimal.Decimal
	ActorUserID      *uuid.UUID
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Record(ctx context.Context, tx *gorm.DB, input RecordInput) (*models.VendorLedgerEntry, error) {
	if input.VendorID == uuid.Nil {
		return nil, fmt.Errorf("vendor id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid ledger entry type %q", input.Type)
	}
	switch input.Type {
	case enums.LedgerEntryCommissionCredit:
		if input.OrderID == nil || !input.Amount.IsPositive() {
			return nil, fmt.Errorf("commission credit needs an order and a positive amount")
		}
	case enums.LedgerEntryCommissionReversal:
		if input.OrderID == nil || input.Amount.IsPositive() {
			return nil, fmt.Errorf("commission reversal needs an order and a non-positive amount")
		}
	case enums.LedgerEntryVendorPayout:
		if !input.Amount.IsNegative() {
			return nil, fmt.Errorf("payout amount must be negative")
		}
	}

	entry := &models.VendorLedgerEntry{
		VendorID:         input.VendorID,
		OrderID:          input.OrderID,
		Type:             input.Type,
		Amount:           input.Amount,
		GrossAmount:      input.GrossAmount,
		CommissionAmount: input.CommissionAmount,
		CommissionRate:   input.CommissionRate,
		BalanceAfter:     input.BalanceAfter,
		ActorUserID:      input.ActorUserID,
	}
	// The insert runs under a savepoint so a duplicate leaves the caller's
	// transaction usable on postgres.
	var err error
	if tx != nil {
		err = tx.Transaction(func(sp *gorm.DB) error {
			return s.repo.WithTx(sp).Create(ctx, entry)
		})
	} else {
		err = s.repo.Create(ctx, entry)
	}
	if err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, ErrAlreadyRecorded
		}
		return nil, err
	}
	return entry, nil
}

func (s *service) CreditsForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.VendorLedgerEntry, error) {
	if orderID == uuid.Nil {
		return nil, fmt.Errorf("order id is required")
	}
	return s.repo.WithTx(tx).ListByOrder(ctx, orderID, enums.LedgerEntryCommissionCredit)
}

func (s *service) ListForVendor(ctx context.Context, vendorID uuid.UUID, params pagination.Params) (pagination.Page[models.VendorLedgerEntry], error) {
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return pagination.Page[models.VendorLedgerEntry]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListByVendor(ctx, vendorID, params)
	if err != nil {
		return pagination.Page[models.VendorLedgerEntry]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list vendor ledger")
	}
	return pagination.BuildPage(rows, params.Limit, func(e models.VendorLedgerEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	}), nil
}
