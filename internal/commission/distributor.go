package commission

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/internal/ledger"
	"github.com/angelmondragon/shophub-settlement/internal/vendors"
	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	"github.com/angelmondragon/shophub-settlement/pkg/logger"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox/payloads"
)

var (
	// ErrAlreadyDistributed means the order already has commission credits.
	ErrAlreadyDistributed = errors.New("commission already distributed")
	// ErrAlreadyReversed means the order's credits were already reversed.
	ErrAlreadyReversed = errors.New("commission already reversed")
)

// Distributor moves vendor earnings in and out of balances. Both operations run
// inside the caller's transaction and write one ledger entry per vendor.
type Distributor interface {
	Distribute(ctx context.Context, tx *gorm.DB, order *models.Order) ([]VendorShare, error)
	Reverse(ctx context.Context, tx *gorm.DB, order *models.Order, actorID *uuid.UUID) ([]VendorShare, error)
}

type DistributorParams struct {
	Vendors vendors.Repository
	Ledger  ledger.Service
	Outbox  outbox.Emitter
	Logger  *logger.Logger
}

type distributor struct {
	vendors vendors.Repository
	ledger  ledger.Service
	outbox  outbox.Emitter
	logg    *logger.Logger
}

func NewDistributor(params DistributorParams) (Distributor, error) {
	if params.Vendors == nil {
		return nil, fmt.Errorf("vendor repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &distributor{
		vendors: params.Vendors,
		ledger:  params.Ledger,
		outbox:  params.Outbox,
		logg:    params.Logger,
	}, nil
}

// Distribute credits every APPROVED vendor in the order with its earning.
func (d *distributor) Distribute(ctx context.Context, tx *gorm.DB, order *models.Order) ([]VendorShare, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if order == nil || len(order.Items) == 0 {
		return nil, fmt.Errorf("order with items required")
	}

	existing, err := d.ledger.CreditsForOrder(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, ErrAlreadyDistributed
	}

	vendorRepo := d.vendors.WithTx(tx)
	rows, err := vendorRepo.ListByIDs(ctx, uniqueVendorIDs(order.Items))
	if err != nil {
		return nil, err
	}
	rates := make(map[uuid.UUID]decimal.Decimal, len(rows))
	for _, vendor := range rows {
		if vendor.Status != enums.VendorStatusApproved {
			d.log(ctx, order.ID, vendor.ID, "vendor not approved; skipping commission credit")
			continue
		}
		rates[vendor.ID] = vendor.CommissionRate
	}

	credited := make([]VendorShare, 0, len(rates))
	for _, share := range Split(order.Items, rates) {
		if !share.Earning.IsPositive() {
			continue
		}
		balance, err := vendorRepo.AdjustBalance(ctx, share.VendorID, share.Earning)
		if err != nil {
			return nil, fmt.Errorf("credit vendor %s: %w", share.VendorID, err)
		}
		orderID := order.ID
		if _, err := d.ledger.Record(ctx, tx, ledger.RecordInput{
			VendorID:         share.VendorID,
			OrderID:          &orderID,
			Type:             enums.LedgerEntryCommissionCredit,
			Amount:           share.Earning,
			GrossAmount:      share.Gross,
			CommissionAmount: share.Commission,
			CommissionRate:   share.Rate,
			BalanceAfter:     balance,
		}); err != nil {
			if errors.Is(err, ledger.ErrAlreadyRecorded) {
				return nil, ErrAlreadyDistributed
			}
			return nil, err
		}
		credited = append(credited, share)
	}

	if len(credited) == 0 {
		return credited, nil
	}
	if err := d.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCommissionDistributed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.CommissionDistributedEvent{
			OrderID: order.ID,
			Shares:  sharePayloads(credited),
		},
	}); err != nil {
		return nil, err
	}
	return credited, nil
}

// Reverse debits exactly what Distribute credited for the order. Vendors that
// were never credited are left alone.
func (d *distributor) Reverse(ctx context.Context, tx *gorm.DB, order *models.Order, actorID *uuid.UUID) ([]VendorShare, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if order == nil {
		return nil, fmt.Errorf("order required")
	}

	credits, err := d.ledger.CreditsForOrder(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	if len(credits) == 0 {
		return []VendorShare{}, nil
	}

	vendorRepo := d.vendors.WithTx(tx)
	reversed := make([]VendorShare, 0, len(credits))
	for _, credit := range credits {
		debit := credit.Amount.Neg()
		balance, err := vendorRepo.AdjustBalance(ctx, credit.VendorID, debit)
		if err != nil {
			return nil, fmt.Errorf("debit vendor %s: %w", credit.VendorID, err)
		}
		orderID := order.ID
		if _, err := d.ledger.Record(ctx, tx, ledger.RecordInput{
			VendorID:         credit.VendorID,
			OrderID:          &orderID,
			Type:             enums.LedgerEntryCommissionReversal,
			Amount:           debit,
			GrossAmount:      credit.GrossAmount,
			CommissionAmount: credit.CommissionAmount,
			CommissionRate:   credit.CommissionRate,
			BalanceAfter:     balance,
			ActorUserID:      actorID,
		}); err != nil {
			if errors.Is(err, ledger.ErrAlreadyRecorded) {
				return nil, ErrAlreadyReversed
			}
			return nil, err
		}
		reversed = append(reversed, VendorShare{
			VendorID:   credit.VendorID,
			Rate:       credit.CommissionRate,
			Gross:      credit.GrossAmount,
			Commission: credit.CommissionAmount,
			Earning:    credit.Amount,
		})
	}

	var actor *outbox.ActorRef
	if actorID != nil {
		actor = &outbox.ActorRef{UserID: *actorID, Role: string(enums.RoleAdmin)}
	}
	if err := d.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCommissionReversed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actor,
		Data: payloads.CommissionReversedEvent{
			OrderID: order.ID,
			Shares:  sharePayloads(reversed),
		},
	}); err != nil {
		return nil, err
	}
	return reversed, nil
}

func (d *distributor) log(ctx context.Context, orderID, vendorID uuid.UUID, msg string) {
	if d.logg == nil {
		return
	}
	logCtx := d.logg.WithOrderID(ctx, orderID.String())
	logCtx = d.logg.WithField(logCtx, "vendor_id", vendorID.String())
	d.logg.Warn(logCtx, msg)
}

func uniqueVendorIDs(items []models.OrderItem) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.VendorID]; ok {
			continue
		}
		seen[item.VendorID] = struct{}{}
		ids = append(ids, item.VendorID)
	}
	return ids
}
