package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	"github.com/angelmondragon/shophub-settlement/pkg/pagination"
)

// Repository manages persistence for vendor ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.VendorLedgerEntry) error
	ListByOrder(ctx context.Context, orderID uuid.UUID, entryType enums.LedgerEntryType) ([]models.VendorLedgerEntry, error)
	ListByVendor(ctx context.Context, vendorID uuid.UUID, params pagination.Params) ([]models.VendorLedgerEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.VendorLedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID, entryType enums.LedgerEntryType) ([]models.VendorLedgerEntry, error) {
	var entries []models.VendorLedgerEntry
	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND type = ?", orderID, entryType).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ListByVendor returns up to limit+1 rows, newest first.
func (r *repository) ListByVendor(ctx context.Context, vendorID uuid.UUID, params pagination.Params) ([]models.VendorLedgerEntry, error) {
	query, err := pagination.Apply(r.db.WithContext(ctx).Where("vendor_id = ?", vendorID), params)
	if err != nil {
		return nil, err
	}
	var entries []models.VendorLedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
