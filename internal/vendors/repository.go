package vendors

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	"github.com/angelmondragon/shophub-settlement/pkg/pagination"
)

// Repository persists vendors and owns the balance counter. Balances only move
// through AdjustBalance and DebitIfSufficient.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, vendor *models.Vendor) (*models.Vendor, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Vendor, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Vendor, error)
	List(ctx context.Context, status *enums.VendorStatus, params pagination.Params) ([]models.Vendor, error)
	AdjustBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error)
	DebitIfSufficient(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.VendorStatus) error
	UpdateCommissionRate(ctx context.Context, id uuid.UUID, rate decimal.Decimal) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create stores the vendor as given; a zero commission rate stays zero.
func (r *repository) Create(ctx context.Context, vendor *models.Vendor) (*models.Vendor, error) {
	if err := r.db.WithContext(ctx).Create(vendor).Error; err != nil {
		return nil, err
	}
	return vendor, nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	var vendor models.Vendor
	if err := r.db.WithContext(ctx).First(&vendor, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &vendor, nil
}

// GetByIDForUpdate row-locks the vendor on postgres; sqlite ignores the clause.
func (r *repository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	var vendor models.Vendor
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&vendor, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &vendor, nil
}

func (r *repository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Vendor, error) {
	var vendor models.Vendor
	if err := r.db.WithContext(ctx).First(&vendor, "user_id = ?", userID).Error; err != nil {
		return nil, err
	}
	return &vendor, nil
}

func (r *repository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Vendor, error) {
	if len(ids) == 0 {
		return []models.Vendor{}, nil
	}
	var vendors []models.Vendor
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&vendors).Error; err != nil {
		return nil, err
	}
	return vendors, nil
}

func (r *repository) List(ctx context.Context, status *enums.VendorStatus, params pagination.Params) ([]models.Vendor, error) {
	query := r.db.WithContext(ctx).Model(&models.Vendor{})
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	query, err := pagination.Apply(query, params)
	if err != nil {
		return nil, err
	}
	var vendors []models.Vendor
	if err := query.Find(&vendors).Error; err != nil {
		return nil, err
	}
	return vendors, nil
}

// AdjustBalance applies a signed delta in one statement and returns the balance
// read back inside the same transaction.
func (r *repository) AdjustBalance(ctx context.Context, id uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Vendor{}).
		Where("id = ?", id).
		UpdateColumn("balance", gorm.Expr("balance + ?", delta))
	if result.Error != nil {
		return decimal.Zero, result.Error
	}
	if result.RowsAffected == 0 {
		return decimal.Zero, gorm.ErrRecordNotFound
	}
	return r.balance(ctx, id)
}

// DebitIfSufficient subtracts amount only while the balance covers it. The
// boolean is false when the guard rejected the debit.
func (r *repository) DebitIfSufficient(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (decimal.Decimal, bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Vendor{}).
		Where("id = ? AND balance >= ?", id, amount).
		UpdateColumn("balance", gorm.Expr("balance - ?", amount))
	if result.Error != nil {
		return decimal.Zero, false, result.Error
	}
	if result.RowsAffected == 0 {
		return decimal.Zero, false, nil
	}
	balance, err := r.balance(ctx, id)
	return balance, err == nil, err
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.VendorStatus) error {
	return r.update(ctx, id, map[string]any{"status": status})
}

func (r *repository) UpdateCommissionRate(ctx context.Context, id uuid.UUID, rate decimal.Decimal) error {
	return r.update(ctx, id, map[string]any{"commission_rate": rate})
}

func (r *repository) update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	result := r.db.WithContext(ctx).Model(&models.Vendor{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) balance(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	var vendor models.Vendor
	if err := r.db.WithContext(ctx).Select("id", "balance").First(&vendor, "id = ?", id).Error; err != nil {
		return decimal.Zero, err
	}
	return vendor.Balance, nil
}
