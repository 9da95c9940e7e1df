package refunds

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	"github.com/angelmondragon/shophub-settlement/pkg/pagination"
)

// Repository persists refund records. Rows are append-only apart from the
// status fields set when a pending request is settled.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, refund *models.Refund) error
	List(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.Refund, error)
	SettlePending(ctx context.Context, orderID uuid.UUID, status enums.RefundStatus, note string, at time.Time) (int64, error)
}

// ListFilter narrows refund listings. Zero values mean no restriction.
type ListFilter struct {
	UserID  *uuid.UUID
	OrderID *uuid.UUID
	Status  *enums.RefundStatus
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

func (r *repository) Create(ctx context.Context, refund *models.Refund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *repository) List(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.Refund, error) {
	query := r.db.WithContext(ctx).Model(&models.Refund{})
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.OrderID != nil {
		query = query.Where("order_id = ?", *filter.OrderID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	query, err := pagination.Apply(query, params)
	if err != nil {
		return nil, err
	}
	var rows []models.Refund
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// SettlePending closes every PENDING request on the order.
func (r *repository) SettlePending(ctx context.Context, orderID uuid.UUID, status enums.RefundStatus, note string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("order_id = ? AND status = ?", orderID, enums.RefundStatusPending).
		Updates(map[string]any{
			"status":       status,
			"admin_note":   note,
			"processed_at": at,
		})
	return result.RowsAffected, result.Error
}
