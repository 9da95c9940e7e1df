package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	"github.com/angelmondragon/shophub-settlement/pkg/pagination"
)

// Repository defines persistence operations for orders and their items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	List(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.Order, error)
	Transition(ctx context.Context, id uuid.UUID, t Transition) (bool, error)
	UpdatePaymentMethod(ctx context.Context, id uuid.UUID, method enums.PaymentMethod) error
	ListExpirable(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

// ListFilter narrows order listings. Zero values mean no restriction.
type ListFilter struct {
	UserID        *uuid.UUID
	PaymentStatus *enums.PaymentStatus
	OrderStatus   *enums.OrderStatus
}

// Transition is a conditional status change: it only applies while the order
// is in one of the From states.
type Transition struct {
	FromPayment []enums.PaymentStatus
	FromOrder   []enums.OrderStatus
	ToPayment   *enums.PaymentStatus
	ToOrder     *enums.OrderStatus
	PaidAt      *time.Time
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

// Create inserts the order together with its items.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.get(r.db.WithContext(ctx), id)
}

func (r *repository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.get(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

func (r *repository) get(q *gorm.DB, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := q.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter, params pagination.Params) ([]models.Order, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})
	if filter.UserID != nil {
		query = query.Where("user_id = ?", *filter.UserID)
	}
	if filter.PaymentStatus != nil {
		query = query.Where("payment_status = ?", *filter.PaymentStatus)
	}
	if filter.OrderStatus != nil {
		query = query.Where("order_status = ?", *filter.OrderStatus)
	}
	query, err := pagination.Apply(query, params)
	if err != nil {
		return nil, err
	}
	var rows []models.Order
	if err := query.
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, t Transition) (bool, error) {
	updates := map[string]any{}
	if t.ToPayment != nil {
		updates["payment_status"] = *t.ToPayment
	}
	if t.ToOrder != nil {
		updates["order_status"] = *t.ToOrder
	}
	if t.PaidAt != nil {
		updates["paid_at"] = *t.PaidAt
	}
	if len(updates) == 0 {
		return false, nil
	}

	query := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id)
	if len(t.FromPayment) > 0 {
		query = query.Where("payment_status IN ?", t.FromPayment)
	}
	if len(t.FromOrder) > 0 {
		query = query.Where("order_status IN ?", t.FromOrder)
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) UpdatePaymentMethod(ctx context.Context, id uuid.UUID, method enums.PaymentMethod) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Update("payment_method", method).Error
}

// ListExpirable returns unpaid gateway orders created before cutoff, oldest first.
func (r *repository) ListExpirable(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	if err := r.db.WithContext(ctx).
		Where("payment_status IN ? AND order_status = ? AND payment_method <> ? AND created_at < ?",
			[]enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusFailed},
			enums.OrderStatusPlaced,
			enums.PaymentMethodCOD,
			cutoff,
		).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
