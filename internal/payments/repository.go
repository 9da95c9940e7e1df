package payments

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
)

// Repository persists gateway checkout attempts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, attempt *models.PaymentAttempt) error
	GetByReference(ctx context.Context, reference string) (*models.PaymentAttempt, error)
	GetByGatewayReference(ctx context.Context, gateway enums.PaymentMethod, gatewayRef string) (*models.PaymentAttempt, error)
	MarkOpened(ctx context.Context, reference, gatewayRef, redirectURL string) error
	UpdateStatus(ctx context.Context, reference string, status enums.PaymentAttemptStatus, reason *string) error
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

func (r *repository) Create(ctx context.Context, attempt *models.PaymentAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *repository) GetByReference(ctx context.Context, reference string) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	if err := r.db.WithContext(ctx).First(&attempt, "reference = ?", reference).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

func (r *repository) GetByGatewayReference(ctx context.Context, gateway enums.PaymentMethod, gatewayRef string) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	if err := r.db.WithContext(ctx).
		Where("gateway = ? AND gateway_reference = ?", gateway, gatewayRef).
		Order("created_at DESC").
		First(&attempt).Error; err != nil {
		return nil, err
	}
	return &attempt, nil
}

// MarkOpened stores what the provider returned for a successfully opened session.
func (r *repository) MarkOpened(ctx context.Context, reference, gatewayRef, redirectURL string) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentAttempt{}).
		Where("reference = ?", reference).
		Updates(map[string]any{
			"gateway_reference": gatewayRef,
			"redirect_url":      redirectURL,
		}).Error
}

// UpdateStatus never overwrites a SUCCEEDED attempt.
func (r *repository) UpdateStatus(ctx context.Context, reference string, status enums.PaymentAttemptStatus, reason *string) error {
	updates := map[string]any{"status": status}
	if reason != nil {
		updates["failure_reason"] = *reason
	}
	return r.db.WithContext(ctx).
		Model(&models.PaymentAttempt{}).
		Where("reference = ? AND status <> ?", reference, enums.AttemptStatusSucceeded).
		Updates(updates).Error
}
