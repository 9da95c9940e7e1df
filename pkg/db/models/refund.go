package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/pkg/enums"
)

// Refund is an append-only record of money owed back to a customer.
type Refund struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID     uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index" json:"orderId"`
	UserID      uuid.UUID          `gorm:"column:user_id;type:uuid;not null;index" json:"userId"`
	VendorID    uuid.UUID          `gorm:"column:vendor_id;type:uuid;not null" json:"vendorId"`
	DisputeID   *uuid.UUID         `gorm:"column:dispute_id;type:uuid" json:"disputeId"`
	Amount      decimal.Decimal    `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	Reason      string             `gorm:"column:reason;not null" json:"reason"`
	Status      enums.RefundStatus `gorm:"column:status;type:varchar(16);not null" json:"status"`
	AdminNote   *string            `gorm:"column:admin_note" json:"adminNote"`
	ProcessedAt *time.Time         `gorm:"column:processed_at" json:"processedAt"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (r *Refund) BeforeCreate(_ *gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
