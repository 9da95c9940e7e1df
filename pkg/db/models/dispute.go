package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/pkg/enums"
)

// Dispute is a customer complaint about a paid order, resolved by an admin.
type Dispute struct {
	ID                  uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID             uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index" json:"orderId"`
	UserID              uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index" json:"userId"`
	Reason              string              `gorm:"column:reason;not null" json:"reason"`
	Status              enums.DisputeStatus `gorm:"column:status;type:varchar(16);not null" json:"status"`
	RefundAmount        decimal.Decimal     `gorm:"column:refund_amount;type:numeric(14,2);not null" json:"refundAmount"`
	ResolvedBy          *uuid.UUID          `gorm:"column:resolved_by;type:uuid" json:"resolvedBy"`
	AdminNote           *string             `gorm:"column:admin_note" json:"adminNote"`
	PreviousOrderStatus enums.OrderStatus   `gorm:"column:previous_order_status;type:varchar(16);not null" json:"previousOrderStatus"`
	ResolvedAt          *time.Time          `gorm:"column:resolved_at" json:"resolvedAt"`
	CreatedAt           time.Time           `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt           time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (d *Dispute) BeforeCreate(_ *gorm.DB) error {
	ensureID(&d.ID)
	return nil
}
