package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/pkg/enums"
)

// PaymentAttempt records one gateway session opened for an order.
type PaymentAttempt struct {
	ID               uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID          uuid.UUID                  `gorm:"column:order_id;type:uuid;not null;index" json:"orderId"`
	Gateway          enums.PaymentMethod        `gorm:"column:gateway;type:varchar(16);not null" json:"gateway"`
	Reference        string                     `gorm:"column:reference;not null;uniqueIndex" json:"reference"`
	GatewayReference *string                    `gorm:"column:gateway_reference" json:"gatewayReference"`
	RedirectURL      *string                    `gorm:"column:redirect_url" json:"redirectURL"`
	Amount           decimal.Decimal            `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	Status           enums.PaymentAttemptStatus `gorm:"column:status;type:varchar(16);not null" json:"status"`
	FailureReason    *string                    `gorm:"column:failure_reason" json:"failureReason"`
	CreatedAt        time.Time                  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time                  `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (p *PaymentAttempt) BeforeCreate(_ *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
