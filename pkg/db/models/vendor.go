package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/pkg/enums"
)

// DefaultCommissionRate is the rate a new vendor application starts with.
var DefaultCommissionRate = decimal.NewFromInt(10)

// Vendor is a seller whose balance accrues earnings from paid orders.
type Vendor struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID         uuid.UUID          `gorm:"column:user_id;type:uuid;not null;uniqueIndex" json:"userId"`
	ShopName       string             `gorm:"column:shop_name;not null" json:"shopName"`
	Phone          *string            `gorm:"column:phone" json:"phone,omitempty"`
	Address        *string            `gorm:"column:address" json:"address,omitempty"`
	CommissionRate decimal.Decimal    `gorm:"column:commission_rate;type:numeric(5,2);not null" json:"commissionRate"`
	Balance        decimal.Decimal    `gorm:"column:balance;type:numeric(14,2);not null" json:"balance"`
	Status         enums.VendorStatus `gorm:"column:status;type:varchar(16);not null" json:"status"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (v *Vendor) BeforeCreate(_ *gorm.DB) error {
	ensureID(&v.ID)
	if v.Status == "" {
		v.Status = enums.VendorStatusPending
	}
	return nil
}
