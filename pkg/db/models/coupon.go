package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/pkg/enums"
)

// Coupon is a percentage discount with usage, window and scope limits.
type Coupon struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	Code            string            `gorm:"column:code;not null;uniqueIndex" json:"code"`
	DiscountPercent decimal.Decimal   `gorm:"column:discount_percent;type:numeric(5,2);not null" json:"discountPercent"`
	MinAmount       decimal.Decimal   `gorm:"column:min_amount;type:numeric(14,2);not null" json:"minAmount"`
	MaxUsage        int               `gorm:"column:max_usage;not null" json:"maxUsage"`
	UsedCount       int               `gorm:"column:used_count;not null" json:"usedCount"`
	Scope           enums.CouponScope `gorm:"column:scope;type:varchar(16);not null" json:"scope"`
	VendorID        *uuid.UUID        `gorm:"column:vendor_id;type:uuid" json:"vendorId"`
	ProductID       *uuid.UUID        `gorm:"column:product_id;type:uuid" json:"productId"`
	ValidFrom       time.Time         `gorm:"column:valid_from;not null" json:"validFrom"`
	ValidTill       time.Time         `gorm:"column:valid_till;not null" json:"validTill"`
	Active          bool              `gorm:"column:active;not null" json:"active"`
	CreatedBy       *uuid.UUID        `gorm:"column:created_by;type:uuid" json:"createdBy"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (c *Coupon) BeforeCreate(_ *gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
