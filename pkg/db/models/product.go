package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Product struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	VendorID  uuid.UUID       `gorm:"column:vendor_id;type:uuid;not null;index" json:"vendorId"`
	Name      string          `gorm:"column:name;not null" json:"name"`
	Slug      string          `gorm:"column:slug;not null;uniqueIndex" json:"slug"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(14,2);not null" json:"price"`
	Stock     int             `gorm:"column:stock;not null" json:"stock"`
	IsActive  bool            `gorm:"column:is_active;not null" json:"isActive"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (p *Product) BeforeCreate(_ *gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
