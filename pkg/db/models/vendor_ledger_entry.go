package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/pkg/enums"
)

// VendorLedgerEntry records one signed vendor balance mutation. The composite
// unique index stops a second credit or reversal for the same order and vendor.
type VendorLedgerEntry struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	VendorID         uuid.UUID             `gorm:"column:vendor_id;type:uuid;not null;index;uniqueIndex:ux_vendor_ledger_order_vendor_type,priority:2" json:"vendorId"`
	OrderID          *uuid.UUID            `gorm:"column:order_id;type:uuid;uniqueIndex:ux_vendor_ledger_order_vendor_type,priority:1" json:"orderId"`
	Type             enums.LedgerEntryType `gorm:"column:type;type:varchar(32);not null;uniqueIndex:ux_vendor_ledger_order_vendor_type,priority:3" json:"type"`
	Amount           decimal.Decimal       `gorm:"column:amount;type:numeric(14,2);not null" json:"amount"`
	GrossAmount      decimal.Decimal       `gorm:"column:gross_amount;type:numeric(14,2);not null" json:"grossAmount"`
	CommissionAmount decimal.Decimal       `gorm:"column:commission_amount;type:numeric(14,2);not null" json:"commissionAmount"`
	CommissionRate   decimal.Decimal       `gorm:"column:commission_rate;type:numeric(5,2);not null" json:"commissionRate"`
	BalanceAfter     decimal.Decimal       `gorm:"column:balance_after;type:numeric(14,2);not null" json:"balanceAfter"`
	ActorUserID      *uuid.UUID            `gorm:"column:actor_user_id;type:uuid" json:"actorUserId"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (VendorLedgerEntry) TableName() string {
	return "vendor_ledger_entries"
}

func (e *VendorLedgerEntry) BeforeCreate(_ *gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
