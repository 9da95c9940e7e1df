package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	"github.com/angelmondragon/shophub-settlement/pkg/types"
)

// Order is a customer purchase. Items are snapshotted at creation and never change.
type Order struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID          uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index" json:"userId"`
	Items           []OrderItem           `gorm:"foreignKey:OrderID" json:"items"`
	Subtotal        decimal.Decimal       `gorm:"column:subtotal;type:numeric(14,2);not null" json:"subtotal"`
	ShippingCost    decimal.Decimal       `gorm:"column:shipping_cost;type:numeric(14,2);not null" json:"shippingCost"`
	DiscountAmount  decimal.Decimal       `gorm:"column:discount_amount;type:numeric(14,2);not null" json:"discountAmount"`
	CouponCode      *string               `gorm:"column:coupon_code" json:"couponCode"`
	TotalAmount     decimal.Decimal       `gorm:"column:total_amount;type:numeric(14,2);not null" json:"totalAmount"`
	PaymentMethod   enums.PaymentMethod   `gorm:"column:payment_method;type:varchar(16);not null" json:"paymentMethod"`
	PaymentStatus   enums.PaymentStatus   `gorm:"column:payment_status;type:varchar(16);not null;index" json:"paymentStatus"`
	OrderStatus     enums.OrderStatus     `gorm:"column:order_status;type:varchar(16);not null;index" json:"orderStatus"`
	ShippingAddress types.ShippingAddress `gorm:"column:shipping_address;type:jsonb;not null" json:"shippingAddress"`
	PaidAt          *time.Time            `gorm:"column:paid_at" json:"paidAt"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime;index" json:"createdAt"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (o *Order) BeforeCreate(_ *gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// PrimaryVendorID is the vendor of the first line; refunds are attributed to it.
func (o *Order) PrimaryVendorID() uuid.UUID {
	if o == nil || len(o.Items) == 0 {
		return uuid.Nil
	}
	return o.Items[0].VendorID
}

// OrderItem is the immutable per-line snapshot of price and vendor at order time.
type OrderItem struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID   uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index" json:"orderId"`
	Position  int             `gorm:"column:position;not null" json:"position"`
	ProductID uuid.UUID       `gorm:"column:product_id;type:uuid;not null" json:"productId"`
	VendorID  uuid.UUID       `gorm:"column:vendor_id;type:uuid;not null" json:"vendorId"`
	Name      string          `gorm:"column:name;not null" json:"name"`
	Price     decimal.Decimal `gorm:"column:price;type:numeric(14,2);not null" json:"price"`
	Quantity  int             `gorm:"column:quantity;not null" json:"quantity"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (i *OrderItem) BeforeCreate(_ *gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
