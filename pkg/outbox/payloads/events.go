package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/shophub-settlement/pkg/enums"
)

// OrderCreatedEvent is emitted once an order and its items are persisted.
type OrderCreatedEvent struct {
	OrderID        uuid.UUID           `json:"orderId"`
	UserID         uuid.UUID           `json:"userId"`
	VendorIDs      []uuid.UUID         `json:"vendorIds"`
	TotalAmount    decimal.Decimal     `json:"totalAmount"`
	DiscountAmount decimal.Decimal     `json:"discountAmount"`
	CouponCode     *string             `json:"couponCode,omitempty"`
	PaymentMethod  enums.PaymentMethod `json:"paymentMethod"`
}

// OrderPaidEvent marks the PENDING to PAID transition.
type OrderPaidEvent struct {
	OrderID       uuid.UUID           `json:"orderId"`
	PaymentMethod enums.PaymentMethod `json:"paymentMethod"`
	Reference     string              `json:"reference,omitempty"`
	Amount        decimal.Decimal     `json:"amount"`
	PaidAt        time.Time           `json:"paidAt"`
}

// PaymentFailedEvent covers gateway failures and cancellations.
type PaymentFailedEvent struct {
	OrderID   uuid.UUID           `json:"orderId"`
	Gateway   enums.PaymentMethod `json:"gateway"`
	Reference string              `json:"reference,omitempty"`
	Reason    string              `json:"reason,omitempty"`
}

// OrderCancelledEvent is emitted for admin cancellations.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID `json:"orderId"`
	Restocked   bool      `json:"restocked"`
	CancelledAt time.Time `json:"cancelledAt"`
}

// OrderExpiredEvent is emitted by the expiry job for abandoned gateway orders.
type OrderExpiredEvent struct {
	OrderID   uuid.UUID `json:"orderId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiredAt time.Time `json:"expiredAt"`
}

// OrderStatusChangedEvent reports an admin-driven status transition.
type OrderStatusChangedEvent struct {
	OrderID           uuid.UUID           `json:"orderId"`
	FromOrderStatus   enums.OrderStatus   `json:"fromOrderStatus"`
	ToOrderStatus     enums.OrderStatus   `json:"toOrderStatus"`
	FromPaymentStatus enums.PaymentStatus `json:"fromPaymentStatus"`
	ToPaymentStatus   enums.PaymentStatus `json:"toPaymentStatus"`
}

// VendorShare is a single vendor's slice of a distribution or reversal.
type VendorShare struct {
	VendorID   uuid.UUID       `json:"vendorId"`
	Gross      decimal.Decimal `json:"gross"`
	Commission decimal.Decimal `json:"commission"`
	Earning    decimal.Decimal `json:"earning"`
}

// CommissionDistributedEvent lists the vendor credits for a paid order.
type CommissionDistributedEvent struct {
	OrderID uuid.UUID     `json:"orderId"`
	Shares  []VendorShare `json:"shares"`
}

// CommissionReversedEvent lists the vendor debits after a refund.
type CommissionReversedEvent struct {
	OrderID uuid.UUID     `json:"orderId"`
	Shares  []VendorShare `json:"shares"`
}

// RefundRequestedEvent is emitted when a customer asks for a refund.
type RefundRequestedEvent struct {
	RefundID uuid.UUID       `json:"refundId"`
	OrderID  uuid.UUID       `json:"orderId"`
	UserID   uuid.UUID       `json:"userId"`
	VendorID uuid.UUID       `json:"vendorId"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason"`
}

// DisputeOpenedEvent is emitted when a customer opens a dispute.
type DisputeOpenedEvent struct {
	DisputeID    uuid.UUID       `json:"disputeId"`
	OrderID      uuid.UUID       `json:"orderId"`
	UserID       uuid.UUID       `json:"userId"`
	RefundAmount decimal.Decimal `json:"refundAmount"`
	Reason       string          `json:"reason"`
}

// DisputeResolvedEvent carries the admin decision.
type DisputeResolvedEvent struct {
	DisputeID    uuid.UUID           `json:"disputeId"`
	OrderID      uuid.UUID           `json:"orderId"`
	Status       enums.DisputeStatus `json:"status"`
	ResolvedBy   uuid.UUID           `json:"resolvedBy"`
	RefundID     *uuid.UUID          `json:"refundId,omitempty"`
	RefundAmount decimal.Decimal     `json:"refundAmount"`
	AdminNote    *string             `json:"adminNote,omitempty"`
}

// VendorPayoutApprovedEvent is emitted after a vendor balance is paid out.
type VendorPayoutApprovedEvent struct {
	VendorID     uuid.UUID       `json:"vendorId"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balanceAfter"`
	ApprovedBy   uuid.UUID       `json:"approvedBy"`
}
