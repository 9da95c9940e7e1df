package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregateVendor  OutboxAggregateType = "vendor"
	AggregateDispute OutboxAggregateType = "dispute"
	AggregateRefund  OutboxAggregateType = "refund"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateVendor,
	AggregateDispute,
	AggregateRefund,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a domain event relayed through the outbox.
type OutboxEventType string

const (
	EventOrderCreated          OutboxEventType = "order_created"
	EventOrderPaid             OutboxEventType = "order_paid"
	EventPaymentFailed         OutboxEventType = "payment_failed"
	EventOrderCancelled        OutboxEventType = "order_cancelled"
	EventOrderExpired          OutboxEventType = "order_expired"
	EventOrderStatusChanged    OutboxEventType = "order_status_changed"
	EventCommissionDistributed OutboxEventType = "commission_distributed"
	EventCommissionReversed    OutboxEventType = "commission_reversed"
	EventRefundRequested       OutboxEventType = "refund_requested"
	EventDisputeOpened         OutboxEventType = "dispute_opened"
	EventDisputeResolved       OutboxEventType = "dispute_resolved"
	EventVendorPayoutApproved  OutboxEventType = "vendor_payout_approved"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventPaymentFailed,
	EventOrderCancelled,
	EventOrderExpired,
	EventOrderStatusChanged,
	EventCommissionDistributed,
	EventCommissionReversed,
	EventRefundRequested,
	EventDisputeOpened,
	EventDisputeResolved,
	EventVendorPayoutApproved,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxEventTypes returns every supported event type.
func OutboxEventTypes() []OutboxEventType {
	out := make([]OutboxEventType, len(validOutboxEventTypes))
	copy(out, validOutboxEventTypes)
	return out
}
