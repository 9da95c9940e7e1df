// Package registry maps outbox event types to their Pub/Sub topic and payload
// schema, and decodes stored rows before the relay publishes them.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/shophub-settlement/pkg/config"
	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox/payloads"
	"github.com/google/uuid"
)

// supportedVersion is the newest envelope version this build can decode.
const supportedVersion = 1

type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is a validated outbox row with its payload decoded.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that will never publish, so the relay
// dead-letters it instead of retrying.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func rejectf(format string, args ...any) error {
	return NonRetryableError{Err: fmt.Errorf(format, args...)}
}

func describe[T any](eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:      eventType,
		AggregateType:  aggregate,
		Topic:          topic,
		PayloadFactory: func() any { return new(T) },
	}
}

// NewEventRegistry routes order lifecycle events to the orders topic and
// money movements (commission, refunds, disputes, payouts) to the settlement topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	orders, settlement := cfg.OrdersTopic, cfg.SettlementTopic
	if orders == "" || settlement == "" {
		return nil, errors.New("orders and settlement topics are required")
	}

	descriptors := []EventDescriptor{
		describe[payloads.OrderCreatedEvent](enums.EventOrderCreated, enums.AggregateOrder, orders),
		describe[payloads.OrderPaidEvent](enums.EventOrderPaid, enums.AggregateOrder, orders),
		describe[payloads.PaymentFailedEvent](enums.EventPaymentFailed, enums.AggregateOrder, orders),
		describe[payloads.OrderCancelledEvent](enums.EventOrderCancelled, enums.AggregateOrder, orders),
		describe[payloads.OrderExpiredEvent](enums.EventOrderExpired, enums.AggregateOrder, orders),
		describe[payloads.OrderStatusChangedEvent](enums.EventOrderStatusChanged, enums.AggregateOrder, orders),

		describe[payloads.CommissionDistributedEvent](enums.EventCommissionDistributed, enums.AggregateOrder, settlement),
		describe[payloads.CommissionReversedEvent](enums.EventCommissionReversed, enums.AggregateOrder, settlement),
		describe[payloads.RefundRequestedEvent](enums.EventRefundRequested, enums.AggregateRefund, settlement),
		describe[payloads.DisputeOpenedEvent](enums.EventDisputeOpened, enums.AggregateDispute, settlement),
		describe[payloads.DisputeResolvedEvent](enums.EventDisputeResolved, enums.AggregateDispute, settlement),
		describe[payloads.VendorPayoutApprovedEvent](enums.EventVendorPayoutApproved, enums.AggregateVendor, settlement),
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(descriptors))}
	for _, desc := range descriptors {
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

func (r *EventRegistry) Descriptor(eventType enums.OutboxEventType) (EventDescriptor, bool) {
	desc, ok := r.entries[eventType]
	return desc, ok
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is a NonRetryableError: a malformed row stays malformed.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, rejectf("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, rejectf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, rejectf("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, rejectf("decode envelope: %w", err)
	}
	switch {
	case envelope.Version < 1 || envelope.Version > supportedVersion:
		return nil, rejectf("envelope version %d not supported", envelope.Version)
	case envelope.Type != "" && envelope.Type != event.EventType:
		return nil, rejectf("envelope type %s does not match row type %s", envelope.Type, event.EventType)
	}

	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, rejectf("payload missing for %s", event.EventType)
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, rejectf("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
