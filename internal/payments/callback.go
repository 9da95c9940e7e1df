package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/internal/orders"
	"github.com/angelmondragon/shophub-settlement/pkg/db"
	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/gateways"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox/payloads"
)

// HandleCallback applies a gateway notification to the order it references.
// Unknown references and stale notifications are no-ops, never errors.
func (s *service) HandleCallback(ctx context.Context, cb Callback) (*CallbackResult, error) {
	cb.Reference = strings.TrimSpace(cb.Reference)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"gateway":   cb.Gateway,
		"event":     cb.Event,
		"reference": cb.Reference,
	})

	result, err := s.handle(logCtx, cb)
	if err != nil {
		s.metrics.ObserveCallback(string(cb.Gateway), string(cb.Event), "error")
		return nil, err
	}
	s.metrics.ObserveCallback(string(cb.Gateway), string(cb.Event), string(result.Outcome))
	return result, nil
}

func (s *service) handle(ctx context.Context, cb Callback) (*CallbackResult, error) {
	if cb.Reference == "" {
		s.logg.Warn(ctx, "callback without reference")
		return &CallbackResult{Outcome: OutcomeInvalid}, nil
	}

	attempt, orderID, err := s.resolve(ctx, cb.Gateway, cb.Reference)
	if err != nil {
		return nil, err
	}
	if orderID == uuid.Nil {
		s.logg.Warn(ctx, "callback for unknown reference")
		return &CallbackResult{Outcome: OutcomeUnknown}, nil
	}
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	switch cb.Event {
	case EventSuccess:
		if s.verifyIPN {
			return s.confirmAndPay(ctx, cb, attempt, orderID)
		}
		return s.applyPaid(ctx, cb, attempt, orderID)
	case EventIPN:
		if !gateways.IsValidStatus(cb.GatewayStatus) {
			return &CallbackResult{OrderID: orderID, Outcome: OutcomeIgnored}, nil
		}
		if s.verifyIPN && cb.Gateway == enums.PaymentMethodSSL {
			return s.confirmAndPay(ctx, cb, attempt, orderID)
		}
		return s.applyPaid(ctx, cb, attempt, orderID)
	case EventFail:
		return s.applyFailed(ctx, cb, attempt, orderID)
	case EventCancel:
		return s.applyCancelled(ctx, cb, attempt, orderID)
	}
	return &CallbackResult{OrderID: orderID, Outcome: OutcomeInvalid}, nil
}

// resolve finds the order behind a reference: our attempt reference first, then
// the provider's own id, then a bare order UUID.
func (s *service) resolve(ctx context.Context, gateway enums.PaymentMethod, reference string) (*models.PaymentAttempt, uuid.UUID, error) {
	attempt, err := s.attempts.GetByReference(ctx, reference)
	if err == nil {
		return attempt, attempt.OrderID, nil
	}
	if !db.IsNotFound(err) {
		return nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment attempt")
	}

	attempt, err = s.attempts.GetByGatewayReference(ctx, gateway, reference)
	if err == nil {
		return attempt, attempt.OrderID, nil
	}
	if !db.IsNotFound(err) {
		return nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment attempt")
	}

	id, parseErr := uuid.Parse(reference)
	if parseErr != nil {
		return nil, uuid.Nil, nil
	}
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, uuid.Nil, nil
		}
		return nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return nil, order.ID, nil
}

// confirmAndPay marks the order paid only after the gateway confirms the
// val_id belongs to this attempt. A success redirect from a gateway we cannot
// query changes nothing; its IPN settles the order.
func (s *service) confirmAndPay(ctx context.Context, cb Callback, attempt *models.PaymentAttempt, orderID uuid.UUID) (*CallbackResult, error) {
	if cb.Gateway != enums.PaymentMethodSSL || s.validator == nil {
		if cb.Event == EventSuccess {
			s.logg.Info(ctx, "success redirect awaits ipn")
			return &CallbackResult{OrderID: orderID, Outcome: OutcomeAwaitingIPN}, nil
		}
		s.logg.Warn(ctx, "ipn cannot be verified without a validator")
		return &CallbackResult{OrderID: orderID, Outcome: OutcomeIgnored}, nil
	}
	if strings.TrimSpace(cb.ValidationID) == "" {
		s.logg.Warn(ctx, "callback without val_id")
		return &CallbackResult{OrderID: orderID, Outcome: s.unconfirmed(cb)}, nil
	}

	validation, err := s.validator.ValidateTransaction(ctx, cb.ValidationID)
	if err != nil {
		return nil, err
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"validation_status": validation.Status,
		"validation_tran":   validation.TranID,
	})
	if !validation.Valid() {
		s.logg.Warn(logCtx, "callback failed gateway validation")
		return &CallbackResult{OrderID: orderID, Outcome: s.unconfirmed(cb)}, nil
	}
	if validation.TranID != "" && (attempt == nil || validation.TranID != attempt.Reference) {
		s.logg.Warn(logCtx, "validated transaction belongs to another attempt")
		return &CallbackResult{OrderID: orderID, Outcome: s.unconfirmed(cb)}, nil
	}
	if attempt != nil && validation.Amount.IsPositive() && validation.Amount.LessThan(attempt.Amount) {
		s.logg.Warn(s.logg.WithField(logCtx, "validated_amount", validation.Amount.String()), "validated amount below order total")
		return &CallbackResult{OrderID: orderID, Outcome: s.unconfirmed(cb)}, nil
	}
	return s.applyPaid(ctx, cb, attempt, orderID)
}

func (s *service) unconfirmed(cb Callback) Outcome {
	if cb.Event == EventSuccess {
		return OutcomeAwaitingIPN
	}
	return OutcomeIgnored
}

func (s *service) applyPaid(ctx context.Context, cb Callback, attempt *models.PaymentAttempt, orderID uuid.UUID) (*CallbackResult, error) {
	var paid *orders.PaidResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		paid, err = s.lifecycle.MarkPaid(ctx, tx, orderID, orders.PaidInput{Method: cb.Gateway, Reference: cb.Reference})
		if err != nil {
			return err
		}
		if paid.Outcome == orders.PaidApplied && attempt != nil {
			return s.attempts.WithTx(tx).UpdateStatus(ctx, attempt.Reference, enums.AttemptStatusSucceeded, nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch paid.Outcome {
	case orders.PaidApplied:
		s.metrics.IncDistribution(len(paid.Shares))
		s.logg.Info(s.logg.WithField(ctx, "vendor_credits", len(paid.Shares)), "order paid")
		return &CallbackResult{OrderID: orderID, Outcome: OutcomePaid}, nil
	case orders.PaidDuplicate:
		s.logg.Info(ctx, "duplicate paid callback")
		return &CallbackResult{OrderID: orderID, Outcome: OutcomeDuplicate}, nil
	}
	s.logg.Alert(ctx, "paid callback needs manual reconciliation", fmt.Errorf(
		"order is %s/%s", paid.Order.PaymentStatus, paid.Order.OrderStatus))
	return &CallbackResult{OrderID: orderID, Outcome: OutcomeIgnored}, nil
}

func (s *service) applyFailed(ctx context.Context, cb Callback, attempt *models.PaymentAttempt, orderID uuid.UUID) (*CallbackResult, error) {
	reason := failureReason(cb, "payment failed at gateway")
	applied := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		applied, err = s.lifecycle.MarkFailed(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if attempt != nil {
			if err := s.attempts.WithTx(tx).UpdateStatus(ctx, attempt.Reference, enums.AttemptStatusFailed, &reason); err != nil {
				return err
			}
		}
		if !applied {
			return nil
		}
		return s.emitPaymentFailed(ctx, tx, cb, orderID, reason)
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return &CallbackResult{OrderID: orderID, Outcome: OutcomeIgnored}, nil
	}
	s.logg.Info(ctx, "payment failed")
	return &CallbackResult{OrderID: orderID, Outcome: OutcomeFailed}, nil
}

func (s *service) applyCancelled(ctx context.Context, cb Callback, attempt *models.PaymentAttempt, orderID uuid.UUID) (*CallbackResult, error) {
	reason := failureReason(cb, "cancelled by customer")
	applied := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		_, applied, err = s.lifecycle.CancelUnpaid(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if attempt != nil {
			if err := s.attempts.WithTx(tx).UpdateStatus(ctx, attempt.Reference, enums.AttemptStatusCancelled, &reason); err != nil {
				return err
			}
		}
		if !applied {
			return nil
		}
		return s.emitPaymentFailed(ctx, tx, cb, orderID, reason)
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return &CallbackResult{OrderID: orderID, Outcome: OutcomeIgnored}, nil
	}
	s.logg.Info(ctx, "payment cancelled and stock released")
	return &CallbackResult{OrderID: orderID, Outcome: OutcomeCancelled}, nil
}

func (s *service) emitPaymentFailed(ctx context.Context, tx *gorm.DB, cb Callback, orderID uuid.UUID, reason string) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentFailed,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Data: payloads.PaymentFailedEvent{
			OrderID:   orderID,
			Gateway:   cb.Gateway,
			Reference: cb.Reference,
			Reason:    reason,
		},
	})
}

func failureReason(cb Callback, fallback string) string {
	if status := strings.TrimSpace(cb.GatewayStatus); status != "" {
		return status
	}
	return fallback
}
