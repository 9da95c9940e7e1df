package payments

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/internal/orders"
	"github.com/angelmondragon/shophub-settlement/pkg/db"
	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/shophub-settlement/pkg/errors"
	"github.com/angelmondragon/shophub-settlement/pkg/gateways"
	"github.com/angelmondragon/shophub-settlement/pkg/logger"
	"github.com/angelmondragon/shophub-settlement/pkg/metrics"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox"
	"github.com/angelmondragon/shophub-settlement/pkg/types"
)

// Event is the kind of gateway callback.
type Event string

const (
	EventSuccess Event = "success"
	EventFail    Event = "fail"
	EventCancel  Event = "cancel"
	EventIPN     Event = "ipn"
)

// ParseEvent accepts the callback path segment.
func ParseEvent(value string) (Event, error) {
	switch e := Event(strings.ToLower(strings.TrimSpace(value))); e {
	case EventSuccess, EventFail, EventCancel, EventIPN:
		return e, nil
	}
	return "", fmt.Errorf("invalid callback event %q", value)
}

// Outcome is what a callback did to the order.
type Outcome string

const (
	OutcomePaid      Outcome = "paid"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeUnknown   Outcome = "unknown_reference"
	OutcomeInvalid   Outcome = "invalid"

	// OutcomeAwaitingIPN is a success redirect the gateway has not confirmed.
	OutcomeAwaitingIPN Outcome = "awaiting_ipn"
)

type InitiateInput struct {
	OrderID       uuid.UUID
	Gateway       enums.PaymentMethod
	Actor         types.Actor
	CustomerEmail string
}

type InitiateResult struct {
	OrderID     uuid.UUID           `json:"orderId"`
	Gateway     enums.PaymentMethod `json:"gateway"`
	Reference   string              `json:"reference"`
	RedirectURL string              `json:"redirectUrl"`
}

// Callback is the normalized gateway notification.
type Callback struct {
	Gateway       enums.PaymentMethod
	Event         Event
	Reference     string
	GatewayStatus string
	ValidationID  string
}

type CallbackResult struct {
	OrderID uuid.UUID
	Outcome Outcome
}

type transactionValidator interface {
	ValidateTransaction(ctx context.Context, valID string) (gateways.Validation, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type Service interface {
	Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error)
	HandleCallback(ctx context.Context, cb Callback) (*CallbackResult, error)
}

type ServiceParams struct {
	Attempts  Repository
	Orders    orders.Repository
	Lifecycle orders.Service
	Gateways  []gateways.Gateway

	// Validator re-checks SSLCommerz val_ids on IPN and success redirects
	// when VerifyIPN is set.
	Validator       transactionValidator
	VerifyIPN       bool
	CallbackBaseURL string

	Tx      txRunner
	Outbox  outbox.Emitter
	Metrics *metrics.SettlementMetrics
	Logger  *logger.Logger
}

type service struct {
	attempts        Repository
	orders          orders.Repository
	lifecycle       orders.Service
	gateways        map[enums.PaymentMethod]gateways.Gateway
	validator       transactionValidator
	verifyIPN       bool
	callbackBaseURL string
	tx              txRunner
	outbox          outbox.Emitter
	metrics         *metrics.SettlementMetrics
	logg            *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Attempts == nil:
		return nil, fmt.Errorf("payment attempt repository required")
	case params.Orders == nil:
		return nil, fmt.Errorf("order repository required")
	case params.Lifecycle == nil:
		return nil, fmt.Errorf("order service required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	registry := make(map[enums.PaymentMethod]gateways.Gateway, len(params.Gateways))
	for _, gw := range params.Gateways {
		if gw == nil {
			continue
		}
		registry[gw.Name()] = gw
	}
	return &service{
		attempts:        params.Attempts,
		orders:          params.Orders,
		lifecycle:       params.Lifecycle,
		gateways:        registry,
		validator:       params.Validator,
		verifyIPN:       params.VerifyIPN,
		callbackBaseURL: strings.TrimRight(params.CallbackBaseURL, "/"),
		tx:              params.Tx,
		outbox:          params.Outbox,
		metrics:         params.Metrics,
		logg:            params.Logger,
	}, nil
}

func (s *service) Initiate(ctx context.Context, input InitiateInput) (*InitiateResult, error) {
	if !input.Gateway.IsGateway() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway must be one of SSL, BKASH, NAGAD")
	}
	adapter, ok := s.gateways[input.Gateway]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway not configured")
	}

	order, err := s.orders.GetByID(ctx, input.OrderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if !input.Actor.Owns(order.UserID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.OrderStatus != enums.OrderStatusPlaced ||
		(order.PaymentStatus != enums.PaymentStatusPending && order.PaymentStatus != enums.PaymentStatusFailed) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order is not awaiting payment").
			WithDetails(map[string]any{
				"orderStatus":   order.OrderStatus,
				"paymentStatus": order.PaymentStatus,
			}).
			WithReason(pkgerrors.ReasonInvalidTransition)
	}

	reference := ulid.Make().String()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.attempts.WithTx(tx).Create(ctx, &models.PaymentAttempt{
			OrderID:   order.ID,
			Gateway:   input.Gateway,
			Reference: reference,
			Amount:    order.TotalAmount,
			Status:    enums.AttemptStatusInitiated,
		}); err != nil {
			return err
		}
		return s.orders.WithTx(tx).UpdatePaymentMethod(ctx, order.ID, input.Gateway)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment attempt")
	}

	logCtx := s.logg.WithOrderID(ctx, order.ID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{"gateway": input.Gateway, "reference": reference})

	result, err := adapter.Initiate(ctx, gateways.InitiateRequest{
		Reference:     reference,
		OrderID:       order.ID,
		Amount:        order.TotalAmount,
		Customer:      order.ShippingAddress,
		CustomerEmail: input.CustomerEmail,
		ItemCount:     len(order.Items),
		SuccessURL:    s.callbackURL(input.Gateway, EventSuccess, reference),
		FailURL:       s.callbackURL(input.Gateway, EventFail, reference),
		CancelURL:     s.callbackURL(input.Gateway, EventCancel, reference),
		IPNURL:        s.callbackURL(input.Gateway, EventIPN, reference),
	})
	if err == nil && !result.Success {
		err = fmt.Errorf("%s", result.FailureReason)
	}
	if err != nil {
		reason := err.Error()
		if markErr := s.attempts.UpdateStatus(ctx, reference, enums.AttemptStatusFailed, &reason); markErr != nil {
			s.logg.Error(logCtx, "failed to mark payment attempt failed", markErr)
		}
		s.logg.Warn(s.logg.WithField(logCtx, "failure_reason", reason), "gateway rejected payment initiation")
		if pkgerrors.IsCode(err, pkgerrors.CodeUpstream) {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeUpstream, err, "payment initiation failed")
	}

	if err := s.attempts.MarkOpened(ctx, reference, result.GatewayReference, result.RedirectURL); err != nil {
		s.logg.Error(logCtx, "failed to store gateway session", err)
	}
	s.logg.Info(logCtx, "payment initiated")
	return &InitiateResult{
		OrderID:     order.ID,
		Gateway:     input.Gateway,
		Reference:   reference,
		RedirectURL: result.RedirectURL,
	}, nil
}

func (s *service) callbackURL(gateway enums.PaymentMethod, event Event, reference string) string {
	q := url.Values{}
	q.Set("ref", reference)
	return fmt.Sprintf("%s/%s/%s?%s", s.callbackBaseURL, strings.ToLower(string(gateway)), event, q.Encode())
}
