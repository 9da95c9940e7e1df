package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/shophub-settlement/internal/payments"
	"github.com/angelmondragon/shophub-settlement/pkg/logger"
	"github.com/angelmondragon/shophub-settlement/pkg/redis"
)

const (
	claimScope  = "payment-callback"
	claimMarker = "processing"
)

// IdempotencyGuard remembers which gateway callbacks were already applied so
// repeated deliveries short-circuit before touching the database.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &IdempotencyGuard{store: store, ttl: ttl}, nil
}

func (g *IdempotencyGuard) key(cb payments.Callback) string {
	id := strings.ToLower(string(cb.Gateway)) + ":" + string(cb.Event) + ":" + cb.Reference
	return g.store.IdempotencyKey(claimScope, id)
}

// Claim reserves the callback. It returns false and the previously recorded
// order id when another delivery already claimed it.
func (g *IdempotencyGuard) Claim(ctx context.Context, cb payments.Callback) (bool, uuid.UUID, error) {
	if cb.Reference == "" {
		return false, uuid.Nil, errors.New("callback reference is required")
	}
	key := g.key(cb)
	set, err := g.store.SetNX(ctx, key, claimMarker, g.ttl)
	if err != nil {
		return false, uuid.Nil, fmt.Errorf("set idempotency key: %w", err)
	}
	if set {
		return true, uuid.Nil, nil
	}
	stored, err := g.store.Get(ctx, key)
	if err != nil && !errors.Is(err, redis.ErrNil) {
		return false, uuid.Nil, fmt.Errorf("get idempotency key: %w", err)
	}
	orderID, _ := uuid.Parse(stored)
	return false, orderID, nil
}

// Complete records the order the callback resolved to.
func (g *IdempotencyGuard) Complete(ctx context.Context, cb payments.Callback, orderID uuid.UUID) error {
	return g.store.Set(ctx, g.key(cb), orderID.String(), g.ttl)
}

// Release drops the claim so the gateway's retry is processed again.
func (g *IdempotencyGuard) Release(ctx context.Context, cb payments.Callback) error {
	return g.store.Del(ctx, g.key(cb))
}

// GuardedHandler deduplicates callbacks in front of a payments.Service.
// Redis failures degrade to unguarded processing; the order state machine
// still rejects replays.
type GuardedHandler struct {
	next  payments.Service
	guard *IdempotencyGuard
	logg  *logger.Logger
}

func NewGuardedHandler(next payments.Service, guard *IdempotencyGuard, logg *logger.Logger) (*GuardedHandler, error) {
	if next == nil {
		return nil, errors.New("payment service is required")
	}
	return &GuardedHandler{next: next, guard: guard, logg: logg}, nil
}

func (h *GuardedHandler) Initiate(ctx context.Context, input payments.InitiateInput) (*payments.InitiateResult, error) {
	return h.next.Initiate(ctx, input)
}

func (h *GuardedHandler) HandleCallback(ctx context.Context, cb payments.Callback) (*payments.CallbackResult, error) {
	if h.guard == nil || cb.Reference == "" {
		return h.next.HandleCallback(ctx, cb)
	}

	claimed, orderID, err := h.guard.Claim(ctx, cb)
	if err != nil {
		h.warn(ctx, cb, "callback idempotency check failed", err)
		return h.next.HandleCallback(ctx, cb)
	}
	if !claimed {
		return &payments.CallbackResult{OrderID: orderID, Outcome: payments.OutcomeDuplicate}, nil
	}

	result, err := h.next.HandleCallback(ctx, cb)
	if err != nil || !settled(result) {
		if relErr := h.guard.Release(ctx, cb); relErr != nil {
			h.warn(ctx, cb, "release callback claim", relErr)
		}
		return result, err
	}
	if err := h.guard.Complete(ctx, cb, result.OrderID); err != nil {
		h.warn(ctx, cb, "record callback claim", err)
	}
	return result, nil
}

// settled reports whether a retry of the same callback could change nothing.
func settled(result *payments.CallbackResult) bool {
	if result == nil {
		return false
	}
	switch result.Outcome {
	case payments.OutcomePaid, payments.OutcomeDuplicate, payments.OutcomeFailed, payments.OutcomeCancelled:
		return true
	}
	return false
}

func (h *GuardedHandler) warn(ctx context.Context, cb payments.Callback, msg string, err error) {
	if h.logg == nil {
		return
	}
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"gateway":   string(cb.Gateway),
		"event":     string(cb.Event),
		"reference": cb.Reference,
		"error":     err.Error(),
	})
	h.logg.Warn(logCtx, msg)
}
