package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/shophub-settlement/internal/orders"
	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/enums"
	"github.com/angelmondragon/shophub-settlement/pkg/logger"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox/payloads"
)

const (
	defaultPendingTTL  = 24 * time.Hour
	defaultExpiryBatch = 200
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type expirableReader interface {
	ListExpirable(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type unpaidCanceller interface {
	CancelUnpaid(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*models.Order, bool, error)
}

type OrderExpiryJobParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Orders    expirableReader
	Lifecycle unpaidCanceller
	Outbox    outbox.Emitter
	TTL       time.Duration
	BatchSize int
}

// NewOrderExpiryJob cancels gateway orders whose payment never completed and
// returns their stock.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Orders == nil:
		return nil, fmt.Errorf("order reader required")
	case params.Lifecycle == nil:
		return nil, fmt.Errorf("order lifecycle required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox emitter required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	return &orderExpiryJob{
		logg:      params.Logger,
		db:        params.DB,
		orders:    params.Orders,
		lifecycle: params.Lifecycle,
		outbox:    params.Outbox,
		ttl:       ttl,
		batch:     batch,
		now:       time.Now,
	}, nil
}

type orderExpiryJob struct {
	logg      *logger.Logger
	db        txRunner
	orders    expirableReader
	lifecycle unpaidCanceller
	outbox    outbox.Emitter
	ttl       time.Duration
	batch     int
	now       func() time.Time
}

func (j *orderExpiryJob) Name() string { return "pending-order-expiry" }

// Run expires one batch. Each order commits on its own so a single failure
// does not hold back the rest.
func (j *orderExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	rows, err := j.orders.ListExpirable(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query expirable orders: %w", err)
	}

	var errs error
	expired := 0
	for _, order := range rows {
		ok, err := j.expire(ctx, order)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", order.ID, err))
			continue
		}
		if ok {
			expired++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":     cutoff,
		"candidates": len(rows),
		"expired":    expired,
	})
	j.logg.Info(logCtx, "pending order expiry complete")
	return errs
}

func (j *orderExpiryJob) expire(ctx context.Context, order models.Order) (bool, error) {
	var applied bool
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		_, ok, err := j.lifecycle.CancelUnpaid(ctx, tx, order.ID)
		if err != nil || !ok {
			return err
		}
		applied = true
		return j.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderExpired,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderExpiredEvent{
				OrderID:   order.ID,
				CreatedAt: order.CreatedAt,
				ExpiredAt: j.now().UTC(),
			},
		})
	})
	return applied, err
}

var _ unpaidCanceller = (orders.Service)(nil)
