package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/campusmart-backend/pkg/errors"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
)

const (
	defaultPendingExpiry   = 2 * time.Hour
	defaultExpiryBatchSize = 100
)

// OrderExpiryJobParams configure the stale pending order sweep.
type OrderExpiryJobParams struct {
	Logger    *logger.Logger
	Orders    pendingOrderReader
	Expirer   orderExpirer
	Expiry    time.Duration
	BatchSize int
}

type pendingOrderReader interface {
	FindPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type orderExpirer interface {
	ExpireOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

// NewOrderExpiryJob builds the cron job that cancels and refunds pending orders nobody
// picked up.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("pending orders reader required")
	}
	if params.Expirer == nil {
		return nil, fmt.Errorf("order expirer required")
	}
	expiry := params.Expiry
	if expiry <= 0 {
		expiry = defaultPendingExpiry
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatchSize
	}
	return &orderExpiryJob{
		logg:    params.Logger,
		orders:  params.Orders,
		expirer: params.Expirer,
		expiry:  expiry,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type orderExpiryJob struct {
	logg    *logger.Logger
	orders  pendingOrderReader
	expirer orderExpirer
	expiry  time.Duration
	batch   int
	now     func() time.Time
}

func (j *orderExpiryJob) Name() string { return "order-expiry" }

// Run expires one batch per cycle. Orders that moved on since the query are skipped.
func (j *orderExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.expiry)
	stale, err := j.orders.FindPendingBefore(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("query pending orders for expiry: %w", err)
	}

	var (
		errs    error
		expired int
		skipped int
	)
	for _, order := range stale {
		if _, err := j.expirer.ExpireOrder(ctx, order.ID); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition) {
				skipped++
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("expire order %s: %w", order.ID, err))
			continue
		}
		expired++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"found":   len(stale),
		"expired": expired,
		"skipped": skipped,
		"failed":  len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "order expiry loop complete")
	return errs
}
