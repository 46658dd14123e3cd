package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/bazaarline/marketplace-backend/pkg/logger"
)

const (
	defaultExpiredRetention = 7 * 24 * time.Hour
	defaultPurgeBatch       = 500
	defaultPurgeMaxBatches  = 20
)

type expiredOrderPurger interface {
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type ExpiredOrderPurgeJobParams struct {
	Logger     *logger.Logger
	Repository expiredOrderPurger
	Retention  time.Duration
	BatchSize  int
	MaxBatches int
}

// NewExpiredOrderPurgeJob deletes expired order rows once they are older than
// the retention. Deletion is batched to keep each statement short.
func NewExpiredOrderPurgeJob(params ExpiredOrderPurgeJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultExpiredRetention
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultPurgeBatch
	}
	maxBatches := params.MaxBatches
	if maxBatches <= 0 {
		maxBatches = defaultPurgeMaxBatches
	}
	return &expiredOrderPurgeJob{
		logg:       params.Logger,
		repo:       params.Repository,
		retention:  retention,
		batch:      batch,
		maxBatches: maxBatches,
		now:        time.Now,
	}, nil
}

type expiredOrderPurgeJob struct {
	logg       *logger.Logger
	repo       expiredOrderPurger
	retention  time.Duration
	batch      int
	maxBatches int
	now        func() time.Time
}

func (j *expiredOrderPurgeJob) Name() string { return "expired-order-purge" }

func (j *expiredOrderPurgeJob) Run(ctx context.Context) (int64, error) {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	for i := 0; i < j.maxBatches; i++ {
		deleted, err := j.repo.DeleteExpiredBefore(ctx, cutoff, j.batch)
		if err != nil {
			return total, fmt.Errorf("purge expired orders: %w", err)
		}
		total += deleted
		if deleted < int64(j.batch) {
			break
		}
	}
	if total > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{"cutoff": cutoff, "rows_deleted": total}), "cron.expired_orders.purged")
	}
	return total, nil
}
