package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/bazaarline/marketplace-backend/internal/expiry"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
)

const (
	defaultStaleWindow = 5 * time.Minute
	defaultStaleGrace  = 2 * time.Minute
	defaultStaleBatch  = 100
)

type staleCodeFinder interface {
	FindStalePendingCodes(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

type groupSweeper interface {
	Sweep(ctx context.Context, code string) (expiry.SweepResult, error)
}

type StaleReservationJobParams struct {
	Logger     *logger.Logger
	Repository staleCodeFinder
	Sweeper    groupSweeper
	Window     time.Duration
	Grace      time.Duration
	BatchSize  int
}

// NewStaleReservationJob expires pending groups older than window plus grace.
// It backs up the per-group delayed job when that job was lost.
func NewStaleReservationJob(params StaleReservationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("expiry sweeper required")
	}
	window := params.Window
	if window <= 0 {
		window = defaultStaleWindow
	}
	grace := params.Grace
	if grace <= 0 {
		grace = defaultStaleGrace
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultStaleBatch
	}
	return &staleReservationJob{
		logg:    params.Logger,
		repo:    params.Repository,
		sweeper: params.Sweeper,
		age:     window + grace,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type staleReservationJob struct {
	logg    *logger.Logger
	repo    staleCodeFinder
	sweeper groupSweeper
	age     time.Duration
	batch   int
	now     func() time.Time
}

func (j *staleReservationJob) Name() string { return "stale-reservations" }

func (j *staleReservationJob) Run(ctx context.Context) (int64, error) {
	cutoff := j.now().UTC().Add(-j.age)
	codes, err := j.repo.FindStalePendingCodes(ctx, cutoff, j.batch)
	if err != nil {
		return 0, fmt.Errorf("find stale groups: %w", err)
	}

	var (
		expired int64
		errs    []error
	)
	for _, code := range codes {
		result, err := j.sweeper.Sweep(ctx, code)
		if err != nil {
			j.logg.Warn(j.logg.WithOrderCode(ctx, code), "cron.stale_reservations.sweep_failed", err)
			errs = append(errs, fmt.Errorf("sweep %s: %w", code, err))
			continue
		}
		expired += int64(result.ExpiredLines)
	}
	if len(codes) > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"groups":        len(codes),
			"lines_expired": expired,
			"failures":      len(errs),
		}), "cron.stale_reservations.swept")
	}
	return expired, multierr.Combine(errs...)
}
