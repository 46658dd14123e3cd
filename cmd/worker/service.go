package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/bazaarline/marketplace-backend/pkg/config"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
)

type runner interface {
	Run(ctx context.Context) error
}

type pinger func(context.Context) error

type ServiceParams struct {
	Config               *config.Config
	Logger               *logger.Logger
	DBPing               pinger
	RedisPing            pinger
	PubSubPing           pinger
	ExpiryWorker         runner
	NotificationConsumer runner
}

// Service runs the expiry queue worker next to the notification consumer
// and stops both when either fails.
type Service struct {
	cfg       *config.Config
	logg      *logger.Logger
	pings     map[string]pinger
	consumers map[string]runner
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DBPing == nil {
		return nil, errors.New("database client is required")
	}
	if params.RedisPing == nil {
		return nil, errors.New("redis client is required")
	}
	if params.ExpiryWorker == nil {
		return nil, errors.New("expiry worker is required")
	}

	pings := map[string]pinger{
		"database": params.DBPing,
		"redis":    params.RedisPing,
	}
	consumers := map[string]runner{"expiry": params.ExpiryWorker}
	if params.NotificationConsumer != nil {
		if params.PubSubPing == nil {
			return nil, errors.New("pubsub client is required for notifications")
		}
		pings["pubsub"] = params.PubSubPing
		consumers["notifications"] = params.NotificationConsumer
	}

	return &Service{
		cfg:       params.Config,
		logg:      params.Logger,
		pings:     pings,
		consumers: consumers,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, ping := range s.pings {
		if err := ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		name string
		err  error
	}
	results := make(chan result, len(s.consumers))
	for name, c := range s.consumers {
		go func() {
			results <- result{name: name, err: c.Run(runCtx)}
		}()
	}

	var errs error
	for range s.consumers {
		res := <-results
		cancel()
		if res.err != nil && !errors.Is(res.err, context.Canceled) {
			s.logg.Error(ctx, fmt.Sprintf("%s consumer stopped unexpectedly", res.name), res.err)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", res.name, res.err))
		}
	}
	if errs != nil {
		return errs
	}
	return ctx.Err()
}
