// Package expiry releases reservations of order groups that were not settled
// inside the reservation window.
package expiry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarline/marketplace-backend/internal/orders"
	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
	pkgerrors "github.com/bazaarline/marketplace-backend/pkg/errors"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
	"github.com/bazaarline/marketplace-backend/pkg/outbox"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/payloads"
	"github.com/bazaarline/marketplace-backend/pkg/queue"
)

const (
	jobPrefix        = "order:"
	maxClaimAttempts = 3
)

// JobID is the delayed-queue id of the expiry job for an order group.
func JobID(code string) string {
	return jobPrefix + code
}

// JobPayload is the body stored with each expiry job.
type JobPayload struct {
	Code string `json:"code"`
}

// Scheduler is the delayed-queue surface used to arm and disarm expiry jobs.
type Scheduler interface {
	Schedule(ctx context.Context, id string, payload any, delay time.Duration) error
	Cancel(ctx context.Context, id string) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Releaser hands reserved units back to available inventory.
type Releaser interface {
	Release(tx *gorm.DB, productID uuid.UUID, qty int) error
}

type SweeperParams struct {
	Repository orders.Repository
	TxRunner   txRunner
	Inventory  Releaser
	Outbox     outboxPublisher
	Logger     *logger.Logger
}

// Sweeper expires pending, unpaid lines of a group. Settled lines are excluded
// by the status filter and by the per-line claim, so it is safe to run more
// than once or after settlement.
type Sweeper struct {
	repo      orders.Repository
	tx        txRunner
	inventory Releaser
	outbox    outboxPublisher
	logg      *logger.Logger
	now       func() time.Time
}

// SweepResult reports what one sweep changed.
type SweepResult struct {
	Code          string
	ExpiredLines  int
	ReleasedUnits int
}

func NewSweeper(params SweeperParams) (*Sweeper, error) {
	if params.Repository == nil {
		return nil, errors.New("orders repository required")
	}
	if params.TxRunner == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Inventory == nil {
		return nil, errors.New("inventory releaser required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	return &Sweeper{
		repo:      params.Repository,
		tx:        params.TxRunner,
		inventory: params.Inventory,
		outbox:    params.Outbox,
		logg:      params.Logger,
		now:       time.Now,
	}, nil
}

// Sweep expires whatever is still pending for code.
func (s *Sweeper) Sweep(ctx context.Context, code string) (SweepResult, error) {
	code = strings.TrimSpace(code)
	result := SweepResult{Code: code}
	if code == "" {
		return result, pkgerrors.New(pkgerrors.CodeValidation, "order code required")
	}
	ctx = s.logg.WithOrderCode(ctx, code)

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		result = SweepResult{Code: code}
		repo := s.repo.WithTx(tx)
		lines, err := repo.FindPendingUnpaidByCode(ctx, code)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending lines")
		}
		if len(lines) == 0 {
			return nil
		}

		now := s.now().UTC()
		expired := make([]models.Order, 0, len(lines))
		for _, line := range lines {
			line, claimed, err := s.claim(ctx, repo, line, now)
			if err != nil {
				return err
			}
			if !claimed {
				continue
			}
			if line.InventoryReserved {
				if err := s.inventory.Release(tx, line.ProductID, line.Quantity); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release reserved inventory").
						WithDetails(map[string]any{"productId": line.ProductID})
				}
				result.ReleasedUnits += line.Quantity
			}
			expired = append(expired, line)
		}
		result.ExpiredLines = len(expired)
		if len(expired) == 0 {
			return nil
		}

		event := outbox.OrderGroupEvent(enums.EventOrderExpired, code, nil, payloads.OrderExpiredEvent{
			Code:      code,
			UserID:    expired[0].UserID,
			ExpiredAt: now,
			Released:  result.ReleasedUnits,
			Lines:     payloads.LinesFromOrders(expired),
		})
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order expired")
		}
		return nil
	})
	if err != nil {
		return SweepResult{Code: code}, err
	}

	if result.ExpiredLines > 0 {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"expired_lines":  result.ExpiredLines,
			"released_units": result.ReleasedUnits,
		}), "expiry.group.expired")
	} else {
		s.logg.Debug(ctx, "expiry.group.noop")
	}
	return result, nil
}

// claim moves one line to expired. A lost claim re-reads the row: a line that
// left pending is skipped, one that is still pending is claimed again against
// its current state. The returned line carries the state that was claimed.
func (s *Sweeper) claim(ctx context.Context, repo orders.Repository, line models.Order, now time.Time) (models.Order, bool, error) {
	updates := map[string]any{
		"status":             enums.OrderStatusExpired,
		"expired_at":         now,
		"inventory_reserved": false,
	}
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		err := repo.CompareAndUpdate(ctx, line.ID, orders.StateOf(line), updates)
		if err == nil {
			return line, true, nil
		}
		if !errors.Is(err, orders.ErrClaimLost) {
			return line, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire order line")
		}

		fresh, err := repo.FindPendingUnpaidByCode(ctx, line.Code)
		if err != nil {
			return line, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload pending lines")
		}
		current, ok := findLine(fresh, line.ID)
		if !ok {
			return line, false, nil
		}
		line = current
	}
	return line, false, pkgerrors.New(pkgerrors.CodeConflict, "order line kept changing during expiry").
		WithDetails(map[string]any{"orderId": line.ID})
}

func findLine(lines []models.Order, id uuid.UUID) (models.Order, bool) {
	for _, l := range lines {
		if l.ID == id {
			return l, true
		}
	}
	return models.Order{}, false
}

// HandleJob adapts Sweep to the delayed queue. Returned errors are retried
// with backoff by the queue worker.
func (s *Sweeper) HandleJob(ctx context.Context, job queue.Job) error {
	var payload JobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode expiry payload for %s: %w", job.ID, err)
	}
	if payload.Code == "" {
		payload.Code = strings.TrimPrefix(job.ID, jobPrefix)
	}
	_, err := s.Sweep(ctx, payload.Code)
	return err
}
