// Package reservation turns a cart selection into a pending order group and
// arms its expiry job. Stock is validated here but only reserved at checkout.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarline/marketplace-backend/internal/expiry"
	"github.com/bazaarline/marketplace-backend/internal/orders"
	"github.com/bazaarline/marketplace-backend/pkg/db"
	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
	pkgerrors "github.com/bazaarline/marketplace-backend/pkg/errors"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
	"github.com/bazaarline/marketplace-backend/pkg/money"
	"github.com/bazaarline/marketplace-backend/pkg/outbox"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/payloads"
)

const (
	defaultWindow = 5 * time.Minute
	codeAttempts  = 3
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// ProductLoader reads the products a selection refers to.
type ProductLoader interface {
	FindByIDs(tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
}

type jobScheduler interface {
	Schedule(ctx context.Context, id string, payload any, delay time.Duration) error
}

// Input is an authenticated reservation request.
type Input struct {
	UserID        uuid.UUID
	CustomerEmail string
	Products      string
}

// Result summarizes the created order group.
type Result struct {
	Code       string    `json:"code"`
	Total      string    `json:"total"`
	Discount   string    `json:"discount"`
	OrderCount int       `json:"orderCount"`
	ExpiresAt  time.Time `json:"expiresAt"`
	TotalCents int64     `json:"-"`
}

type ServiceParams struct {
	Repository orders.Repository
	Products   ProductLoader
	TxRunner   txRunner
	Outbox     outboxPublisher
	Scheduler  jobScheduler
	Logger     *logger.Logger
	Window     time.Duration
}

type Service struct {
	repo      orders.Repository
	products  ProductLoader
	tx        txRunner
	outbox    outboxPublisher
	scheduler jobScheduler
	logg      *logger.Logger
	window    time.Duration
	now       func() time.Time
	newCode   func(time.Time) (string, error)
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, errors.New("orders repository required")
	}
	if params.Products == nil {
		return nil, errors.New("product loader required")
	}
	if params.TxRunner == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox publisher required")
	}
	if params.Scheduler == nil {
		return nil, errors.New("expiry scheduler required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Window <= 0 {
		params.Window = defaultWindow
	}
	return &Service{
		repo:      params.Repository,
		products:  params.Products,
		tx:        params.TxRunner,
		outbox:    params.Outbox,
		scheduler: params.Scheduler,
		logg:      params.Logger,
		window:    params.Window,
		now:       time.Now,
		newCode:   NewCode,
	}, nil
}

// Reserve validates the selection against live stock and creates the pending
// order group. The expiry job is armed inside the transaction so a failed
// enqueue leaves no orders behind.
func (s *Service) Reserve(ctx context.Context, input Input) (*Result, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	selections, err := ParseSelections(input.Products)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithUserID(ctx, input.UserID.String())

	for attempt := 1; ; attempt++ {
		result, err := s.reserveOnce(ctx, input, selections)
		if err == nil {
			s.logg.Info(s.logg.WithFields(ctx, map[string]any{
				"order_code":  result.Code,
				"order_count": result.OrderCount,
				"total_cents": result.TotalCents,
			}), "reservation.created")
			return result, nil
		}
		if !db.IsUniqueViolation(err, "") || attempt >= codeAttempts {
			return nil, err
		}
		s.logg.Warn(ctx, "reservation.code_collision", err)
	}
}

func (s *Service) reserveOnce(ctx context.Context, input Input, selections []Selection) (*Result, error) {
	now := s.now().UTC()
	code, err := s.newCode(now)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order code")
	}

	var result *Result
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ids := make([]uuid.UUID, 0, len(selections))
		for _, sel := range selections {
			ids = append(ids, sel.ProductID)
		}
		products, err := s.products.FindByIDs(tx, ids)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
		}
		if err := checkAvailability(selections, products); err != nil {
			return err
		}

		lines := make([]models.Order, 0, len(selections))
		amounts := make([]int64, 0, len(selections))
		for _, sel := range selections {
			p := products[sel.ProductID]
			lineTotal, err := money.LineTotal(p.PriceCents, p.ShippingCents, sel.Quantity)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "order amount out of range")
			}
			amounts = append(amounts, int64(lineTotal))
			lines = append(lines, models.Order{
				ID:            uuid.New(),
				Code:          code,
				UserID:        input.UserID,
				CustomerEmail: input.CustomerEmail,
				ProductID:     p.ID,
				MerchantID:    p.MerchantID,
				Quantity:      sel.Quantity,
				PriceCents:    p.PriceCents,
				ShippingCents: p.ShippingCents,
				Status:        enums.OrderStatusPending,
				CreatedAt:     now,
			})
		}
		total, err := money.Sum(amounts...)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "order amount out of range")
		}

		if err := s.repo.WithTx(tx).CreateBatch(ctx, lines); err != nil {
			if db.IsUniqueViolation(err, "") {
				return err
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order lines")
		}

		expiresAt := now.Add(s.window)
		event := outbox.OrderGroupEvent(enums.EventOrderCreated, code, &outbox.ActorRef{
			UserID: input.UserID,
			Role:   string(enums.UserRoleCustomer),
		}, payloads.OrderCreatedEvent{
			Code:       code,
			UserID:     input.UserID,
			TotalCents: int64(total),
			ExpiresAt:  expiresAt,
			Lines:      payloads.LinesFromOrders(lines),
		})
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order created")
		}

		// Last step before commit: if the enqueue fails nothing is persisted.
		if err := s.scheduler.Schedule(ctx, expiry.JobID(code), expiry.JobPayload{Code: code}, s.window); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "schedule order expiry")
		}

		result = &Result{
			Code:       code,
			Total:      total.Major(),
			Discount:   money.Cents(0).Major(),
			OrderCount: len(lines),
			ExpiresAt:  expiresAt,
			TotalCents: int64(total),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func checkAvailability(selections []Selection, products map[uuid.UUID]models.Product) error {
	var missing []string
	for _, sel := range selections {
		if _, ok := products[sel.ProductID]; !ok {
			missing = append(missing, sel.ProductID.String())
		}
	}
	if len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "some products were not found").
			WithDetails(map[string]any{"missing": missing})
	}

	var short []map[string]any
	for _, sel := range selections {
		p := products[sel.ProductID]
		if sel.Quantity > p.Inventory {
			short = append(short, map[string]any{
				"productId": p.ID,
				"name":      p.Name,
				"available": p.Inventory,
				"requested": sel.Quantity,
			})
		}
	}
	if len(short) > 0 {
		msg := "insufficient stock"
		if len(short) == 1 {
			msg = fmt.Sprintf("insufficient stock for %v", short[0]["name"])
		}
		return pkgerrors.New(pkgerrors.CodeConflict, msg).
			WithDetails(map[string]any{"products": short})
	}
	return nil
}
