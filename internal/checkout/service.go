package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarline/marketplace-backend/internal/checkout/helpers"
	"github.com/bazaarline/marketplace-backend/internal/inventory"
	"github.com/bazaarline/marketplace-backend/internal/orders"
	"github.com/bazaarline/marketplace-backend/pkg/config"
	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
	pkgerrors "github.com/bazaarline/marketplace-backend/pkg/errors"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
	"github.com/bazaarline/marketplace-backend/pkg/money"
	"github.com/bazaarline/marketplace-backend/pkg/stripe"
)

const (
	defaultWindow     = 5 * time.Minute
	defaultSessionTTL = 30 * time.Minute
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type productLoader interface {
	FindByIDs(tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
}

type stockReserver interface {
	ReserveAll(tx *gorm.DB, requests []inventory.ReserveRequest) ([]inventory.ReserveResult, error)
}

// PaymentGateway opens and reads hosted checkout sessions.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, req stripe.SessionRequest) (*stripe.Session, error)
	GetCheckoutSession(ctx context.Context, id string) (*stripe.Session, error)
}

// Service reserves stock for a pending order group and opens its payment
// session.
type Service interface {
	CreateSession(ctx context.Context, input SessionInput) (*SessionResult, error)
}

// SessionInput identifies the group and its buyer.
type SessionInput struct {
	Code          string
	UserID        uuid.UUID
	CustomerEmail string
}

// SessionResult is returned to the buyer to redirect to the payment page.
type SessionResult struct {
	SessionID     string    `json:"sessionId"`
	URL           string    `json:"url"`
	TotalAmount   string    `json:"totalAmount"`
	TotalShipping string    `json:"totalShipping"`
	ExpiresAt     time.Time `json:"expiresAt"`
	ItemCount     int       `json:"itemCount"`
	Reused        bool      `json:"reused"`
}

type ServiceParams struct {
	Repository orders.Repository
	Products   productLoader
	Inventory  stockReserver
	TxRunner   txRunner
	Gateway    PaymentGateway
	Logger     *logger.Logger
	Config     config.CheckoutConfig
}

type service struct {
	repo       orders.Repository
	products   productLoader
	inventory  stockReserver
	tx         txRunner
	gateway    PaymentGateway
	logg       *logger.Logger
	window     time.Duration
	sessionTTL time.Duration
	minimum    int64
	now        func() time.Time
}

// NewService builds the checkout session broker.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Products == nil {
		return nil, fmt.Errorf("product loader required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory reserver required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	window := params.Config.ReservationWindow
	if window <= 0 {
		window = defaultWindow
	}
	ttl := params.Config.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &service{
		repo:       params.Repository,
		products:   params.Products,
		inventory:  params.Inventory,
		tx:         params.TxRunner,
		gateway:    params.Gateway,
		logg:       params.Logger,
		window:     window,
		sessionTTL: ttl,
		minimum:    params.Config.MinimumAmountCents,
		now:        time.Now,
	}, nil
}

func (s *service) CreateSession(ctx context.Context, input SessionInput) (*SessionResult, error) {
	code := strings.TrimSpace(input.Code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order code required")
	}
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"order_code": code, "user_id": input.UserID.String()})

	lines, err := s.repo.FindPendingByCode(ctx, code, input.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending orders")
	}
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no pending orders found for this code")
	}
	now := s.now().UTC()
	if err := helpers.EnsureWithinWindow(lines, now, s.window); err != nil {
		return nil, err
	}

	totals := helpers.ComputeTotals(lines)
	if existing := s.reuseSession(ctx, lines, totals); existing != nil {
		return existing, nil
	}
	if totals.TotalCents < s.minimum {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total is below the minimum payable amount").
			WithDetails(map[string]any{
				"total":   money.Cents(totals.TotalCents).Major(),
				"minimum": money.Cents(s.minimum).Major(),
			})
	}

	var items []stripe.LineItem
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		items = items[:0]
		repo := s.repo.WithTx(tx)
		products, err := s.products.FindByIDs(tx, helpers.LineProductIDs(lines))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
		}
		var unreserved []models.Order
		for _, line := range lines {
			product, err := helpers.ValidateLineProduct(line, products)
			if err != nil {
				return err
			}
			if product.PriceCents != line.PriceCents || product.ShippingCents != line.ShippingCents {
				return pkgerrors.New(pkgerrors.CodeConflict, "price of "+product.Name+" changed, please place the order again").
					WithDetails(map[string]any{"productId": product.ID})
			}
			items = append(items, stripe.LineItem{
				Name:            product.Name,
				ImageURL:        product.Images[0],
				UnitAmountCents: line.PriceCents + line.ShippingCents,
				Quantity:        line.Quantity,
			})
			if !line.InventoryReserved {
				unreserved = append(unreserved, line)
			}
		}
		return s.reserveLines(ctx, tx, repo, unreserved, products, now)
	})
	if err != nil {
		return nil, err
	}

	expiresAt := now.Add(s.sessionTTL)
	session, err := s.gateway.CreateCheckoutSession(ctx, stripe.SessionRequest{
		OrderCode:          code,
		UserID:             input.UserID.String(),
		CustomerEmail:      customerEmail(input, lines),
		Items:              items,
		TotalAmountCents:   totals.TotalCents,
		TotalShippingCents: totals.ShippingCents,
		ExpiresAt:          expiresAt,
	})
	if err != nil {
		s.logg.Warn(ctx, "checkout.session.create_failed", err)
		return nil, err
	}
	if !session.ExpiresAt.IsZero() {
		expiresAt = session.ExpiresAt
	}

	_, err = s.repo.UpdateByCode(ctx, code, map[string]any{
		"stripe_session_id":  session.ID,
		"stripe_session_url": session.URL,
		"session_expires_at": expiresAt,
		"payment":            enums.PaymentMethodStripe,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store checkout session")
	}

	s.logg.Info(s.logg.WithField(ctx, "session_id", session.ID), "checkout.session.created")
	return &SessionResult{
		SessionID:     session.ID,
		URL:           session.URL,
		TotalAmount:   money.Cents(totals.TotalCents).Major(),
		TotalShipping: money.Cents(totals.ShippingCents).Major(),
		ExpiresAt:     expiresAt,
		ItemCount:     totals.LineCount,
	}, nil
}

// reserveLines claims each row first so two concurrent checkouts of the same
// group cannot both reserve it, then moves the units into reservation. Every
// short product is reported in one conflict and the transaction rolls back.
func (s *service) reserveLines(ctx context.Context, tx *gorm.DB, repo orders.Repository, lines []models.Order, products map[uuid.UUID]models.Product, now time.Time) error {
	if len(lines) == 0 {
		return nil
	}
	requests := make([]inventory.ReserveRequest, 0, len(lines))
	for _, line := range lines {
		err := repo.CompareAndUpdate(ctx, line.ID, orders.StateOf(line), map[string]any{
			"inventory_reserved": true,
			"reserved_at":        now,
		})
		if errors.Is(err, orders.ErrClaimLost) {
			return pkgerrors.New(pkgerrors.CodeConflict, "order is being processed, please retry").
				WithDetails(map[string]any{"orderId": line.ID})
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim order line")
		}
		requests = append(requests, inventory.ReserveRequest{ProductID: line.ProductID, Qty: line.Quantity})
	}

	results, err := s.inventory.ReserveAll(tx, requests)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve inventory")
	}
	var names []string
	var short []map[string]any
	for _, r := range results {
		if r.Reserved {
			continue
		}
		product := products[r.ProductID]
		names = append(names, product.Name)
		short = append(short, map[string]any{
			"productId": r.ProductID,
			"available": product.Inventory,
			"requested": r.Qty,
		})
	}
	if len(short) == 0 {
		return nil
	}
	sort.Strings(names)
	return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock for "+strings.Join(names, ", ")).
		WithDetails(map[string]any{"products": short})
}

// reuseSession returns the stored session when every line is already
// reserved and the provider still reports it open. Lookup failures fall
// through to opening a new session.
func (s *service) reuseSession(ctx context.Context, lines []models.Order, totals helpers.GroupTotals) *SessionResult {
	first := lines[0]
	if first.StripeSessionID == nil || *first.StripeSessionID == "" {
		return nil
	}
	for _, line := range lines {
		if !line.InventoryReserved {
			return nil
		}
	}
	session, err := s.gateway.GetCheckoutSession(ctx, *first.StripeSessionID)
	if err != nil {
		s.logg.Warn(ctx, "checkout.session.lookup_failed", err)
		return nil
	}
	if !session.IsOpen() {
		return nil
	}
	expiresAt := session.ExpiresAt
	if expiresAt.IsZero() && first.SessionExpiresAt != nil {
		expiresAt = *first.SessionExpiresAt
	}
	s.logg.Info(s.logg.WithField(ctx, "session_id", session.ID), "checkout.session.reused")
	return &SessionResult{
		SessionID:     session.ID,
		URL:           session.URL,
		TotalAmount:   money.Cents(totals.TotalCents).Major(),
		TotalShipping: money.Cents(totals.ShippingCents).Major(),
		ExpiresAt:     expiresAt,
		ItemCount:     totals.LineCount,
		Reused:        true,
	}
}

func customerEmail(input SessionInput, lines []models.Order) string {
	if input.CustomerEmail != "" {
		return input.CustomerEmail
	}
	return lines[0].CustomerEmail
}
