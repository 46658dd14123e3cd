package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bazaarline/marketplace-backend/internal/expiry"
	"github.com/bazaarline/marketplace-backend/internal/ledger"
	"github.com/bazaarline/marketplace-backend/internal/orders"
	"github.com/bazaarline/marketplace-backend/internal/realtime"
	"github.com/bazaarline/marketplace-backend/pkg/config"
	"github.com/bazaarline/marketplace-backend/pkg/db/models"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
	"github.com/bazaarline/marketplace-backend/pkg/outbox"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/payloads"
	"github.com/bazaarline/marketplace-backend/pkg/stripe"
)

const (
	StatusPaid             = "paid"
	StatusAlreadyProcessed = "already_processed"
	StatusRefunded         = "refunded"
	StatusRefundFailed     = "refund_failed"

	defaultWindow = 5 * time.Minute
	claimAttempts = 3
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// StockSettler moves units out of stock when a group settles.
type StockSettler interface {
	Release(tx *gorm.DB, productID uuid.UUID, qty int) error
	CommitReserved(tx *gorm.DB, productID uuid.UUID, qty int) error
	Sell(tx *gorm.DB, productID uuid.UUID, qty int) error
	MarkDepleted(tx *gorm.DB, productIDs []uuid.UUID) (int64, error)
}

type productLoader interface {
	FindByIDs(tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]models.Product, error)
}

type merchantCreditor interface {
	CreditSettlement(ctx context.Context, tx *gorm.DB, input ledger.CreditInput) ([]models.PaymentHistory, error)
}

// PaymentGateway reads paid sessions and refunds them.
type PaymentGateway interface {
	GetCheckoutSession(ctx context.Context, id string) (*stripe.Session, error)
	Refund(ctx context.Context, req stripe.RefundRequest) (string, error)
}

type refundLookup interface {
	FindRefund(ctx context.Context, code, paymentIntentID string) (*payloads.OrderRefundedEvent, error)
}

type jobCanceller interface {
	Cancel(ctx context.Context, id string) error
}

// MerchantNotifier pushes a live notification to a merchant.
type MerchantNotifier interface {
	NotifyMerchant(ctx context.Context, merchantID uuid.UUID, n realtime.Notification) error
}

// Service turns a captured payment or a cash-on-delivery confirmation into a
// settled order group.
type Service interface {
	ConfirmPayment(ctx context.Context, sessionID string) (*PaymentResult, error)
	ConfirmCashOnDelivery(ctx context.Context, code string, userID uuid.UUID) (*CODResult, error)
}

// PaymentResult is returned by the checkout-success endpoint and the webhook.
type PaymentResult struct {
	Status      string `json:"status"`
	OrderCode   string `json:"orderCode"`
	TotalAmount string `json:"totalAmount"`
	Reason      string `json:"reason,omitempty"`
	Message     string `json:"message,omitempty"`
}

// CODResult confirms a cash-on-delivery placement.
type CODResult struct {
	Message   string `json:"message"`
	OrderCode string `json:"orderCode"`
}

type ServiceParams struct {
	Repository orders.Repository
	Products   productLoader
	Stock      StockSettler
	Ledger     merchantCreditor
	TxRunner   txRunner
	Outbox     outboxPublisher
	Refunds    refundLookup
	Gateway    PaymentGateway
	Expiry     jobCanceller
	Notifier   MerchantNotifier
	Logger     *logger.Logger
	Config     config.CheckoutConfig
}

type service struct {
	repo     orders.Repository
	products productLoader
	stock    StockSettler
	ledger   merchantCreditor
	tx       txRunner
	outbox   outboxPublisher
	refunds  refundLookup
	gateway  PaymentGateway
	expiry   jobCanceller
	notifier MerchantNotifier
	logg     *logger.Logger
	window   time.Duration
	now      func() time.Time
}

// NewService wires the settlement engine. Expiry and Notifier are optional.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Products == nil {
		return nil, fmt.Errorf("product loader required")
	}
	if params.Stock == nil {
		return nil, fmt.Errorf("stock settler required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Refunds == nil {
		return nil, fmt.Errorf("refund lookup required")
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
	return &service{
		repo:     params.Repository,
		products: params.Products,
		stock:    params.Stock,
		ledger:   params.Ledger,
		tx:       params.TxRunner,
		outbox:   params.Outbox,
		refunds:  params.Refunds,
		gateway:  params.Gateway,
		expiry:   params.Expiry,
		notifier: params.Notifier,
		logg:     params.Logger,
		window:   window,
		now:      time.Now,
	}, nil
}

// afterCommit disarms the expiry job and tells each merchant about the
// group. Both are best effort.
func (s *service) afterCommit(ctx context.Context, code string, lines []models.Order, kind string, message string) {
	s.cancelExpiry(ctx, code)
	if s.notifier == nil {
		return
	}
	for _, merchantID := range merchantsOf(lines) {
		n := realtime.Notification{Type: kind, OrderCode: code, Message: message}
		if err := s.notifier.NotifyMerchant(ctx, merchantID, n); err != nil {
			s.logg.Warn(s.logg.WithMerchantID(ctx, merchantID.String()), "settlement.notify_failed", err)
		}
	}
}

func (s *service) cancelExpiry(ctx context.Context, code string) {
	if s.expiry == nil {
		return
	}
	if err := s.expiry.Cancel(ctx, expiry.JobID(code)); err != nil {
		s.logg.Warn(ctx, "settlement.expiry_cancel_failed", err)
	}
}

func merchantsOf(lines []models.Order) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(lines))
	out := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.MerchantID]; ok {
			continue
		}
		seen[line.MerchantID] = struct{}{}
		out = append(out, line.MerchantID)
	}
	return out
}

func productIDsOf(lines []models.Order) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}

var errShortfall = errors.New("settlement shortfall")
