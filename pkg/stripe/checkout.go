package stripe

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/refund"
)

// Session metadata keys shared by checkout and settlement.
const (
	MetadataUserID        = "userId"
	MetadataOrderCode     = "orderCode"
	MetadataTotalAmount   = "totalAmount"
	MetadataTotalShipping = "totalShipping"
)

const (
	SessionStatusOpen     = "open"
	SessionStatusComplete = "complete"
	SessionStatusExpired  = "expired"
	PaymentStatusPaid     = "paid"
)

// LineItem mirrors one order line on the hosted checkout page.
type LineItem struct {
	Name            string
	ImageURL        string
	UnitAmountCents int64
	Quantity        int
}

// SessionRequest describes the hosted checkout session to open.
type SessionRequest struct {
	OrderCode          string
	UserID             string
	CustomerEmail      string
	Items              []LineItem
	TotalAmountCents   int64
	TotalShippingCents int64
	ExpiresAt          time.Time
}

// Session is the provider-agnostic view of a checkout session.
type Session struct {
	ID              string
	URL             string
	Status          string
	PaymentStatus   string
	PaymentIntentID string
	AmountTotal     int64
	ExpiresAt       time.Time
	Metadata        map[string]string
}

// IsOpen reports whether the buyer can still pay through this session.
func (s *Session) IsOpen() bool {
	return s != nil && s.Status == SessionStatusOpen
}

// IsPaid reports whether the provider captured the payment.
func (s *Session) IsPaid() bool {
	return s != nil && s.PaymentStatus == PaymentStatusPaid
}

// RefundRequest identifies the payment to compensate.
type RefundRequest struct {
	PaymentIntentID string
	OrderCode       string
	Reason          string
}

// CreateCheckoutSession opens a hosted payment session for an order group.
func (c *Client) CreateCheckoutSession(ctx context.Context, req SessionRequest) (*Session, error) {
	if c == nil {
		return nil, errors.New("stripe client not initialized")
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(c.checkout.successURL),
		CancelURL:         stripe.String(c.checkout.cancelURL),
		ExpiresAt:         stripe.Int64(req.ExpiresAt.Unix()),
		ClientReferenceID: stripe.String(req.OrderCode),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for _, item := range req.Items {
		productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.ImageURL != "" {
			productData.Images = []*string{stripe.String(item.ImageURL)}
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(c.checkout.currency),
				UnitAmount:  stripe.Int64(item.UnitAmountCents),
				ProductData: productData,
			},
			Quantity: stripe.Int64(int64(item.Quantity)),
		})
	}
	params.AddMetadata(MetadataUserID, req.UserID)
	params.AddMetadata(MetadataOrderCode, req.OrderCode)
	params.AddMetadata(MetadataTotalAmount, strconv.FormatInt(req.TotalAmountCents, 10))
	params.AddMetadata(MetadataTotalShipping, strconv.FormatInt(req.TotalShippingCents, 10))
	params.Context = ctx

	sess, err := session.New(params)
	if err != nil {
		return nil, ClassifyError(err, "create checkout session")
	}
	return toSession(sess), nil
}

// GetCheckoutSession fetches a session by id.
func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*Session, error) {
	if c == nil {
		return nil, errors.New("stripe client not initialized")
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := session.Get(id, params)
	if err != nil {
		return nil, ClassifyError(err, "retrieve checkout session")
	}
	return toSession(sess), nil
}

// RefundIdempotencyKey keys refund requests so a repeated refund of the same
// payment intent returns the original refund.
func RefundIdempotencyKey(paymentIntentID string) string {
	return "refund:" + paymentIntentID
}

// Refund issues a full refund against a captured payment intent.
func (c *Client) Refund(ctx context.Context, req RefundRequest) (string, error) {
	if c == nil {
		return "", errors.New("stripe client not initialized")
	}
	if req.PaymentIntentID == "" {
		return "", errors.New("payment intent id required for refund")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentIntentID),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.AddMetadata(MetadataOrderCode, req.OrderCode)
	if req.Reason != "" {
		params.AddMetadata("refundReason", req.Reason)
	}
	params.SetIdempotencyKey(RefundIdempotencyKey(req.PaymentIntentID))
	params.Context = ctx
	r, err := refund.New(params)
	if err != nil {
		return "", ClassifyError(err, "create refund")
	}
	return r.ID, nil
}

func toSession(s *stripe.CheckoutSession) *Session {
	if s == nil {
		return nil
	}
	out := &Session{
		ID:            s.ID,
		URL:           s.URL,
		Status:        string(s.Status),
		PaymentStatus: string(s.PaymentStatus),
		AmountTotal:   s.AmountTotal,
		Metadata:      s.Metadata,
	}
	if s.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	return out
}
