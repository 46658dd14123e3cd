package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/bazaarline/marketplace-backend/api/middleware"
	"github.com/bazaarline/marketplace-backend/api/responses"
	"github.com/bazaarline/marketplace-backend/api/validators"
	checkoutsvc "github.com/bazaarline/marketplace-backend/internal/checkout"
	"github.com/bazaarline/marketplace-backend/internal/reservation"
	"github.com/bazaarline/marketplace-backend/internal/settlement"
	pkgerrors "github.com/bazaarline/marketplace-backend/pkg/errors"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
)

const maxCodeLength = 64

// OrderReserver creates pending order groups.
type OrderReserver interface {
	Reserve(ctx context.Context, input reservation.Input) (*reservation.Result, error)
}

type outcomeRecorder interface {
	Inc(stage, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) Inc(string, string) {}

func recorderOrNop(rec outcomeRecorder) outcomeRecorder {
	if rec == nil {
		return nopRecorder{}
	}
	return rec
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if typed := pkgerrors.As(err); typed != nil {
		return string(typed.Code())
	}
	return string(pkgerrors.CodeInternal)
}

// CreateOrder reserves a pending order group for the caller's selection.
func CreateOrder(svc OrderReserver, rec outcomeRecorder, logg *logger.Logger) http.HandlerFunc {
	rec = recorderOrNop(rec)
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reservation service unavailable"))
			return
		}

		userID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Reserve(r.Context(), reservation.Input{
			UserID:        userID,
			CustomerEmail: middleware.EmailFromContext(r.Context()),
			Products:      validators.SanitizeString(payload.Products, 0),
		})
		rec.Inc("reservation", outcomeOf(err))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

type createOrderRequest struct {
	Products string `json:"products" validate:"required,max=8192"`
}

// CreateCheckoutSession reserves stock for the group and opens its payment page.
func CreateCheckoutSession(svc checkoutsvc.Service, rec outcomeRecorder, logg *logger.Logger) http.HandlerFunc {
	rec = recorderOrNop(rec)
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		userID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload orderCodeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderCode(ctx, payload.Code)
		}
		result, err := svc.CreateSession(ctx, checkoutsvc.SessionInput{
			Code:          validators.SanitizeString(payload.Code, maxCodeLength),
			UserID:        userID,
			CustomerEmail: middleware.EmailFromContext(r.Context()),
		})
		rec.Inc("checkout", outcomeOf(err))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

type orderCodeRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

// CheckoutSuccess settles the group behind a paid checkout session. A group
// that could not be fulfilled comes back as a refund notice with status 200.
func CheckoutSuccess(svc settlement.Service, rec outcomeRecorder, logg *logger.Logger) http.HandlerFunc {
	rec = recorderOrNop(rec)
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		var payload checkoutSuccessRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ConfirmPayment(r.Context(), validators.SanitizeString(payload.SessionID, 255))
		if err != nil {
			rec.Inc("settlement", outcomeOf(err))
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rec.Inc("settlement", result.Status)

		responses.WriteSuccess(w, result)
	}
}

type checkoutSuccessRequest struct {
	SessionID string `json:"sessionId" validate:"required,startswith=cs_"`
}

// CashOnDelivery places the caller's pending group for payment on delivery.
func CashOnDelivery(svc settlement.Service, enabled bool, rec outcomeRecorder, logg *logger.Logger) http.HandlerFunc {
	rec = recorderOrNop(rec)
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		if !enabled {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "cash on delivery is not available"))
			return
		}

		userID, err := userIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload orderCodeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		code := validators.SanitizeString(payload.Code, maxCodeLength)
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderCode(ctx, code)
		}
		result, err := svc.ConfirmCashOnDelivery(ctx, code, userID)
		rec.Inc("cod", outcomeOf(err))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

func userIDFromContext(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}
