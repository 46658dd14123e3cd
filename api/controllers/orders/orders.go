package orders

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/bazaarline/marketplace-backend/api/middleware"
	"github.com/bazaarline/marketplace-backend/api/responses"
	"github.com/bazaarline/marketplace-backend/api/validators"
	internalorders "github.com/bazaarline/marketplace-backend/internal/orders"
	pkgerrors "github.com/bazaarline/marketplace-backend/pkg/errors"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
)

// Detail returns the caller's order group.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "user identity missing"))
			return
		}

		code, err := validators.PathParam(r, "code", 64)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.GetGroup(r.Context(), code, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// UpdateStatus moves the calling merchant's lines of a group to a new status.
func UpdateStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		merchantID, err := uuid.Parse(middleware.MerchantIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "merchant account required"))
			return
		}
		userID, _ := uuid.Parse(middleware.UserIDFromContext(r.Context()))

		var payload updateStatusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.UpdateStatus(r.Context(), internalorders.UpdateStatusInput{
			Code:        validators.SanitizeString(payload.Code, 64),
			Status:      payload.Status,
			MerchantID:  merchantID,
			ActorUserID: userID,
			ActorRole:   middleware.RoleFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type updateStatusRequest struct {
	Code   string `json:"code" validate:"required,max=64"`
	Status string `json:"status" validate:"required,max=32"`
}
