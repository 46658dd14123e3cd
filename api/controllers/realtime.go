package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/bazaarline/marketplace-backend/api/middleware"
	"github.com/bazaarline/marketplace-backend/api/responses"
	"github.com/bazaarline/marketplace-backend/internal/realtime"
	pkgerrors "github.com/bazaarline/marketplace-backend/pkg/errors"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
)

// MerchantSocket upgrades an authenticated merchant to the live notification feed.
func MerchantSocket(hub *realtime.Hub, opts realtime.SocketOptions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hub == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "realtime hub unavailable"))
			return
		}
		merchantID, err := uuid.Parse(middleware.MerchantIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "merchant account required"))
			return
		}
		// the upgrader has already answered the client when this fails
		if err := hub.Upgrade(w, r, merchantID, opts); err != nil && logg != nil {
			logg.Warn(r.Context(), "realtime.upgrade_failed", err)
		}
	}
}
