package shipping

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/usps-tracking/internal/common"
)

// Handler exposes tracking lookups over HTTP.
type Handler struct {
	Svc *Service
}

// Get returns normalised tracking details for the identifier in the URL.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, r, http.StatusInternalServerError, "INTERNAL", "tracking service not configured")
		return
	}
	identifier := chi.URLParam(r, "identifier")
	details, err := h.Svc.Track(r.Context(), identifier)
	if err != nil {
		common.WriteError(w, r, trackError(err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": details})
}

// trackError translates lookup failures into client facing errors. Only carrier
// supplied messages are echoed; credentials and raw payloads never are.
func trackError(err error) *common.AppError {
	var carrierErr *CarrierError
	switch {
	case errors.Is(err, ErrIdentifierRequired):
		return common.NewAppError("BAD_REQUEST", "tracking identifier is required", http.StatusBadRequest, err)
	case errors.As(err, &carrierErr):
		return common.NewAppError("TRACKING_UNAVAILABLE", carrierErr.Message, http.StatusNotFound, err)
	case errors.Is(err, ErrAuthenticationFailed):
		return common.NewAppError("CARRIER_AUTH_FAILED", "carrier rejected the configured credentials", http.StatusBadGateway, err)
	case errors.Is(err, ErrShapeDefect):
		return common.NewAppError("CARRIER_RESPONSE_INVALID", "carrier returned an unexpected response", http.StatusBadGateway, err)
	case errors.Is(err, ErrTransport):
		return common.NewAppError("CARRIER_UNAVAILABLE", "carrier is unavailable", http.StatusGatewayTimeout, err)
	default:
		return common.NewAppError("INTERNAL", "failed to track shipment", http.StatusInternalServerError, err)
	}
}
