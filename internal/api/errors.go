package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hackgods/clearance-scheduling/internal/appointment"
	"github.com/hackgods/clearance-scheduling/internal/docstore"
	"github.com/hackgods/clearance-scheduling/internal/identity"
)

// handleServiceError maps engine errors onto the HTTP error envelope. Abort reasons travel
// as the error code so clients never parse messages.
func handleServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	if reason, ok := appointment.ReasonOf(err); ok {
		status := http.StatusConflict
		switch reason {
		case appointment.ReasonNotOwner:
			status = http.StatusForbidden
		case appointment.ReasonAppointmentMissing:
			status = http.StatusNotFound
		}
		writeError(w, status, string(reason), err.Error())
		return
	}

	switch {
	case errors.Is(err, appointment.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, identity.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", "")
	case errors.Is(err, appointment.ErrLookupFailed):
		log.Warn("duplicate lookup failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "lookup_failed", "could not check existing bookings, please retry")
	case errors.Is(err, docstore.ErrContention):
		writeError(w, http.StatusServiceUnavailable, "contention", "too many concurrent changes, please retry")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "")
	default:
		log.Error("request failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}
