package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/clearance-scheduling/internal/appointment"
	"github.com/hackgods/clearance-scheduling/internal/capacity"
	"github.com/hackgods/clearance-scheduling/internal/clearance"
	"github.com/hackgods/clearance-scheduling/internal/identity"
	"github.com/hackgods/clearance-scheduling/internal/reconcile"
)

// ReconcileRunner is satisfied by *reconcile.Reconciler.
type ReconcileRunner interface {
	Run(ctx context.Context) (reconcile.Report, error)
}

func bookAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := identity.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "")
			return
		}

		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		// Cheap pre-flight outside the transaction; Book repeats the check atomically.
		if err := svc.CheckDuplicates(r.Context(), user.UID, req.Date, req.Window); err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		appt, err := svc.Book(r.Context(), appointment.BookRequest{
			UserID:        user.UID,
			Date:          req.Date,
			Window:        req.Window,
			PaymentMethod: appointment.PaymentMethod(req.PaymentMethod),
		})
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := identity.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "")
			return
		}

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		appts, err := svc.ListByUser(r.Context(), user.UID, limit)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		resp := AppointmentListResponse{Appointments: make([]AppointmentResponse, 0, len(appts))}
		for i := range appts {
			resp.Appointments = append(resp.Appointments, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := identity.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "")
			return
		}

		appt, err := svc.Get(r.Context(), chi.URLParam(r, "id"))
		if err == nil && appt.UserID != user.UID && !user.Role.IsStaff() {
			// same answer as a missing id so other users' ids cannot be discovered
			err = appointment.ErrAppointmentNotFound
		}
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func rescheduleAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := identity.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "")
			return
		}

		var req RescheduleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.Reschedule(r.Context(), appointment.RescheduleRequest{
			AppointmentID: chi.URLParam(r, "id"),
			NewDate:       req.Date,
			NewWindow:     req.Window,
			RequestedBy:   requester(user),
		})
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := identity.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "")
			return
		}

		err := svc.Cancel(r.Context(), appointment.CancelRequest{
			AppointmentID: chi.URLParam(r, "id"),
			RequestedBy:   requester(user),
		})
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func conflictsHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := identity.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "")
			return
		}

		q := r.URL.Query()
		err := svc.CheckDuplicates(r.Context(), user.UID, q.Get("date"), q.Get("window"))
		if reason, ok := appointment.ReasonOf(err); ok {
			writeJSON(w, http.StatusOK, ConflictResponse{Conflict: true, Reason: string(reason)})
			return
		}
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, ConflictResponse{Conflict: false})
	}
}

func slotsHandler(caps *capacity.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usage, err := caps.Availability(r.Context(), r.URL.Query().Get("date"))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, usage)
	}
}

func windowsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, WindowsResponse{
			Windows:         svc.Windows(),
			DefaultCapacity: svc.DefaultCapacity(),
		})
	}
}

func setStatusHandler(svc *appointment.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, _ := identity.FromContext(r.Context())

		var req StatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		changedBy := ""
		if user != nil {
			changedBy = user.UID
		}
		appt, err := svc.SetStatus(r.Context(), appointment.StatusRequest{
			AppointmentID: chi.URLParam(r, "id"),
			Status:        appointment.Status(req.Status),
			ChangedBy:     changedBy,
		})
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func capacityHandler(caps *capacity.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		days, err := caps.Daily(r.Context(), q.Get("from"), q.Get("to"))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, days)
	}
}

func myClearanceHandler(svc *clearance.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := identity.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "")
			return
		}
		rec, err := svc.Get(r.Context(), user.UID)
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func clearanceHandler(svc *clearance.Service, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := svc.Get(r.Context(), chi.URLParam(r, "uid"))
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func reconcileHandler(runner ReconcileRunner, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := runner.Run(r.Context())
		if reconcile.IsBusy(err) {
			writeError(w, http.StatusConflict, "reconcile_running", "another reconcile pass holds the lock")
			return
		}
		if err != nil {
			handleServiceError(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// requester is the ownership subject for mutations; staff act on any appointment.
func requester(u *identity.User) string {
	if u.Role.IsStaff() {
		return ""
	}
	return u.UID
}
