package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hackgods/clearance-scheduling/internal/appointment"
)

type BookAppointmentRequest struct {
	Date          string `json:"date"`
	Window        string `json:"window"`
	PaymentMethod string `json:"payment_method"`
}

type RescheduleRequest struct {
	Date   string `json:"date"`
	Window string `json:"window"`
}

type StatusRequest struct {
	Status string `json:"status"`
}

type AppointmentResponse struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	Date              string     `json:"date"`
	Window            string     `json:"window"`
	SlotID            string     `json:"slot_id"`
	Status            string     `json:"status"`
	PaymentMethod     string     `json:"payment_method"`
	CreatedAt         *time.Time `json:"created_at,omitempty"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
	LastRescheduledAt *time.Time `json:"last_rescheduled_at,omitempty"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
}

type AppointmentListResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

type ConflictResponse struct {
	Conflict bool   `json:"conflict"`
	Reason   string `json:"reason,omitempty"`
}

type WindowsResponse struct {
	Windows         []string `json:"windows"`
	DefaultCapacity int      `json:"default_capacity"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                a.ID,
		UserID:            a.UserID,
		Date:              a.Date,
		Window:            a.Window,
		SlotID:            a.SlotID(),
		Status:            string(a.Status),
		PaymentMethod:     string(a.PaymentMethod),
		CreatedAt:         nonZero(a.CreatedAt),
		UpdatedAt:         nonZero(a.UpdatedAt),
		LastRescheduledAt: a.LastRescheduledAt,
		VerifiedAt:        a.VerifiedAt,
	}
}

func nonZero(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
