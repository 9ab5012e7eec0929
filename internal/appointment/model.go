package appointment

import (
	"time"
)

const (
	CollectionAppointments = "appointments"
	CollectionSlots        = "slots"
	CollectionUsers        = "users"
)

const DateLayout = "2006-01-02"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal statuses no longer occupy a slot.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentEWallet     PaymentMethod = "E_WALLET"
	PaymentPayAtSchool PaymentMethod = "PAY_AT_SCHOOL"
)

func (p PaymentMethod) Valid() bool {
	return p == PaymentEWallet || p == PaymentPayAtSchool
}

type Appointment struct {
	ID                string
	UserID            string
	Date              string
	Window            string
	Status            Status
	PaymentMethod     PaymentMethod
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastRescheduledAt *time.Time
	VerifiedAt        *time.Time
}

func (a Appointment) SlotID() string {
	return SlotID(a.Date, a.Window)
}

// Active reports whether the appointment holds a unit of its slot.
func (a Appointment) Active() bool {
	return !a.Status.Terminal()
}

// SlotLedger is the booked-vs-capacity record of one (date, window) slot.
type SlotLedger struct {
	ID          string
	Date        string
	Window      string
	Capacity    int
	BookedCount int
	Exists      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (l SlotLedger) Full() bool {
	return l.BookedCount >= l.Capacity
}

func (l SlotLedger) Remaining() int {
	if r := l.Capacity - l.BookedCount; r > 0 {
		return r
	}
	return 0
}

// SlotID is the ledger key of a slot, e.g. "2025-11-20_09:00-10:00".
func SlotID(date, window string) string {
	return date + "_" + window
}

type BookRequest struct {
	UserID        string
	Date          string
	Window        string
	PaymentMethod PaymentMethod
}

// RescheduleRequest moves an appointment. An empty RequestedBy skips the ownership check and
// is reserved for staff callers.
type RescheduleRequest struct {
	AppointmentID string
	NewDate       string
	NewWindow     string
	RequestedBy   string
}

type CancelRequest struct {
	AppointmentID string
	RequestedBy   string
}

type StatusRequest struct {
	AppointmentID string
	Status        Status
	ChangedBy     string
}
