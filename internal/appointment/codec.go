package appointment

import (
	"time"

	"github.com/hackgods/clearance-scheduling/internal/docstore"
)

// Document field names shared by every backend.
const (
	fieldUserID            = "userId"
	fieldDate              = "date"
	fieldWindow            = "window"
	fieldStatus            = "status"
	fieldPaymentMethod     = "paymentMethod"
	fieldCreatedAt         = "createdAt"
	fieldUpdatedAt         = "updatedAt"
	fieldLastRescheduledAt = "lastRescheduledAt"
	fieldVerifiedAt        = "verifiedAt"
	fieldStatusChangedBy   = "statusChangedBy"

	fieldCapacity    = "capacity"
	fieldBookedCount = "bookedCount"

	fieldActiveAppointments = "activeAppointments"
)

// AppointmentFromSnapshot decodes an appointment document. A missing status reads as PENDING.
func AppointmentFromSnapshot(snap *docstore.Snapshot) Appointment {
	a := Appointment{
		ID:            snap.ID,
		UserID:        snap.String(fieldUserID),
		Date:          snap.String(fieldDate),
		Window:        snap.String(fieldWindow),
		Status:        Status(snap.String(fieldStatus)),
		PaymentMethod: PaymentMethod(snap.String(fieldPaymentMethod)),
		CreatedAt:     snap.Time(fieldCreatedAt),
		UpdatedAt:     snap.Time(fieldUpdatedAt),
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	if t := snap.Time(fieldLastRescheduledAt); !t.IsZero() {
		a.LastRescheduledAt = &t
	}
	if t := snap.Time(fieldVerifiedAt); !t.IsZero() {
		a.VerifiedAt = &t
	}
	return a
}

func newAppointmentFields(a Appointment) docstore.Fields {
	return docstore.Fields{
		fieldUserID:        a.UserID,
		fieldDate:          a.Date,
		fieldWindow:        a.Window,
		fieldStatus:        string(a.Status),
		fieldPaymentMethod: string(a.PaymentMethod),
		fieldCreatedAt:     docstore.ServerTimestamp,
		fieldUpdatedAt:     docstore.ServerTimestamp,
	}
}

// LedgerFromSnapshot decodes a slot ledger, falling back to defaultCapacity for an absent
// ledger or one written without a capacity.
func LedgerFromSnapshot(snap *docstore.Snapshot, defaultCapacity int) SlotLedger {
	l := SlotLedger{
		ID:       snap.ID,
		Exists:   snap.Exists,
		Capacity: defaultCapacity,
	}
	if !snap.Exists {
		return l
	}
	l.Date = snap.String(fieldDate)
	l.Window = snap.String(fieldWindow)
	if c, ok := snap.Int(fieldCapacity); ok && c > 0 {
		l.Capacity = int(c)
	}
	if n, ok := snap.Int(fieldBookedCount); ok && n > 0 {
		l.BookedCount = int(n)
	}
	l.CreatedAt = snap.Time(fieldCreatedAt)
	l.UpdatedAt = snap.Time(fieldUpdatedAt)
	return l
}

func newLedgerFields(date, window string, capacity int) docstore.Fields {
	return LedgerFields(date, window, capacity, 1)
}

// LedgerFields is the body of a freshly created slot ledger.
func LedgerFields(date, window string, capacity, booked int) docstore.Fields {
	return docstore.Fields{
		fieldDate:        date,
		fieldWindow:      window,
		fieldCapacity:    int64(capacity),
		fieldBookedCount: int64(max(booked, 0)),
		fieldCreatedAt:   docstore.ServerTimestamp,
		fieldUpdatedAt:   docstore.ServerTimestamp,
	}
}

// bookedCountFields sets bookedCount to n, never below zero.
func bookedCountFields(n int) docstore.Fields {
	return docstore.Fields{
		fieldBookedCount: int64(max(n, 0)),
		fieldUpdatedAt:   docstore.ServerTimestamp,
	}
}

func activeCount(snap *docstore.Snapshot) int {
	if snap == nil {
		return 0
	}
	n, _ := snap.Int(fieldActiveAppointments)
	return int(n)
}

func activeCountFields(n int) docstore.Fields {
	return docstore.Fields{
		fieldActiveAppointments: int64(max(n, 0)),
		fieldUpdatedAt:          docstore.ServerTimestamp,
	}
}

// SetBookedCount overwrites a ledger's bookedCount. Used by reconciliation.
func SetBookedCount(tx docstore.Tx, slotID string, n int) error {
	return tx.Update(docstore.Doc(CollectionSlots, slotID), bookedCountFields(n))
}

func userAppointmentsOn(userID, date string) docstore.Query {
	return docstore.Collection(CollectionAppointments).
		Where(fieldUserID, userID).
		Where(fieldDate, date)
}

// AppointmentsInSlot selects every appointment booked into one slot, whatever its status.
func AppointmentsInSlot(date, window string) docstore.Query {
	return docstore.Collection(CollectionAppointments).
		Where(fieldDate, date).
		Where(fieldWindow, window)
}

// LedgersOn selects the ledgers of every window on date.
func LedgersOn(date string) docstore.Query {
	return docstore.Collection(CollectionSlots).Where(fieldDate, date)
}

func stamp(t time.Time) *time.Time {
	return &t
}
