package appointment

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hackgods/clearance-scheduling/internal/docstore"
)

// Reschedule moves an active appointment to another slot in one transaction: the old
// ledger gives back a unit (floored at zero, only if it exists) and the new ledger takes
// one, created with the default capacity when absent. Moving to the slot the appointment
// already holds is a successful no-op that writes nothing.
func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) (appt *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "appointment.Reschedule",
		attribute.String("appointment_id", req.AppointmentID),
		attribute.String("new_slot_id", SlotID(req.NewDate, req.NewWindow)),
	)
	defer func() { finishSpan(span, err) }()

	if req.AppointmentID == "" {
		return nil, invalid("appointment id is required")
	}
	if err := s.validateSlot(req.NewDate, req.NewWindow); err != nil {
		return nil, err
	}

	apptRef := docstore.Doc(CollectionAppointments, req.AppointmentID)
	newSlotID := SlotID(req.NewDate, req.NewWindow)
	newRef := docstore.Doc(CollectionSlots, newSlotID)

	var (
		before Appointment
		noop   bool
	)
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		noop = false

		snap, err := tx.Get(apptRef)
		if err != nil {
			return fmt.Errorf("read appointment: %w", err)
		}
		if !snap.Exists {
			return abort(ReasonAppointmentMissing, "appointment %s does not exist", req.AppointmentID)
		}
		before = AppointmentFromSnapshot(snap)
		if req.RequestedBy != "" && before.UserID != req.RequestedBy {
			return abort(ReasonNotOwner, "appointment %s belongs to another user", before.ID)
		}

		oldSlotID := before.SlotID()
		if oldSlotID == newSlotID {
			noop = true
			return nil
		}
		if !before.Active() {
			return abort(ReasonAppointmentInactive, "appointment %s is %s", before.ID, before.Status)
		}

		sameDate, err := tx.Query(userAppointmentsOn(before.UserID, req.NewDate))
		if err != nil {
			return fmt.Errorf("read same-date appointments: %w", err)
		}
		oldRef := docstore.Doc(CollectionSlots, oldSlotID)
		oldSnap, err := tx.Get(oldRef)
		if err != nil {
			return fmt.Errorf("read old slot ledger: %w", err)
		}
		newSnap, err := tx.Get(newRef)
		if err != nil {
			return fmt.Errorf("read new slot ledger: %w", err)
		}

		if conflict := classifyConflicts(sameDate, req.NewWindow, before.ID, s.cfg.OneActivePerDate); conflict != nil {
			return conflict
		}
		newLedger := LedgerFromSnapshot(newSnap, s.cfg.DefaultCapacity)
		if newLedger.Full() {
			return abort(ReasonNewSlotFull, "%s has %d/%d booked", newSlotID, newLedger.BookedCount, newLedger.Capacity)
		}

		if err := tx.Update(apptRef, docstore.Fields{
			fieldDate:              req.NewDate,
			fieldWindow:            req.NewWindow,
			fieldUpdatedAt:         docstore.ServerTimestamp,
			fieldLastRescheduledAt: docstore.ServerTimestamp,
		}); err != nil {
			return err
		}

		if oldSnap.Exists {
			oldLedger := LedgerFromSnapshot(oldSnap, s.cfg.DefaultCapacity)
			if err := tx.Update(oldRef, bookedCountFields(oldLedger.BookedCount-1)); err != nil {
				return err
			}
		}

		if newLedger.Exists {
			return tx.Update(newRef, bookedCountFields(newLedger.BookedCount+1))
		}
		return tx.Set(newRef, newLedgerFields(req.NewDate, req.NewWindow, newLedger.Capacity))
	})
	if err != nil {
		return nil, err
	}

	if noop {
		s.log.Debug("reschedule to current slot ignored", zap.String("appointment_id", before.ID))
		return &before, nil
	}

	now := s.now()
	after := before
	after.Date = req.NewDate
	after.Window = req.NewWindow
	after.UpdatedAt = now
	after.LastRescheduledAt = stamp(now)

	s.log.Info("appointment rescheduled",
		zap.String("appointment_id", after.ID),
		zap.String("from_slot", before.SlotID()),
		zap.String("to_slot", newSlotID),
	)
	s.logEvent(ctx, Event{
		Type:           EventAppointmentRescheduled,
		AppointmentID:  after.ID,
		UserID:         after.UserID,
		Date:           after.Date,
		Window:         after.Window,
		Status:         after.Status,
		PreviousDate:   before.Date,
		PreviousWindow: before.Window,
	})

	return &after, nil
}
