package appointment

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hackgods/clearance-scheduling/internal/docstore"
)

// Cancel deletes an appointment and, if it was still active, gives its unit back to the
// slot ledger and the user's counter, both floored at zero. A ledger that does not exist is
// left absent. Cancelling an appointment that is already gone succeeds.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (err error) {
	ctx, span := s.startSpan(ctx, "appointment.Cancel",
		attribute.String("appointment_id", req.AppointmentID),
	)
	defer func() { finishSpan(span, err) }()

	if req.AppointmentID == "" {
		return invalid("appointment id is required")
	}

	apptRef := docstore.Doc(CollectionAppointments, req.AppointmentID)

	var (
		cancelled Appointment
		found     bool
	)
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		found = false

		snap, err := tx.Get(apptRef)
		if err != nil {
			return fmt.Errorf("read appointment: %w", err)
		}
		if !snap.Exists {
			return nil
		}
		cancelled = AppointmentFromSnapshot(snap)
		if req.RequestedBy != "" && cancelled.UserID != req.RequestedBy {
			return abort(ReasonNotOwner, "appointment %s belongs to another user", cancelled.ID)
		}
		found = true

		slotRef := docstore.Doc(CollectionSlots, cancelled.SlotID())
		userRef := docstore.Doc(CollectionUsers, cancelled.UserID)

		var slotSnap, userSnap *docstore.Snapshot
		if cancelled.Active() {
			if slotSnap, err = tx.Get(slotRef); err != nil {
				return fmt.Errorf("read slot ledger: %w", err)
			}
			if s.userCapEnabled() {
				if userSnap, err = tx.Get(userRef); err != nil {
					return fmt.Errorf("read user counter: %w", err)
				}
			}
		}

		if err := tx.Delete(apptRef); err != nil {
			return err
		}
		return releaseUnit(tx, slotSnap, userSnap, s.cfg.DefaultCapacity)
	})
	if err != nil {
		return err
	}

	if !found {
		s.log.Debug("cancel of missing appointment ignored", zap.String("appointment_id", req.AppointmentID))
		return nil
	}

	s.log.Info("appointment cancelled",
		zap.String("appointment_id", cancelled.ID),
		zap.String("slot_id", cancelled.SlotID()),
		zap.Bool("released", cancelled.Active()),
	)
	s.logEvent(ctx, Event{
		Type:           EventAppointmentCancelled,
		AppointmentID:  cancelled.ID,
		UserID:         cancelled.UserID,
		Date:           cancelled.Date,
		Window:         cancelled.Window,
		Status:         StatusCancelled,
		PreviousStatus: cancelled.Status,
	})
	return nil
}

// releaseUnit decrements the ledger and the user counter an active appointment held. Nil or
// absent snapshots are skipped so nothing is ever created here.
func releaseUnit(tx docstore.Tx, slotSnap, userSnap *docstore.Snapshot, defaultCapacity int) error {
	if slotSnap != nil && slotSnap.Exists {
		ledger := LedgerFromSnapshot(slotSnap, defaultCapacity)
		if err := tx.Update(slotSnap.Ref, bookedCountFields(ledger.BookedCount-1)); err != nil {
			return err
		}
	}
	if userSnap != nil && userSnap.Exists {
		if err := tx.Update(userSnap.Ref, activeCountFields(activeCount(userSnap)-1)); err != nil {
			return err
		}
	}
	return nil
}
