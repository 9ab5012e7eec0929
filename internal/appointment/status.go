package appointment

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hackgods/clearance-scheduling/internal/docstore"
)

// SetStatus applies a staff status change. PENDING may move to PAID, and any active status
// may move to REJECTED or CANCELLED, which gives the slot unit and the user's counter back in
// the same transaction. Terminal appointments cannot change. Setting the current status is
// a no-op.
func (s *Service) SetStatus(ctx context.Context, req StatusRequest) (appt *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "appointment.SetStatus",
		attribute.String("appointment_id", req.AppointmentID),
		attribute.String("status", string(req.Status)),
	)
	defer func() { finishSpan(span, err) }()

	if req.AppointmentID == "" {
		return nil, invalid("appointment id is required")
	}
	if !req.Status.Valid() {
		return nil, invalid("status %q is not supported", req.Status)
	}

	apptRef := docstore.Doc(CollectionAppointments, req.AppointmentID)

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

		if before.Status == req.Status {
			noop = true
			return nil
		}
		if !canTransition(before.Status, req.Status) {
			return abort(ReasonInvalidTransition, "%s -> %s", before.Status, req.Status)
		}

		var slotSnap, userSnap *docstore.Snapshot
		if req.Status.Terminal() {
			if slotSnap, err = tx.Get(docstore.Doc(CollectionSlots, before.SlotID())); err != nil {
				return fmt.Errorf("read slot ledger: %w", err)
			}
			if s.userCapEnabled() {
				if userSnap, err = tx.Get(docstore.Doc(CollectionUsers, before.UserID)); err != nil {
					return fmt.Errorf("read user counter: %w", err)
				}
			}
		}

		update := docstore.Fields{
			fieldStatus:    string(req.Status),
			fieldUpdatedAt: docstore.ServerTimestamp,
		}
		if req.ChangedBy != "" {
			update[fieldStatusChangedBy] = req.ChangedBy
		}
		if req.Status == StatusPaid {
			update[fieldVerifiedAt] = docstore.ServerTimestamp
		}
		if err := tx.Update(apptRef, update); err != nil {
			return err
		}
		return releaseUnit(tx, slotSnap, userSnap, s.cfg.DefaultCapacity)
	})
	if err != nil {
		return nil, err
	}

	if noop {
		return &before, nil
	}

	now := s.now()
	after := before
	after.Status = req.Status
	after.UpdatedAt = now
	if req.Status == StatusPaid {
		after.VerifiedAt = stamp(now)
	}

	s.log.Info("appointment status changed",
		zap.String("appointment_id", after.ID),
		zap.String("from", string(before.Status)),
		zap.String("to", string(after.Status)),
		zap.String("changed_by", req.ChangedBy),
	)
	s.logEvent(ctx, Event{
		Type:           EventAppointmentStatusChanged,
		AppointmentID:  after.ID,
		UserID:         after.UserID,
		Date:           after.Date,
		Window:         after.Window,
		Status:         after.Status,
		PreviousStatus: before.Status,
	})

	return &after, nil
}

func canTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StatusPaid:
		return from == StatusPending
	case StatusRejected, StatusCancelled:
		return true
	}
	return false
}
