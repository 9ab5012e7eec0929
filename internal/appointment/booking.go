package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hackgods/clearance-scheduling/internal/docstore"
)

// Book reserves one unit of the (date, window) slot for a user in a single transaction.
//
// Every read happens first: the target appointment id, the user's appointments on that date,
// the slot ledger and, when the per-user cap is on, the user's counter. The checks then run
// in order ALREADY_EXISTS, DUPLICATE_SLOT, DUPLICATE_DATE, USER_LIMIT, SLOT_FULL, and only
// after all of them pass are the appointment, ledger and counter written. A deterministic id
// still held by an appointment that was rescheduled elsewhere is left alone and the booking
// gets a generated id.
func (s *Service) Book(ctx context.Context, req BookRequest) (appt *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "appointment.Book",
		attribute.String("user_id", req.UserID),
		attribute.String("slot_id", SlotID(req.Date, req.Window)),
	)
	defer func() { finishSpan(span, err) }()

	if req.UserID == "" {
		return nil, invalid("user id is required")
	}
	if err := s.validateSlot(req.Date, req.Window); err != nil {
		return nil, err
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = PaymentEWallet
	}
	if !req.PaymentMethod.Valid() {
		return nil, invalid("payment method %q is not supported", req.PaymentMethod)
	}

	slotID := SlotID(req.Date, req.Window)
	apptID := s.newAppointmentID(req.UserID, slotID)

	slotRef := docstore.Doc(CollectionSlots, slotID)
	userRef := docstore.Doc(CollectionUsers, req.UserID)

	var (
		ledger   SlotLedger
		bookedID string
	)
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		bookedID = apptID

		existing, err := tx.Get(docstore.Doc(CollectionAppointments, apptID))
		if err != nil {
			return fmt.Errorf("read appointment: %w", err)
		}
		sameDate, err := tx.Query(userAppointmentsOn(req.UserID, req.Date))
		if err != nil {
			return fmt.Errorf("read same-date appointments: %w", err)
		}
		slotSnap, err := tx.Get(slotRef)
		if err != nil {
			return fmt.Errorf("read slot ledger: %w", err)
		}
		var userSnap *docstore.Snapshot
		if s.userCapEnabled() {
			if userSnap, err = tx.Get(userRef); err != nil {
				return fmt.Errorf("read user counter: %w", err)
			}
		}

		if existing.Exists {
			held := AppointmentFromSnapshot(existing)
			switch {
			case held.SlotID() != slotID:
				// the id was minted for this slot but its appointment has since moved
				bookedID = uuid.NewString()
			case held.Active():
				return abort(ReasonAlreadyExists, "appointment %s is still active", apptID)
			}
		}
		if conflict := classifyConflicts(sameDate, req.Window, "", s.cfg.OneActivePerDate); conflict != nil {
			return conflict
		}
		active := activeCount(userSnap)
		if s.userCapEnabled() && active >= s.cfg.MaxActivePerUser {
			return abort(ReasonUserLimit, "user has %d active appointments", active)
		}
		ledger = LedgerFromSnapshot(slotSnap, s.cfg.DefaultCapacity)
		if ledger.Full() {
			return abort(ReasonSlotFull, "%s has %d/%d booked", slotID, ledger.BookedCount, ledger.Capacity)
		}

		if err := tx.Set(docstore.Doc(CollectionAppointments, bookedID), newAppointmentFields(Appointment{
			UserID:        req.UserID,
			Date:          req.Date,
			Window:        req.Window,
			Status:        StatusPending,
			PaymentMethod: req.PaymentMethod,
		})); err != nil {
			return err
		}

		if ledger.Exists {
			if err := tx.Update(slotRef, bookedCountFields(ledger.BookedCount+1)); err != nil {
				return err
			}
		} else {
			if err := tx.Set(slotRef, newLedgerFields(req.Date, req.Window, ledger.Capacity)); err != nil {
				return err
			}
		}

		if userSnap != nil {
			if userSnap.Exists {
				return tx.Update(userRef, activeCountFields(active+1))
			}
			return tx.Set(userRef, activeCountFields(1))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := s.now()
	appt = &Appointment{
		ID:            bookedID,
		UserID:        req.UserID,
		Date:          req.Date,
		Window:        req.Window,
		Status:        StatusPending,
		PaymentMethod: req.PaymentMethod,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.log.Info("appointment booked",
		zap.String("appointment_id", appt.ID),
		zap.String("user_id", appt.UserID),
		zap.String("slot_id", slotID),
		zap.Int("booked_count", ledger.BookedCount+1),
		zap.Int("capacity", ledger.Capacity),
	)
	s.logEvent(ctx, Event{
		Type:          EventAppointmentCreated,
		AppointmentID: appt.ID,
		UserID:        appt.UserID,
		Date:          appt.Date,
		Window:        appt.Window,
		Status:        appt.Status,
	})

	return appt, nil
}
