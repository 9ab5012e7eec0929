package appointment

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/clearance-scheduling/internal/docstore"
)

// CheckDuplicates is the advisory pre-flight for a booking: it reports DUPLICATE_SLOT or
// DUPLICATE_DATE when the user already holds an active appointment on date. It runs outside
// any transaction; Book repeats the same classification inside its transaction. A failed
// lookup is returned wrapped in ErrLookupFailed and must not be treated as "no conflict".
func (s *Service) CheckDuplicates(ctx context.Context, userID, date, window string) (err error) {
	ctx, span := s.startSpan(ctx, "appointment.CheckDuplicates",
		attribute.String("user_id", userID),
		attribute.String("slot_id", SlotID(date, window)),
	)
	defer func() { finishSpan(span, err) }()

	if userID == "" {
		return invalid("user id is required")
	}
	if err := s.validateSlot(date, window); err != nil {
		return err
	}

	snaps, err := s.store.Query(ctx, userAppointmentsOn(userID, date))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}
	if conflict := classifyConflicts(snaps, window, "", s.cfg.OneActivePerDate); conflict != nil {
		return conflict
	}
	return nil
}

// classifyConflicts inspects one user's appointments on one date. Terminal appointments and
// the appointment named by excludeID are ignored. A same-window match wins over a same-date
// match so callers can show the more specific message.
func classifyConflicts(sameDate []*docstore.Snapshot, window, excludeID string, oneActivePerDate bool) *AbortError {
	var dateConflict string
	for _, snap := range sameDate {
		if snap.ID == excludeID {
			continue
		}
		a := AppointmentFromSnapshot(snap)
		if !a.Active() {
			continue
		}
		if a.Window == window {
			return abort(ReasonDuplicateSlot, "appointment %s already holds %s", a.ID, a.SlotID())
		}
		if dateConflict == "" {
			dateConflict = a.ID
		}
	}
	if oneActivePerDate && dateConflict != "" {
		return abort(ReasonDuplicateDate, "appointment %s is already booked on this date", dateConflict)
	}
	return nil
}
