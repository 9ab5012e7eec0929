// Package reconcile repairs slot ledgers whose bookedCount drifted from the number of
// active appointments actually booked into the slot.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/hackgods/clearance-scheduling/internal/appointment"
	"github.com/hackgods/clearance-scheduling/internal/docstore"
	redisclient "github.com/hackgods/clearance-scheduling/internal/redis"
)

const lockName = "reconcile:slots"

// Drift records one repaired ledger.
type Drift struct {
	SlotID   string `json:"slot_id"`
	Recorded int    `json:"recorded"`
	Actual   int    `json:"actual"`
	Created  bool   `json:"created,omitempty"`
}

type Report struct {
	Slots    int     `json:"slots"`
	Repaired []Drift `json:"repaired"`
	Failed   int     `json:"failed"`
}

type Reconciler struct {
	store           docstore.Store
	locker          redisclient.Locker
	defaultCapacity int
	log             *zap.Logger
}

func New(store docstore.Store, locker redisclient.Locker, defaultCapacity int, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		store:           store,
		locker:          locker,
		defaultCapacity: defaultCapacity,
		log:             log,
	}
}

// Run reconciles every known slot under the shared lock. It returns
// redisclient.ErrLockNotAcquired when another replica is already running.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	var report Report
	err := r.locker.WithLock(ctx, lockName, func(ctx context.Context) error {
		var err error
		report, err = r.reconcileAll(ctx)
		return err
	})
	return report, err
}

type slotKey struct {
	date   string
	window string
}

func (r *Reconciler) reconcileAll(ctx context.Context) (Report, error) {
	slots, err := r.knownSlots(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{Slots: len(slots)}
	for _, k := range slots {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		drift, changed, err := r.reconcileSlot(ctx, k)
		if err != nil {
			report.Failed++
			r.log.Warn("slot reconcile failed",
				zap.String("slot_id", appointment.SlotID(k.date, k.window)),
				zap.Error(err),
			)
			continue
		}
		if changed {
			report.Repaired = append(report.Repaired, drift)
			r.log.Info("slot ledger repaired",
				zap.String("slot_id", drift.SlotID),
				zap.Int("recorded", drift.Recorded),
				zap.Int("actual", drift.Actual),
				zap.Bool("created", drift.Created),
			)
		}
	}
	return report, nil
}

// knownSlots is the union of existing ledgers and slots referenced by any appointment.
func (r *Reconciler) knownSlots(ctx context.Context) ([]slotKey, error) {
	seen := make(map[slotKey]struct{})

	ledgers, err := r.store.Query(ctx, docstore.Collection(appointment.CollectionSlots))
	if err != nil {
		return nil, fmt.Errorf("list slot ledgers: %w", err)
	}
	for _, snap := range ledgers {
		l := appointment.LedgerFromSnapshot(snap, r.defaultCapacity)
		if l.Date != "" && l.Window != "" {
			seen[slotKey{l.Date, l.Window}] = struct{}{}
		}
	}

	appts, err := r.store.Query(ctx, docstore.Collection(appointment.CollectionAppointments))
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	for _, snap := range appts {
		a := appointment.AppointmentFromSnapshot(snap)
		if a.Date != "" && a.Window != "" {
			seen[slotKey{a.Date, a.Window}] = struct{}{}
		}
	}

	out := make([]slotKey, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].date != out[j].date {
			return out[i].date < out[j].date
		}
		return out[i].window < out[j].window
	})
	return out, nil
}

func (r *Reconciler) reconcileSlot(ctx context.Context, k slotKey) (Drift, bool, error) {
	slotID := appointment.SlotID(k.date, k.window)
	ref := docstore.Doc(appointment.CollectionSlots, slotID)

	var (
		drift    Drift
		changed  bool
		capacity int
	)
	err := r.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		changed = false

		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		appts, err := tx.Query(appointment.AppointmentsInSlot(k.date, k.window))
		if err != nil {
			return err
		}

		actual := 0
		for _, a := range appts {
			if appointment.AppointmentFromSnapshot(a).Active() {
				actual++
			}
		}
		ledger := appointment.LedgerFromSnapshot(snap, r.defaultCapacity)
		drift = Drift{SlotID: slotID, Recorded: ledger.BookedCount, Actual: actual}
		capacity = ledger.Capacity

		switch {
		case !ledger.Exists && actual > 0:
			drift.Created = true
			changed = true
			return tx.Set(ref, appointment.LedgerFields(k.date, k.window, r.defaultCapacity, actual))
		case ledger.Exists && ledger.BookedCount != actual:
			changed = true
			return appointment.SetBookedCount(tx, slotID, actual)
		}
		return nil
	})
	if err != nil {
		return Drift{}, false, err
	}
	if changed && drift.Actual > capacity {
		r.log.Warn("slot holds more active appointments than its capacity",
			zap.String("slot_id", slotID),
			zap.Int("actual", drift.Actual),
		)
	}
	return drift, changed, nil
}

// IsBusy reports whether err means another replica holds the reconcile lock.
func IsBusy(err error) bool {
	return errors.Is(err, redisclient.ErrLockNotAcquired)
}
