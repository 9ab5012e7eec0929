package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clearance-scheduling/internal/config"
	"github.com/hackgods/clearance-scheduling/internal/docstore"
	"github.com/hackgods/clearance-scheduling/internal/docstore/memstore"
)

const (
	testDate    = "2025-11-20"
	otherDate   = "2025-11-21"
	morning     = "09:00-10:00"
	midMorning  = "10:00-11:00"
	lateMorning = "11:00-12:00"
)

func testConfig() config.Config {
	return config.Config{
		DefaultCapacity:  400,
		MaxActivePerUser: 5,
		Windows:          []string{morning, midMorning, lateMorning, "13:00-14:00"},
		DeterministicIDs: true,
		OneActivePerDate: true,
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	svc    *Service
	store  *memstore.Store
	events *recordingPublisher
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	tick := time.Date(2025, 11, 1, 8, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Minute)
		return tick
	}

	store := memstore.New(memstore.WithMaxAttempts(1000), memstore.WithClock(clock))
	events := &recordingPublisher{}
	svc := NewService(store, cfg, zap.NewNop(), WithPublisher(events), WithClock(clock))
	return &fixture{svc: svc, store: store, events: events}
}

func (f *fixture) seed(t *testing.T, ref docstore.Ref, data docstore.Fields) {
	t.Helper()
	err := f.store.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		return tx.Set(ref, data)
	})
	require.NoError(t, err)
}

func (f *fixture) seedLedger(t *testing.T, date, window string, capacity, booked int) {
	t.Helper()
	f.seed(t, docstore.Doc(CollectionSlots, SlotID(date, window)), docstore.Fields{
		fieldDate:        date,
		fieldWindow:      window,
		fieldCapacity:    int64(capacity),
		fieldBookedCount: int64(booked),
	})
}

func (f *fixture) seedAppointment(t *testing.T, id, userID, date, window string, status Status) {
	t.Helper()
	f.seed(t, docstore.Doc(CollectionAppointments, id), docstore.Fields{
		fieldUserID:        userID,
		fieldDate:          date,
		fieldWindow:        window,
		fieldStatus:        string(status),
		fieldPaymentMethod: string(PaymentEWallet),
		fieldCreatedAt:     docstore.ServerTimestamp,
	})
}

func (f *fixture) ledger(t *testing.T, date, window string) SlotLedger {
	t.Helper()
	snap, err := f.store.Get(context.Background(), docstore.Doc(CollectionSlots, SlotID(date, window)))
	require.NoError(t, err)
	return LedgerFromSnapshot(snap, f.svc.DefaultCapacity())
}

func (f *fixture) userCounter(t *testing.T, userID string) (int, bool) {
	t.Helper()
	snap, err := f.store.Get(context.Background(), docstore.Doc(CollectionUsers, userID))
	require.NoError(t, err)
	return activeCount(snap), snap.Exists
}

func (f *fixture) appointment(t *testing.T, id string) (Appointment, bool) {
	t.Helper()
	snap, err := f.store.Get(context.Background(), docstore.Doc(CollectionAppointments, id))
	require.NoError(t, err)
	if !snap.Exists {
		return Appointment{}, false
	}
	return AppointmentFromSnapshot(snap), true
}

func requireReason(t *testing.T, err error, want Reason) {
	t.Helper()
	require.Error(t, err)
	got, ok := ReasonOf(err)
	require.True(t, ok, "expected abort reason %s, got %v", want, err)
	require.Equal(t, want, got)
}
