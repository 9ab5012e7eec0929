package appointment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clearance-scheduling/internal/config"
	"github.com/hackgods/clearance-scheduling/internal/docstore"
)

func TestBookCreatesLedgerWithDefaultCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, BookRequest{UserID: "u1", Date: testDate, Window: morning})
	require.NoError(t, err)
	assert.Equal(t, "u1_2025-11-20_09:00-10:00", appt.ID)
	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, PaymentEWallet, appt.PaymentMethod)

	l := f.ledger(t, testDate, morning)
	assert.True(t, l.Exists)
	assert.Equal(t, 1, l.BookedCount)
	assert.Equal(t, 400, l.Capacity)

	_, err = f.svc.Book(ctx, BookRequest{UserID: "u2", Date: testDate, Window: morning, PaymentMethod: PaymentPayAtSchool})
	require.NoError(t, err)
	assert.Equal(t, 2, f.ledger(t, testDate, morning).BookedCount)

	stored, ok := f.appointment(t, appt.ID)
	require.True(t, ok)
	assert.Equal(t, "u1", stored.UserID)
	assert.False(t, stored.CreatedAt.IsZero())

	n, exists := f.userCounter(t, "u1")
	assert.True(t, exists)
	assert.Equal(t, 1, n)

	assert.Equal(t, []string{EventAppointmentCreated, EventAppointmentCreated}, f.events.types())
}

func TestBookRejectsBookingPastCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 400; i++ {
		_, err := f.svc.Book(ctx, BookRequest{UserID: fmt.Sprintf("student-%03d", i), Date: testDate, Window: morning})
		require.NoError(t, err)
	}

	_, err := f.svc.Book(ctx, BookRequest{UserID: "student-400", Date: testDate, Window: morning})
	requireReason(t, err, ReasonSlotFull)
	assert.ErrorIs(t, err, ErrSlotFull)

	l := f.ledger(t, testDate, morning)
	assert.Equal(t, 400, l.BookedCount)
	_, ok := f.appointment(t, "student-400_"+SlotID(testDate, morning))
	assert.False(t, ok)
	_, exists := f.userCounter(t, "student-400")
	assert.False(t, exists)
}

func TestBookUsesStoredCapacity(t *testing.T) {
	f := newFixture(t)
	f.seedLedger(t, testDate, morning, 2, 2)

	_, err := f.svc.Book(context.Background(), BookRequest{UserID: "u1", Date: testDate, Window: morning})
	requireReason(t, err, ReasonSlotFull)
}

func TestBookSameDeterministicIDTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, BookRequest{UserID: "u1", Date: testDate, Window: morning})
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, BookRequest{UserID: "u1", Date: testDate, Window: morning})
	requireReason(t, err, ReasonAlreadyExists)
	assert.Equal(t, 1, f.ledger(t, testDate, morning).BookedCount)
}

func TestBookReplacesTerminalAppointmentAtSameID(t *testing.T) {
	f := newFixture(t)
	id := "u1_" + SlotID(testDate, morning)
	f.seedAppointment(t, id, "u1", testDate, morning, StatusCancelled)

	appt, err := f.svc.Book(context.Background(), BookRequest{UserID: "u1", Date: testDate, Window: morning})
	require.NoError(t, err)
	assert.Equal(t, id, appt.ID)

	stored, ok := f.appointment(t, id)
	require.True(t, ok)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestBookSlotLeftByRescheduledAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Book(ctx, BookRequest{UserID: "u1", Date: testDate, Window: morning})
	require.NoError(t, err)
	_, err = f.svc.Reschedule(ctx, RescheduleRequest{AppointmentID: first.ID, NewDate: otherDate, NewWindow: morning, RequestedBy: "u1"})
	require.NoError(t, err)
	require.Equal(t, 0, f.ledger(t, testDate, morning).BookedCount)
	require.NoError(t, f.svc.CheckDuplicates(ctx, "u1", testDate, morning))

	again, err := f.svc.Book(ctx, BookRequest{UserID: "u1", Date: testDate, Window: morning})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, again.ID)
	assert.Equal(t, 1, f.ledger(t, testDate, morning).BookedCount)

	moved, ok := f.appointment(t, first.ID)
	require.True(t, ok)
	assert.Equal(t, otherDate, moved.Date)
	assert.Equal(t, StatusPending, moved.Status)

	stored, ok := f.appointment(t, again.ID)
	require.True(t, ok)
	assert.Equal(t, testDate, stored.Date)
	assert.Equal(t, morning, stored.Window)

	count, _ := f.userCounter(t, "u1")
	assert.Equal(t, 2, count)
}

func TestBookSlotLeftWithinSameDateStillHitsDateRule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Book(ctx, BookRequest{UserID: "u1", Date: testDate, Window: morning})
	require.NoError(t, err)
	_, err = f.svc.Reschedule(ctx, RescheduleRequest{AppointmentID: first.ID, NewDate: testDate, NewWindow: midMorning, RequestedBy: "u1"})
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, BookRequest{UserID: "u1", Date: testDate, Window: morning})
	requireReason(t, err, ReasonDuplicateDate)
	assert.Equal(t, 0, f.ledger(t, testDate, morning).BookedCount)
}

func TestBookDuplicateDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Book(ctx, BookRequest{UserID: "u1", Date: testDate, Window: morning})
	require.NoError(t, err)

	_, err = f.svc.Book(ctx, BookRequest{UserID: "u1", Date: testDate, Window: midMorning})
	requireReason(t, err, ReasonDuplicateDate)
	assert.False(t, f.ledger(t, testDate, midMorning).Exists)

	_, err = f.svc.Book(ctx, BookRequest{UserID: "u1", Date: otherDate, Window: midMorning})
	assert.NoError(t, err)
}

func TestBookDuplicateDateRuleCanBeDisabled(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.OneActivePerDate = false })
	ctx := context.Background()

	_, err := f.svc.Book(ctx, BookRequest{UserID: "u1", Date: testDate, Window: morning})
	require.NoError(t, err)
	_, err = f.svc.Book(ctx, BookRequest{UserID: "u1", Date: testDate, Window: midMorning})
	assert.NoError(t, err)
}

func TestBookDuplicateSlotWithGeneratedIDs(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.DeterministicIDs = false })
	ctx := context.Background()

	first, err := f.svc.Book(ctx, BookRequest{UserID: "u1", Date: testDate, Window: morning})
	require.NoError(t, err)
	assert.NotContains(t, first.ID, "u1_")

	_, err = f.svc.Book(ctx, BookRequest{UserID: "u1", Date: testDate, Window: morning})
	requireReason(t, err, ReasonDuplicateSlot)
	assert.Equal(t, 1, f.ledger(t, testDate, morning).BookedCount)
}

func TestBookIgnoresTerminalSameDateAppointments(t *testing.T) {
	f := newFixture(t)
	f.seedAppointment(t, "old", "u1", testDate, midMorning, StatusRejected)

	_, err := f.svc.Book(context.Background(), BookRequest{UserID: "u1", Date: testDate, Window: morning})
	assert.NoError(t, err)
}

func TestBookUserLimit(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.MaxActivePerUser = 2 })
	ctx := context.Background()

	for _, d := range []string{"2025-11-20", "2025-11-21"} {
		_, err := f.svc.Book(ctx, BookRequest{UserID: "u1", Date: d, Window: morning})
		require.NoError(t, err)
	}

	_, err := f.svc.Book(ctx, BookRequest{UserID: "u1", Date: "2025-11-22", Window: morning})
	requireReason(t, err, ReasonUserLimit)

	n, _ := f.userCounter(t, "u1")
	assert.Equal(t, 2, n)
	assert.False(t, f.ledger(t, "2025-11-22", morning).Exists)
}

func TestBookWithoutUserCapSkipsCounter(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.MaxActivePerUser = 0 })

	_, err := f.svc.Book(context.Background(), BookRequest{UserID: "u1", Date: testDate, Window: morning})
	require.NoError(t, err)

	_, exists := f.userCounter(t, "u1")
	assert.False(t, exists)
}

func TestBookValidation(t *testing.T) {
	tests := []struct {
		name string
		req  BookRequest
	}{
		{name: "missing user", req: BookRequest{Date: testDate, Window: morning}},
		{name: "missing date", req: BookRequest{UserID: "u1", Window: morning}},
		{name: "malformed date", req: BookRequest{UserID: "u1", Date: "20/11/2025", Window: morning}},
		{name: "missing window", req: BookRequest{UserID: "u1", Date: testDate}},
		{name: "unknown window", req: BookRequest{UserID: "u1", Date: testDate, Window: "12:00-13:00"}},
		{name: "unknown payment", req: BookRequest{UserID: "u1", Date: testDate, Window: morning, PaymentMethod: "CASH"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Book(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			_, isAbort := ReasonOf(err)
			assert.False(t, isAbort)

			snaps, err := f.store.Query(context.Background(), docstore.Collection(CollectionSlots))
			require.NoError(t, err)
			assert.Empty(t, snaps)
		})
	}
}

func TestBookConcurrentBookingsNeverExceedCapacity(t *testing.T) {
	f := newFixture(t)
	f.seedLedger(t, testDate, morning, 5, 0)

	const attempts = 30
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Book(context.Background(), BookRequest{
				UserID: fmt.Sprintf("racer-%02d", i),
				Date:   testDate,
				Window: morning,
			})
			if err != nil {
				if !errors.Is(err, ErrSlotFull) && !errors.Is(err, docstore.ErrContention) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			mu.Lock()
			succeeded++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	l := f.ledger(t, testDate, morning)
	assert.LessOrEqual(t, succeeded, 5)
	assert.Equal(t, succeeded, l.BookedCount)
	assert.Equal(t, 5, succeeded)

	snaps, err := f.store.Query(context.Background(), AppointmentsInSlot(testDate, morning))
	require.NoError(t, err)
	assert.Len(t, snaps, succeeded)
}
