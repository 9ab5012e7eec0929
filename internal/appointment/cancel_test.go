package appointment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelReleasesUnitAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	appt, err := f.svc.Book(ctx, BookRequest{UserID: "u1", Date: testDate, Window: morning})
	require.NoError(t, err)
	require.Equal(t, 1, f.ledger(t, testDate, morning).BookedCount)

	require.NoError(t, f.svc.Cancel(ctx, CancelRequest{AppointmentID: appt.ID, RequestedBy: "u1"}))
	assert.Equal(t, 0, f.ledger(t, testDate, morning).BookedCount)
	_, ok := f.appointment(t, appt.ID)
	assert.False(t, ok)
	n, _ := f.userCounter(t, "u1")
	assert.Equal(t, 0, n)

	require.NoError(t, f.svc.Cancel(ctx, CancelRequest{AppointmentID: appt.ID, RequestedBy: "u1"}))
	assert.Equal(t, 0, f.ledger(t, testDate, morning).BookedCount)

	assert.Equal(t, []string{EventAppointmentCreated, EventAppointmentCancelled}, f.events.types())
}

func TestCancelNeverCreatesOrUnderflowsLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAppointment(t, "orphan", "u1", testDate, morning, StatusPending)
	require.NoError(t, f.svc.Cancel(ctx, CancelRequest{AppointmentID: "orphan"}))
	assert.False(t, f.ledger(t, testDate, morning).Exists)

	f.seedLedger(t, testDate, midMorning, 400, 0)
	f.seedAppointment(t, "drifted", "u2", testDate, midMorning, StatusPending)
	require.NoError(t, f.svc.Cancel(ctx, CancelRequest{AppointmentID: "drifted"}))
	assert.Equal(t, 0, f.ledger(t, testDate, midMorning).BookedCount)
}

func TestCancelTerminalAppointmentKeepsLedger(t *testing.T) {
	f := newFixture(t)
	f.seedLedger(t, testDate, morning, 400, 3)
	f.seedAppointment(t, "a1", "u1", testDate, morning, StatusRejected)

	require.NoError(t, f.svc.Cancel(context.Background(), CancelRequest{AppointmentID: "a1"}))
	assert.Equal(t, 3, f.ledger(t, testDate, morning).BookedCount)
	_, ok := f.appointment(t, "a1")
	assert.False(t, ok)
}

func TestCancelAnotherUsersAppointment(t *testing.T) {
	f := newFixture(t)
	f.seedLedger(t, testDate, morning, 400, 1)
	f.seedAppointment(t, "a1", "u1", testDate, morning, StatusPending)

	err := f.svc.Cancel(context.Background(), CancelRequest{AppointmentID: "a1", RequestedBy: "u2"})
	requireReason(t, err, ReasonNotOwner)

	_, ok := f.appointment(t, "a1")
	assert.True(t, ok)
	assert.Equal(t, 1, f.ledger(t, testDate, morning).BookedCount)
}

func TestCancelValidation(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.svc.Cancel(context.Background(), CancelRequest{}), ErrValidation)
}
