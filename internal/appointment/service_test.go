package appointment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	booked, err := f.svc.Book(ctx, BookRequest{UserID: "u1", Date: testDate, Window: morning})
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, booked.ID)
	require.NoError(t, err)
	assert.Equal(t, booked.ID, got.ID)
	assert.Equal(t, StatusPending, got.Status)
}

func TestListByUserNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dates := []string{"2025-11-20", "2025-11-21", "2025-11-22"}
	for _, d := range dates {
		_, err := f.svc.Book(ctx, BookRequest{UserID: "u1", Date: d, Window: morning})
		require.NoError(t, err)
	}
	_, err := f.svc.Book(ctx, BookRequest{UserID: "u2", Date: testDate, Window: morning})
	require.NoError(t, err)

	list, err := f.svc.ListByUser(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "2025-11-22", list[0].Date)
	assert.Equal(t, "2025-11-20", list[2].Date)

	list, err = f.svc.ListByUser(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestAbortErrorMatching(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", abort(ReasonSlotFull, "2025-11-20_09:00-10:00 has 400/400 booked"))

	assert.ErrorIs(t, err, ErrSlotFull)
	assert.False(t, errors.Is(err, ErrNewSlotFull))

	reason, ok := ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, ReasonSlotFull, reason)

	_, ok = ReasonOf(errors.New("other"))
	assert.False(t, ok)
	assert.Equal(t, "USER_LIMIT", ErrUserLimit.Error())
}

func TestWindowsReturnsCopy(t *testing.T) {
	f := newFixture(t)
	w := f.svc.Windows()
	w[0] = "changed"
	assert.Equal(t, morning, f.svc.Windows()[0])
}
