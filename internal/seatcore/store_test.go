package seatcore_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/showtime-seats/internal/domain"
	"github.com/robertarktes/showtime-seats/internal/seatcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeatStatusStore_UpdateInPlace(t *testing.T) {
	showtimeID := uuid.New()
	store := seatcore.NewSeatStatusStore(showtimeID, domain.DefaultLayout)
	require.Equal(t, 50, store.Len())

	before := store.Seats()
	booked := bookedSeat(showtimeID, "C5")
	_, appended, err := store.Apply(domain.ChangeEvent{Type: domain.EventUpdate, New: &booked})
	require.NoError(t, err)
	assert.False(t, appended)

	after := store.Seats()
	require.Len(t, after, 50)
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID, "position %d moved", i)
	}
	got, _ := store.Get("C5")
	assert.Equal(t, domain.StatusBooked, got.Status)
}

func TestSeatStatusStore_LastWriterWins(t *testing.T) {
	showtimeID := uuid.New()
	store := seatcore.NewSeatStatusStore(showtimeID, domain.DefaultLayout)
	userID := uuid.New()
	until := time.Now().Add(time.Minute)

	reserved := domain.Seat{ID: "A1", Status: domain.StatusReserved, ReservedBy: &userID, ReservedUntil: &until}
	booked := domain.Seat{ID: "A1", Status: domain.StatusBooked}
	for _, ev := range []domain.ChangeEvent{
		{Type: domain.EventInsert, New: &reserved},
		{Type: domain.EventUpdate, New: &booked},
	} {
		_, _, err := store.Apply(ev)
		require.NoError(t, err)
	}

	got, _ := store.Get("A1")
	assert.Equal(t, domain.StatusBooked, got.Status)
	assert.Nil(t, got.ReservedBy)
	assert.Equal(t, "A", got.Row)
	assert.Equal(t, 1, got.Number)
}

func TestSeatStatusStore_DeleteResetsToAvailable(t *testing.T) {
	showtimeID := uuid.New()
	userID := uuid.New()
	until := time.Now().Add(time.Minute)
	store := seatcore.NewSeatStatusStore(showtimeID, domain.DefaultLayout)
	store.Reset([]domain.Seat{{ID: "B2", Status: domain.StatusReserved, ReservedBy: &userID, ReservedUntil: &until}})

	old := domain.Seat{ID: "B2"}
	_, _, err := store.Apply(domain.ChangeEvent{Type: domain.EventDelete, Old: &old})
	require.NoError(t, err)

	got, ok := store.Get("B2")
	require.True(t, ok)
	assert.Equal(t, domain.StatusAvailable, got.Status)
	assert.Nil(t, got.ReservedBy)
	assert.Nil(t, got.ReservedUntil)
	assert.Equal(t, 50, store.Len())
}

func TestSeatStatusStore_UnknownSeatAppended(t *testing.T) {
	store := seatcore.NewSeatStatusStore(uuid.New(), domain.DefaultLayout)
	extra := domain.Seat{ID: "F1", Status: domain.StatusBooked}

	_, appended, err := store.Apply(domain.ChangeEvent{Type: domain.EventInsert, New: &extra})
	require.NoError(t, err)
	assert.True(t, appended)
	assert.Equal(t, 51, store.Len())
	assert.Equal(t, domain.SeatID("F1"), store.Seats()[50].ID)

	store.Reset(nil)
	assert.Equal(t, 50, store.Len())
}

func TestSeatStatusStore_RejectsMalformedEvent(t *testing.T) {
	store := seatcore.NewSeatStatusStore(uuid.New(), domain.DefaultLayout)
	_, _, err := store.Apply(domain.ChangeEvent{Type: domain.EventUpdate})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
