package domain

import (
	"time"

	"github.com/google/uuid"
)

const DefaultHoldDuration = 15 * time.Minute

// Reservation is a time-limited hold on one seat pending payment.
type Reservation struct {
	ID            uuid.UUID `json:"id"`
	SeatID        SeatID    `json:"seat_id"`
	ShowtimeID    uuid.UUID `json:"showtime_id"`
	UserID        uuid.UUID `json:"user_id"`
	ReservedUntil time.Time `json:"reserved_until"`
}

func NewReservation(showtimeID uuid.UUID, seatID SeatID, userID uuid.UUID, now time.Time, ttl time.Duration) Reservation {
	return Reservation{
		ID:            uuid.New(),
		SeatID:        seatID,
		ShowtimeID:    showtimeID,
		UserID:        userID,
		ReservedUntil: now.Add(ttl),
	}
}

// Seat renders the hold as the seat row the backend stores for it.
func (r Reservation) Seat(row string, number int) Seat {
	userID, until := r.UserID, r.ReservedUntil
	return Seat{
		ID:            r.SeatID,
		Row:           row,
		Number:        number,
		Status:        StatusReserved,
		ReservedBy:    &userID,
		ReservedUntil: &until,
		ShowtimeID:    r.ShowtimeID,
	}
}
