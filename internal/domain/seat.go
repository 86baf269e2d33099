package domain

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusSelected  Status = "selected"
	StatusReserved  Status = "reserved"
	StatusBooked    Status = "booked"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusAvailable, StatusSelected, StatusReserved, StatusBooked:
		return st, nil
	default:
		return "", errors.Wrapf(ErrInvalidInput, "unknown seat status %q", s)
	}
}

// Taken reports whether the backend has claimed the seat for someone.
func (s Status) Taken() bool {
	switch s {
	case StatusReserved, StatusBooked:
		return true
	case StatusAvailable, StatusSelected:
		return false
	default:
		panic(fmt.Sprintf("domain: unhandled seat status %q", string(s)))
	}
}

// SeatID is the row label followed by the seat number, e.g. "E3".
type SeatID string

func NewSeatID(row string, number int) SeatID {
	return SeatID(row + strconv.Itoa(number))
}

// ParseSeatID splits an id into its row label and seat number. Row labels are
// the leading non-digit runes.
func ParseSeatID(id SeatID) (string, int, error) {
	s := string(id)
	i := 0
	for i < len(s) && (s[i] < '0' || s[i] > '9') {
		i++
	}
	if i == 0 || i == len(s) {
		return "", 0, errors.Wrapf(ErrInvalidInput, "malformed seat id %q", s)
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil || n < 1 {
		return "", 0, errors.Wrapf(ErrInvalidInput, "malformed seat id %q", s)
	}
	return s[:i], n, nil
}

type Seat struct {
	ID            SeatID     `json:"id"`
	Row           string     `json:"row"`
	Number        int        `json:"number"`
	Status        Status     `json:"status"`
	ReservedBy    *uuid.UUID `json:"reserved_by"`
	ReservedUntil *time.Time `json:"reserved_until"`
	ShowtimeID    uuid.UUID  `json:"showtime_id"`
}

func AvailableSeat(showtimeID uuid.UUID, row string, number int) Seat {
	return Seat{
		ID:         NewSeatID(row, number),
		Row:        row,
		Number:     number,
		Status:     StatusAvailable,
		ShowtimeID: showtimeID,
	}
}

// Cleared returns the seat reset to available with its hold fields dropped.
func (s Seat) Cleared() Seat {
	s.Status = StatusAvailable
	s.ReservedBy = nil
	s.ReservedUntil = nil
	return s
}

// HeldBy reports whether the seat carries an unexpired hold for userID.
func (s Seat) HeldBy(userID uuid.UUID, now time.Time) bool {
	return s.Status == StatusReserved &&
		s.ReservedBy != nil && *s.ReservedBy == userID &&
		s.ReservedUntil != nil && now.Before(*s.ReservedUntil)
}

func (s *Status) UnmarshalText(b []byte) error {
	st, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}
