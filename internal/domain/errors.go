package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")

	ErrSeatTaken        = errors.Wrap(ErrConflict, "seat already held or booked")
	ErrHoldNotOwned     = errors.New("hold not owned by user")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoSeats          = errors.New("no seats selected")
	ErrMissingShowtime  = errors.New("missing showtime id")
	ErrUnknownSeat      = errors.New("unknown seat")
)
