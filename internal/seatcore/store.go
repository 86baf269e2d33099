package seatcore

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/showtime-seats/internal/domain"
)

// SeatStatusStore mirrors the backend's seat statuses for one showtime. It is
// the only place seat statuses change on the client. Not safe for concurrent
// use; Session serialises access.
type SeatStatusStore struct {
	showtimeID uuid.UUID
	layout     domain.Layout
	order      []domain.SeatID
	seats      map[domain.SeatID]domain.Seat
}

func NewSeatStatusStore(showtimeID uuid.UUID, layout domain.Layout) *SeatStatusStore {
	s := &SeatStatusStore{showtimeID: showtimeID, layout: layout}
	s.Reset(nil)
	return s
}

// Reset replaces the whole mirror with a backend snapshot laid over the fixed
// geometry.
func (s *SeatStatusStore) Reset(backendSeats []domain.Seat) {
	grid := domain.BuildSeatGrid(s.showtimeID, s.layout, backendSeats, nil)
	s.order = make([]domain.SeatID, len(grid))
	s.seats = make(map[domain.SeatID]domain.Seat, len(grid))
	for i, seat := range grid {
		s.order[i] = seat.ID
		s.seats[seat.ID] = seat
	}
}

// Apply folds one change event into the mirror in place. It reports whether
// the seat was unknown and had to be appended.
func (s *SeatStatusStore) Apply(ev domain.ChangeEvent) (domain.Seat, bool, error) {
	if err := ev.Validate(); err != nil {
		return domain.Seat{}, false, err
	}
	id := ev.SeatID()
	cur, known := s.seats[id]

	var next domain.Seat
	switch ev.Type {
	case domain.EventInsert, domain.EventUpdate:
		next = *ev.New
		if !next.Status.Taken() {
			next = next.Cleared()
		}
	case domain.EventDelete:
		switch {
		case known:
			next = cur.Cleared()
		case ev.Old != nil:
			next = ev.Old.Cleared()
		default:
			next = ev.New.Cleared()
		}
	default:
		return domain.Seat{}, false, errors.Wrapf(domain.ErrInvalidInput, "event type %q", string(ev.Type))
	}

	if known {
		next.ID, next.Row, next.Number = cur.ID, cur.Row, cur.Number
	} else {
		if row, n, err := domain.ParseSeatID(id); err == nil {
			next.Row, next.Number = row, n
		}
		s.order = append(s.order, id)
	}
	next.ShowtimeID = s.showtimeID
	s.seats[id] = next
	return next, !known, nil
}

func (s *SeatStatusStore) Get(id domain.SeatID) (domain.Seat, bool) {
	seat, ok := s.seats[id]
	return seat, ok
}

// Seats returns the mirror in grid order.
func (s *SeatStatusStore) Seats() []domain.Seat {
	out := make([]domain.Seat, len(s.order))
	for i, id := range s.order {
		out[i] = s.seats[id]
	}
	return out
}

func (s *SeatStatusStore) Len() int {
	return len(s.order)
}
