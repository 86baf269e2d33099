package domain

import "github.com/google/uuid"

// Selection is a set of seat ids picked locally and not yet held.
type Selection map[SeatID]struct{}

func NewSelection(ids ...SeatID) Selection {
	s := make(Selection, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s Selection) Has(id SeatID) bool {
	_, ok := s[id]
	return ok
}

// BuildSeatGrid enumerates every seat of the layout and overlays the backend
// records on it. A reserved or booked backend seat is kept verbatim; anything
// else is available, or selected when its id is in locallySelected. Backend
// records for seats outside the layout are ignored, so the result always has
// exactly layout.Size() seats with unique ids.
func BuildSeatGrid(showtimeID uuid.UUID, layout Layout, backendSeats []Seat, locallySelected []SeatID) []Seat {
	backend := make(map[SeatID]Seat, len(backendSeats))
	for _, s := range backendSeats {
		backend[s.ID] = s
	}
	selected := NewSelection(locallySelected...)

	grid := make([]Seat, 0, layout.Size())
	for _, row := range layout.Rows {
		for n := 1; n <= layout.SeatsPerRow; n++ {
			seat := AvailableSeat(showtimeID, row, n)
			if b, ok := backend[seat.ID]; ok {
				seat = b
				seat.Row, seat.Number, seat.ShowtimeID = row, n, showtimeID
			}
			seat.Status = DisplayStatus(seat, selected)
			grid = append(grid, seat)
		}
	}
	return grid
}

// DisplayStatus resolves what a seat should look like to this session:
// booked or reserved from the backend, then the local selection, then available.
func DisplayStatus(seat Seat, selected Selection) Status {
	switch seat.Status {
	case StatusBooked, StatusReserved:
		return seat.Status
	case StatusAvailable, StatusSelected:
		if selected.Has(seat.ID) {
			return StatusSelected
		}
		return StatusAvailable
	default:
		return StatusAvailable
	}
}
