package domain

import "github.com/cockroachdb/errors"

// Layout is the fixed seat geometry of a hall: ordered row labels and the
// number of seats in every row.
type Layout struct {
	Rows        []string `json:"rows" bson:"rows"`
	SeatsPerRow int      `json:"seats_per_row" bson:"seats_per_row"`
}

var DefaultLayout = Layout{
	Rows:        []string{"E", "D", "C", "B", "A"},
	SeatsPerRow: 10,
}

func (l Layout) Validate() error {
	if len(l.Rows) == 0 {
		return errors.Wrap(ErrInvalidInput, "layout has no rows")
	}
	if l.SeatsPerRow < 1 {
		return errors.Wrapf(ErrInvalidInput, "layout has %d seats per row", l.SeatsPerRow)
	}
	seen := make(map[string]struct{}, len(l.Rows))
	for _, r := range l.Rows {
		if r == "" {
			return errors.Wrap(ErrInvalidInput, "empty row label")
		}
		for i := 0; i < len(r); i++ {
			if r[i] >= '0' && r[i] <= '9' {
				return errors.Wrapf(ErrInvalidInput, "row label %q contains a digit", r)
			}
		}
		if _, ok := seen[r]; ok {
			return errors.Wrapf(ErrInvalidInput, "duplicate row label %q", r)
		}
		seen[r] = struct{}{}
	}
	return nil
}

func (l Layout) Size() int {
	return len(l.Rows) * l.SeatsPerRow
}

// Contains reports whether id names a seat of this geometry.
func (l Layout) Contains(id SeatID) bool {
	row, n, err := ParseSeatID(id)
	if err != nil || n > l.SeatsPerRow {
		return false
	}
	for _, r := range l.Rows {
		if r == row {
			return true
		}
	}
	return false
}

// IDs enumerates every seat id in display order.
func (l Layout) IDs() []SeatID {
	ids := make([]SeatID, 0, l.Size())
	for _, r := range l.Rows {
		for n := 1; n <= l.SeatsPerRow; n++ {
			ids = append(ids, NewSeatID(r, n))
		}
	}
	return ids
}
