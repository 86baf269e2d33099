package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/robertarktes/showtime-seats/internal/domain"
)

var glyphs = map[domain.Status]string{
	domain.StatusAvailable: ".",
	domain.StatusSelected:  "*",
	domain.StatusReserved:  "r",
	domain.StatusBooked:    "x",
}

// renderGrid prints one line per row, seats numbered left to right. Seats
// missing from grid render as available.
func renderGrid(w io.Writer, layout domain.Layout, grid []domain.Seat) {
	byID := make(map[domain.SeatID]domain.Status, len(grid))
	for _, s := range grid {
		byID[s.ID] = s.Status
	}

	width := len(fmt.Sprint(layout.SeatsPerRow))
	labelWidth := 0
	for _, r := range layout.Rows {
		if len(r) > labelWidth {
			labelWidth = len(r)
		}
	}

	var b strings.Builder
	b.WriteString(strings.Repeat(" ", labelWidth+1))
	for n := 1; n <= layout.SeatsPerRow; n++ {
		fmt.Fprintf(&b, " %*d", width, n)
	}
	b.WriteByte('\n')
	for _, r := range layout.Rows {
		fmt.Fprintf(&b, "%-*s ", labelWidth, r)
		for n := 1; n <= layout.SeatsPerRow; n++ {
			st, ok := byID[domain.NewSeatID(r, n)]
			if !ok {
				st = domain.StatusAvailable
			}
			fmt.Fprintf(&b, " %*s", width, glyphs[st])
		}
		b.WriteByte('\n')
	}
	io.WriteString(w, b.String())
}
