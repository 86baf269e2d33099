package domain

import (
	"time"

	"github.com/google/uuid"
)

// Showtime is what a seat map needs to draw one screening: the hall geometry
// and the price of a seat.
type Showtime struct {
	ID           uuid.UUID  `json:"id"`
	MovieTitle   string     `json:"movie_title,omitempty"`
	Hall         string     `json:"hall,omitempty"`
	StartsAt     *time.Time `json:"starts_at,omitempty"`
	Layout       Layout     `json:"layout"`
	PricePerSeat float64    `json:"price_per_seat"`
}
