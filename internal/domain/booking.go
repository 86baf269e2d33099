package domain

import (
	"time"

	"github.com/google/uuid"
)

const DefaultPricePerSeat = 100.0

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingFailed    BookingStatus = "FAILED"
)

// Checkout is what the payment step receives once every seat is held.
type Checkout struct {
	ShowtimeID uuid.UUID `json:"showtime_id"`
	UserID     uuid.UUID `json:"user_id"`
	SeatIDs    []SeatID  `json:"seat_ids"`
	TotalPrice float64   `json:"total_price"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func NewCheckout(showtimeID, userID uuid.UUID, seatIDs []SeatID, pricePerSeat float64, expiresAt time.Time) Checkout {
	return Checkout{
		ShowtimeID: showtimeID,
		UserID:     userID,
		SeatIDs:    seatIDs,
		TotalPrice: float64(len(seatIDs)) * pricePerSeat,
		ExpiresAt:  expiresAt,
	}
}

type Booking struct {
	ID         uuid.UUID     `json:"id"`
	UserID     uuid.UUID     `json:"user_id"`
	ShowtimeID uuid.UUID     `json:"showtime_id"`
	Status     BookingStatus `json:"status"`
	TotalPrice float64       `json:"total_price"`
	Items      []BookingItem `json:"items"`
	CreatedAt  time.Time     `json:"created_at"`
}

type BookingItem struct {
	SeatID SeatID  `json:"seat_id"`
	Price  float64 `json:"price"`
}

func NewBooking(checkout Checkout, pricePerSeat float64, now time.Time) Booking {
	items := make([]BookingItem, len(checkout.SeatIDs))
	for i, seat := range checkout.SeatIDs {
		items[i] = BookingItem{SeatID: seat, Price: pricePerSeat}
	}
	return Booking{
		ID:         uuid.New(),
		UserID:     checkout.UserID,
		ShowtimeID: checkout.ShowtimeID,
		Status:     BookingPending,
		TotalPrice: checkout.TotalPrice,
		Items:      items,
		CreatedAt:  now,
	}
}

func (b Booking) SeatIDs() []SeatID {
	ids := make([]SeatID, len(b.Items))
	for i, it := range b.Items {
		ids[i] = it.SeatID
	}
	return ids
}
