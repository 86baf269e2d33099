// Package seatcore keeps one browser-style session's view of a showtime's seat
// map consistent with the backend: an authoritative status mirror fed by a
// realtime change feed (or a polling fallback), a locally persisted selection
// overlay, and the coordinator that turns a selection into seat holds.
package seatcore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/showtime-seats/internal/domain"
)

// SnapshotSource fetches the full seat state of a showtime.
type SnapshotSource interface {
	FetchSeats(ctx context.Context, showtimeID uuid.UUID) ([]domain.Seat, error)
}

type HoldRequest struct {
	SeatID          domain.SeatID `json:"seatId"`
	ShowtimeID      uuid.UUID     `json:"showtimeId"`
	UserID          uuid.UUID     `json:"userId"`
	ReservationTime time.Time     `json:"reservationTime"`
}

// HoldService creates and releases single-seat holds. CreateHold returns
// domain.ErrSeatTaken when another party already holds or booked the seat.
type HoldService interface {
	CreateHold(ctx context.Context, req HoldRequest) (domain.Seat, error)
	ReleaseHold(ctx context.Context, showtimeID uuid.UUID, seatID domain.SeatID, userID uuid.UUID) error
}

// Payment receives the checkout once every seat of it is held.
type Payment interface {
	BeginPayment(ctx context.Context, checkout domain.Checkout) error
}

type ChannelStatus int

const (
	ChannelSubscribed ChannelStatus = iota
	ChannelError
	ChannelTimedOut
	ChannelClosed
)

func (s ChannelStatus) String() string {
	switch s {
	case ChannelSubscribed:
		return "SUBSCRIBED"
	case ChannelError:
		return "CHANNEL_ERROR"
	case ChannelTimedOut:
		return "TIMED_OUT"
	case ChannelClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Feed opens per-showtime change subscriptions. Subscribe should return
// quickly; joining is reported asynchronously on Subscription.Status.
type Feed interface {
	Subscribe(ctx context.Context, showtimeID uuid.UUID) (Subscription, error)
}

type Subscription interface {
	Events() <-chan domain.ChangeEvent
	Status() <-chan ChannelStatus
	Close() error
}
