package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/showtime-seats/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/showtime-seats/internal/adapters/mongo"
	"github.com/robertarktes/showtime-seats/internal/domain"
)

// SeatStore is the transactional seat and booking storage.
type SeatStore interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	Snapshot(ctx context.Context, showtimeID uuid.UUID) ([]domain.Seat, error)
	GetSeatForUpdate(ctx context.Context, tx pgx.Tx, showtimeID uuid.UUID, seatID domain.SeatID) (*domain.Seat, error)
	ReserveSeat(ctx context.Context, tx pgx.Tx, res domain.Reservation, row string, number int, now time.Time) (domain.Seat, error)
	ReleaseSeat(ctx context.Context, tx pgx.Tx, showtimeID uuid.UUID, seatID domain.SeatID, userID uuid.UUID) (domain.Seat, error)
	ClearSeat(ctx context.Context, tx pgx.Tx, showtimeID uuid.UUID, seatID domain.SeatID) (domain.Seat, error)
	BookSeats(ctx context.Context, tx pgx.Tx, showtimeID uuid.UUID, seatIDs []domain.SeatID, userID uuid.UUID, now time.Time) ([]domain.Seat, error)
	ExpireHolds(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]domain.Seat, error)
	CreateBooking(ctx context.Context, tx pgx.Tx, booking domain.Booking) error
	UpdateBookingStatus(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, from, to domain.BookingStatus) error
	GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
	ListBookingsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Booking, error)
	InsertOutbox(ctx context.Context, tx pgx.Tx, record crdb.OutboxRecord) error
}

// HoldLocker is the fast-path lock taken before the database hold.
type HoldLocker interface {
	SetHoldLock(ctx context.Context, showtimeID uuid.UUID, seatID domain.SeatID, userID uuid.UUID, ttl time.Duration) (acquired, reentered bool, err error)
	ReleaseHoldLock(ctx context.Context, showtimeID uuid.UUID, seatID domain.SeatID, userID uuid.UUID) error
	DropHoldLock(ctx context.Context, showtimeID uuid.UUID, seatID domain.SeatID) error
}

type SnapshotCache interface {
	GetSnapshot(ctx context.Context, showtimeID uuid.UUID) ([]domain.Seat, bool, error)
	SetSnapshot(ctx context.Context, showtimeID uuid.UUID, seats []domain.Seat, ttl time.Duration) error
	InvalidateSnapshot(ctx context.Context, showtimeID uuid.UUID) error
}

type Catalog interface {
	GetShowtime(ctx context.Context, id uuid.UUID) (*mongoadapter.ShowtimeDoc, error)
}

type Auditor interface {
	LogHold(ctx context.Context, seat domain.Seat) error
	LogRelease(ctx context.Context, seat domain.Seat, userID uuid.UUID) error
	LogExpired(ctx context.Context, seat domain.Seat) error
	LogCleared(ctx context.Context, seat domain.Seat) error
	LogBooking(ctx context.Context, booking domain.Booking) error
}
