package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/showtime-seats/internal/domain"
	"github.com/robertarktes/showtime-seats/internal/observability"
)

const (
	SerializationFailureCode = "40001"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return err
	}

	err = fn(tx)
	if err == nil {
		err = tx.Commit(ctx)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}
	return nil
}

const seatColumns = `seat_id, row_label, seat_number, status, reserved_by, reserved_until, showtime_id`

func scanSeat(row pgx.Row) (domain.Seat, error) {
	var s domain.Seat
	var id, status string
	err := row.Scan(&id, &s.Row, &s.Number, &status, &s.ReservedBy, &s.ReservedUntil, &s.ShowtimeID)
	if err != nil {
		return domain.Seat{}, err
	}
	s.ID = domain.SeatID(id)
	if s.Status, err = domain.ParseStatus(status); err != nil {
		return domain.Seat{}, err
	}
	return s, nil
}

// Snapshot returns every stored seat row of a showtime. Seats with no row are
// available.
func (r *Repository) Snapshot(ctx context.Context, showtimeID uuid.UUID) ([]domain.Seat, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+seatColumns+`
		FROM seats WHERE showtime_id = $1
		ORDER BY row_label, seat_number
	`, showtimeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seats := []domain.Seat{}
	for rows.Next() {
		s, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

// GetSeatForUpdate loads one row, or returns domain.ErrNotFound.
func (r *Repository) GetSeatForUpdate(ctx context.Context, tx pgx.Tx, showtimeID uuid.UUID, seatID domain.SeatID) (*domain.Seat, error) {
	s, err := scanSeat(tx.QueryRow(ctx, `
		SELECT `+seatColumns+`
		FROM seats WHERE showtime_id = $1 AND seat_id = $2
		FOR UPDATE
	`, showtimeID, string(seatID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ReserveSeat places a hold unless another one is active or the seat is
// booked. The upsert only fires when the row is missing, available, or held
// with an expired hold, which is what keeps holds to one per seat.
func (r *Repository) ReserveSeat(ctx context.Context, tx pgx.Tx, res domain.Reservation, row string, number int, now time.Time) (domain.Seat, error) {
	s, err := scanSeat(tx.QueryRow(ctx, `
		INSERT INTO seats (showtime_id, seat_id, row_label, seat_number, status, reserved_by, reserved_until, updated_at)
		VALUES ($1, $2, $3, $4, 'reserved', $5, $6, $7)
		ON CONFLICT (showtime_id, seat_id) DO UPDATE
		SET status = 'reserved', reserved_by = excluded.reserved_by,
			reserved_until = excluded.reserved_until, updated_at = excluded.updated_at
		WHERE seats.status = 'available'
			OR (seats.status = 'reserved' AND seats.reserved_until <= $7)
		RETURNING `+seatColumns,
		res.ShowtimeID, string(res.SeatID), row, number, res.UserID, res.ReservedUntil, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Seat{}, domain.ErrSeatTaken
	}
	return s, err
}

// ReleaseSeat drops userID's active hold on a seat.
func (r *Repository) ReleaseSeat(ctx context.Context, tx pgx.Tx, showtimeID uuid.UUID, seatID domain.SeatID, userID uuid.UUID) (domain.Seat, error) {
	s, err := scanSeat(tx.QueryRow(ctx, `
		UPDATE seats SET status = 'available', reserved_by = NULL, reserved_until = NULL, updated_at = now()
		WHERE showtime_id = $1 AND seat_id = $2 AND status = 'reserved' AND reserved_by = $3
		RETURNING `+seatColumns,
		showtimeID, string(seatID), userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Seat{}, domain.ErrNotFound
	}
	return s, err
}

// ClearSeat deletes a seat row outright, whatever its state. The seat reads as
// available afterwards.
func (r *Repository) ClearSeat(ctx context.Context, tx pgx.Tx, showtimeID uuid.UUID, seatID domain.SeatID) (domain.Seat, error) {
	s, err := scanSeat(tx.QueryRow(ctx, `
		DELETE FROM seats WHERE showtime_id = $1 AND seat_id = $2
		RETURNING `+seatColumns,
		showtimeID, string(seatID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Seat{}, domain.ErrNotFound
	}
	return s, err
}

// BookSeats turns userID's unexpired holds into bookings. Every seat must be
// held by the user or nothing changes.
func (r *Repository) BookSeats(ctx context.Context, tx pgx.Tx, showtimeID uuid.UUID, seatIDs []domain.SeatID, userID uuid.UUID, now time.Time) ([]domain.Seat, error) {
	booked := make([]domain.Seat, 0, len(seatIDs))
	for _, id := range seatIDs {
		s, err := scanSeat(tx.QueryRow(ctx, `
			UPDATE seats SET status = 'booked', reserved_until = NULL, updated_at = $4
			WHERE showtime_id = $1 AND seat_id = $2 AND status = 'reserved'
				AND reserved_by = $3 AND reserved_until > $4
			RETURNING `+seatColumns,
			showtimeID, string(id), userID, now))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errors.Wrapf(domain.ErrHoldNotOwned, "seat %s", id)
		}
		if err != nil {
			return nil, err
		}
		booked = append(booked, s)
	}
	return booked, nil
}

// ExpireHolds frees up to limit holds whose time ran out and returns the
// seats as they were before.
func (r *Repository) ExpireHolds(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]domain.Seat, error) {
	rows, err := tx.Query(ctx, `
		SELECT `+seatColumns+`
		FROM seats WHERE status = 'reserved' AND reserved_until <= $1
		ORDER BY reserved_until LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, err
	}
	var expired []domain.Seat
	for rows.Next() {
		s, err := scanSeat(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, s := range expired {
		_, err := tx.Exec(ctx, `
			UPDATE seats SET status = 'available', reserved_by = NULL, reserved_until = NULL, updated_at = $3
			WHERE showtime_id = $1 AND seat_id = $2
		`, s.ShowtimeID, string(s.ID), now)
		if err != nil {
			return nil, err
		}
	}
	return expired, nil
}

func (r *Repository) CreateBooking(ctx context.Context, tx pgx.Tx, booking domain.Booking) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO bookings (id, user_id, showtime_id, status, total_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, booking.ID, booking.UserID, booking.ShowtimeID, string(booking.Status), booking.TotalPrice, booking.CreatedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, item := range booking.Items {
		batch.Queue(`
			INSERT INTO booking_items (booking_id, seat_id, price)
			VALUES ($1, $2, $3)
		`, booking.ID, string(item.SeatID), item.Price)
	}
	return tx.SendBatch(ctx, batch).Close()
}

func (r *Repository) UpdateBookingStatus(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID, from, to domain.BookingStatus) error {
	result, err := tx.Exec(ctx, `
		UPDATE bookings SET status = $3 WHERE id = $1 AND status = $2
	`, bookingID, string(from), string(to))
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	var b domain.Booking
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, showtime_id, status, total_price, created_at
		FROM bookings WHERE id = $1
	`, bookingID).Scan(&b.ID, &b.UserID, &b.ShowtimeID, &status, &b.TotalPrice, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Status = domain.BookingStatus(status)

	items, err := r.bookingItems(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	b.Items = items
	return &b, nil
}

// ListBookingsByUser returns a user's bookings, newest first.
func (r *Repository) ListBookingsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, showtime_id, status, total_price, created_at
		FROM bookings WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	var bookings []domain.Booking
	for rows.Next() {
		var b domain.Booking
		var status string
		if err := rows.Scan(&b.ID, &b.UserID, &b.ShowtimeID, &status, &b.TotalPrice, &b.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		b.Status = domain.BookingStatus(status)
		bookings = append(bookings, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range bookings {
		if bookings[i].Items, err = r.bookingItems(ctx, bookings[i].ID); err != nil {
			return nil, err
		}
	}
	return bookings, nil
}

func (r *Repository) bookingItems(ctx context.Context, bookingID uuid.UUID) ([]domain.BookingItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT seat_id, price FROM booking_items WHERE booking_id = $1 ORDER BY seat_id
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.BookingItem
	for rows.Next() {
		var item domain.BookingItem
		var seatID string
		if err := rows.Scan(&seatID, &item.Price); err != nil {
			return nil, err
		}
		item.SeatID = domain.SeatID(seatID)
		items = append(items, item)
	}
	return items, rows.Err()
}
