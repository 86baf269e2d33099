package booking_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/showtime-seats/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/showtime-seats/internal/adapters/mongo"
	"github.com/robertarktes/showtime-seats/internal/domain"
	"github.com/stretchr/testify/mock"
)

type seatKey struct {
	showtime uuid.UUID
	seat     domain.SeatID
}

// memStore mirrors the conditional writes of the CockroachDB repository.
// Writes made inside a failed transaction are rolled back.
type memStore struct {
	mu       sync.Mutex
	seats    map[seatKey]domain.Seat
	bookings map[uuid.UUID]domain.Booking
	outbox   []crdb.OutboxRecord
	txErr    error
}

func newMemStore() *memStore {
	return &memStore{seats: map[seatKey]domain.Seat{}, bookings: map[uuid.UUID]domain.Booking{}}
}

func (m *memStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.txErr != nil {
		return m.txErr
	}
	seats := make(map[seatKey]domain.Seat, len(m.seats))
	for k, v := range m.seats {
		seats[k] = v
	}
	bookings := make(map[uuid.UUID]domain.Booking, len(m.bookings))
	for k, v := range m.bookings {
		bookings[k] = v
	}
	outbox := len(m.outbox)
	if err := fn(nil); err != nil {
		m.seats, m.bookings, m.outbox = seats, bookings, m.outbox[:outbox]
		return err
	}
	return nil
}

func (m *memStore) Snapshot(ctx context.Context, showtimeID uuid.UUID) ([]domain.Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Seat
	for k, s := range m.seats {
		if k.showtime == showtimeID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) GetSeatForUpdate(ctx context.Context, tx pgx.Tx, showtimeID uuid.UUID, seatID domain.SeatID) (*domain.Seat, error) {
	s, ok := m.seats[seatKey{showtimeID, seatID}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (m *memStore) ReserveSeat(ctx context.Context, tx pgx.Tx, res domain.Reservation, row string, number int, now time.Time) (domain.Seat, error) {
	k := seatKey{res.ShowtimeID, res.SeatID}
	if cur, ok := m.seats[k]; ok {
		free := cur.Status == domain.StatusAvailable ||
			(cur.Status == domain.StatusReserved && !now.Before(*cur.ReservedUntil))
		if !free {
			return domain.Seat{}, domain.ErrSeatTaken
		}
	}
	s := res.Seat(row, number)
	m.seats[k] = s
	return s, nil
}

func (m *memStore) ReleaseSeat(ctx context.Context, tx pgx.Tx, showtimeID uuid.UUID, seatID domain.SeatID, userID uuid.UUID) (domain.Seat, error) {
	k := seatKey{showtimeID, seatID}
	cur, ok := m.seats[k]
	if !ok || cur.Status != domain.StatusReserved || *cur.ReservedBy != userID {
		return domain.Seat{}, domain.ErrNotFound
	}
	cur = cur.Cleared()
	m.seats[k] = cur
	return cur, nil
}

func (m *memStore) ClearSeat(ctx context.Context, tx pgx.Tx, showtimeID uuid.UUID, seatID domain.SeatID) (domain.Seat, error) {
	k := seatKey{showtimeID, seatID}
	cur, ok := m.seats[k]
	if !ok {
		return domain.Seat{}, domain.ErrNotFound
	}
	delete(m.seats, k)
	return cur, nil
}

func (m *memStore) BookSeats(ctx context.Context, tx pgx.Tx, showtimeID uuid.UUID, seatIDs []domain.SeatID, userID uuid.UUID, now time.Time) ([]domain.Seat, error) {
	var out []domain.Seat
	for _, id := range seatIDs {
		k := seatKey{showtimeID, id}
		cur, ok := m.seats[k]
		if !ok || !cur.HeldBy(userID, now) {
			return nil, domain.ErrHoldNotOwned
		}
		cur.Status = domain.StatusBooked
		cur.ReservedUntil = nil
		m.seats[k] = cur
		out = append(out, cur)
	}
	return out, nil
}

func (m *memStore) ExpireHolds(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]domain.Seat, error) {
	var out []domain.Seat
	for k, s := range m.seats {
		if len(out) == limit {
			break
		}
		if s.Status == domain.StatusReserved && !now.Before(*s.ReservedUntil) {
			out = append(out, s)
			m.seats[k] = s.Cleared()
		}
	}
	return out, nil
}

func (m *memStore) CreateBooking(ctx context.Context, tx pgx.Tx, b domain.Booking) error {
	m.bookings[b.ID] = b
	return nil
}

func (m *memStore) UpdateBookingStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, from, to domain.BookingStatus) error {
	b, ok := m.bookings[id]
	if !ok || b.Status != from {
		return domain.ErrNotFound
	}
	b.Status = to
	m.bookings[id] = b
	return nil
}

func (m *memStore) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (m *memStore) ListBookingsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Booking
	for _, b := range m.bookings {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStore) InsertOutbox(ctx context.Context, tx pgx.Tx, rec crdb.OutboxRecord) error {
	m.outbox = append(m.outbox, rec)
	return nil
}

func (m *memStore) events() []domain.ChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ChangeEvent, 0, len(m.outbox))
	for _, rec := range m.outbox {
		ev, err := domain.ParseChangeEvent(rec.Payload)
		if err != nil {
			panic(err)
		}
		out = append(out, ev)
	}
	return out
}

func (m *memStore) seat(showtimeID uuid.UUID, id domain.SeatID) (domain.Seat, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.seats[seatKey{showtimeID, id}]
	return s, ok
}

type memLocks struct {
	mu    sync.Mutex
	locks map[seatKey]uuid.UUID
	err   error
}

func newMemLocks() *memLocks { return &memLocks{locks: map[seatKey]uuid.UUID{}} }

func (l *memLocks) SetHoldLock(ctx context.Context, showtimeID uuid.UUID, seatID domain.SeatID, userID uuid.UUID, ttl time.Duration) (bool, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, false, l.err
	}
	k := seatKey{showtimeID, seatID}
	if owner, ok := l.locks[k]; ok {
		return false, owner == userID, nil
	}
	l.locks[k] = userID
	return true, false, nil
}

func (l *memLocks) ReleaseHoldLock(ctx context.Context, showtimeID uuid.UUID, seatID domain.SeatID, userID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := seatKey{showtimeID, seatID}
	if l.locks[k] == userID {
		delete(l.locks, k)
	}
	return nil
}

func (l *memLocks) DropHoldLock(ctx context.Context, showtimeID uuid.UUID, seatID domain.SeatID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, seatKey{showtimeID, seatID})
	return nil
}

func (l *memLocks) held(showtimeID uuid.UUID, seatID domain.SeatID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.locks[seatKey{showtimeID, seatID}]
	return ok
}

type memCache struct {
	mu          sync.Mutex
	snapshots   map[uuid.UUID][]domain.Seat
	invalidated int
}

func newMemCache() *memCache { return &memCache{snapshots: map[uuid.UUID][]domain.Seat{}} }

func (c *memCache) GetSnapshot(ctx context.Context, id uuid.UUID) ([]domain.Seat, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snapshots[id]
	return s, ok, nil
}

func (c *memCache) SetSnapshot(ctx context.Context, id uuid.UUID, seats []domain.Seat, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[id] = seats
	return nil
}

func (c *memCache) InvalidateSnapshot(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, id)
	c.invalidated++
	return nil
}

type fakeCatalog struct {
	docs map[uuid.UUID]*mongoadapter.ShowtimeDoc
}

func (c *fakeCatalog) GetShowtime(ctx context.Context, id uuid.UUID) (*mongoadapter.ShowtimeDoc, error) {
	if doc, ok := c.docs[id]; ok {
		return doc, nil
	}
	return nil, domain.ErrNotFound
}

type mockAuditor struct {
	mock.Mock
}

func (m *mockAuditor) LogHold(ctx context.Context, seat domain.Seat) error {
	return m.Called(ctx, seat).Error(0)
}

func (m *mockAuditor) LogRelease(ctx context.Context, seat domain.Seat, userID uuid.UUID) error {
	return m.Called(ctx, seat, userID).Error(0)
}

func (m *mockAuditor) LogExpired(ctx context.Context, seat domain.Seat) error {
	return m.Called(ctx, seat).Error(0)
}

func (m *mockAuditor) LogCleared(ctx context.Context, seat domain.Seat) error {
	return m.Called(ctx, seat).Error(0)
}

func (m *mockAuditor) LogBooking(ctx context.Context, b domain.Booking) error {
	return m.Called(ctx, b).Error(0)
}
