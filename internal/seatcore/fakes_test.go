package seatcore_test

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/showtime-seats/internal/domain"
	"github.com/robertarktes/showtime-seats/internal/seatcore"
)

// fakeBackend is an in-memory seat table with at-most-one hold per seat.
type fakeBackend struct {
	mu        sync.Mutex
	seats     map[domain.SeatID]domain.Seat
	fetchErr  error
	holdErr   map[domain.SeatID]error
	fetches   int
	released  []domain.SeatID
	holdDelay time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{seats: make(map[domain.SeatID]domain.Seat), holdErr: make(map[domain.SeatID]error)}
}

func (b *fakeBackend) FetchSeats(_ context.Context, showtimeID uuid.UUID) ([]domain.Seat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	out := make([]domain.Seat, 0, len(b.seats))
	for _, s := range b.seats {
		s.ShowtimeID = showtimeID
		out = append(out, s)
	}
	return out, nil
}

func (b *fakeBackend) CreateHold(_ context.Context, req seatcore.HoldRequest) (domain.Seat, error) {
	if b.holdDelay > 0 {
		time.Sleep(b.holdDelay)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.holdErr[req.SeatID]; err != nil {
		return domain.Seat{}, err
	}
	if cur, ok := b.seats[req.SeatID]; ok && cur.Status.Taken() {
		return domain.Seat{}, domain.ErrSeatTaken
	}
	row, n, err := domain.ParseSeatID(req.SeatID)
	if err != nil {
		return domain.Seat{}, err
	}
	res := domain.NewReservation(req.ShowtimeID, req.SeatID, req.UserID, req.ReservationTime, domain.DefaultHoldDuration)
	seat := res.Seat(row, n)
	b.seats[req.SeatID] = seat
	return seat, nil
}

func (b *fakeBackend) ReleaseHold(_ context.Context, _ uuid.UUID, seatID domain.SeatID, userID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.seats[seatID]
	if !ok || cur.ReservedBy == nil || *cur.ReservedBy != userID {
		return domain.ErrNotFound
	}
	delete(b.seats, seatID)
	b.released = append(b.released, seatID)
	return nil
}

func (b *fakeBackend) set(seat domain.Seat) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seats[seat.ID] = seat
}

func (b *fakeBackend) failFetch(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetchErr = err
}

func (b *fakeBackend) fetchCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetches
}

func (b *fakeBackend) heldBy(userID uuid.UUID) []domain.SeatID {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.SeatID
	for id, s := range b.seats {
		if s.ReservedBy != nil && *s.ReservedBy == userID {
			out = append(out, id)
		}
	}
	return out
}

type fakeFeed struct {
	subscribed chan *fakeSubscription
	err        error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{subscribed: make(chan *fakeSubscription, 4)}
}

func (f *fakeFeed) Subscribe(_ context.Context, _ uuid.UUID) (seatcore.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	sub := &fakeSubscription{
		events: make(chan domain.ChangeEvent, 16),
		status: make(chan seatcore.ChannelStatus, 4),
		closed: make(chan struct{}),
	}
	f.subscribed <- sub
	return sub, nil
}

type fakeSubscription struct {
	events    chan domain.ChangeEvent
	status    chan seatcore.ChannelStatus
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *fakeSubscription) Events() <-chan domain.ChangeEvent      { return s.events }
func (s *fakeSubscription) Status() <-chan seatcore.ChannelStatus { return s.status }

func (s *fakeSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSubscription) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// stalledFeed never finishes Subscribe until its context is cancelled, like a
// broker connection that stopped answering.
type stalledFeed struct {
	entered  chan struct{}
	released chan struct{}
}

func (f *stalledFeed) Subscribe(ctx context.Context, _ uuid.UUID) (seatcore.Subscription, error) {
	close(f.entered)
	<-ctx.Done()
	close(f.released)
	return nil, ctx.Err()
}

type fakePayment struct {
	mu        sync.Mutex
	checkouts []domain.Checkout
	err       error
}

func (p *fakePayment) BeginPayment(_ context.Context, c domain.Checkout) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.checkouts = append(p.checkouts, c)
	return nil
}

var errBackendDown = errors.New("backend down")

func bookedSeat(showtimeID uuid.UUID, id domain.SeatID) domain.Seat {
	row, n, _ := domain.ParseSeatID(id)
	return domain.Seat{ID: id, Row: row, Number: n, Status: domain.StatusBooked, ShowtimeID: showtimeID}
}
