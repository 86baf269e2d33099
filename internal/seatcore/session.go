package seatcore

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/showtime-seats/internal/domain"
	"github.com/robertarktes/showtime-seats/internal/observability"
)

type Mode int

const (
	ModeIdle Mode = iota
	ModeConnecting
	ModeRealtime
	ModePolling
	ModeClosed
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeConnecting:
		return "connecting"
	case ModeRealtime:
		return "realtime"
	case ModePolling:
		return "polling"
	case ModeClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	ErrSessionOpen   = errors.New("session already opened")
	ErrSessionClosed = errors.New("session closed")
)

type SessionOptions struct {
	Layout       domain.Layout
	Storage      Storage
	Coordinator  *ReservationCoordinator
	Clock        clock.Clock
	JoinTimeout  time.Duration
	PollInterval time.Duration
	Logger       observability.Logger
}

// Session is the seat-selection view of one showtime. Open acquires exactly
// one update source at a time (realtime subscription, or the polling fallback
// once realtime fails) and Close releases it. All state changes are
// serialised on one mutex, so events, poll ticks and clicks never interleave.
type Session struct {
	showtimeID   uuid.UUID
	layout       domain.Layout
	source       SnapshotSource
	feed         Feed
	coordinator  *ReservationCoordinator
	clock        clock.Clock
	joinTimeout  time.Duration
	pollInterval time.Duration
	logger       observability.Logger

	mu      sync.Mutex
	store   *SeatStatusStore
	ledger  *LocalSelectionLedger
	userID  *uuid.UUID
	mode    Mode
	rtState State
	changes chan struct{}

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func NewSession(showtimeID uuid.UUID, source SnapshotSource, feed Feed, opts SessionOptions) *Session {
	if opts.Layout.Rows == nil {
		opts.Layout = domain.DefaultLayout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	return &Session{
		showtimeID:   showtimeID,
		layout:       opts.Layout,
		source:       source,
		feed:         feed,
		coordinator:  opts.Coordinator,
		clock:        opts.Clock,
		joinTimeout:  opts.JoinTimeout,
		pollInterval: opts.PollInterval,
		logger:       opts.Logger.WithField("showtime_id", showtimeID.String()),
		store:        NewSeatStatusStore(showtimeID, opts.Layout),
		ledger:       NewLocalSelectionLedger(showtimeID, opts.Storage),
		changes:      make(chan struct{}, 1),
	}
}

// Open loads the persisted selection and the first snapshot, then starts
// the update source. A failed snapshot leaves an all-available grid; only a
// missing showtime id or a broken layout fail Open.
func (s *Session) Open(ctx context.Context) error {
	if s.showtimeID == uuid.Nil {
		return domain.ErrMissingShowtime
	}
	if err := s.layout.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.mode != ModeIdle {
		s.mu.Unlock()
		return ErrSessionOpen
	}
	s.mode = ModeConnecting
	if err := s.ledger.Load(ctx); err != nil {
		s.logger.WithError(err).Warn("discarding stored seat selection")
	}
	s.mu.Unlock()

	seats, err := s.source.FetchSeats(ctx, s.showtimeID)
	if err != nil {
		s.logger.WithError(err).Warn("seat snapshot unavailable, showing all seats available")
		seats = nil
	}
	s.ApplySnapshot(ctx, seats)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	if s.mode == ModeClosed {
		s.mu.Unlock()
		cancel()
		return ErrSessionClosed
	}
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.supervise(runCtx)
	return nil
}

// Close stops whichever update source is running and waits for it. Safe to
// call more than once and on a session that never opened.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		cancel, done := s.cancel, s.done
		s.mu.Unlock()
		if cancel != nil {
			cancel()
			<-done
		}
		s.mu.Lock()
		s.mode = ModeClosed
		s.mu.Unlock()
		s.notify()
	})
	return nil
}

func (s *Session) supervise(ctx context.Context) {
	defer close(s.done)

	rec := NewRealtimeReconciler(s.feed, s.showtimeID, s.clock, s.joinTimeout, s.applyEvent, s.logger)
	rec.OnStateChange(s.onRealtimeState)
	err := rec.Run(ctx)
	if ctx.Err() != nil {
		return
	}

	reason := "error"
	if errors.Is(err, ErrJoinTimeout) || rec.State() == StateTimedOut {
		reason = "timeout"
	}
	observability.RealtimeFallbacks.WithLabelValues(reason).Inc()
	s.logger.WithError(err).Warn("realtime channel unavailable, polling for seat updates")

	s.setMode(ModePolling)
	NewPollingFallback(s.source, s, s.showtimeID, s.clock, s.pollInterval, s.logger).Run(ctx)
}

func (s *Session) onRealtimeState(st State) {
	s.mu.Lock()
	s.rtState = st
	if st == StateJoined && s.mode == ModeConnecting {
		s.mode = ModeRealtime
	}
	s.mu.Unlock()
	s.notify()
}

// applyEvent evicts a seat another party just took from the ledger before the
// store update, both under the session lock.
func (s *Session) applyEvent(ctx context.Context, ev domain.ChangeEvent) {
	if err := ev.Validate(); err != nil {
		s.logger.WithError(err).Warn("dropping malformed seat event")
		return
	}

	s.mu.Lock()
	id := ev.SeatID()
	if ev.New != nil && ev.New.Status.Taken() && s.ledger.Contains(id) {
		if _, err := s.ledger.Evict(ctx, id); err != nil {
			s.logger.WithError(err).Warn("persist seat selection")
		}
	}
	_, appended, err := s.store.Apply(ev)
	s.mu.Unlock()

	if err != nil {
		s.logger.WithError(err).Warn("apply seat event")
		return
	}
	if appended {
		s.logger.WithField("seat_id", string(id)).Warn("seat event for a seat outside the layout")
	}
	s.notify()
}

// ApplySnapshot rebuilds the grid from a backend snapshot and the seats the
// grid currently shows as selected. Picks the backend has since taken drop
// out of the ledger; free ones stay selected.
func (s *Session) ApplySnapshot(ctx context.Context, seats []domain.Seat) {
	s.mu.Lock()
	selected := s.selectedLocked()
	grid := domain.BuildSeatGrid(s.showtimeID, s.layout, seats, selected)
	keep := make(domain.Selection, len(selected))
	for _, seat := range grid {
		if seat.Status == domain.StatusSelected {
			keep[seat.ID] = struct{}{}
		}
	}
	s.store.Reset(seats)
	dropped, err := s.ledger.Retain(ctx, keep)
	s.mu.Unlock()

	if err != nil {
		s.logger.WithError(err).Warn("persist seat selection")
	}
	if len(dropped) > 0 {
		s.logger.WithField("seats", joinIDs(dropped)).Info("selected seats taken by someone else")
	}
	s.notify()
}

// OnSeatClick toggles a seat in the local selection and returns its new
// display status. Reserved and booked seats are left alone.
func (s *Session) OnSeatClick(ctx context.Context, id domain.SeatID) (domain.Status, error) {
	s.mu.Lock()
	seat, ok := s.store.Get(id)
	if !ok {
		s.mu.Unlock()
		return "", errors.Wrapf(domain.ErrUnknownSeat, "seat %s", id)
	}

	status := domain.DisplayStatus(seat, s.ledger.Selection())
	switch status {
	case domain.StatusBooked, domain.StatusReserved:
		s.mu.Unlock()
		return status, nil
	case domain.StatusAvailable, domain.StatusSelected:
	}

	selected, err := s.ledger.Toggle(ctx, id)
	s.mu.Unlock()
	if err != nil {
		s.logger.WithError(err).Warn("persist seat selection")
	}
	s.notify()
	if selected {
		return domain.StatusSelected, nil
	}
	return domain.StatusAvailable, nil
}

// Authenticate attaches the signed-in user and clears the anonymous selection.
func (s *Session) Authenticate(ctx context.Context, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return domain.ErrNotAuthenticated
	}
	s.mu.Lock()
	s.userID = &userID
	err := s.ledger.Authenticate(ctx)
	s.mu.Unlock()
	s.notify()
	return errors.Wrap(err, "clear stored selection")
}

// Proceed reserves the current selection for the authenticated user. On a
// conflict the seats that were lost are dropped from the selection; on
// success the held seats are folded into the store as reserved.
func (s *Session) Proceed(ctx context.Context) (*ReservationSet, error) {
	if s.coordinator == nil {
		return nil, errors.New("session has no reservation coordinator")
	}
	s.mu.Lock()
	userID := s.userID
	selected := s.selectedLocked()
	s.mu.Unlock()

	set, err := s.coordinator.Reserve(ctx, selected, s.showtimeID, userID)
	if err != nil {
		var rerr *ReservationError
		if errors.As(err, &rerr) && len(rerr.Conflicts) > 0 {
			s.mu.Lock()
			for _, id := range rerr.Conflicts {
				if _, perr := s.ledger.Evict(ctx, id); perr != nil {
					s.logger.WithError(perr).Warn("persist seat selection")
				}
			}
			s.mu.Unlock()
			s.notify()
		}
		return nil, err
	}

	for i := range set.Seats {
		seat := set.Seats[i]
		s.applyEvent(ctx, domain.ChangeEvent{Type: domain.EventUpdate, New: &seat})
	}
	return set, nil
}

// Grid is the render-facing seat list with display statuses applied.
func (s *Session) Grid() []domain.Seat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gridLocked()
}

func (s *Session) DisplayStatus(id domain.SeatID) (domain.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seat, ok := s.store.Get(id)
	if !ok {
		return "", false
	}
	return domain.DisplayStatus(seat, s.ledger.Selection()), true
}

// Selected lists the seats shown as selected, in the order they were picked.
func (s *Session) Selected() []domain.SeatID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectedLocked()
}

// LedgerIDs exposes the raw ledger contents.
func (s *Session) LedgerIDs() []domain.SeatID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.IDs()
}

func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Session) RealtimeState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtState
}

// Changes signals, coalesced, whenever the grid or mode may have changed.
func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

func (s *Session) ShowtimeID() uuid.UUID {
	return s.showtimeID
}

func (s *Session) gridLocked() []domain.Seat {
	sel := s.ledger.Selection()
	grid := s.store.Seats()
	for i := range grid {
		grid[i].Status = domain.DisplayStatus(grid[i], sel)
	}
	return grid
}

func (s *Session) selectedLocked() []domain.SeatID {
	var out []domain.SeatID
	for _, id := range s.ledger.IDs() {
		seat, ok := s.store.Get(id)
		if !ok {
			continue
		}
		if domain.DisplayStatus(seat, domain.NewSelection(id)) == domain.StatusSelected {
			out = append(out, id)
		}
	}
	return out
}

func (s *Session) setMode(m Mode) {
	s.mu.Lock()
	if s.mode != ModeClosed {
		s.mode = m
	}
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
