// Package booking is the server side of seat holds: it guards every seat
// transition with a fast Redis lock and a conditional database write, records
// each change in the outbox, and turns paid holds into bookings.
package booking

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/showtime-seats/internal/adapters/crdb"
	"github.com/robertarktes/showtime-seats/internal/domain"
	"github.com/robertarktes/showtime-seats/internal/observability"
)

const DefaultExpiryBatch = 100

type Options struct {
	HoldTTL      time.Duration
	SnapshotTTL  time.Duration
	PricePerSeat float64
	Clock        clock.Clock
	Logger       observability.Logger
}

type Service struct {
	store   SeatStore
	locks   HoldLocker
	cache   SnapshotCache
	catalog Catalog
	audit   Auditor

	holdTTL      time.Duration
	snapshotTTL  time.Duration
	pricePerSeat float64
	clock        clock.Clock
	logger       observability.Logger
}

func NewService(store SeatStore, locks HoldLocker, cache SnapshotCache, catalog Catalog, audit Auditor, opts Options) *Service {
	if opts.HoldTTL <= 0 {
		opts.HoldTTL = domain.DefaultHoldDuration
	}
	if opts.PricePerSeat <= 0 {
		opts.PricePerSeat = domain.DefaultPricePerSeat
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	return &Service{
		store:        store,
		locks:        locks,
		cache:        cache,
		catalog:      catalog,
		audit:        audit,
		holdTTL:      opts.HoldTTL,
		snapshotTTL:  opts.SnapshotTTL,
		pricePerSeat: opts.PricePerSeat,
		clock:        opts.Clock,
		logger:       opts.Logger,
	}
}

type HoldInput struct {
	ShowtimeID  uuid.UUID
	SeatID      domain.SeatID
	UserID      uuid.UUID
	RequestedAt time.Time
}

// Showtime reads hall geometry and price from the catalog. Showtimes the
// catalog does not know use the default hall at the configured price.
func (s *Service) Showtime(ctx context.Context, id uuid.UUID) (domain.Showtime, error) {
	info := domain.Showtime{ID: id, Layout: domain.DefaultLayout, PricePerSeat: s.pricePerSeat}
	if s.catalog == nil {
		return info, nil
	}
	doc, err := s.catalog.GetShowtime(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.WithField("showtime_id", id.String()).Debug("showtime not in catalog, using default hall")
		return info, nil
	}
	if err != nil {
		return info, errors.Wrap(err, "load showtime")
	}
	info.MovieTitle = doc.MovieTitle
	info.Hall = doc.Hall
	if !doc.StartsAt.IsZero() {
		startsAt := doc.StartsAt
		info.StartsAt = &startsAt
	}
	if err := doc.Layout.Validate(); err == nil {
		info.Layout = doc.Layout
	}
	if doc.PricePerSeat > 0 {
		info.PricePerSeat = doc.PricePerSeat
	}
	return info, nil
}

// Snapshot returns every stored seat row of a showtime. Holds past their
// expiry read as available even before the expiry worker has run.
func (s *Service) Snapshot(ctx context.Context, showtimeID uuid.UUID) ([]domain.Seat, error) {
	if seats, ok, err := s.cache.GetSnapshot(ctx, showtimeID); err != nil {
		s.logger.WithError(err).Warn("snapshot cache read failed")
	} else if ok {
		return s.expireStale(seats), nil
	}

	seats, err := s.store.Snapshot(ctx, showtimeID)
	if err != nil {
		return nil, err
	}
	if s.snapshotTTL > 0 {
		if err := s.cache.SetSnapshot(ctx, showtimeID, seats, s.snapshotTTL); err != nil {
			s.logger.WithError(err).Warn("snapshot cache write failed")
		}
	}
	return s.expireStale(seats), nil
}

func (s *Service) expireStale(seats []domain.Seat) []domain.Seat {
	now := s.clock.Now()
	out := make([]domain.Seat, len(seats))
	for i, seat := range seats {
		if seat.Status == domain.StatusReserved && seat.ReservedUntil != nil && !now.Before(*seat.ReservedUntil) {
			seat = seat.Cleared()
		}
		out[i] = seat
	}
	return out
}

// Reserve places a single-seat hold for the caller. It returns
// domain.ErrSeatTaken when someone else holds or booked the seat.
func (s *Service) Reserve(ctx context.Context, in HoldInput) (domain.Seat, error) {
	info, err := s.Showtime(ctx, in.ShowtimeID)
	if err != nil {
		return domain.Seat{}, err
	}
	if !info.Layout.Contains(in.SeatID) {
		return domain.Seat{}, errors.Wrapf(domain.ErrUnknownSeat, "seat %q", in.SeatID)
	}
	row, number, _ := domain.ParseSeatID(in.SeatID)

	logger := s.logger.WithField("showtime_id", in.ShowtimeID.String()).WithField("seat_id", string(in.SeatID))

	acquired, reentered, err := s.locks.SetHoldLock(ctx, in.ShowtimeID, in.SeatID, in.UserID, s.holdTTL)
	if err != nil {
		// the database write below still decides
		logger.WithError(err).Warn("hold lock unavailable")
	} else if !acquired && !reentered {
		observability.HoldsTotal.WithLabelValues("conflict").Inc()
		return domain.Seat{}, domain.ErrSeatTaken
	}

	now := s.clock.Now()
	res := domain.NewReservation(in.ShowtimeID, in.SeatID, in.UserID, now, s.holdTTL)

	var seat domain.Seat
	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		prior, err := s.store.GetSeatForUpdate(ctx, tx, in.ShowtimeID, in.SeatID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		seat, err = s.store.ReserveSeat(ctx, tx, res, row, number, now)
		if err != nil {
			return err
		}
		ev := domain.ChangeEvent{Type: domain.EventUpdate, New: &seat, Old: prior}
		if prior == nil {
			ev.Type = domain.EventInsert
		}
		return s.emit(ctx, tx, in.ShowtimeID, ev)
	})
	if err != nil {
		// a re-entered lock may still guard this user's live hold
		if acquired {
			if lerr := s.locks.ReleaseHoldLock(context.WithoutCancel(ctx), in.ShowtimeID, in.SeatID, in.UserID); lerr != nil {
				logger.WithError(lerr).Warn("release hold lock")
			}
		}
		if errors.Is(err, domain.ErrSeatTaken) {
			observability.HoldsTotal.WithLabelValues("conflict").Inc()
		} else {
			observability.HoldsTotal.WithLabelValues("error").Inc()
		}
		return domain.Seat{}, err
	}

	observability.HoldsTotal.WithLabelValues("created").Inc()
	s.invalidate(ctx, in.ShowtimeID)
	s.record(logger, s.audit.LogHold(ctx, seat))
	logger.WithField("user_id", in.UserID.String()).WithField("requested_at", in.RequestedAt).Debug("hold created")
	return seat, nil
}

// Release drops the caller's hold. domain.ErrNotFound means there was no
// hold of theirs on the seat.
func (s *Service) Release(ctx context.Context, showtimeID uuid.UUID, seatID domain.SeatID, userID uuid.UUID) error {
	var seat domain.Seat
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		prior, err := s.store.GetSeatForUpdate(ctx, tx, showtimeID, seatID)
		if err != nil {
			return err
		}
		if seat, err = s.store.ReleaseSeat(ctx, tx, showtimeID, seatID, userID); err != nil {
			return err
		}
		return s.emit(ctx, tx, showtimeID, domain.ChangeEvent{Type: domain.EventUpdate, New: &seat, Old: prior})
	})
	if err != nil {
		return err
	}

	logger := s.logger.WithField("showtime_id", showtimeID.String()).WithField("seat_id", string(seatID))
	if err := s.locks.ReleaseHoldLock(ctx, showtimeID, seatID, userID); err != nil {
		logger.WithError(err).Warn("release hold lock")
	}
	observability.HoldsTotal.WithLabelValues("released").Inc()
	s.invalidate(ctx, showtimeID)
	s.record(logger, s.audit.LogRelease(ctx, seat, userID))
	return nil
}

// Clear removes a seat row whatever its state; subscribers see a DELETE.
func (s *Service) Clear(ctx context.Context, showtimeID uuid.UUID, seatID domain.SeatID) error {
	var old domain.Seat
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		if old, err = s.store.ClearSeat(ctx, tx, showtimeID, seatID); err != nil {
			return err
		}
		return s.emit(ctx, tx, showtimeID, domain.ChangeEvent{Type: domain.EventDelete, Old: &old})
	})
	if err != nil {
		return err
	}

	logger := s.logger.WithField("showtime_id", showtimeID.String()).WithField("seat_id", string(seatID))
	if err := s.locks.DropHoldLock(ctx, showtimeID, seatID); err != nil {
		logger.WithError(err).Warn("drop hold lock")
	}
	s.invalidate(ctx, showtimeID)
	s.record(logger, s.audit.LogCleared(ctx, old))
	return nil
}

// StartBooking opens a PENDING booking for seats the user currently holds.
func (s *Service) StartBooking(ctx context.Context, checkout domain.Checkout) (domain.Booking, error) {
	if checkout.ShowtimeID == uuid.Nil {
		return domain.Booking{}, domain.ErrMissingShowtime
	}
	if len(checkout.SeatIDs) == 0 {
		return domain.Booking{}, domain.ErrNoSeats
	}
	info, err := s.Showtime(ctx, checkout.ShowtimeID)
	if err != nil {
		return domain.Booking{}, err
	}

	now := s.clock.Now()
	checkout.TotalPrice = float64(len(checkout.SeatIDs)) * info.PricePerSeat
	booking := domain.NewBooking(checkout, info.PricePerSeat, now)

	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		for _, id := range checkout.SeatIDs {
			seat, err := s.store.GetSeatForUpdate(ctx, tx, checkout.ShowtimeID, id)
			if errors.Is(err, domain.ErrNotFound) {
				return errors.Wrapf(domain.ErrHoldNotOwned, "seat %s", id)
			}
			if err != nil {
				return err
			}
			if !seat.HeldBy(checkout.UserID, now) {
				return errors.Wrapf(domain.ErrHoldNotOwned, "seat %s", id)
			}
		}
		return s.store.CreateBooking(ctx, tx, booking)
	})
	if err != nil {
		return domain.Booking{}, err
	}

	s.record(s.logger.WithField("booking_id", booking.ID.String()), s.audit.LogBooking(ctx, booking))
	return booking, nil
}

// CompletePayment settles a PENDING booking. A successful payment books the
// held seats; a failed one, or one that arrives after the holds lapsed,
// releases them and fails the booking.
func (s *Service) CompletePayment(ctx context.Context, bookingID uuid.UUID, succeeded bool) (domain.Booking, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if booking.Status != domain.BookingPending {
		return domain.Booking{}, errors.Wrapf(domain.ErrConflict, "booking is %s", booking.Status)
	}
	logger := s.logger.WithField("booking_id", bookingID.String())
	seatIDs := booking.SeatIDs()

	if succeeded {
		now := s.clock.Now()
		err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
			booked, err := s.store.BookSeats(ctx, tx, booking.ShowtimeID, seatIDs, booking.UserID, now)
			if err != nil {
				return err
			}
			for i := range booked {
				if err := s.emit(ctx, tx, booking.ShowtimeID, domain.ChangeEvent{Type: domain.EventUpdate, New: &booked[i]}); err != nil {
					return err
				}
			}
			return s.store.UpdateBookingStatus(ctx, tx, booking.ID, domain.BookingPending, domain.BookingConfirmed)
		})
		if err == nil {
			booking.Status = domain.BookingConfirmed
			for _, id := range seatIDs {
				if err := s.locks.DropHoldLock(ctx, booking.ShowtimeID, id); err != nil {
					logger.WithError(err).Warn("drop hold lock")
				}
			}
			s.invalidate(ctx, booking.ShowtimeID)
			s.record(logger, s.audit.LogBooking(ctx, *booking))
			return *booking, nil
		}
		if !errors.Is(err, domain.ErrHoldNotOwned) {
			return domain.Booking{}, err
		}
		logger.WithError(err).Warn("payment arrived after holds lapsed")
	}

	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		for _, id := range seatIDs {
			seat, err := s.store.ReleaseSeat(ctx, tx, booking.ShowtimeID, id, booking.UserID)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := s.emit(ctx, tx, booking.ShowtimeID, domain.ChangeEvent{Type: domain.EventUpdate, New: &seat}); err != nil {
				return err
			}
		}
		return s.store.UpdateBookingStatus(ctx, tx, booking.ID, domain.BookingPending, domain.BookingFailed)
	})
	if err != nil {
		return domain.Booking{}, err
	}
	booking.Status = domain.BookingFailed
	for _, id := range seatIDs {
		if err := s.locks.ReleaseHoldLock(ctx, booking.ShowtimeID, id, booking.UserID); err != nil {
			logger.WithError(err).Warn("release hold lock")
		}
	}
	s.invalidate(ctx, booking.ShowtimeID)
	s.record(logger, s.audit.LogBooking(ctx, *booking))
	return *booking, nil
}

// ExpireHolds frees up to limit lapsed holds and reports how many it freed.
func (s *Service) ExpireHolds(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultExpiryBatch
	}
	now := s.clock.Now()
	var expired []domain.Seat
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		if expired, err = s.store.ExpireHolds(ctx, tx, now, limit); err != nil {
			return err
		}
		for i := range expired {
			freed := expired[i].Cleared()
			ev := domain.ChangeEvent{Type: domain.EventUpdate, New: &freed, Old: &expired[i]}
			if err := s.emit(ctx, tx, expired[i].ShowtimeID, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	showtimes := make(map[uuid.UUID]struct{})
	for _, seat := range expired {
		logger := s.logger.WithField("showtime_id", seat.ShowtimeID.String()).WithField("seat_id", string(seat.ID))
		if err := s.locks.DropHoldLock(ctx, seat.ShowtimeID, seat.ID); err != nil {
			logger.WithError(err).Warn("drop hold lock")
		}
		s.record(logger, s.audit.LogExpired(ctx, seat))
		showtimes[seat.ShowtimeID] = struct{}{}
	}
	for id := range showtimes {
		s.invalidate(ctx, id)
	}
	observability.HoldsExpired.Add(float64(len(expired)))
	return len(expired), nil
}

func (s *Service) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return s.store.GetBooking(ctx, id)
}

func (s *Service) History(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Booking, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListBookingsByUser(ctx, userID, limit)
}

func (s *Service) emit(ctx context.Context, tx pgx.Tx, showtimeID uuid.UUID, ev domain.ChangeEvent) error {
	rec, err := crdb.NewSeatChangeRecord(ev, showtimeID)
	if err != nil {
		return errors.Wrap(err, "encode seat change")
	}
	return s.store.InsertOutbox(ctx, tx, rec)
}

func (s *Service) invalidate(ctx context.Context, showtimeID uuid.UUID) {
	if err := s.cache.InvalidateSnapshot(ctx, showtimeID); err != nil {
		s.logger.WithError(err).WithField("showtime_id", showtimeID.String()).Warn("snapshot cache invalidate failed")
	}
}

func (s *Service) record(logger observability.Logger, err error) {
	if err != nil {
		logger.WithError(err).Warn("audit write failed")
	}
}
