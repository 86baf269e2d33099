package seatcore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/showtime-seats/internal/domain"
	"github.com/robertarktes/showtime-seats/internal/observability"
	"golang.org/x/sync/errgroup"
)

const (
	maxConcurrentHolds = 8
	releaseTimeout     = 10 * time.Second
)

// ReservationSet is the outcome of a fully successful Reserve.
type ReservationSet struct {
	Seats    []domain.Seat
	Checkout domain.Checkout
}

// ReservationError reports a Reserve that did not hold every seat. Holds that
// did succeed have been released again; Released lists those.
type ReservationError struct {
	Conflicts []domain.SeatID
	Failed    []domain.SeatID
	Released  []domain.SeatID
	Leaked    []domain.SeatID
	Cause     error
}

func (e *ReservationError) Error() string {
	var b strings.Builder
	b.WriteString("reservation failed")
	if len(e.Conflicts) > 0 {
		fmt.Fprintf(&b, ", seats taken: %s", joinIDs(e.Conflicts))
	}
	if len(e.Failed) > len(e.Conflicts) {
		fmt.Fprintf(&b, ", seats failed: %s", joinIDs(e.Failed))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *ReservationError) Unwrap() error { return e.Cause }

// Is lets any conflict in the batch match domain.ErrSeatTaken, whichever seat
// failed first.
func (e *ReservationError) Is(target error) bool {
	return len(e.Conflicts) > 0 && (target == domain.ErrSeatTaken || target == domain.ErrConflict)
}

type CoordinatorOptions struct {
	Clock        clock.Clock
	PricePerSeat float64
	Logger       observability.Logger
}

// ReservationCoordinator turns a selection into per-seat holds, all or
// nothing, and hands the result to the payment step.
type ReservationCoordinator struct {
	holds        HoldService
	payment      Payment
	clock        clock.Clock
	pricePerSeat float64
	logger       observability.Logger
}

func NewReservationCoordinator(holds HoldService, payment Payment, opts CoordinatorOptions) *ReservationCoordinator {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.PricePerSeat <= 0 {
		opts.PricePerSeat = domain.DefaultPricePerSeat
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	return &ReservationCoordinator{
		holds:        holds,
		payment:      payment,
		clock:        opts.Clock,
		pricePerSeat: opts.PricePerSeat,
		logger:       opts.Logger,
	}
}

type holdResult struct {
	seat domain.Seat
	err  error
}

// Reserve holds every seat in seatIDs for userID. A nil userID means the
// caller is anonymous and gets domain.ErrNotAuthenticated without any request
// being made. Conflicts come back as *ReservationError, which matches
// domain.ErrSeatTaken under errors.Is.
func (c *ReservationCoordinator) Reserve(ctx context.Context, seatIDs []domain.SeatID, showtimeID uuid.UUID, userID *uuid.UUID) (*ReservationSet, error) {
	if showtimeID == uuid.Nil {
		return nil, domain.ErrMissingShowtime
	}
	if userID == nil || *userID == uuid.Nil {
		return nil, domain.ErrNotAuthenticated
	}
	ids := dedupe(seatIDs)
	if len(ids) == 0 {
		return nil, domain.ErrNoSeats
	}

	log := c.logger.WithField("showtime_id", showtimeID.String()).WithField("user_id", userID.String())
	now := c.clock.Now()
	results := make([]holdResult, len(ids))

	// Every request runs to completion so the successes are known before any
	// compensation starts.
	var g errgroup.Group
	g.SetLimit(maxConcurrentHolds)
	for i, id := range ids {
		g.Go(func() error {
			seat, err := c.holds.CreateHold(ctx, HoldRequest{
				SeatID:          id,
				ShowtimeID:      showtimeID,
				UserID:          *userID,
				ReservationTime: now,
			})
			results[i] = holdResult{seat: seat, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var held []domain.Seat
	rerr := &ReservationError{}
	for i, res := range results {
		if res.err == nil {
			held = append(held, res.seat)
			continue
		}
		rerr.Failed = append(rerr.Failed, ids[i])
		if errors.Is(res.err, domain.ErrSeatTaken) {
			rerr.Conflicts = append(rerr.Conflicts, ids[i])
		}
		if rerr.Cause == nil {
			rerr.Cause = res.err
		}
	}

	if len(rerr.Failed) > 0 {
		rerr.Released, rerr.Leaked = c.release(ctx, showtimeID, *userID, held)
		log.WithError(rerr.Cause).WithField("failed", joinIDs(rerr.Failed)).Warn("seat reservation failed")
		return nil, rerr
	}

	checkout := domain.NewCheckout(showtimeID, *userID, ids, c.pricePerSeat, earliestExpiry(held, now))
	if c.payment != nil {
		if err := c.payment.BeginPayment(ctx, checkout); err != nil {
			released, leaked := c.release(ctx, showtimeID, *userID, held)
			log.WithError(err).Warn("payment handoff failed")
			return nil, &ReservationError{Released: released, Leaked: leaked, Cause: errors.Wrap(err, "begin payment")}
		}
	}

	log.WithField("seats", joinIDs(ids)).Info("seats reserved")
	return &ReservationSet{Seats: held, Checkout: checkout}, nil
}

// release undoes holds. It outlives the caller's context so a cancelled
// request still gives its seats back.
func (c *ReservationCoordinator) release(ctx context.Context, showtimeID, userID uuid.UUID, held []domain.Seat) (released, leaked []domain.SeatID) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	for _, seat := range held {
		if err := c.holds.ReleaseHold(rctx, showtimeID, seat.ID, userID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			c.logger.WithError(err).WithField("seat_id", string(seat.ID)).Error("compensating release failed")
			leaked = append(leaked, seat.ID)
			continue
		}
		released = append(released, seat.ID)
	}
	return released, leaked
}

func earliestExpiry(seats []domain.Seat, now time.Time) time.Time {
	var earliest time.Time
	for _, s := range seats {
		if s.ReservedUntil != nil && (earliest.IsZero() || s.ReservedUntil.Before(earliest)) {
			earliest = *s.ReservedUntil
		}
	}
	if earliest.IsZero() {
		return now.Add(domain.DefaultHoldDuration)
	}
	return earliest
}

func dedupe(ids []domain.SeatID) []domain.SeatID {
	seen := make(domain.Selection, len(ids))
	out := make([]domain.SeatID, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen.Has(id) {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func joinIDs(ids []domain.SeatID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}
