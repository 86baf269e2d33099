package seatcore

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/showtime-seats/internal/domain"
	"github.com/robertarktes/showtime-seats/internal/observability"
)

const DefaultPollInterval = 2 * time.Second

// SnapshotTarget takes a fetched snapshot and rebuilds the live grid from it
// together with the seats currently shown as selected, in one step.
type SnapshotTarget interface {
	ApplySnapshot(ctx context.Context, seats []domain.Seat)
}

// PollingFallback re-fetches the full seat state on a fixed interval. It is
// only run while no realtime subscription is joined.
type PollingFallback struct {
	source     SnapshotSource
	target     SnapshotTarget
	showtimeID uuid.UUID
	clock      clock.Clock
	interval   time.Duration
	logger     observability.Logger
}

func NewPollingFallback(source SnapshotSource, target SnapshotTarget, showtimeID uuid.UUID, clk clock.Clock,
	interval time.Duration, logger observability.Logger) *PollingFallback {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &PollingFallback{
		source:     source,
		target:     target,
		showtimeID: showtimeID,
		clock:      clk,
		interval:   interval,
		logger:     logger.WithField("showtime_id", showtimeID.String()),
	}
}

// Run ticks until ctx is done. Failed ticks leave the grid as it was.
func (p *PollingFallback) Run(ctx context.Context) {
	ticker := p.clock.Ticker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil && ctx.Err() == nil {
				p.logger.WithError(err).Warn("seat snapshot poll failed")
			}
		}
	}
}

func (p *PollingFallback) Tick(ctx context.Context) error {
	seats, err := p.source.FetchSeats(ctx, p.showtimeID)
	if err != nil {
		observability.PollTicks.WithLabelValues("error").Inc()
		return errors.Wrap(err, "fetch seats")
	}
	observability.PollTicks.WithLabelValues("ok").Inc()
	p.target.ApplySnapshot(ctx, seats)
	return nil
}
