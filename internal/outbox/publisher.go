// Package outbox relays committed seat changes from the outbox table to the
// realtime feeds.
package outbox

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/showtime-seats/internal/adapters/crdb"
	"github.com/robertarktes/showtime-seats/internal/observability"
)

type Store interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	ClaimUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]crdb.OutboxRecord, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, id uuid.UUID, publishedAt time.Time) error
}

// Broker is the durable feed; a row counts as published once the broker took it.
type Broker interface {
	PublishChange(ctx context.Context, showtimeID uuid.UUID, messageID string, payload []byte) error
}

// Fanout is the best-effort pub/sub feed.
type Fanout interface {
	PublishChange(ctx context.Context, showtimeID uuid.UUID, payload []byte) error
}

type Options struct {
	Interval     time.Duration
	BatchSize    int
	MaxRetries   int
	RetryBackoff time.Duration
	Clock        clock.Clock
	Logger       observability.Logger
}

type Publisher struct {
	repo   Store
	broker Broker
	fanout Fanout
	opts   Options
}

func NewPublisher(repo Store, broker Broker, fanout Fanout, opts Options) *Publisher {
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	return &Publisher{repo: repo, broker: broker, fanout: fanout, opts: opts}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := p.opts.Clock.Ticker(p.opts.Interval)
	defer ticker.Stop()

	p.opts.Logger.Info("outbox publisher started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				n, err := p.RelayOnce(ctx)
				if err != nil {
					p.opts.Logger.WithError(err).Error("outbox relay failed")
					break
				}
				if n < p.opts.BatchSize {
					break
				}
			}
		}
	}
}

// RelayOnce publishes one batch in commit order and returns how many rows it
// marked. It stops at the first row the broker refuses so later changes of a
// showtime are never delivered ahead of earlier ones.
func (p *Publisher) RelayOnce(ctx context.Context) (int, error) {
	published := 0
	var relayErr error
	err := p.repo.WithTx(ctx, func(tx pgx.Tx) error {
		published = 0
		records, err := p.repo.ClaimUnpublished(ctx, tx, p.opts.BatchSize)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := p.publish(ctx, rec); err != nil {
				relayErr = errors.Wrapf(err, "publish outbox record %s", rec.ID)
				break
			}
			now := p.opts.Clock.Now()
			if err := p.repo.MarkPublished(ctx, tx, rec.ID, now); err != nil {
				return err
			}
			observability.OutboxLag.Set(now.Sub(rec.CreatedAt).Seconds())
			published++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return published, relayErr
}

func (p *Publisher) publish(ctx context.Context, rec crdb.OutboxRecord) error {
	var err error
	for i := 0; i < p.opts.MaxRetries; i++ {
		if err = p.broker.PublishChange(ctx, rec.AggregateID, rec.DedupeKey, rec.Payload); err == nil {
			break
		}
		if i+1 == p.opts.MaxRetries {
			break
		}
		observability.RabbitPublishRetries.Inc()
		backoff := p.opts.RetryBackoff * time.Duration(1<<i)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.opts.Clock.After(backoff):
		}
	}
	if err != nil {
		return err
	}

	if p.fanout != nil {
		if ferr := p.fanout.PublishChange(ctx, rec.AggregateID, rec.Payload); ferr != nil {
			p.opts.Logger.WithError(ferr).WithField("outbox_id", rec.ID.String()).Warn("pubsub fanout failed")
		}
	}
	return nil
}
