package redis

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/showtime-seats/internal/domain"
	"github.com/robertarktes/showtime-seats/internal/observability"
	"github.com/robertarktes/showtime-seats/internal/seatcore"
)

func ChannelName(showtimeID uuid.UUID) string {
	return "seats:" + showtimeID.String()
}

// Feed is the pub/sub flavour of the seat change feed.
type Feed struct {
	client *redis.Client
	logger observability.Logger
}

func NewFeed(client *redis.Client, logger observability.Logger) *Feed {
	return &Feed{client: client, logger: logger}
}

// PublishChange sends an encoded domain.ChangeEvent to the showtime's channel.
func (f *Feed) PublishChange(ctx context.Context, showtimeID uuid.UUID, payload []byte) error {
	return f.client.Publish(ctx, ChannelName(showtimeID), payload).Err()
}

func (f *Feed) Subscribe(ctx context.Context, showtimeID uuid.UUID) (seatcore.Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	s := &subscription{
		ps:     f.client.Subscribe(subCtx, ChannelName(showtimeID)),
		events: make(chan domain.ChangeEvent, 64),
		status: make(chan seatcore.ChannelStatus, 2),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: f.logger.WithField("channel", ChannelName(showtimeID)),
	}
	go s.run(subCtx)
	return s, nil
}

type subscription struct {
	ps     *redis.PubSub
	events chan domain.ChangeEvent
	status chan seatcore.ChannelStatus
	cancel context.CancelFunc
	done   chan struct{}
	logger observability.Logger

	closeOnce sync.Once
	closeErr  error
}

func (s *subscription) Events() <-chan domain.ChangeEvent    { return s.events }
func (s *subscription) Status() <-chan seatcore.ChannelStatus { return s.status }

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.ps.Close()
		<-s.done
		close(s.events)
		close(s.status)
	})
	return s.closeErr
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.done)

	// The first reply on a fresh PubSub is the subscribe confirmation.
	msg, err := s.ps.Receive(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("redis subscribe failed")
		s.report(ctx, seatcore.ChannelError)
		return
	}
	if _, ok := msg.(*redis.Subscription); !ok {
		s.report(ctx, seatcore.ChannelError)
		return
	}
	s.report(ctx, seatcore.ChannelSubscribed)

	ch := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				s.report(ctx, seatcore.ChannelClosed)
				return
			}
			ev, err := domain.ParseChangeEvent([]byte(m.Payload))
			if err != nil {
				s.logger.WithError(err).Warn("dropping malformed seat change")
				continue
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *subscription) report(ctx context.Context, st seatcore.ChannelStatus) {
	select {
	case s.status <- st:
	case <-ctx.Done():
	}
}
