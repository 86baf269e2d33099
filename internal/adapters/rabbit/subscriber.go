package rabbit

import (
	"context"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/showtime-seats/internal/domain"
	"github.com/robertarktes/showtime-seats/internal/observability"
	"github.com/robertarktes/showtime-seats/internal/seatcore"
)

// Subscriber gives each subscription its own exclusive, auto-deleted queue
// bound to one showtime's routing key.
type Subscriber struct {
	conn   *amqp.Connection
	logger observability.Logger
}

func NewSubscriber(conn *amqp.Connection, logger observability.Logger) *Subscriber {
	return &Subscriber{conn: conn, logger: logger}
}

// Subscribe returns at once. Opening the channel and binding the queue happen
// on the subscription's goroutine, which reports ChannelSubscribed once
// Consume is registered or ChannelError if the broker refuses.
func (s *Subscriber) Subscribe(ctx context.Context, showtimeID uuid.UUID) (seatcore.Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		events: make(chan domain.ChangeEvent, 64),
		status: make(chan seatcore.ChannelStatus, 2),
		cancel: cancel,
		logger: s.logger.WithField("routing_key", RoutingKey(showtimeID)),
	}
	go sub.run(subCtx, s.conn, RoutingKey(showtimeID))
	return sub, nil
}

func openQueue(conn *amqp.Connection, key string) (*amqp.Channel, <-chan amqp.Delivery, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, err
	}
	if err := declareExchange(ch); err != nil {
		ch.Close()
		return nil, nil, err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, nil, err
	}
	if err := ch.QueueBind(q.Name, key, Exchange, false, nil); err != nil {
		ch.Close()
		return nil, nil, err
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, nil, err
	}
	return ch, deliveries, nil
}

// subscription owns its channels: run closes events and status on exit, so
// Close never waits on a broker that stopped answering.
type subscription struct {
	events chan domain.ChangeEvent
	status chan seatcore.ChannelStatus
	cancel context.CancelFunc
	logger observability.Logger
}

func (s *subscription) Events() <-chan domain.ChangeEvent    { return s.events }
func (s *subscription) Status() <-chan seatcore.ChannelStatus { return s.status }

func (s *subscription) Close() error {
	s.cancel()
	return nil
}

func (s *subscription) run(ctx context.Context, conn *amqp.Connection, key string) {
	defer close(s.status)
	defer close(s.events)

	ch, deliveries, err := openQueue(conn, key)
	if err != nil {
		s.logger.WithError(err).Warn("rabbit subscribe failed")
		s.report(ctx, seatcore.ChannelError)
		return
	}
	defer func() {
		if ch.IsClosed() {
			return
		}
		if err := ch.Close(); err != nil {
			s.logger.WithError(err).Debug("close rabbit channel")
		}
	}()
	if ctx.Err() != nil {
		return
	}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	s.report(ctx, seatcore.ChannelSubscribed)

	for {
		select {
		case <-ctx.Done():
			return
		case amqpErr, ok := <-closed:
			if ok && amqpErr != nil {
				s.logger.WithError(amqpErr).Warn("rabbit channel closed")
				s.report(ctx, seatcore.ChannelError)
			} else {
				s.report(ctx, seatcore.ChannelClosed)
			}
			return
		case d, ok := <-deliveries:
			if !ok {
				s.report(ctx, seatcore.ChannelClosed)
				return
			}
			ev, err := domain.ParseChangeEvent(d.Body)
			if err != nil {
				s.logger.WithError(err).WithField("message_id", d.MessageId).Warn("dropping malformed seat change")
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
