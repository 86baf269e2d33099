package rabbit

import (
	"context"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const Exchange = "seats.events"

func RoutingKey(showtimeID uuid.UUID) string {
	return "showtime." + showtimeID.String()
}

func declareExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
}

type Publisher struct {
	ch *amqp.Channel
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := declareExchange(ch); err != nil {
		ch.Close()
		return nil, err
	}
	return &Publisher{ch: ch}, nil
}

func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	return p.ch.PublishWithContext(ctx, Exchange, key, false, false, msg)
}

// PublishChange routes an encoded seat change to the showtime's subscribers.
// messageID lets consumers drop redeliveries.
func (p *Publisher) PublishChange(ctx context.Context, showtimeID uuid.UUID, messageID string, payload []byte) error {
	return p.Publish(ctx, RoutingKey(showtimeID), amqp.Publishing{
		MessageId:    messageID,
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now(),
		Body:         payload,
	})
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
