package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/hackgods/practitioner-slot-booking/internal/booking"
)

// channel is the subset of *amqp091.Channel used for publishing.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// AMQPPublisher sends lifecycle events as persistent JSON messages to a
// single queue on the default exchange.
type AMQPPublisher struct {
	mu    sync.Mutex
	ch    channel
	queue string
}

// Dial connects to the broker and declares the events queue.
func Dial(url, queue string) (*amqp091.Connection, *AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return conn, NewAMQPPublisher(ch, queue), nil
}

func NewAMQPPublisher(ch channel, queue string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, queue: queue}
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev booking.Event) error {
	msg, err := message(ev)
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func message(ev booking.Event) (amqp091.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp091.Publishing{}, fmt.Errorf("marshal event %s: %w", ev.Type, err)
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    ev.OccurredAt,
		Type:         ev.Type,
		Headers:      amqp091.Table{"event_type": ev.Type},
	}, nil
}

// LogPublisher writes events to the process log. It is used when no
// broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log}
}

func (p *LogPublisher) Publish(_ context.Context, ev booking.Event) error {
	fields := []zap.Field{
		zap.String("event", ev.Type),
		zap.Time("occurred_at", ev.OccurredAt),
		zap.Any("payload", ev.Payload),
	}
	if ev.BookingID != nil {
		fields = append(fields, zap.String("booking_id", ev.BookingID.String()))
	}
	p.log.Info("booking event", fields...)
	return nil
}

// Fanout delivers every event to all publishers and returns the first
// error encountered.
type Fanout []booking.Publisher

func (f Fanout) Publish(ctx context.Context, ev booking.Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
