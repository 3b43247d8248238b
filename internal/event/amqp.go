package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the part of *amqp.Channel the forwarder needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPForwarder copies bus events onto a durable RabbitMQ queue.
type AMQPForwarder struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	pub   Publisher
	queue string
}

// DialAMQP connects to the broker and declares queue as durable.
func DialAMQP(url string, queue string) (*AMQPForwarder, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	return &AMQPForwarder{conn: conn, ch: ch, pub: ch, queue: queue}, nil
}

func NewAMQPForwarder(pub Publisher, queue string) *AMQPForwarder {
	return &AMQPForwarder{pub: pub, queue: queue}
}

// Forward publishes one event as a persistent JSON message on the default
// exchange, routed by queue name.
func (f *AMQPForwarder) Forward(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.ID,
		Type:         string(e.Type),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	if err := f.pub.PublishWithContext(ctx, "", f.queue, false, false, msg); err != nil {
		return fmt.Errorf("publish event %s: %w", e.ID, err)
	}
	return nil
}

// Run forwards events until ctx is done or events is closed. Publish
// failures are logged and the event is dropped.
func (f *AMQPForwarder) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := f.Forward(publishCtx, e); err != nil {
				slog.Error("forward session event failed", "type", e.Type, "event_id", e.ID, "error", err)
			}
			cancel()
		}
	}
}

func (f *AMQPForwarder) Close() error {
	if f.ch != nil {
		_ = f.ch.Close()
	}
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}
