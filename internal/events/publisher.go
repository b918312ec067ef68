package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var _ Sink = (*RabbitMQSink)(nil)

// RabbitMQSink publishes engine events to the events queue.
type RabbitMQSink struct {
	client *RabbitMQ
}

func NewRabbitMQSink(client *RabbitMQ) *RabbitMQSink {
	return &RabbitMQSink{client: client}
}

func (s *RabbitMQSink) Emit(ctx context.Context, event Event) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("event sink is not initialized")
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ch, err := s.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         event.Kind.String(),
		Body:         payload,
	}

	if err := ch.PublishWithContext(ctx, "", EventsQueue, false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish event to queue %q: %w", EventsQueue, err)
	}

	return nil
}

func (s *RabbitMQSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
