package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/prohmpiriya/eventhub-booking/internal/domain"
	"github.com/prohmpiriya/eventhub-booking/pkg/kafka"
	"github.com/prohmpiriya/eventhub-booking/pkg/telemetry"
)

// EventPublisher publishes booking lifecycle events to the event stream.
// Events are keyed by booking id so a booking's history stays ordered
// within one partition.
type EventPublisher interface {
	Publish(ctx context.Context, eventType domain.BookingEventType, booking *domain.Booking) error
	Close() error
}

// MessageProducer is the subset of the Kafka producer used for publishing
type MessageProducer interface {
	Produce(ctx context.Context, msg *kafka.Message) error
	Close()
}

// KafkaEventPublisher implements EventPublisher using Kafka
type KafkaEventPublisher struct {
	producer    MessageProducer
	topic       string
	serviceName string
}

// EventPublisherConfig contains configuration for the event publisher
type EventPublisherConfig struct {
	Brokers     []string
	Topic       string
	ServiceName string
	ClientID    string
}

// NewKafkaEventPublisher creates a new Kafka event publisher
func NewKafkaEventPublisher(ctx context.Context, cfg *EventPublisherConfig) (*KafkaEventPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("event publisher config is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "eventhub-booking-producer"
	}

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Brokers,
		ClientID:      clientID,
		BatchSize:     100,
		LingerMs:      10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return newKafkaEventPublisher(producer, cfg.Topic, cfg.ServiceName), nil
}

func newKafkaEventPublisher(producer MessageProducer, topic, serviceName string) *KafkaEventPublisher {
	if topic == "" {
		topic = "booking-events"
	}
	if serviceName == "" {
		serviceName = "eventhub-booking"
	}
	return &KafkaEventPublisher{producer: producer, topic: topic, serviceName: serviceName}
}

// Close closes the event publisher
func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		p.producer.Close()
	}
	return nil
}

// Publish snapshots booking and produces it under eventType
func (p *KafkaEventPublisher) Publish(ctx context.Context, eventType domain.BookingEventType, booking *domain.Booking) error {
	eventID := uuid.New().String()
	event := domain.NewBookingEvent(eventType, booking, eventID)

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &kafka.Message{
		Topic: p.topic,
		Key:   []byte(event.Key()),
		Value: value,
		Headers: map[string]string{
			"event_type":   string(eventType),
			"event_id":     eventID,
			"source":       p.serviceName,
			"content_type": "application/json",
		},
		Timestamp: event.OccurredAt,
	}
	if traceID := telemetry.GetTraceID(ctx); traceID != "" {
		msg.Headers["trace_id"] = traceID
	}

	if err := p.producer.Produce(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}
	return nil
}

// NoOpEventPublisher is used when no brokers are configured
type NoOpEventPublisher struct{}

// NewNoOpEventPublisher creates a new no-op event publisher
func NewNoOpEventPublisher() *NoOpEventPublisher {
	return &NoOpEventPublisher{}
}

// Publish is a no-op
func (p *NoOpEventPublisher) Publish(ctx context.Context, eventType domain.BookingEventType, booking *domain.Booking) error {
	return nil
}

// Close is a no-op
func (p *NoOpEventPublisher) Close() error {
	return nil
}

var (
	_ EventPublisher = (*KafkaEventPublisher)(nil)
	_ EventPublisher = (*NoOpEventPublisher)(nil)
)
