package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/recoverly-app/recoveryservice/internal/retry"
)

// EventType names a recovery domain event
type EventType string

const (
	EventFailureRecorded   EventType = "payment_failure_recorded"
	EventRetryScheduled    EventType = "payment_retry_scheduled"
	EventRetrySucceeded    EventType = "payment_retry_succeeded"
	EventRetryFailed       EventType = "payment_retry_failed"
	EventFailureAbandoned  EventType = "payment_failure_abandoned"
	EventCampaignCreated   EventType = "dunning_campaign_created"
	EventCampaignAdvanced  EventType = "dunning_campaign_advanced"
	EventCampaignCompleted EventType = "dunning_campaign_completed"
	EventCampaignCanceled  EventType = "dunning_campaign_canceled"
	EventAccountTransition EventType = "account_state_transition"
)

// RecoveryEvent is the wire format for recovery domain events
type RecoveryEvent struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	CustomerID string            `json:"customer_id"`
	EntityID   string            `json:"entity_id"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt int64             `json:"occurred_at"`
}

// NewRecoveryEvent creates an event with a fresh ID and timestamp
func NewRecoveryEvent(eventType EventType, customerID, entityID string, data map[string]string) *RecoveryEvent {
	return &RecoveryEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		CustomerID: customerID,
		EntityID:   entityID,
		Data:       data,
		OccurredAt: time.Now().Unix(),
	}
}

// Publisher defines the interface for publishing recovery events
type Publisher interface {
	// Publish publishes an event. Callers treat failures as non-fatal.
	Publish(ctx context.Context, event *RecoveryEvent) error

	// Close closes the publisher
	Close() error
}

// KafkaPublisher publishes recovery events to a Kafka topic
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

// NewKafkaPublisher creates a Kafka publisher with a sync producer
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}, nil
}

// Publish sends the event to Kafka, keyed by customer ID so per-customer
// ordering is preserved within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, event *RecoveryEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal recovery event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.CustomerID),
		Value: sarama.ByteEncoder(payload),
	}

	err = retry.Do(ctx, retry.DefaultConfig(), p.logger, func() error {
		_, _, sendErr := p.producer.SendMessage(msg)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("failed to publish recovery event: %w", err)
	}

	p.logger.Debug("Published recovery event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("customer_id", event.CustomerID))

	return nil
}

// Close closes the underlying producer
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// NoopPublisher is a no-operation publisher for testing and development
type NoopPublisher struct{}

// Publish implements Publisher
func (NoopPublisher) Publish(ctx context.Context, event *RecoveryEvent) error { return nil }

// Close implements Publisher
func (NoopPublisher) Close() error { return nil }
