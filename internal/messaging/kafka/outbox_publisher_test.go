package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderengine/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newTestProducer(t)
	publishedAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var envelope Envelope
		if err := json.Unmarshal(val, &envelope); err != nil {
			return err
		}
		if envelope.ID != "outbox-1" || envelope.AggregateID != "order-123" || envelope.EventType != domain.EventItemsStatusChanged {
			t.Errorf("unexpected envelope: %+v", envelope)
		}
		if !envelope.PublishedAt.Equal(publishedAt) {
			t.Errorf("unexpected published_at: %s", envelope.PublishedAt)
		}
		if string(envelope.Payload) != `{"status":"shipped"}` {
			t.Errorf("payload must be embedded as raw json, got %s", envelope.Payload)
		}
		return nil
	})

	publisher := NewOutboxPublisher(producer, TopicOrderEvents)
	publisher.now = func() time.Time { return publishedAt }

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "order-123",
		EventType:     domain.EventItemsStatusChanged,
		Payload:       []byte(`{"status":"shipped"}`),
	})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	producer, mockProducer := newTestProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(producer, TopicOrderEvents)
	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-2",
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "order-234",
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(`{}`),
	})
	require.Error(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, "")
	require.Equal(t, TopicOrderEvents, publisher.Topic())
	require.Error(t, publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3"}))
}

func TestEnvelope_RoundTripAndKey(t *testing.T) {
	t.Parallel()

	msg := domain.OutboxMessage{
		ID:            "outbox-4",
		AggregateType: domain.AggregateTypeOrder,
		EventType:     domain.EventOrderCreated,
	}

	envelope := NewEnvelope(msg, time.Now())
	require.Equal(t, "null", string(envelope.Payload))
	require.Equal(t, "outbox-4", envelope.PartitionKey(), "falls back to outbox id without aggregate")

	msg.AggregateID = "order-9"
	msg.Payload = []byte(`{"a":1}`)
	envelope = NewEnvelope(msg, time.Now())
	require.Equal(t, "order-9", envelope.PartitionKey())
	require.Equal(t, msg, envelope.Message())
	require.Equal(t, domain.EventOrderCreated, envelope.Headers()[HeaderEventType])
}
