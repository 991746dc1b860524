package kafka

import (
	"context"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/ordercrud/internal/domain"
)

func headerMap(msg *sarama.ProducerMessage) map[string]string {
	out := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		out[string(h.Key)] = string(h.Value)
	}
	return out
}

func TestOutboxPublisher_Publish(t *testing.T) {
	producer, mockProducer := newTestProducer(t)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		value, _ := msg.Value.Encode()
		headers := headerMap(msg)

		switch {
		case msg.Topic != TopicOrderEvents:
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		case string(key) != "123":
			return fmt.Errorf("unexpected key %s", key)
		case string(value) != `{"order_id":123}`:
			return fmt.Errorf("payload must be sent as is, got %s", value)
		case headers[HeaderEventType] != "order.updated" || headers[HeaderOutboxID] != "outbox-1":
			return fmt.Errorf("unexpected headers %v", headers)
		}
		return nil
	})

	publisher := NewOutboxPublisher(producer, "")
	assert.Equal(t, TopicOrderEvents, publisher.Topic())

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: AggregateTypeOrder,
		AggregateID:   "123",
		EventType:     "order.updated",
		Payload:       []byte(`{"order_id":123}`),
	})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_KeyFallsBackToMessageID(t *testing.T) {
	producer, mockProducer := newTestProducer(t)
	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != "outbox-2" {
			return fmt.Errorf("unexpected key %s", key)
		}
		if msg.Topic != TopicDeadLetterQueue {
			return fmt.Errorf("unexpected topic %s", msg.Topic)
		}
		return nil
	})

	publisher := NewOutboxPublisher(producer, TopicDeadLetterQueue)
	require.NoError(t, publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-2", Payload: []byte(`{}`)}))
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	producer, mockProducer := newTestProducer(t)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := NewOutboxPublisher(producer, TopicOrderEvents).Publish(context.Background(), domain.OutboxMessage{
		ID:          "outbox-3",
		AggregateID: "234",
		EventType:   "order.created",
		Payload:     []byte(`{}`),
	})
	assert.Error(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	publisher := NewOutboxPublisher(nil, TopicOrderEvents)
	assert.Error(t, publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-4"}))
}
