package kafka

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/ordercrud/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
//
// Payload отправляется как есть, метаданные outbox уходят в заголовки.
// Ключом сообщения служит id агрегата, поэтому события одного заказа
// попадают в одну партицию и сохраняют порядок.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
	}
}

// Topic возвращает topic назначения.
func (p *OutboxTopicPublisher) Topic() string {
	return p.topic
}

func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	headers := map[string]string{
		HeaderEventType:     event.EventType,
		HeaderOutboxID:      event.ID,
		HeaderAggregateType: event.AggregateType,
	}
	return p.producer.Send(ctx, p.topic, key, event.Payload, headers)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
