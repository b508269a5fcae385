package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

// TopicPublisher реализует domain.OutboxPublisher поверх Producer:
// каждое outbox-сообщение уходит в один фиксированный topic.
type TopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

var _ domain.OutboxPublisher = (*TopicPublisher)(nil)

// NewOutboxPublisher создаёт паблишер для topic; пустой topic означает TopicOrderEvents.
func NewOutboxPublisher(producer *Producer, topic string) *TopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &TopicPublisher{
		producer: producer,
		topic:    topic,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Topic возвращает topic назначения.
func (p *TopicPublisher) Topic() string { return p.topic }

// Publish отправляет событие в topic.
func (p *TopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p.producer == nil {
		return errors.New("kafka outbox publisher has no producer")
	}
	return p.producer.Publish(ctx, p.topic, NewEnvelope(event, p.now()))
}
