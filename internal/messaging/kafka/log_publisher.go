package kafka

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

// LogPublisher пишет outbox-события в лог. Используется, когда брокеры не настроены.
type LogPublisher struct {
	logger *log.Entry
}

// NewLogPublisher создаёт паблишер, который только логирует события.
func NewLogPublisher(logger *log.Entry) *LogPublisher {
	if logger == nil {
		logger = log.WithField("component", "outbox-log-publisher")
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.logger.WithFields(log.Fields{
		"outbox_id":    event.ID,
		"aggregate_id": event.AggregateID,
		"event_type":   event.EventType,
		"payload":      string(event.Payload),
	}).Info("outbox event published")
	return nil
}

var _ domain.OutboxPublisher = (*LogPublisher)(nil)
