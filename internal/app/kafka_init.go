package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mall/internal/domain"
	"github.com/vladislavdragonenkov/mall/internal/messaging/kafka"
)

// outboxTransport - куда outbox worker отправляет события и их DLQ.
type outboxTransport struct {
	producer *kafka.Producer
	primary  domain.OutboxPublisher
	// dlq nil, когда Kafka выключена: упавшие события остаются в статусе failed.
	dlq domain.OutboxPublisher
}

// dialProducer подменяется в тестах.
var dialProducer = kafka.NewProducer

// newOutboxTransport подключает Kafka, если заданы брокеры. Недоступный
// брокер не мешает старту: сервис принимает заказы, события копятся в outbox
// и только логируются до перезапуска.
func newOutboxTransport(cfg Config, logger *log.Entry) outboxTransport {
	brokers := kafka.ParseBrokers(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		return logOnlyTransport(logger)
	}

	producer, err := dialProducer(brokers, logger.WithField("component", "kafka-producer"))
	if err != nil {
		logger.WithError(err).WithField("brokers", brokers).Warn("kafka unavailable, outbox events will only be logged")
		return logOnlyTransport(logger)
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return outboxTransport{
		producer: producer,
		primary:  kafka.NewOutboxPublisher(producer, cfg.KafkaOrderTopic),
		dlq:      kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic),
	}
}

func logOnlyTransport(logger *log.Entry) outboxTransport {
	return outboxTransport{primary: kafka.NewLogPublisher(logger.WithField("component", "outbox-log-publisher"))}
}

func (t outboxTransport) close(logger *log.Entry) {
	if t.producer == nil {
		return
	}
	if err := t.producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}
