// Package kafka публикует события заказов в Kafka через sarama.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// ProducerConfig возвращает настройки sync producer с идемпотентной
// записью: подтверждение от всех ISR и один запрос в полёте.
func ProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

// Producer отправляет Envelope в Kafka синхронно.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
}

// NewProducer подключается к брокерам.
func NewProducer(brokers []string, logger *log.Entry) (*Producer, error) {
	sync, err := sarama.NewSyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewProducerWithSync(sync, logger), nil
}

// NewProducerWithSync оборачивает готовый sarama.SyncProducer, например mocks.SyncProducer.
func NewProducerWithSync(sync sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{sync: sync, logger: logger}
}

// Publish пишет envelope в topic с ключом Envelope.Key и заголовками Envelope.Headers.
func (p *Producer) Publish(ctx context.Context, topic string, envelope Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope %s: %w", envelope.ID, err)
	}

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(envelope.Key()),
		Value:   sarama.ByteEncoder(value),
		Headers: envelope.Headers(),
	}
	if !envelope.PublishedAt.IsZero() {
		msg.Timestamp = envelope.PublishedAt
	}

	entry := p.logger.WithFields(log.Fields{
		"topic":      topic,
		"key":        envelope.Key(),
		"event_type": envelope.EventType,
	})
	partition, offset, err := p.sync.SendMessage(msg)
	if err != nil {
		entry.WithError(err).Error("kafka send failed")
		return fmt.Errorf("send %s to %s: %w", envelope.ID, topic, err)
	}

	entry.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka message sent")
	return nil
}

// Close закрывает producer.
func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
