package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func headerMap(headers []sarama.RecordHeader) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[string(h.Key)] = string(h.Value)
	}
	return out
}

func TestProducer_Publish(t *testing.T) {
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	sync := mocks.NewSyncProducer(t, nil)
	sync.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != TopicOrderEvents {
			return fmt.Errorf("topic %q", msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil || string(key) != "42" {
			return fmt.Errorf("key %q: %v", key, err)
		}
		headers := headerMap(msg.Headers)
		if headers[HeaderEventType] != "order.created" || headers[HeaderOutboxID] != "evt-42" {
			return fmt.Errorf("headers %v", headers)
		}
		if !msg.Timestamp.Equal(at) {
			return fmt.Errorf("timestamp %s", msg.Timestamp)
		}
		return nil
	})

	producer := NewProducerWithSync(sync, log.WithField("component", "kafka-producer-test"))
	err := producer.Publish(context.Background(), TopicOrderEvents, Envelope{
		ID:          "evt-42",
		AggregateID: "42",
		EventType:   "order.created",
		Payload:     json.RawMessage(`{"orderId":42}`),
		PublishedAt: at,
	})
	require.NoError(t, err)
	require.NoError(t, sync.Close())
}

func TestProducer_PublishSendError(t *testing.T) {
	sync := mocks.NewSyncProducer(t, nil)
	sync.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := NewProducerWithSync(sync, nil).Publish(context.Background(), TopicDeadLetterQueue, Envelope{ID: "evt-1"})
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	assert.Contains(t, err.Error(), "evt-1")
	require.NoError(t, sync.Close())
}

func TestProducer_PublishCanceledContext(t *testing.T) {
	sync := mocks.NewSyncProducer(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewProducerWithSync(sync, nil).Publish(ctx, TopicOrderEvents, Envelope{ID: "evt-1"})
	require.True(t, errors.Is(err, context.Canceled))
	// Ожиданий нет: сообщение не должно дойти до sarama.
	require.NoError(t, sync.Close())
}

func TestProducerConfig_Idempotent(t *testing.T) {
	cfg := ProducerConfig()
	assert.True(t, cfg.Producer.Idempotent)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.Equal(t, 1, cfg.Net.MaxOpenRequests)
	assert.True(t, cfg.Producer.Return.Successes)
	require.NoError(t, cfg.Validate())
}

func TestParseBrokers(t *testing.T) {
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, ParseBrokers(" kafka-1:9092, ,kafka-2:9092,"))
	assert.Nil(t, ParseBrokers(""))
	assert.Error(t, CheckBrokers(nil))
}
