package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/mall/internal/domain"
)

// Топики по умолчанию.
const (
	TopicOrderEvents = "mall.order.events"
	// TopicDeadLetterQueue получает события, которые не удалось опубликовать за все попытки.
	TopicDeadLetterQueue = "mall.dlq"
)

// Заголовки сообщения. По ним консьюмеры фильтруют события, не разбирая тело.
const (
	HeaderEventType = "x-event-type"
	HeaderOutboxID  = "x-outbox-id"
)

var (
	// ErrNotDLQMessage - сообщение не похоже на запись DLQ от outbox worker.
	ErrNotDLQMessage = errors.New("message is not an outbox dlq record")
	// ErrMissingOriginalPayload - в записи DLQ нет исходного события.
	ErrMissingOriginalPayload = errors.New("dlq record does not contain original event payload")
)

// Envelope - формат outbox-события в топике заказов.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope упаковывает outbox-сообщение для публикации в момент at.
func NewEnvelope(msg domain.OutboxMessage, at time.Time) Envelope {
	var payload json.RawMessage
	if len(msg.Payload) > 0 {
		payload = json.RawMessage(msg.Payload)
	}
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishedAt:   at,
	}
}

// Key возвращает ключ партиционирования. События одного заказа
// попадают в одну партицию; без агрегата ключом служит id события.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// Headers возвращает заголовки сообщения.
func (e Envelope) Headers() []sarama.RecordHeader {
	return []sarama.RecordHeader{
		{Key: []byte(HeaderEventType), Value: []byte(e.EventType)},
		{Key: []byte(HeaderOutboxID), Value: []byte(e.ID)},
	}
}

// DLQRecord - payload события, которое outbox worker отправил в DLQ.
type DLQRecord struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt time.Time       `json:"dlq_published_at"`
}

// Original восстанавливает исходный envelope для повторной публикации.
// Пустые поля записи дополняются из внешнего envelope DLQ-сообщения.
func (r DLQRecord) Original(outer Envelope, at time.Time) (Envelope, error) {
	if isEmptyJSON(r.Payload) {
		return Envelope{}, ErrMissingOriginalPayload
	}
	return Envelope{
		ID:            fallback(r.OutboxID, outer.ID),
		AggregateType: fallback(r.AggregateType, outer.AggregateType),
		AggregateID:   fallback(r.AggregateID, outer.AggregateID),
		EventType:     fallback(r.EventType, outer.EventType),
		Payload:       r.Payload,
		PublishedAt:   at,
	}, nil
}

// ParseDLQMessage разбирает значение сообщения из DLQ-топика: внешний
// envelope и вложенную в его payload запись DLQRecord.
func ParseDLQMessage(value []byte) (Envelope, DLQRecord, error) {
	var outer Envelope
	if err := json.Unmarshal(value, &outer); err != nil || isEmptyJSON(outer.Payload) {
		return Envelope{}, DLQRecord{}, ErrNotDLQMessage
	}

	var record DLQRecord
	if err := json.Unmarshal(outer.Payload, &record); err != nil {
		return outer, DLQRecord{}, fmt.Errorf("decode dlq record %s: %w", outer.ID, err)
	}
	return outer, record, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

func fallback(value, other string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return other
}
