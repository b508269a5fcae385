package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mall/internal/messaging/kafka"
)

// offsetClient - часть sarama.Client, нужная для выбора диапазона чтения.
type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error)
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

// envelopePublisher реализуется *kafka.Producer.
type envelopePublisher interface {
	Publish(ctx context.Context, topic string, envelope kafka.Envelope) error
}

// report - итог просмотра DLQ.
type report struct {
	Scanned  int
	Replayed int
	Skipped  int
}

func (r *report) add(other report) {
	r.Scanned += other.Scanned
	r.Replayed += other.Replayed
	r.Skipped += other.Skipped
}

// replayer перечитывает DLQ и возвращает исходные события в целевой топик.
// В dry-run кандидаты только логируются.
type replayer struct {
	cfg       config
	offsets   offsetClient
	source    partitionSource
	publisher envelopePublisher
	logger    *log.Entry
	now       func() time.Time
}

func newReplayer(cfg config, offsets offsetClient, source partitionSource, publisher envelopePublisher, logger *log.Entry) (*replayer, error) {
	if offsets == nil || source == nil {
		return nil, errors.New("kafka client and consumer are required")
	}
	if cfg.execute && publisher == nil {
		return nil, errors.New("producer is required in execute mode")
	}
	if logger == nil {
		logger = log.WithField("component", "dlq-reprocess")
	}
	return &replayer{
		cfg:       cfg,
		offsets:   offsets,
		source:    source,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// run обходит партиции по возрастанию номера, пока не исчерпан cfg.limit.
func (r *replayer) run(ctx context.Context) (report, error) {
	var total report

	partitions, err := r.offsets.Partitions(r.cfg.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", r.cfg.sourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		budget := r.cfg.limit - total.Scanned
		if budget <= 0 {
			break
		}
		got, err := r.drainPartition(ctx, partition, budget)
		total.add(got)
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"mode":       r.cfg.mode(),
		"partitions": len(partitions),
		"scanned":    total.Scanned,
		"replayed":   total.Replayed,
		"skipped":    total.Skipped,
	}).Info("dlq replay finished")
	return total, nil
}

// window возвращает полуинтервал офсетов [start, end), который стоит прочитать.
// С fromNewest читаются только последние budget сообщений.
func (r *replayer) window(partition int32, budget int) (int64, int64, error) {
	oldest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("get oldest offset for partition %d: %w", partition, err)
	}
	newest, err := r.offsets.GetOffset(r.cfg.sourceTopic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("get newest offset for partition %d: %w", partition, err)
	}

	start := oldest
	if r.cfg.fromNewest && newest-int64(budget) > oldest {
		start = newest - int64(budget)
	}
	return start, newest, nil
}

func (r *replayer) drainPartition(ctx context.Context, partition int32, budget int) (report, error) {
	var got report

	start, end, err := r.window(partition, budget)
	if err != nil || start >= end {
		return got, err
	}

	stream, err := r.source.ConsumePartition(r.cfg.sourceTopic, partition, start)
	if err != nil {
		return got, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(r.cfg.idleTimeout)
	defer idle.Stop()

	messages, consumerErrs := stream.Messages(), stream.Errors()
	for got.Scanned < budget {
		select {
		case <-ctx.Done():
			return got, ctx.Err()

		case <-idle.C:
			r.logger.WithField("partition", partition).Debug("partition idle, moving on")
			return got, nil

		case consumerErr, ok := <-consumerErrs:
			if !ok {
				consumerErrs = nil
				continue
			}
			if consumerErr != nil {
				return got, fmt.Errorf("partition %d consumer error: %w", partition, consumerErr)
			}

		case msg, ok := <-messages:
			if !ok || msg == nil || msg.Offset >= end {
				return got, nil
			}
			resetTimer(idle, r.cfg.idleTimeout)

			got.Scanned++
			replayed, err := r.handle(ctx, msg)
			if err != nil {
				return got, err
			}
			if replayed {
				got.Replayed++
			} else {
				got.Skipped++
			}

			if msg.Offset+1 >= end {
				return got, nil
			}
		}
	}
	return got, nil
}

// handle обрабатывает одно сообщение DLQ. Ошибку возвращает только сбой
// публикации: нераспознанные записи пропускаются.
func (r *replayer) handle(ctx context.Context, msg *sarama.ConsumerMessage) (bool, error) {
	entry := r.logger.WithFields(log.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	envelope, err := recoverEnvelope(msg.Value, r.now())
	switch {
	case errors.Is(err, kafka.ErrNotDLQMessage):
		entry.Debug("skip message without dlq record")
		return false, nil
	case err != nil:
		entry.WithError(err).Warn("skip unsupported dlq message")
		return false, nil
	}
	if r.cfg.eventType != "" && envelope.EventType != r.cfg.eventType {
		return false, nil
	}

	entry = entry.WithFields(log.Fields{
		"outbox_id":  envelope.ID,
		"event_type": envelope.EventType,
		"key":        envelope.Key(),
	})
	if !r.cfg.execute {
		entry.Info("dlq replay candidate")
		return true, nil
	}

	if err := r.publisher.Publish(ctx, r.cfg.targetTopic, envelope); err != nil {
		return false, fmt.Errorf("replay outbox event %s: %w", envelope.ID, err)
	}
	entry.Info("dlq event replayed")
	return true, nil
}

// recoverEnvelope достаёт из значения DLQ-сообщения исходное событие
// с новым временем публикации at.
func recoverEnvelope(value []byte, at time.Time) (kafka.Envelope, error) {
	outer, record, err := kafka.ParseDLQMessage(value)
	if err != nil {
		return kafka.Envelope{}, err
	}
	return record.Original(outer, at)
}

func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}
