// Command dlq-reprocess возвращает события заказов из DLQ в основной топик.
//
// По умолчанию работает в режиме dry-run и только логирует кандидатов;
// публикация включается флагом -execute.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/mall/internal/messaging/kafka"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx, os.Args[1:], os.Getenv)
	stop()

	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
	default:
		_, _ = fmt.Fprintf(os.Stderr, "dlq-reprocess: %v\n", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, args []string, getenv func(string) string) error {
	cfg, err := parseConfig(args, getenv, os.Stderr)
	if err != nil {
		return err
	}

	logger := log.WithField("component", "dlq-reprocess")
	logger.WithFields(log.Fields{
		"source_topic": cfg.sourceTopic,
		"target_topic": cfg.targetTopic,
		"limit":        cfg.limit,
		"mode":         cfg.mode(),
		"from_newest":  cfg.fromNewest,
		"event_type":   cfg.eventType,
	}).Info("starting dlq replay")

	conn, err := dial(cfg, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	r, err := newReplayer(cfg, conn.offsets, conn.source, conn.publisher, logger)
	if err != nil {
		return err
	}
	_, err = r.run(ctx)
	return err
}

// kafkaConn держит подключения к Kafka и закрывает их в обратном порядке.
type kafkaConn struct {
	offsets   offsetClient
	source    partitionSource
	publisher envelopePublisher
	closers   []io.Closer
}

func (c *kafkaConn) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		_ = c.closers[i].Close()
	}
}

// dial подменяется в тестах.
var dial = func(cfg config, logger *log.Entry) (*kafkaConn, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	conn := &kafkaConn{
		offsets: client,
		source:  consumerSource{consumer: consumer},
		closers: []io.Closer{client, consumer},
	}
	if !cfg.execute {
		return conn, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers, logger.WithField("component", "kafka-producer"))
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.publisher = producer
	conn.closers = append(conn.closers, producer)
	return conn, nil
}

// consumerSource приводит sarama.Consumer к partitionSource.
type consumerSource struct {
	consumer sarama.Consumer
}

func (s consumerSource) ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error) {
	pc, err := s.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}
