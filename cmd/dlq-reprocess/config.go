package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/mall/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	brokersEnv         = "MALL_KAFKA_BROKERS"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	// limit - сколько сообщений DLQ просмотреть суммарно по всем партициям.
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
	// eventType оставляет только события этого типа; пусто - все.
	eventType string
}

func (c config) mode() string {
	if c.execute {
		return "execute"
	}
	return "dry-run"
}

// parseConfig разбирает аргументы командной строки. Брокеры без флага
// берутся из MALL_KAFKA_BROKERS.
func parseConfig(args []string, getenv func(string) string, output io.Writer) (config, error) {
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		cfg     config
		brokers string
	)
	fs.StringVar(&brokers, "brokers", "", "comma-separated kafka brokers (default $"+brokersEnv+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "dead letter topic to scan")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicOrderEvents, "topic to publish recovered events to")
	fs.IntVar(&cfg.limit, "limit", defaultReplayLimit, "max messages to scan across all partitions")
	fs.BoolVar(&cfg.execute, "execute", false, "publish recovered events; without it only candidates are logged")
	fs.BoolVar(&cfg.fromNewest, "from-newest", false, "start from the last -limit messages of each partition")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this long without messages")
	fs.StringVar(&cfg.eventType, "event-type", "", "replay only this event type, e.g. order.created")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if fs.NArg() > 0 {
		return config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	if strings.TrimSpace(brokers) == "" && getenv != nil {
		brokers = getenv(brokersEnv)
	}
	cfg.brokers = kafka.ParseBrokers(brokers)
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)
	cfg.eventType = strings.TrimSpace(cfg.eventType)

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	var errs []error
	if len(c.brokers) == 0 {
		errs = append(errs, fmt.Errorf("kafka brokers are required (-brokers or %s)", brokersEnv))
	}
	if c.sourceTopic == "" {
		errs = append(errs, errors.New("source-topic is required"))
	}
	if c.targetTopic == "" {
		errs = append(errs, errors.New("target-topic is required"))
	}
	if c.sourceTopic != "" && c.sourceTopic == c.targetTopic {
		errs = append(errs, errors.New("source-topic and target-topic must differ"))
	}
	if c.limit <= 0 {
		errs = append(errs, errors.New("limit must be > 0"))
	}
	if c.idleTimeout <= 0 {
		errs = append(errs, errors.New("idle-timeout must be > 0"))
	}
	return errors.Join(errs...)
}
