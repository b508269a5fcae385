package kafka

import (
	"fmt"
	"strings"

	"github.com/IBM/sarama"
)

// ParseBrokers разбирает список брокеров через запятую, пропуская пустые элементы.
func ParseBrokers(raw string) []string {
	var brokers []string
	for _, broker := range strings.Split(raw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// CheckBrokers проверяет, что кластер отвечает на запрос метаданных.
func CheckBrokers(brokers []string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("kafka brokers are not configured")
	}

	config := sarama.NewConfig()
	config.Metadata.Retry.Max = 0
	client, err := sarama.NewClient(brokers, config)
	if err != nil {
		return fmt.Errorf("connect kafka: %w", err)
	}
	defer client.Close()

	if err := client.RefreshMetadata(); err != nil {
		return fmt.Errorf("refresh kafka metadata: %w", err)
	}
	return nil
}
