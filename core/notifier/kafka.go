package notifier

import (
	"context"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/caredose/caredose/core"
	"github.com/caredose/caredose/core/logger"
)

// Kafka is a notifier which publishes all notifications to a Kafka topic.
// The message key is "<resource>:<operation>", so consumers can partition
// by resource while keeping the per-resource operation order.
type Kafka struct {
	writer *kafka.Writer
}

// NewKafka creates a Kafka notifier for the given brokers and topic.
// Brokers is a comma-separated list of broker addresses.
func NewKafka(brokers string, topic string) *Kafka {
	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				logger.Default().Errorf("kafka: "+msg, args...)
			}),
		},
	}
}

// Notify implements core.Notifier. Delivery is asynchronous; a failed
// delivery is logged, not retried.
func (k *Kafka) Notify(resource string, operation core.Operation, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(resource + ":" + string(operation)),
		Value: payload,
	})
	if err != nil {
		logger.Default().Errorln("cannot publish notification:", err)
	}
}

// Close flushes and closes the underlying writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}
