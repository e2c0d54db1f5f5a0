package sink

import (
	"context"
	"fmt"

	"github.com/maxpert/tablescan/cfg"
	"github.com/maxpert/tablescan/export"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultKafkaBatchSize  = 100
	DefaultKafkaBatchBytes = 16 << 20 // pages can be large
)

func init() {
	export.RegisterSink(cfg.SinkKafka, func(conf cfg.ExportConfiguration, runID string) (export.Sink, error) {
		pub, err := NewKafkaPublisher(KafkaConfig{
			Brokers:          conf.Brokers,
			BatchSize:        conf.BatchSize,
			BatchBytes:       DefaultKafkaBatchBytes,
			RequiredAcks:     kafka.RequireAll,
			AutoCreateTopics: true,
			RunID:            runID,
		})
		if err != nil {
			return nil, err
		}
		return export.NewMessageSink(pub, conf.TopicPrefix), nil
	})
}

// KafkaPublisher publishes page batches to Kafka
type KafkaPublisher struct {
	writer *kafka.Writer
	runID  string
}

// KafkaConfig holds configuration for KafkaPublisher
type KafkaConfig struct {
	Brokers          []string           // Kafka broker addresses
	BatchSize        int                // Batch size for writes (default: 100)
	BatchBytes       int64              // Max batch bytes
	RequiredAcks     kafka.RequiredAcks // Ack requirement
	AutoCreateTopics bool               // Auto-create topics if they don't exist
	RunID            string             // Sent as the run_id header
}

// NewKafkaPublisher creates a new KafkaPublisher with the given configuration
func NewKafkaPublisher(config KafkaConfig) (*KafkaPublisher, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}

	if config.BatchSize == 0 {
		config.BatchSize = DefaultKafkaBatchSize
	}
	if config.BatchBytes == 0 {
		config.BatchBytes = DefaultKafkaBatchBytes
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.Hash{}, // Partition by key for consistent routing
		BatchSize:              config.BatchSize,
		BatchBytes:             config.BatchBytes,
		RequiredAcks:           config.RequiredAcks,
		Async:                  false,
		AllowAutoTopicCreation: config.AutoCreateTopics,
	}

	return &KafkaPublisher{writer: writer, runID: config.RunID}, nil
}

// Publish sends a message to Kafka.
// Uses context.Background() because MessageSink owns retries and timeouts.
func (k *KafkaPublisher) Publish(topic, key string, value []byte) error {
	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: "run_id", Value: []byte(k.runID)}},
	}

	return k.writer.WriteMessages(context.Background(), msg)
}

// Close releases resources held by the KafkaPublisher
func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
