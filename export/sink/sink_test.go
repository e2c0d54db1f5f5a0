package sink

import (
	"testing"

	"github.com/maxpert/tablescan/cfg"
	"github.com/maxpert/tablescan/export"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeStreamName(t *testing.T) {
	assert.Equal(t, "tablescan_Transactions", sanitizeStreamName("tablescan.Transactions"))
	assert.Equal(t, "a_b_c", sanitizeStreamName("a.b*c"))
	assert.Equal(t, "plain", sanitizeStreamName("plain"))
}

func TestKafkaPublisher_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{})
	assert.Error(t, err)
}

func TestKafkaPublisher_Defaults(t *testing.T) {
	pub, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, RunID: "run"})
	require.NoError(t, err)
	defer pub.Close()

	assert.Equal(t, DefaultKafkaBatchSize, pub.writer.BatchSize)
	assert.Equal(t, int64(DefaultKafkaBatchBytes), pub.writer.BatchBytes)
}

func TestRegisteredFactories(t *testing.T) {
	_, err := export.NewSink(cfg.ExportConfiguration{Sink: cfg.SinkNats}, "run")
	assert.ErrorContains(t, err, "nats_url")

	s, err := export.NewSink(cfg.ExportConfiguration{Sink: cfg.SinkKafka, Brokers: []string{"localhost:9092"}, TopicPrefix: "ts"}, "run")
	require.NoError(t, err)
	defer s.Close()

	ms, ok := s.(*export.MessageSink)
	require.True(t, ok)
	assert.Equal(t, "ts.Transactions", ms.Topic("Transactions"))
}
