package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maxpert/tablescan/cfg"
	"github.com/maxpert/tablescan/export"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

func init() {
	export.RegisterSink(cfg.SinkNats, func(conf cfg.ExportConfiguration, runID string) (export.Sink, error) {
		if conf.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		pub, err := NewNatsPublisher(conf.NatsURL, runID)
		if err != nil {
			return nil, err
		}
		return export.NewMessageSink(pub, conf.TopicPrefix), nil
	})
}

// NatsPublisher publishes page batches to NATS JetStream
type NatsPublisher struct {
	nc    *nats.Conn
	js    jetstream.JetStream
	runID string

	mu      sync.Mutex
	streams map[string]struct{} // streams already ensured
}

// NewNatsPublisher creates a new NATS JetStream publisher
func NewNatsPublisher(url, runID string) (*NatsPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("tablescan"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NatsPublisher{nc: nc, js: js, runID: runID, streams: make(map[string]struct{})}, nil
}

// Publish sends a message to NATS JetStream. The subject's stream is
// created on first use.
func (n *NatsPublisher) Publish(topic, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := n.ensureStream(ctx, topic); err != nil {
		return err
	}

	msg := &nats.Msg{
		Subject: topic,
		Data:    value,
		Header:  nats.Header{"key": []string{key}, "run_id": []string{n.runID}},
	}

	if _, err := n.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (n *NatsPublisher) ensureStream(ctx context.Context, topic string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.streams[topic]; ok {
		return nil
	}

	streamName := sanitizeStreamName(topic)
	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{topic},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}
	n.streams[topic] = struct{}{}
	return nil
}

// Close releases resources held by the NatsPublisher
func (n *NatsPublisher) Close() error {
	if n.nc != nil {
		return n.nc.Drain()
	}
	return nil
}

// sanitizeStreamName converts a subject to a valid JetStream stream name.
// Stream names can't contain '.', '*', '>' or whitespace.
func sanitizeStreamName(topic string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, topic)
}
