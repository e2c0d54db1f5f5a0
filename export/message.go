package export

import (
	"context"
	"fmt"
	"time"

	"github.com/maxpert/tablescan/encoding"
	"github.com/rs/zerolog/log"
)

const (
	// Default initial retry delay for failed publish operations
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 5 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Maximum number of attempts per message
	DefaultMaxAttempts = 10
)

// MessageSink publishes each batch as one msgpack message on
// "<prefix>.<table>", keyed by the page's boundary keys
type MessageSink struct {
	pub    Publisher
	prefix string

	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMultiplier float64
	MaxAttempts     int
}

// NewMessageSink wraps a publisher with default retry settings
func NewMessageSink(pub Publisher, prefix string) *MessageSink {
	return &MessageSink{
		pub:             pub,
		prefix:          prefix,
		RetryInitial:    DefaultRetryInitial,
		RetryMax:        DefaultRetryMax,
		RetryMultiplier: DefaultRetryMultiplier,
		MaxAttempts:     DefaultMaxAttempts,
	}
}

// Topic returns the topic a table's batches are published to
func (s *MessageSink) Topic(table string) string {
	if s.prefix == "" {
		return table
	}
	return fmt.Sprintf("%s.%s", s.prefix, table)
}

// Key returns the message key of a batch
func Key(b *Batch) string {
	return encoding.KeyString(b.FirstKey) + "-" + encoding.KeyString(b.LastKey)
}

func (s *MessageSink) Write(ctx context.Context, b *Batch) error {
	data, err := encoding.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}
	return s.publishWithRetry(ctx, s.Topic(b.Table), Key(b), data)
}

// publishWithRetry publishes data with exponential backoff retry
func (s *MessageSink) publishWithRetry(ctx context.Context, topic, key string, data []byte) error {
	delay := s.RetryInitial
	attempts := 0

	for {
		err := s.pub.Publish(topic, key, data)
		if err == nil {
			return nil
		}

		attempts++
		if s.MaxAttempts > 0 && attempts >= s.MaxAttempts {
			return fmt.Errorf("exhausted max attempts (%d) for topic %s: %w", s.MaxAttempts, topic, err)
		}

		log.Warn().
			Err(err).
			Str("topic", topic).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish page, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * s.RetryMultiplier)
		if delay > s.RetryMax {
			delay = s.RetryMax
		}
	}
}

func (s *MessageSink) Close() error {
	return s.pub.Close()
}
