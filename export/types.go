// Package export writes the tuples derived from each scanned page to a sink.
//
// A sink receives one Batch per page. File sinks write one CSV file per
// page named by the page's boundary keys; message sinks publish one
// msgpack-encoded message per page.
package export

import (
	"context"
	"errors"
)

// ErrUnknownSink is returned when no factory is registered for a sink type
var ErrUnknownSink = errors.New("unknown sink type")

// Row is one exported tuple
type Row struct {
	Category string   `msgpack:"cat"`
	Fields   []string `msgpack:"f"`
}

// Batch is the export unit: every row derived from one page
type Batch struct {
	RunID    string   `msgpack:"run"`
	Table    string   `msgpack:"tbl"`
	Page     int      `msgpack:"page"`
	FirstKey []byte   `msgpack:"first"`
	LastKey  []byte   `msgpack:"last"`
	Digest   uint64   `msgpack:"digest"`
	Columns  []string `msgpack:"cols"`
	Rows     []Row    `msgpack:"rows"`
}

// Sink persists page batches
type Sink interface {
	Write(ctx context.Context, b *Batch) error
	Close() error
}

// Publisher is a message transport (Kafka, NATS)
type Publisher interface {
	// Publish sends one message
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the publisher
	Close() error
}
