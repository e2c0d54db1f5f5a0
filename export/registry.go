package export

import (
	"context"
	"fmt"
	"sync"

	"github.com/maxpert/tablescan/cfg"
	"github.com/maxpert/tablescan/telemetry"
	"github.com/rs/zerolog/log"
)

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(conf cfg.ExportConfiguration, runID string) (Sink, error)

var (
	sinkFactories = make(map[cfg.SinkType]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType cfg.SinkType, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// NewSink creates the configured sink
func NewSink(conf cfg.ExportConfiguration, runID string) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[conf.Sink]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSink, conf.Sink)
	}
	return factory(conf, runID)
}

// Exporter applies the category filter and counts exported pages
type Exporter struct {
	sink   Sink
	filter *CategoryFilter
	name   string
}

// NewExporter wraps a sink. A nil filter exports every row.
func NewExporter(name string, sink Sink, filter *CategoryFilter) *Exporter {
	return &Exporter{sink: sink, filter: filter, name: name}
}

// Open builds an Exporter from configuration
func Open(conf cfg.ExportConfiguration, runID string) (*Exporter, error) {
	filter, err := NewCategoryFilter(conf.Categories)
	if err != nil {
		return nil, err
	}

	sink, err := NewSink(conf, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to create sink: %w", err)
	}

	log.Info().
		Str("sink", string(conf.Sink)).
		Strs("categories", conf.Categories).
		Str("run_id", runID).
		Msg("Export enabled")
	return NewExporter(string(conf.Sink), sink, filter), nil
}

// Export writes the batch unless filtering leaves it empty. Returns whether
// anything was written.
func (e *Exporter) Export(ctx context.Context, b *Batch) (bool, error) {
	b.Rows = e.filter.Apply(b.Rows)
	if len(b.Rows) == 0 {
		return false, nil
	}

	if err := e.sink.Write(ctx, b); err != nil {
		return false, fmt.Errorf("export page %d of %s: %w", b.Page, b.Table, err)
	}
	telemetry.ExportedPagesTotal.With(e.name).Inc()
	return true, nil
}

// Close closes the underlying sink
func (e *Exporter) Close() error {
	return e.sink.Close()
}
