package scan

import (
	"fmt"

	future "github.com/jizhuozhi/go-future"
	"github.com/maxpert/tablescan/store"
	"github.com/maxpert/tablescan/tables"
)

// Tuple is a derived value produced from one record
type Tuple interface {
	// Category groups tuples for aggregation and export filtering
	Category() string
	// Fields renders the tuple for export, one value per Pipeline column
	Fields() []string
}

// Pipeline decodes a page's raw entries into typed records and transforms
// each into a tuple. Tuples rejected by Filter never reach the aggregator.
type Pipeline[K any, V any, T Tuple] struct {
	Table     tables.Table[K, V]
	Columns   []string
	Transform func(key K, value V, raw store.Entry) T
	Filter    func(T) bool // optional
}

type chunkResult[T any] struct {
	tuples []T
}

// Run processes entries on up to workers goroutines and joins the results
// in input order. The first decode failure (in input order) fails the page.
func (p Pipeline[K, V, T]) Run(entries []store.Entry, workers int) ([]T, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(entries) {
		workers = len(entries)
	}

	chunk := (len(entries) + workers - 1) / workers
	futures := make([]*future.Future[chunkResult[T]], 0, workers)
	for start := 0; start < len(entries); start += chunk {
		part := entries[start:min(start+chunk, len(entries))]

		promise := future.NewPromise[chunkResult[T]]()
		go func() {
			defer func() {
				if r := recover(); r != nil {
					promise.Set(chunkResult[T]{}, fmt.Errorf("transform panicked: %v", r))
				}
			}()
			promise.Set(p.runChunk(part))
		}()
		futures = append(futures, promise.Future())
	}

	out := make([]T, 0, len(entries))
	var firstErr error
	for _, f := range futures {
		res, err := f.Get()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, res.tuples...)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (p Pipeline[K, V, T]) runChunk(entries []store.Entry) (chunkResult[T], error) {
	res := chunkResult[T]{tuples: make([]T, 0, len(entries))}
	for _, e := range entries {
		k, v, err := p.Table.Decode(e.Key, e.Value)
		if err != nil {
			return res, err
		}
		t := p.Transform(k, v, e)
		if p.Filter != nil && !p.Filter(t) {
			continue
		}
		res.tuples = append(res.tuples, t)
	}
	return res, nil
}
