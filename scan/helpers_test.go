package scan

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/maxpert/tablescan/cfg"
	"github.com/maxpert/tablescan/store"
	"github.com/maxpert/tablescan/tables"
	"github.com/maxpert/tablescan/telemetry"
	"github.com/stretchr/testify/require"
)

var errContention = errors.New("resource busy: lock contention")

// seedTransactions loads n transactions numbered 0..n-1
func seedTransactions(t *testing.T, s store.Loader, n int) {
	synth := tables.NewSynth(7)
	entries := make([]store.Entry, 0, n)
	for i := 0; i < n; i++ {
		k, v, err := tables.Transactions.Encode(uint64(i), synth.Transaction())
		require.NoError(t, err)
		entries = append(entries, store.Entry{Key: k, Value: v})
	}
	require.NoError(t, s.Load(context.Background(), tables.Transactions.Name, entries))
}

func memoryStoreWithTransactions(t *testing.T, n, pageSize int) *store.MemoryStore {
	s := store.NewMemoryStore(pageSize)
	seedTransactions(t, s, n)
	return s
}

func testStores(t *testing.T, n, pageSize int) map[string]store.LoadingStore {
	p, err := store.NewPebbleStore(filepath.Join(t.TempDir(), "scan.pebble"), store.PebbleOptions{
		CacheSizeMB: 8,
		BlockSize:   pageSize,
		DisableWAL:  true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	q, err := store.NewSQLStore(store.DialectSQLite, filepath.Join(t.TempDir(), "scan.db"), 8)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	out := map[string]store.LoadingStore{
		"memory": store.NewMemoryStore(pageSize),
		"pebble": p,
		"sqlite": q,
	}
	for _, s := range out {
		seedTransactions(t, s, n)
	}
	return out
}

func testOptions(mode cfg.ScanMode, dir store.Direction, pageSize int) Options {
	return Options{
		Mode:       mode,
		Direction:  dir,
		PageSize:   pageSize,
		MaxRetries: DefaultMaxRetries,
		Workers:    4,
		Progress:   telemetry.NewProgressTracker(),
	}
}

// view runs fn inside a read transaction and fails the test on error
func view(t *testing.T, s store.Store, fn func(tx store.Tx)) {
	require.NoError(t, s.View(context.Background(), func(tx store.Tx) error {
		fn(tx)
		return nil
	}))
}

// recorder keeps everything folded into it
type recorder[T Tuple] struct {
	pageLens []int
	digests  []uint64
	tuples   []T
}

func (r *recorder[T]) Fold(page *Page, tuples []T) {
	r.pageLens = append(r.pageLens, page.Len())
	r.digests = append(r.digests, page.Digest())
	r.tuples = append(r.tuples, tuples...)
}

func numbers(samples []TxSample) []uint64 {
	out := make([]uint64, len(samples))
	for i, s := range samples {
		out[i] = s.Number
	}
	return out
}

// flakyTx fails the first failures calls to List and to cursor Seek
type flakyTx struct {
	store.Tx
	failures int
	always   bool

	mu    sync.Mutex
	calls int

	statsDelta uint64
	ignoreSkip bool

	// corrupt the first value of the first corruptLists successful listings
	corruptLists int
	corrupted    int
}

func (f *flakyTx) fail() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.always || f.calls <= f.failures
}

func (f *flakyTx) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *flakyTx) Stats(table string) (store.TableStats, error) {
	st, err := f.Tx.Stats(table)
	st.Entries += f.statsDelta
	return st, err
}

func (f *flakyTx) List(table string, skip uint64, limit int) ([]store.Entry, error) {
	if f.fail() {
		return nil, errContention
	}
	if f.ignoreSkip {
		skip = 0
	}
	entries, err := f.Tx.List(table, skip, limit)
	if err != nil || len(entries) == 0 {
		return entries, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.corrupted < f.corruptLists {
		f.corrupted++
		entries = slices.Clone(entries)
		entries[0] = store.Entry{Key: entries[0].Key, Value: []byte{0xc1}}
	}
	return entries, nil
}

func (f *flakyTx) Cursor(table string) (store.Cursor, error) {
	c, err := f.Tx.Cursor(table)
	if err != nil {
		return nil, err
	}
	return &flakyCursor{Cursor: c, tx: f}, nil
}

type flakyCursor struct {
	store.Cursor
	tx *flakyTx
}

func (c *flakyCursor) Seek(boundary []byte, dir store.Direction) error {
	if c.tx.fail() {
		return errContention
	}
	return c.Cursor.Seek(boundary, dir)
}
