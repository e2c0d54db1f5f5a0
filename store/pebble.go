package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/tablescan/cfg"
	"github.com/rs/zerolog/log"
)

// Key layout. Table names never contain '/'.
const (
	pebblePrefixTable   = "/t/"            // /t/{table}/{key}
	pebblePrefixEntries = "/meta/entries/" // /meta/entries/{table} -> uint64 count
)

// PebbleOptions configures the Pebble backend
type PebbleOptions struct {
	CacheSizeMB int64 // Block cache size
	BlockSize   int   // SST block size in bytes, reported as the native page size
	DisableWAL  bool  // Only for testing!
}

// PebbleOptionsFrom maps store configuration to Pebble options
func PebbleOptionsFrom(conf cfg.StoreConfiguration) PebbleOptions {
	return PebbleOptions{
		CacheSizeMB: conf.CacheSizeMB,
		BlockSize:   conf.BlockSizeKB * 1024,
	}
}

// pebbleLogger wraps zerolog for Pebble
type pebbleLogger struct{}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	log.Debug().Msgf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Error().Msgf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Fatal().Msgf("[pebble] "+format, args...)
}

// PebbleStore keeps every table under its own key prefix in one Pebble DB.
// Read transactions are Pebble snapshots, so entry counters and table
// contents are always observed at the same sequence number.
type PebbleStore struct {
	db        *pebble.DB
	path      string
	blockSize int
	closed    atomic.Bool
}

var _ LoadingStore = (*PebbleStore)(nil)

// NewPebbleStore opens (or creates) a Pebble directory
func NewPebbleStore(path string, opts PebbleOptions) (*PebbleStore, error) {
	if opts.CacheSizeMB <= 0 {
		opts.CacheSizeMB = 64
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = 4096
	}

	cache := pebble.NewCache(opts.CacheSizeMB << 20)
	defer cache.Unref() // DB will hold reference

	db, err := pebble.Open(path, &pebble.Options{
		Cache:      cache,
		DisableWAL: opts.DisableWAL,
		Levels:     []pebble.LevelOptions{{BlockSize: opts.BlockSize}},
		Logger:     &pebbleLogger{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}

	log.Debug().Str("path", path).Int("block_size", opts.BlockSize).Msg("Opened pebble store")
	return &PebbleStore{db: db, path: path, blockSize: opts.BlockSize}, nil
}

// Close closes the Pebble DB (idempotent)
func (s *PebbleStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// View runs fn against a snapshot
func (s *PebbleStore) View(ctx context.Context, fn func(Tx) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := s.db.NewSnapshot()
	defer snap.Close()

	return fn(&pebbleTx{snap: snap, blockSize: s.blockSize})
}

// Load writes entries and maintains the table's entry counter in the same
// batch. Overwriting an existing key does not change the count.
func (s *PebbleStore) Load(ctx context.Context, table string, entries []Entry) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := validTableName(table); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	count, err := readPebbleCount(s.db, table)
	if err != nil && !errors.Is(err, ErrTableNotFound) {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	fresh := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		key := pebbleTableKey(table, e.Key)
		if _, dup := fresh[string(key)]; !dup {
			exists, err := s.exists(key)
			if err != nil {
				return err
			}
			if !exists {
				fresh[string(key)] = struct{}{}
				count++
			}
		}
		if err := batch.Set(key, e.Value, nil); err != nil {
			return err
		}
	}

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, count)
	if err := batch.Set(pebbleEntriesKey(table), buf, nil); err != nil {
		return err
	}

	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) exists(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	closer.Close()
	return true, nil
}

// pebbleReader is satisfied by both *pebble.DB and *pebble.Snapshot
type pebbleReader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

func readPebbleCount(r pebbleReader, table string) (uint64, error) {
	val, closer, err := r.Get(pebbleEntriesKey(table))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, ErrTableNotFound
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	if len(val) < 8 {
		return 0, fmt.Errorf("corrupt entry counter for %s", table)
	}
	return binary.BigEndian.Uint64(val), nil
}

type pebbleTx struct {
	snap      *pebble.Snapshot
	blockSize int
}

func (t *pebbleTx) Tables() ([]string, error) {
	prefix := []byte(pebblePrefixEntries)
	iter, err := t.snap.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var names []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		names = append(names, string(iter.Key()[len(prefix):]))
	}
	return names, iter.Error()
}

func (t *pebbleTx) Stats(table string) (TableStats, error) {
	n, err := readPebbleCount(t.snap, table)
	if err != nil {
		return TableStats{}, fmt.Errorf("stats %s: %w", table, err)
	}
	return TableStats{Entries: n, PageSize: t.blockSize}, nil
}

func (t *pebbleTx) iter(table string) (*pebble.Iterator, []byte, error) {
	if _, err := readPebbleCount(t.snap, table); err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", table, err)
	}
	prefix := pebbleTablePrefix(table)
	iter, err := t.snap.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	return iter, prefix, err
}

// List walks skip entries from the table start, then collects up to limit
func (t *pebbleTx) List(table string, skip uint64, limit int) ([]Entry, error) {
	iter, prefix, err := t.iter(table)
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make([]Entry, 0, limit)
	var pos uint64
	for iter.First(); iter.Valid() && len(out) < limit; iter.Next() {
		if pos < skip {
			pos++
			continue
		}
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}
		out = append(out, Entry{Key: cloneBytes(iter.Key()[len(prefix):]), Value: cloneBytes(val)})
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *pebbleTx) Cursor(table string) (Cursor, error) {
	iter, prefix, err := t.iter(table)
	if err != nil {
		return nil, err
	}
	return &pebbleCursor{iter: iter, prefix: prefix}, nil
}

type pebbleCursor struct {
	iter   *pebble.Iterator
	prefix []byte
	dir    Direction
}

func (c *pebbleCursor) Seek(boundary []byte, dir Direction) error {
	c.dir = dir
	switch {
	case boundary == nil && dir == Forward:
		c.iter.First()
	case boundary == nil:
		c.iter.Last()
	case dir == Forward:
		key := append(append([]byte{}, c.prefix...), boundary...)
		if c.iter.SeekGE(key) && bytes.Equal(c.iter.Key(), key) {
			c.iter.Next()
		}
	default:
		key := append(append([]byte{}, c.prefix...), boundary...)
		c.iter.SeekLT(key)
	}
	return c.iter.Error()
}

func (c *pebbleCursor) Step() (Entry, bool, error) {
	if !c.iter.Valid() {
		return Entry{}, false, c.iter.Error()
	}

	val, err := c.iter.ValueAndErr()
	if err != nil {
		return Entry{}, false, err
	}
	e := Entry{Key: cloneBytes(c.iter.Key()[len(c.prefix):]), Value: cloneBytes(val)}

	if c.dir == Reverse {
		c.iter.Prev()
	} else {
		c.iter.Next()
	}
	return e, true, nil
}

func (c *pebbleCursor) Close() error {
	return c.iter.Close()
}

func pebbleTablePrefix(table string) []byte {
	return []byte(pebblePrefixTable + table + "/")
}

func pebbleTableKey(table string, key []byte) []byte {
	prefix := pebbleTablePrefix(table)
	out := make([]byte, 0, len(prefix)+len(key))
	return append(append(out, prefix...), key...)
}

func pebbleEntriesKey(table string) []byte {
	return []byte(pebblePrefixEntries + table)
}

// prefixUpperBound returns the smallest key greater than every key with the
// given prefix
func prefixUpperBound(prefix []byte) []byte {
	upper := cloneBytes(prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xff {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

func validTableName(table string) error {
	if table == "" || strings.ContainsAny(table, "/`\"'") {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}
