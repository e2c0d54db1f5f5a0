package store

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
)

const memoryDegree = 32

func entryLess(a, b Entry) bool {
	return bytes.Compare(a.Key, b.Key) < 0
}

// MemoryStore is an in-process ordered store backed by copy-on-write
// B-trees. View clones every tree, which makes a transaction a cheap
// point-in-time snapshot.
type MemoryStore struct {
	mu       sync.RWMutex
	tables   map[string]*btree.BTreeG[Entry]
	pageSize int
	closed   atomic.Bool
}

var _ LoadingStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store reporting pageSize as the native
// page size
func NewMemoryStore(pageSize int) *MemoryStore {
	if pageSize <= 0 {
		pageSize = 4096
	}
	return &MemoryStore{
		tables:   make(map[string]*btree.BTreeG[Entry]),
		pageSize: pageSize,
	}
}

func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	snap := make(map[string]*btree.BTreeG[Entry], len(s.tables))
	for name, tree := range s.tables {
		snap[name] = tree.Clone()
	}
	s.mu.RUnlock()

	return fn(&memoryTx{tables: snap, pageSize: s.pageSize})
}

func (s *MemoryStore) Load(ctx context.Context, table string, entries []Entry) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := validTableName(table); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tree, ok := s.tables[table]
	if !ok {
		tree = btree.NewG(memoryDegree, entryLess)
		s.tables[table] = tree
	}
	for _, e := range entries {
		tree.ReplaceOrInsert(Entry{Key: cloneBytes(e.Key), Value: cloneBytes(e.Value)})
	}
	return nil
}

type memoryTx struct {
	tables   map[string]*btree.BTreeG[Entry]
	pageSize int
}

func (t *memoryTx) tree(table string) (*btree.BTreeG[Entry], error) {
	tree, ok := t.tables[table]
	if !ok {
		return nil, ErrTableNotFound
	}
	return tree, nil
}

func (t *memoryTx) Tables() ([]string, error) {
	names := make([]string, 0, len(t.tables))
	for name := range t.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (t *memoryTx) Stats(table string) (TableStats, error) {
	tree, err := t.tree(table)
	if err != nil {
		return TableStats{}, err
	}
	return TableStats{Entries: uint64(tree.Len()), PageSize: t.pageSize}, nil
}

func (t *memoryTx) List(table string, skip uint64, limit int) ([]Entry, error) {
	tree, err := t.tree(table)
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, limit)
	var pos uint64
	tree.Ascend(func(e Entry) bool {
		if pos < skip {
			pos++
			return true
		}
		out = append(out, copyEntry(e))
		return len(out) < limit
	})
	return out, nil
}

func (t *memoryTx) Cursor(table string) (Cursor, error) {
	tree, err := t.tree(table)
	if err != nil {
		return nil, err
	}
	return &memoryCursor{tree: tree}, nil
}

// memoryCursor remembers the last key it returned and finds the neighbour
// on every step
type memoryCursor struct {
	tree  *btree.BTreeG[Entry]
	dir   Direction
	last  []byte
	begun bool
}

func (c *memoryCursor) Seek(boundary []byte, dir Direction) error {
	c.dir = dir
	c.last = cloneBytes(boundary)
	c.begun = boundary != nil
	return nil
}

func (c *memoryCursor) Step() (Entry, bool, error) {
	var (
		found Entry
		ok    bool
	)
	visit := func(e Entry) bool {
		if c.begun && bytes.Equal(e.Key, c.last) {
			return true
		}
		found, ok = e, true
		return false
	}

	switch {
	case c.dir == Forward && !c.begun:
		c.tree.Ascend(visit)
	case c.dir == Forward:
		c.tree.AscendGreaterOrEqual(Entry{Key: c.last}, visit)
	case !c.begun:
		c.tree.Descend(visit)
	default:
		c.tree.DescendLessOrEqual(Entry{Key: c.last}, visit)
	}

	if !ok {
		return Entry{}, false, nil
	}
	c.last = cloneBytes(found.Key)
	c.begun = true
	return copyEntry(found), true, nil
}

func (c *memoryCursor) Close() error {
	return nil
}

func copyEntry(e Entry) Entry {
	return Entry{Key: cloneBytes(e.Key), Value: cloneBytes(e.Value)}
}
