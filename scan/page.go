package scan

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
	"github.com/maxpert/tablescan/cfg"
	"github.com/maxpert/tablescan/store"
)

// Page is a bounded run of consecutive entries in scan order
type Page struct {
	Index   int
	Skip    uint64 // first position listed (indexed mode)
	Entries []store.Entry
}

// Len returns the number of entries in the page
func (p *Page) Len() int {
	return len(p.Entries)
}

// FirstKey returns the first key in scan order, nil for an empty page
func (p *Page) FirstKey() []byte {
	if len(p.Entries) == 0 {
		return nil
	}
	return p.Entries[0].Key
}

// LastKey returns the last key in scan order, nil for an empty page
func (p *Page) LastKey() []byte {
	if len(p.Entries) == 0 {
		return nil
	}
	return p.Entries[len(p.Entries)-1].Key
}

// Digest hashes the page contents in order. Two fetches of the same range
// of an unchanged table produce the same digest.
func (p *Page) Digest() uint64 {
	h := xxhash.New()
	var n [binary.MaxVarintLen64]byte
	for _, e := range p.Entries {
		h.Write(n[:binary.PutUvarint(n[:], uint64(len(e.Key)))])
		h.Write(e.Key)
		h.Write(n[:binary.PutUvarint(n[:], uint64(len(e.Value)))])
		h.Write(e.Value)
	}
	return h.Sum64()
}

// Pager produces pages in scan order. Fetch is repeatable: until Advance is
// called, every Fetch reads the same range again, which is what makes a
// failed page safe to retry.
type Pager interface {
	Fetch() (*Page, error)
	Advance(p *Page)
	Done() bool
	Close() error
}

// NewPager builds the pager for the configured mode
func NewPager(tx store.Tx, table string, mode cfg.ScanMode, dir store.Direction, total uint64, size int) (Pager, error) {
	if size <= 0 {
		return nil, fmt.Errorf("page size must be positive, got %d", size)
	}

	switch mode {
	case cfg.ModeIndexed, "":
		return &indexedPager{tx: tx, table: table, dir: dir, total: total, size: size}, nil
	case cfg.ModeCursor:
		c, err := tx.Cursor(table)
		if err != nil {
			return nil, err
		}
		return &cursorPager{cursor: c, dir: dir, size: size}, nil
	default:
		return nil, fmt.Errorf("unknown scan mode %q", mode)
	}
}

// indexedPager lists [skip, skip+len) ranges. Reverse scans list from the
// tail and flip each page.
type indexedPager struct {
	tx    store.Tx
	table string
	dir   store.Direction
	total uint64
	size  int
	index int
}

func (p *indexedPager) bounds() (skip uint64, n int) {
	consumed := uint64(p.index) * uint64(p.size)
	if p.dir == store.Forward {
		return consumed, p.size
	}

	end := p.total - consumed
	if end <= uint64(p.size) {
		return 0, int(end)
	}
	return end - uint64(p.size), p.size
}

func (p *indexedPager) Fetch() (*Page, error) {
	skip, n := p.bounds()
	entries, err := p.tx.List(p.table, skip, n)
	if err != nil {
		return nil, err
	}
	if p.dir == store.Reverse {
		slices.Reverse(entries)
	}
	return &Page{Index: p.index, Skip: skip, Entries: entries}, nil
}

func (p *indexedPager) Advance(*Page) {
	p.index++
}

func (p *indexedPager) Done() bool {
	return uint64(p.index)*uint64(p.size) >= p.total
}

func (p *indexedPager) Close() error {
	return nil
}

// cursorPager re-seeks its cursor past the previous page's boundary key on
// every fetch, then steps up to size entries
type cursorPager struct {
	cursor   store.Cursor
	dir      store.Direction
	size     int
	boundary []byte
	index    int
	done     bool
}

func (p *cursorPager) Fetch() (*Page, error) {
	if err := p.cursor.Seek(p.boundary, p.dir); err != nil {
		return nil, err
	}

	entries := make([]store.Entry, 0, p.size)
	for len(entries) < p.size {
		e, ok, err := p.cursor.Step()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		entries = append(entries, e)
	}
	return &Page{Index: p.index, Entries: entries}, nil
}

func (p *cursorPager) Advance(page *Page) {
	p.index++
	if page.Len() < p.size {
		p.done = true
		return
	}
	p.boundary = page.LastKey()
}

func (p *cursorPager) Done() bool {
	return p.done
}

func (p *cursorPager) Close() error {
	return p.cursor.Close()
}
