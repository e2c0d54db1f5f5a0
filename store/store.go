// Package store provides read-only access to sorted key-value tables.
//
// A scan holds exactly one Tx for its whole duration. Everything a Tx returns
// is copied out of the backend, so entries stay valid after the Tx ends and
// can be handed to other goroutines.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/gobwas/glob"
	"github.com/maxpert/tablescan/cfg"
)

var (
	// ErrTableNotFound is returned for a table the store has never seen
	ErrTableNotFound = errors.New("table not found")

	// ErrClosed is returned by operations on a closed store
	ErrClosed = errors.New("store closed")
)

// Direction is the key order a cursor walks in
type Direction int

const (
	Forward Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "forward"
}

// DirectionOf maps the configured direction
func DirectionOf(d cfg.Direction) Direction {
	if d == cfg.DirectionReverse {
		return Reverse
	}
	return Forward
}

// Entry is one raw key/value pair
type Entry struct {
	Key   []byte
	Value []byte
}

// TableStats describes a table as of the transaction that read it
type TableStats struct {
	Entries  uint64
	PageSize int // native page size, used as the default records per page
}

// Store opens read-only transactions
type Store interface {
	// View runs fn inside a read-only transaction. The Tx must not be used
	// after fn returns.
	View(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Tx is a consistent read-only view of every table
type Tx interface {
	Tables() ([]string, error)
	Stats(table string) (TableStats, error)

	// List returns up to limit entries starting at position skip, ascending.
	List(table string, skip uint64, limit int) ([]Entry, error)

	// Cursor opens a raw stepping cursor over one table.
	Cursor(table string) (Cursor, error)
}

// Cursor steps through a table one entry at a time
type Cursor interface {
	// Seek positions the cursor strictly after boundary in direction dir.
	// A nil boundary positions at the first key (Forward) or the last key
	// (Reverse).
	Seek(boundary []byte, dir Direction) error

	// Step returns the entry under the cursor and moves on. ok is false
	// once the table is exhausted in the seek direction.
	Step() (e Entry, ok bool, err error)

	Close() error
}

// Loader writes entries. It is used by seeding and tests only; scans never
// write.
type Loader interface {
	Load(ctx context.Context, table string, entries []Entry) error
}

// LoadingStore is a store that can also be seeded
type LoadingStore interface {
	Store
	Loader
}

// Open opens the configured backend
func Open(conf cfg.StoreConfiguration) (LoadingStore, error) {
	switch conf.Backend {
	case cfg.BackendPebble:
		return NewPebbleStore(conf.Path, PebbleOptionsFrom(conf))
	case cfg.BackendSQLite:
		return NewSQLStore(DialectSQLite, conf.Path, conf.StatsCache)
	case cfg.BackendMySQL:
		return NewSQLStore(DialectMySQL, conf.DSN, conf.StatsCache)
	case cfg.BackendMemory:
		return NewMemoryStore(conf.BlockSizeKB * 1024), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", conf.Backend)
	}
}

// MatchTables returns the tables matching any of the glob patterns, sorted.
// No patterns matches everything.
func MatchTables(tx Tx, patterns []string) ([]string, error) {
	all, err := tx.Tables()
	if err != nil {
		return nil, err
	}

	if len(patterns) == 0 {
		sort.Strings(all)
		return all, nil
	}

	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid table pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}

	var out []string
	for _, name := range all {
		for _, g := range globs {
			if g.Match(name) {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
