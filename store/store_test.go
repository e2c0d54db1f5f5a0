package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testBackend struct {
	name string
	open func(t *testing.T) LoadingStore
}

func testBackends() []testBackend {
	return []testBackend{
		{"memory", func(t *testing.T) LoadingStore {
			return NewMemoryStore(64)
		}},
		{"pebble", func(t *testing.T) LoadingStore {
			s, err := NewPebbleStore(filepath.Join(t.TempDir(), "data.pebble"), PebbleOptions{
				CacheSizeMB: 8,
				BlockSize:   64,
				DisableWAL:  true,
			})
			require.NoError(t, err)
			return s
		}},
		{"sqlite", func(t *testing.T) LoadingStore {
			s, err := NewSQLStore(DialectSQLite, filepath.Join(t.TempDir(), "data.db"), 8)
			require.NoError(t, err)
			return s
		}},
	}
}

// seedEntries loads n entries with keys k000.. in shuffled order
func seedEntries(t *testing.T, s Loader, table string, n int) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{Key: []byte(fmt.Sprintf("k%03d", i)), Value: []byte(fmt.Sprintf("v%d", i))}
	}

	shuffled := make([]Entry, 0, n)
	for i := n - 1; i >= 0; i -= 2 {
		shuffled = append(shuffled, entries[i])
	}
	for i := n - 2; i >= 0; i -= 2 {
		shuffled = append(shuffled, entries[i])
	}
	require.NoError(t, s.Load(context.Background(), table, shuffled))
	return entries
}

func keys(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.Key)
	}
	return out
}

func drain(t *testing.T, c Cursor, boundary []byte, dir Direction, max int) []Entry {
	require.NoError(t, c.Seek(boundary, dir))
	var out []Entry
	for len(out) < max {
		e, ok, err := c.Step()
		require.NoError(t, err)
		if !ok {
			break
		}
		out = append(out, e)
	}
	return out
}

func TestStore_StatsAndList(t *testing.T) {
	for _, b := range testBackends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			defer s.Close()

			all := seedEntries(t, s, "Items", 25)

			err := s.View(context.Background(), func(tx Tx) error {
				st, err := tx.Stats("Items")
				require.NoError(t, err)
				assert.Equal(t, uint64(25), st.Entries)
				assert.Greater(t, st.PageSize, 0)

				page, err := tx.List("Items", 0, 10)
				require.NoError(t, err)
				assert.Equal(t, keys(all[:10]), keys(page))

				page, err = tx.List("Items", 20, 10)
				require.NoError(t, err)
				assert.Equal(t, keys(all[20:]), keys(page))
				assert.Equal(t, "v24", string(page[4].Value))

				page, err = tx.List("Items", 25, 10)
				require.NoError(t, err)
				assert.Empty(t, page)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestStore_Cursor(t *testing.T) {
	for _, b := range testBackends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			defer s.Close()

			all := seedEntries(t, s, "Items", 12)

			err := s.View(context.Background(), func(tx Tx) error {
				c, err := tx.Cursor("Items")
				require.NoError(t, err)
				defer c.Close()

				got := drain(t, c, nil, Forward, 100)
				assert.Equal(t, keys(all), keys(got))

				got = drain(t, c, []byte("k004"), Forward, 3)
				assert.Equal(t, []string{"k005", "k006", "k007"}, keys(got))

				got = drain(t, c, nil, Reverse, 2)
				assert.Equal(t, []string{"k011", "k010"}, keys(got))

				got = drain(t, c, []byte("k004"), Reverse, 100)
				assert.Equal(t, []string{"k003", "k002", "k001", "k000"}, keys(got))

				// boundary between keys
				got = drain(t, c, []byte("k0045"), Forward, 1)
				assert.Equal(t, []string{"k005"}, keys(got))

				got = drain(t, c, []byte("k011"), Forward, 5)
				assert.Empty(t, got)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestStore_SnapshotIsolation(t *testing.T) {
	for _, b := range testBackends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			defer s.Close()

			seedEntries(t, s, "Items", 5)

			err := s.View(context.Background(), func(tx Tx) error {
				// sqlite takes its snapshot at the first read
				_, err := tx.Tables()
				require.NoError(t, err)

				more := []Entry{{Key: []byte("k100"), Value: []byte("late")}}
				require.NoError(t, s.Load(context.Background(), "Items", more))

				page, err := tx.List("Items", 0, 100)
				require.NoError(t, err)
				assert.Len(t, page, 5)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestSQLStore_StatsCacheSkipsOlderSnapshots(t *testing.T) {
	s, err := NewSQLStore(DialectSQLite, filepath.Join(t.TempDir(), "data.db"), 8)
	require.NoError(t, err)
	defer s.Close()

	seedEntries(t, s, "Items", 5)

	err = s.View(context.Background(), func(tx Tx) error {
		// pin the read snapshot before the load commits
		_, err := tx.Tables()
		require.NoError(t, err)

		require.NoError(t, s.Load(context.Background(), "Items", []Entry{
			{Key: []byte("k100"), Value: []byte("late")},
		}))

		st, err := tx.Stats("Items")
		require.NoError(t, err)
		assert.Equal(t, uint64(5), st.Entries)
		return nil
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		err = s.View(context.Background(), func(tx Tx) error {
			st, err := tx.Stats("Items")
			require.NoError(t, err)
			assert.Equal(t, uint64(6), st.Entries)
			return nil
		})
		require.NoError(t, err)
	}
}

func TestStore_OverwriteKeepsCount(t *testing.T) {
	for _, b := range testBackends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			defer s.Close()

			seedEntries(t, s, "Items", 5)
			require.NoError(t, s.Load(context.Background(), "Items", []Entry{
				{Key: []byte("k001"), Value: []byte("new")},
				{Key: []byte("k001"), Value: []byte("newer")},
			}))

			err := s.View(context.Background(), func(tx Tx) error {
				st, err := tx.Stats("Items")
				require.NoError(t, err)
				assert.Equal(t, uint64(5), st.Entries)

				page, err := tx.List("Items", 1, 1)
				require.NoError(t, err)
				require.Len(t, page, 1)
				assert.Equal(t, "newer", string(page[0].Value))
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestStore_UnknownTable(t *testing.T) {
	for _, b := range testBackends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			defer s.Close()

			err := s.View(context.Background(), func(tx Tx) error {
				_, err := tx.Stats("Missing")
				assert.ErrorIs(t, err, ErrTableNotFound)

				_, err = tx.Cursor("Missing")
				assert.ErrorIs(t, err, ErrTableNotFound)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestStore_ClosedAndInvalid(t *testing.T) {
	for _, b := range testBackends() {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			assert.Error(t, s.Load(context.Background(), "bad/name", nil))

			require.NoError(t, s.Close())
			require.NoError(t, s.Close())

			err := s.View(context.Background(), func(Tx) error { return nil })
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestMatchTables(t *testing.T) {
	s := NewMemoryStore(16)
	for _, name := range []string{"Transactions", "AccountsTrie", "StoragesTrie", "Headers"} {
		require.NoError(t, s.Load(context.Background(), name, []Entry{{Key: []byte{1}, Value: []byte{1}}}))
	}

	err := s.View(context.Background(), func(tx Tx) error {
		all, err := MatchTables(tx, nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"AccountsTrie", "Headers", "StoragesTrie", "Transactions"}, all)

		tries, err := MatchTables(tx, []string{"*Trie", "Head*"})
		require.NoError(t, err)
		assert.Equal(t, []string{"AccountsTrie", "Headers", "StoragesTrie"}, tries)

		_, err = MatchTables(tx, []string{"[unclosed"})
		assert.Error(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("/t/A0"), prefixUpperBound([]byte("/t/A/")))
	assert.Equal(t, []byte{0x02}, prefixUpperBound([]byte{0x01, 0xff}))
	assert.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}
