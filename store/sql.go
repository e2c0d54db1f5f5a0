package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/go-sql-driver/mysql"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Dialect names both the database/sql driver and the goqu dialect
type Dialect string

const (
	DialectSQLite Dialect = "sqlite3"
	DialectMySQL  Dialect = "mysql"
)

const (
	sqlBusyTimeoutMS = 5000
	sqlCursorChunk   = 256
	sqlLoadChunk     = 400
)

// SQLStore keeps each table as a (k, v) relation ordered by its primary key.
// Indexed paging maps to LIMIT/OFFSET; cursors page by key range.
type SQLStore struct {
	dialect Dialect
	writeDB *sql.DB
	readDB  *sql.DB
	gq      goqu.DialectWrapper

	// COUNT(*) is a full scan on both engines. Counts are cached per load
	// generation: a transaction only reuses or stores a count when no Load
	// committed since the transaction began.
	stats    *lru.Cache[string, cachedCount]
	gen      atomic.Uint64
	pageSize atomic.Int64
	closed   atomic.Bool
}

var _ LoadingStore = (*SQLStore)(nil)

type cachedCount struct {
	entries uint64
	gen     uint64
}

// NewSQLStore opens a SQLite file or MySQL DSN. statsCache bounds the number
// of cached table counts.
func NewSQLStore(dialect Dialect, dsn string, statsCache int) (*SQLStore, error) {
	if statsCache <= 0 {
		statsCache = 128
	}
	cache, err := lru.New[string, cachedCount](statsCache)
	if err != nil {
		return nil, err
	}

	s := &SQLStore{dialect: dialect, gq: goqu.Dialect(string(dialect)), stats: cache}

	switch dialect {
	case DialectSQLite:
		// Single writer, pooled readers (WAL)
		s.writeDB, err = sql.Open(string(dialect), sqliteDSN(dsn, "&_txlock=immediate"))
		if err != nil {
			return nil, fmt.Errorf("failed to open write database: %w", err)
		}
		s.writeDB.SetMaxOpenConns(1)

		s.readDB, err = sql.Open(string(dialect), sqliteDSN(dsn, ""))
		if err != nil {
			s.writeDB.Close()
			return nil, fmt.Errorf("failed to open read database: %w", err)
		}
	case DialectMySQL:
		s.writeDB, err = sql.Open(string(dialect), dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open mysql database: %w", err)
		}
		s.readDB = s.writeDB
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	if err := s.readDB.Ping(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", dialect, err)
	}

	log.Debug().Str("dialect", string(dialect)).Msg("Opened sql store")
	return s, nil
}

func sqliteDSN(path, extra string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file::memory:") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_journal_mode=WAL&_busy_timeout=%d%s", path, sep, sqlBusyTimeoutMS, extra)
}

func (s *SQLStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := s.writeDB.Close()
	if s.readDB != s.writeDB {
		if rerr := s.readDB.Close(); err == nil {
			err = rerr
		}
	}
	return err
}

func (s *SQLStore) View(ctx context.Context, fn func(Tx) error) error {
	if s.closed.Load() {
		return ErrClosed
	}

	// Read before the snapshot is taken, so every Load counted in gen is
	// visible to tx.
	gen := s.gen.Load()
	tx, err := s.readDB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer tx.Rollback()

	return fn(&sqlTx{store: s, tx: tx, ctx: ctx, gen: gen})
}

func (s *SQLStore) Load(ctx context.Context, table string, entries []Entry) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := validTableName(table); err != nil {
		return err
	}

	tx, err := s.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.createTableSQL(table)); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}

	for start := 0; start < len(entries); start += sqlLoadChunk {
		end := min(start+sqlLoadChunk, len(entries))

		rows := make([]interface{}, 0, end-start)
		for _, e := range entries[start:end] {
			rows = append(rows, goqu.Record{"k": e.Key, "v": e.Value})
		}

		q, args, err := s.gq.Insert(goqu.T(table)).
			Rows(rows...).
			OnConflict(goqu.DoUpdate("k", goqu.Record{"v": s.upsertValue()})).
			Prepared(true).
			ToSQL()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("load %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.gen.Add(1)
	s.stats.Remove(table)
	return nil
}

func (s *SQLStore) createTableSQL(table string) string {
	if s.dialect == DialectMySQL {
		return fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` (k VARBINARY(767) NOT NULL PRIMARY KEY, v LONGBLOB NOT NULL)", table)
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" (k BLOB NOT NULL PRIMARY KEY, v BLOB NOT NULL) WITHOUT ROWID`, table)
}

func (s *SQLStore) upsertValue() interface{} {
	if s.dialect == DialectMySQL {
		return goqu.L("VALUES(`v`)")
	}
	return goqu.I("excluded.v")
}

type sqlTx struct {
	store *SQLStore
	tx    *sql.Tx
	ctx   context.Context
	gen   uint64 // load generation at begin
}

func (t *sqlTx) Tables() ([]string, error) {
	var ds *goqu.SelectDataset
	if t.store.dialect == DialectMySQL {
		ds = t.store.gq.From(goqu.T("tables").Schema("information_schema")).
			Select(goqu.C("table_name")).
			Where(goqu.C("table_schema").Eq(goqu.L("DATABASE()")))
	} else {
		ds = t.store.gq.From("sqlite_master").
			Select(goqu.C("name")).
			Where(goqu.C("type").Eq("table"), goqu.C("name").NotLike("sqlite_%"))
	}

	q, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.QueryContext(t.ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (t *sqlTx) exists(table string) error {
	names, err := t.Tables()
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == table {
			return nil
		}
	}
	return ErrTableNotFound
}

func (t *sqlTx) Stats(table string) (TableStats, error) {
	pageSize, err := t.nativePageSize()
	if err != nil {
		return TableStats{}, err
	}

	if c, ok := t.store.stats.Get(table); ok && c.gen == t.gen {
		return TableStats{Entries: c.entries, PageSize: pageSize}, nil
	}

	if err := t.exists(table); err != nil {
		return TableStats{}, fmt.Errorf("stats %s: %w", table, err)
	}

	q, args, err := t.store.gq.From(goqu.T(table)).
		Select(goqu.COUNT(goqu.Star())).
		Prepared(true).
		ToSQL()
	if err != nil {
		return TableStats{}, err
	}

	var n uint64
	if err := t.tx.QueryRowContext(t.ctx, q, args...).Scan(&n); err != nil {
		return TableStats{}, fmt.Errorf("count %s: %w", table, err)
	}
	if t.gen == t.store.gen.Load() {
		t.store.stats.Add(table, cachedCount{entries: n, gen: t.gen})
	}
	return TableStats{Entries: n, PageSize: pageSize}, nil
}

func (t *sqlTx) nativePageSize() (int, error) {
	if n := t.store.pageSize.Load(); n > 0 {
		return int(n), nil
	}

	q := "PRAGMA page_size"
	if t.store.dialect == DialectMySQL {
		q = "SELECT @@innodb_page_size"
	}

	var n int64
	if err := t.tx.QueryRowContext(t.ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("read native page size: %w", err)
	}
	t.store.pageSize.Store(n)
	return int(n), nil
}

func (t *sqlTx) List(table string, skip uint64, limit int) ([]Entry, error) {
	if err := t.exists(table); err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}

	ds := t.store.gq.From(goqu.T(table)).
		Select(goqu.C("k"), goqu.C("v")).
		Order(goqu.C("k").Asc()).
		Limit(uint(limit)).
		Offset(uint(skip))
	return t.query(ds, limit)
}

func (t *sqlTx) query(ds *goqu.SelectDataset, capacity int) ([]Entry, error) {
	q, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, err
	}

	rows, err := t.tx.QueryContext(t.ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Entry, 0, capacity)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		if e.Key == nil {
			e.Key = []byte{}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *sqlTx) Cursor(table string) (Cursor, error) {
	if err := t.exists(table); err != nil {
		return nil, fmt.Errorf("open %s: %w", table, err)
	}
	return &sqlCursor{tx: t, table: table}, nil
}

// sqlCursor buffers a chunk of rows past the last returned key and refills
// with a key-range query when the buffer drains
type sqlCursor struct {
	tx      *sqlTx
	table   string
	dir     Direction
	last    []byte
	begun   bool
	buf     []Entry
	drained bool
}

func (c *sqlCursor) Seek(boundary []byte, dir Direction) error {
	c.dir = dir
	c.last = boundary
	c.begun = boundary != nil
	c.buf = nil
	c.drained = false
	return nil
}

func (c *sqlCursor) Step() (Entry, bool, error) {
	if len(c.buf) == 0 {
		if c.drained {
			return Entry{}, false, nil
		}
		if err := c.fill(); err != nil {
			return Entry{}, false, err
		}
		if len(c.buf) == 0 {
			return Entry{}, false, nil
		}
	}

	e := c.buf[0]
	c.buf = c.buf[1:]
	c.last = e.Key
	c.begun = true
	return e, true, nil
}

func (c *sqlCursor) fill() error {
	ds := c.tx.store.gq.From(goqu.T(c.table)).
		Select(goqu.C("k"), goqu.C("v")).
		Limit(sqlCursorChunk)

	if c.dir == Reverse {
		ds = ds.Order(goqu.C("k").Desc())
		if c.begun {
			ds = ds.Where(goqu.C("k").Lt(c.last))
		}
	} else {
		ds = ds.Order(goqu.C("k").Asc())
		if c.begun {
			ds = ds.Where(goqu.C("k").Gt(c.last))
		}
	}

	rows, err := c.tx.query(ds, sqlCursorChunk)
	if err != nil {
		return err
	}
	c.buf = rows
	c.drained = len(rows) < sqlCursorChunk
	return nil
}

func (c *sqlCursor) Close() error {
	c.buf = nil
	return nil
}
