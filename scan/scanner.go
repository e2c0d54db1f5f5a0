// Package scan walks a table page by page and folds every record into an
// aggregate.
//
// A scan is a single loop owning one read-only store transaction:
//
//	Init -> (Fetch -> Decode/Transform -> Fold)* -> Done
//
// Fetch, decode and transform of a page run together under Retry, so a
// transient store error or a decode failure re-reads the same page range.
// Decode/transform fans out over a page's entries; folding happens on the
// loop goroutine only.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maxpert/tablescan/cfg"
	"github.com/maxpert/tablescan/encoding"
	"github.com/maxpert/tablescan/export"
	"github.com/maxpert/tablescan/store"
	"github.com/maxpert/tablescan/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"
)

// ErrCardinalityMismatch is returned when the records processed differ from
// the entry count the table reported at scan start
var ErrCardinalityMismatch = errors.New("processed record count does not match table stats")

// PageError identifies the page a scan aborted on
type PageError struct {
	Page     int
	Boundary []byte // last key of the previous page
	Err      error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d after key %s: %v", e.Page, encoding.KeyString(e.Boundary), e.Err)
}

func (e *PageError) Unwrap() error {
	return e.Err
}

// Options controls a scan
type Options struct {
	Mode       cfg.ScanMode
	Direction  store.Direction
	PageSize   int // 0 = store native page size
	MaxRetries int
	Workers    int
	Verify     bool

	Exporter *export.Exporter           // optional
	RunID    string                     // generated when empty
	Progress *telemetry.ProgressTracker // defaults to telemetry.Progress
}

// OptionsFrom maps scan configuration to options
func OptionsFrom(conf cfg.ScanConfiguration) Options {
	return Options{
		Mode:       conf.Mode,
		Direction:  store.DirectionOf(conf.Direction),
		PageSize:   conf.PageSize,
		MaxRetries: conf.MaxRetries,
		Workers:    conf.Workers,
		Verify:     conf.VerifyExactlyOnce,
	}
}

// Result summarizes a finished scan
type Result struct {
	RunID    string
	Table    string
	Total    uint64 // entry count reported at start
	PageSize int
	Pages    int
	Records  uint64 // entries read
	Kept     uint64 // tuples folded after filtering
	Retries  int
	Unstable int // pages whose content changed between attempts
	Exported int // pages written to the exporter
	Duration time.Duration
}

type fetched[T any] struct {
	page   *Page
	digest uint64
	tuples []T
}

// Run scans p.Table inside tx and folds every page into agg
func Run[K any, V any, T Tuple](ctx context.Context, tx store.Tx, p Pipeline[K, V, T], agg Aggregator[T], opts Options) (Result, error) {
	started := time.Now()
	table := p.Table.Name

	if opts.RunID == "" {
		opts.RunID = ksuid.New().String()
	}
	if opts.Progress == nil {
		opts.Progress = telemetry.Progress
	}
	logger := log.With().Str("run_id", opts.RunID).Str("table", table).Logger()

	res := Result{RunID: opts.RunID, Table: table}

	stats, err := tx.Stats(table)
	if err != nil {
		return res, err
	}
	res.Total = stats.Entries
	logger.Info().Uint64("entries", stats.Entries).Msg("Total entries")

	res.PageSize = opts.PageSize
	if res.PageSize <= 0 {
		res.PageSize = stats.PageSize
	}
	logger.Info().
		Int("page_size", res.PageSize).
		Int("native_page_size", stats.PageSize).
		Str("mode", string(opts.Mode)).
		Str("direction", opts.Direction.String()).
		Msg("Page size")

	pager, err := NewPager(tx, table, opts.Mode, opts.Direction, stats.Entries, res.PageSize)
	if err != nil {
		return res, err
	}
	defer pager.Close()

	var verifier *Verifier
	if opts.Verify {
		verifier = NewVerifier(stats.Entries)
	}

	progress := telemetry.ScanProgress{
		RunID:     opts.RunID,
		Table:     table,
		State:     telemetry.ScanRunning,
		Total:     stats.Entries,
		PageSize:  res.PageSize,
		StartedAt: started,
	}
	opts.Progress.Update(progress)

	fail := func(reason string, err error) (Result, error) {
		res.Duration = time.Since(started)
		telemetry.ScanAbortsTotal.With(table, reason).Inc()
		progress.State = telemetry.ScanFailed
		progress.Error = err.Error()
		opts.Progress.Update(progress)
		logger.Error().Err(err).Str("reason", reason).Int("pages", res.Pages).Msg("Scan aborted")
		return res, err
	}

	var boundary []byte
	for !pager.Done() {
		if err := ctx.Err(); err != nil {
			return fail("canceled", err)
		}

		// digests of every attempt whose fetch succeeded
		var attempts []uint64
		out, retries, err := Retry(ctx, logger, opts.MaxRetries, func(int) (fetched[T], error) {
			t0 := time.Now()
			defer func() {
				telemetry.PageFetchSeconds.With(table).Observe(time.Since(t0).Seconds())
			}()

			page, err := pager.Fetch()
			if err != nil {
				return fetched[T]{}, err
			}
			digest := page.Digest()
			attempts = append(attempts, digest)

			tuples, err := p.Run(page.Entries, opts.Workers)
			if err != nil {
				return fetched[T]{}, err
			}
			return fetched[T]{page: page, digest: digest, tuples: tuples}, nil
		})
		res.Retries += retries
		progress.Retries = res.Retries
		if retries > 0 {
			telemetry.PageRetriesTotal.With(table).Add(float64(retries))
		}
		if err != nil {
			reason := "retries"
			if ctx.Err() != nil {
				reason = "canceled"
			}
			return fail(reason, &PageError{Page: res.Pages, Boundary: boundary, Err: err})
		}

		page, digest := out.page, out.digest
		for _, d := range attempts[:len(attempts)-1] {
			if d != digest {
				res.Unstable++
				logger.Warn().
					Int("page", page.Index).
					Uint64("digest", digest).
					Uint64("attempt_digest", d).
					Msg("Page content changed between attempts")
				break
			}
		}
		pager.Advance(page)
		if page.Len() == 0 {
			continue
		}
		boundary = page.LastKey()

		if verifier != nil {
			if err := verifier.Check(page); err != nil {
				telemetry.DuplicateKeysTotal.With(table).Inc()
				return fail("duplicate", err)
			}
		}

		agg.Fold(page, out.tuples)
		res.Pages++
		res.Records += uint64(page.Len())
		res.Kept += uint64(len(out.tuples))

		if opts.Exporter != nil {
			wrote, err := opts.Exporter.Export(ctx, newBatch(opts.RunID, table, p.Columns, page, digest, out.tuples))
			if err != nil {
				return fail("export", err)
			}
			if wrote {
				res.Exported++
			}
		}

		telemetry.PagesTotal.With(table).Inc()
		telemetry.RecordsTotal.With(table).Add(float64(page.Len()))
		telemetry.PageRecords.With(table).Observe(float64(page.Len()))

		progress.Pages = res.Pages
		progress.Processed = res.Records
		opts.Progress.Update(progress)

		logger.Debug().
			Int("page", page.Index).
			Int("records", page.Len()).
			Int("kept", len(out.tuples)).
			Str("first_key", encoding.KeyString(page.FirstKey())).
			Str("last_key", encoding.KeyString(page.LastKey())).
			Uint64("digest", digest).
			Msg("Page processed")
	}

	if res.Records != stats.Entries {
		return fail("cardinality", fmt.Errorf("%w: stats reported %d, processed %d",
			ErrCardinalityMismatch, stats.Entries, res.Records))
	}

	res.Duration = time.Since(started)
	progress.State = telemetry.ScanDone
	opts.Progress.Update(progress)

	logger.Info().
		Int("pages", res.Pages).
		Uint64("records", res.Records).
		Uint64("kept", res.Kept).
		Int("retries", res.Retries).
		Int("unstable", res.Unstable).
		Dur("duration", res.Duration).
		Msg("Scan complete")
	return res, nil
}

func newBatch[T Tuple](runID, table string, columns []string, page *Page, digest uint64, tuples []T) *export.Batch {
	rows := make([]export.Row, len(tuples))
	for i, t := range tuples {
		rows[i] = export.Row{Category: t.Category(), Fields: t.Fields()}
	}
	return &export.Batch{
		RunID:    runID,
		Table:    table,
		Page:     page.Index,
		FirstKey: page.FirstKey(),
		LastKey:  page.LastKey(),
		Digest:   digest,
		Columns:  columns,
		Rows:     rows,
	}
}
