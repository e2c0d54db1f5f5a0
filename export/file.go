package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/maxpert/tablescan/cfg"
	"github.com/maxpert/tablescan/encoding"
)

func init() {
	RegisterSink(cfg.SinkFile, func(conf cfg.ExportConfiguration, runID string) (Sink, error) {
		return NewFileSink(filepath.Join(conf.Dir, runID), conf.Compress)
	})
}

// FileSink writes one CSV file per page
type FileSink struct {
	dir      string
	compress bool

	encoderPool sync.Pool
}

// NewFileSink creates dir if needed. With compress set, files are written
// zstd-compressed with a .zst suffix.
func NewFileSink(dir string, compress bool) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export dir: %w", err)
	}
	return &FileSink{dir: dir, compress: compress}, nil
}

// FileName returns the file a batch is written to
func (s *FileSink) FileName(b *Batch) string {
	name := fmt.Sprintf("%s_%s_%s.csv", b.Table, encoding.KeyString(b.FirstKey), encoding.KeyString(b.LastKey))
	if s.compress {
		name += ".zst"
	}
	return filepath.Join(s.dir, name)
}

// Write writes the batch to a temporary file and renames it into place, so
// a page file is either complete or absent
func (s *FileSink) Write(ctx context.Context, b *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.FileName(b)
	tmp, err := os.CreateTemp(s.dir, ".page-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := s.writeTo(tmp, b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (s *FileSink) writeTo(f *os.File, b *Batch) error {
	buf := bufio.NewWriter(f)

	var out io.Writer = buf
	var enc *zstd.Encoder
	if s.compress {
		var err error
		if enc, err = s.encoder(buf); err != nil {
			return err
		}
		defer s.encoderPool.Put(enc)
		out = enc
	}

	w := csv.NewWriter(out)
	header := append([]string{"page", "category"}, b.Columns...)
	if err := w.Write(header); err != nil {
		return err
	}

	page := strconv.Itoa(b.Page)
	record := make([]string, 0, len(header))
	for _, r := range b.Rows {
		record = append(record[:0], page, r.Category)
		record = append(record, r.Fields...)
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	if enc != nil {
		if err := enc.Close(); err != nil {
			return err
		}
	}
	if err := buf.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func (s *FileSink) encoder(w io.Writer) (*zstd.Encoder, error) {
	if enc, ok := s.encoderPool.Get().(*zstd.Encoder); ok {
		enc.Reset(w)
		return enc, nil
	}
	return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

// Close is a no-op; files are closed as they are written
func (s *FileSink) Close() error {
	return nil
}
