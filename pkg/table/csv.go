package table

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/matsimcal/pkg/tracing"
)

// Delimiter of MATSim output tables
const Delimiter = ';'

// progressEvery is the row interval at which reading may log progress
const progressEvery = 100_000

var gzipMagic = []byte{0x1f, 0x8b}

// ReadFile reads a delimited table, transparently decompressing gzip input.
// The context is checked between progress intervals.
func ReadFile(ctx context.Context, path string, logger *slog.Logger) (*Table, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, span := tracing.StartSpan(ctx, "table.read")
	defer span.End()
	span.SetAttributes(attribute.String(tracing.AttrTablePath, path))

	f, err := os.Open(path)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("opening table: %w", err)
	}
	defer f.Close()

	start := time.Now()
	t, err := read(ctx, f, path, logger)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int(tracing.AttrTableRows, t.Len()))
	logger.Debug("read table", "path", path, "rows", t.Len(), "columns", len(t.Columns), "duration", time.Since(start))
	return t, nil
}

// Read reads a delimited table from r, which may be gzip compressed
func Read(r io.Reader) (*Table, error) {
	return read(context.Background(), r, "input", slog.Default())
}

func read(ctx context.Context, r io.Reader, name string, logger *slog.Logger) (*Table, error) {
	br := bufio.NewReader(r)
	var src io.Reader = br
	if magic, _ := br.Peek(len(gzipMagic)); len(magic) == len(gzipMagic) && magic[0] == gzipMagic[0] && magic[1] == gzipMagic[1] {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		defer zr.Close()
		src = zr
	}

	cr := csv.NewReader(src)
	cr.Comma = Delimiter
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: empty table", name)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: reading header: %w", name, err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	progress := rate.Sometimes{Interval: 10 * time.Second}
	var rows [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		rows = append(rows, rec)
		if len(rows)%progressEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			progress.Do(func() {
				logger.Info("reading table", "path", name, "rows", len(rows))
			})
		}
	}
	return New(header, rows), nil
}

// WriteFile writes t as a delimited table, gzip compressed when path ends
// in .gz
func WriteFile(path string, t *Table) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating table: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if !strings.HasSuffix(path, ".gz") {
		return Write(f, t)
	}
	zw := gzip.NewWriter(f)
	if err := Write(zw, t); err != nil {
		return err
	}
	return zw.Close()
}

// Write writes t as a delimited table
func Write(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	cw.Comma = Delimiter
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return err
	}
	return cw.Error()
}
