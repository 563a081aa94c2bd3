package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

// CandleArchiveStore is the slice of the candle store the archiver needs.
type CandleArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Candle, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// PositionArchiveStore is the slice of the position store the archiver
// needs.
type PositionArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.PositionRecord, error)
	DeleteClosedBefore(ctx context.Context, before time.Time) (int64, error)
}

// ErrPageTooSmall is returned when more rows share one timestamp than fit in
// a page, so the archiver cannot advance without splitting them.
var ErrPageTooSmall = errors.New("archive page smaller than rows sharing one timestamp")

// ArchiveImpl implements domain.Archiver. Rows are read oldest first in
// pages, written as gzipped JSONL objects, and deleted from the database
// only after their object is stored.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	candles   CandleArchiveStore
	positions PositionArchiveStore
	audit     domain.AuditStore
	pageSize  int
}

// NewArchiver creates an ArchiveImpl. audit may be nil.
func NewArchiver(writer domain.BlobWriter, candles CandleArchiveStore, positions PositionArchiveStore, audit domain.AuditStore, pageSize int) *ArchiveImpl {
	if pageSize <= 0 {
		pageSize = 5000
	}
	return &ArchiveImpl{
		writer:    writer,
		candles:   candles,
		positions: positions,
		audit:     audit,
		pageSize:  pageSize,
	}
}

// ArchiveCandles moves candles starting before the cutoff to
// archive/candles/YYYY/MM/DD/<first>_<last>.jsonl.gz.
func (a *ArchiveImpl) ArchiveCandles(ctx context.Context, before time.Time) (int64, error) {
	return archivePages(ctx, a, "candles", before,
		func(ctx context.Context, cutoff time.Time) ([]domain.Candle, error) {
			return a.candles.ListBefore(ctx, cutoff, a.pageSize)
		},
		a.candles.DeleteBefore,
		func(c domain.Candle) time.Time { return c.Start },
	)
}

// ArchivePositions moves positions closed before the cutoff to
// archive/positions/YYYY/MM/DD/<first>_<last>.jsonl.gz.
func (a *ArchiveImpl) ArchivePositions(ctx context.Context, before time.Time) (int64, error) {
	return archivePages(ctx, a, "positions", before,
		func(ctx context.Context, cutoff time.Time) ([]domain.PositionRecord, error) {
			return a.positions.ListClosedBefore(ctx, cutoff, a.pageSize)
		},
		a.positions.DeleteClosedBefore,
		func(p domain.PositionRecord) time.Time {
			if p.ExitTime == nil {
				return p.EntryTime
			}
			return *p.ExitTime
		},
	)
}

func archivePages[T any](
	ctx context.Context,
	a *ArchiveImpl,
	kind string,
	cutoff time.Time,
	list func(context.Context, time.Time) ([]T, error),
	del func(context.Context, time.Time) (int64, error),
	stamp func(T) time.Time,
) (int64, error) {
	var total int64
	for {
		page, err := list(ctx, cutoff)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive %s query: %w", kind, err)
		}
		if len(page) == 0 {
			return total, nil
		}

		upto := cutoff
		if len(page) == a.pageSize {
			// Rows sharing the last timestamp may continue past the page.
			// Leave them for the next page so the delete boundary is exact.
			n, err := completePrefix(page, stamp)
			if err != nil {
				return total, fmt.Errorf("s3blob: archive %s: %w", kind, err)
			}
			upto = stamp(page[n])
			page = page[:n]
		}

		path := archivePath(kind, stamp(page[0]), stamp(page[len(page)-1]))
		if err := putJSONL(ctx, a.writer, path, page); err != nil {
			return total, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
		}
		if _, err := del(ctx, upto); err != nil {
			return total, fmt.Errorf("s3blob: archive %s delete: %w", kind, err)
		}
		total += int64(len(page))

		if a.audit != nil {
			if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
				"path":   path,
				"count":  len(page),
				"before": upto.Format(time.RFC3339),
			}); err != nil {
				return total, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
			}
		}

		if upto.Equal(cutoff) {
			return total, nil
		}
	}
}

// completePrefix returns the length of the longest prefix of page that does
// not end inside a run of equal timestamps.
func completePrefix[T any](page []T, stamp func(T) time.Time) (int, error) {
	last := stamp(page[len(page)-1])
	n := len(page)
	for n > 0 && stamp(page[n-1]).Equal(last) {
		n--
	}
	if n == 0 {
		return 0, ErrPageTooSmall
	}
	return n, nil
}

func putJSONL[T any](ctx context.Context, w domain.BlobWriter, path string, records []T) error {
	buf, err := marshalJSONLGzip(records)
	if err != nil {
		return err
	}
	return w.Put(ctx, path, bytes.NewReader(buf), "application/gzip")
}

// archivePath partitions archive objects by the UTC day of the first row.
//
//	archive/candles/2024/03/08/20240308T140000Z_20240308T145900Z.jsonl.gz
func archivePath(kind string, first, last time.Time) string {
	const stampFmt = "20060102T150405Z"
	first, last = first.UTC(), last.UTC()
	return fmt.Sprintf("archive/%s/%s/%s_%s.jsonl.gz",
		kind, first.Format("2006/01/02"), first.Format(stampFmt), last.Format(stampFmt))
}

// marshalJSONLGzip encodes records as gzipped newline-delimited JSON.
func marshalJSONLGzip[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("jsonl gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
