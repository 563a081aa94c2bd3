package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/scalpcore/internal/domain"
)

type memBlobs struct {
	objects map[string][]byte
	order   []string
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[path] = b
	m.order = append(m.order, path)
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) lines(t *testing.T, path string) []string {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(m.objects[path]))
	require.NoError(t, err)
	var out []string
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	require.NoError(t, sc.Err())
	return out
}

type memCandleStore struct{ rows []domain.Candle }

func (m *memCandleStore) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.Candle, error) {
	var out []domain.Candle
	for _, c := range m.rows {
		if c.Start.Before(before) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memCandleStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	kept := m.rows[:0]
	var n int64
	for _, c := range m.rows {
		if c.Start.Before(before) {
			n++
			continue
		}
		kept = append(kept, c)
	}
	m.rows = kept
	return n, nil
}

type memPositionStore struct{ rows []domain.PositionRecord }

func (m *memPositionStore) ListClosedBefore(_ context.Context, before time.Time, limit int) ([]domain.PositionRecord, error) {
	var out []domain.PositionRecord
	for _, p := range m.rows {
		if p.ExitTime != nil && p.ExitTime.Before(before) {
			out = append(out, p)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPositionStore) DeleteClosedBefore(_ context.Context, before time.Time) (int64, error) {
	kept := m.rows[:0]
	var n int64
	for _, p := range m.rows {
		if p.ExitTime != nil && p.ExitTime.Before(before) {
			n++
			continue
		}
		kept = append(kept, p)
	}
	m.rows = kept
	return n, nil
}

var base = time.Date(2024, 3, 8, 14, 0, 0, 0, time.UTC)

func bar(minute int, source string) domain.Candle {
	return domain.Candle{
		Instrument: "ES.c.0", Timeframe: time.Minute, Source: source,
		Start: base.Add(time.Duration(minute) * time.Minute),
		Open:  5000, High: 5001, Low: 4999, Close: 5000,
	}
}

func TestArchiveCandles_PagesOnTimestampBoundaries(t *testing.T) {
	store := &memCandleStore{rows: []domain.Candle{
		bar(0, "futures"), bar(1, "futures"), bar(1, "spot"), bar(2, "futures"), bar(5, "futures"),
	}}
	blobs := &memBlobs{}
	a := NewArchiver(blobs, store, &memPositionStore{}, nil, 3)

	n, err := a.ArchiveCandles(context.Background(), base.Add(3*time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	require.Len(t, store.rows, 1)
	assert.Equal(t, base.Add(5*time.Minute), store.rows[0].Start)

	require.Len(t, blobs.order, 3)
	assert.Equal(t, "archive/candles/2024/03/08/20240308T140000Z_20240308T140000Z.jsonl.gz", blobs.order[0])
	assert.Len(t, blobs.lines(t, blobs.order[0]), 1)
	assert.Len(t, blobs.lines(t, blobs.order[1]), 2)

	var got domain.Candle
	require.NoError(t, json.Unmarshal([]byte(blobs.lines(t, blobs.order[2])[0]), &got))
	assert.Equal(t, base.Add(2*time.Minute), got.Start)
}

func TestArchiveCandles_PageTooSmall(t *testing.T) {
	store := &memCandleStore{rows: []domain.Candle{bar(0, "a"), bar(0, "b"), bar(1, "a")}}
	a := NewArchiver(&memBlobs{}, store, &memPositionStore{}, nil, 2)

	_, err := a.ArchiveCandles(context.Background(), base.Add(time.Hour))
	assert.ErrorIs(t, err, ErrPageTooSmall)
	assert.Len(t, store.rows, 3)
}

func TestArchivePositions(t *testing.T) {
	exit := base.Add(10 * time.Minute)
	store := &memPositionStore{rows: []domain.PositionRecord{
		{ID: "closed", Status: domain.PositionStatusClosed, EntryTime: base, ExitTime: &exit},
		{ID: "open", Status: domain.PositionStatusOpen, EntryTime: base},
	}}
	blobs := &memBlobs{}
	a := NewArchiver(blobs, &memCandleStore{}, store, nil, 100)

	n, err := a.ArchivePositions(context.Background(), base.Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	require.Len(t, store.rows, 1)
	assert.Equal(t, "open", store.rows[0].ID)

	require.Len(t, blobs.order, 1)
	assert.True(t, strings.HasPrefix(blobs.order[0], "archive/positions/2024/03/08/"))
	assert.Contains(t, blobs.lines(t, blobs.order[0])[0], `"id":"closed"`)
}

func TestArchive_NothingToDo(t *testing.T) {
	blobs := &memBlobs{}
	a := NewArchiver(blobs, &memCandleStore{}, &memPositionStore{}, nil, 0)
	n, err := a.ArchiveCandles(context.Background(), base)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.order)
}

func TestClientKeyPrefix(t *testing.T) {
	c := NewFromS3(nil, "bucket", "/scalp/prod/")
	assert.Equal(t, "scalp/prod/archive/x.gz", c.key("/archive/x.gz"))
	assert.Equal(t, "archive/x.gz", c.logical("scalp/prod/archive/x.gz"))

	bare := NewFromS3(nil, "bucket", "")
	assert.Equal(t, "archive/x.gz", bare.key("archive/x.gz"))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://x", normaliseEndpoint("http://x", true))
}
