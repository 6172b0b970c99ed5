package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"marketcache/internal/asset"
	"marketcache/internal/segment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	spyMinute = asset.NewCacheKey(asset.NewKey("SPY", asset.Equity), asset.Minute, asset.OHLC)
	spyDaily  = asset.NewCacheKey(asset.NewKey("SPY", asset.Equity), asset.Day, asset.OHLC)
)

func sampleSegment(key asset.CacheKey, start time.Time, n int) *segment.Segment {
	rows := make([]segment.Row, 0, n)
	for i := 0; i < n; i++ {
		p := 500 + float64(i)/10
		r := segment.Row{Time: start.Add(time.Duration(i) * time.Minute), Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1000}
		if i%7 == 0 {
			r = segment.Row{Time: r.Time, Placeholder: true}
		}
		if i%5 == 0 && !r.Placeholder {
			r.Bid, r.Ask = p-0.01, p+0.01
		}
		rows = append(rows, r)
	}
	seg := segment.FromRows(key, rows)
	seg.SplitAdjusted = true
	seg.ActionsDigest = "abc"
	return seg
}

func newStore(t *testing.T, opts ...FileOption) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), "v1", opts...)
	require.NoError(t, err)
	return s
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	start := time.Date(2024, 7, 17, 13, 30, 0, 0, time.UTC)
	seg := sampleSegment(spyMinute, start, 500)
	seg.ExtendCoverage(segment.Range{Start: start.Add(-time.Hour), End: start})

	require.NoError(t, s.Save(ctx, spyMinute, seg))
	got, ok, err := s.Load(ctx, spyMinute)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, seg.Rows(), got.Rows())
	assert.True(t, got.CoverageStart.Equal(start.Add(-time.Hour)))
	assert.True(t, got.CoverageEnd.Equal(start.Add(499*time.Minute)))
	assert.Equal(t, seg.PlaceholderCount(), got.PlaceholderCount())
	assert.True(t, got.SplitAdjusted)
	assert.Equal(t, "abc", got.ActionsDigest)
	assert.Equal(t, "v1", got.SchemaVersion)
	require.False(t, seg.SyncedAt.IsZero())
	assert.True(t, got.SyncedAt.Equal(seg.SyncedAt), "sync stamp comes back from the sidecar")

	entries, err := os.ReadDir(filepath.Dir(spyMinute.FilePath(s.Root())))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "only data file and sidecar, no temp leftovers")
}

func TestLoadMissingIsMiss(t *testing.T) {
	s := newStore(t)
	seg, ok, err := s.Load(context.Background(), spyDaily)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, seg)
}

func TestCorruptDataIsDeletedAndMissed(t *testing.T) {
	ctx := context.Background()
	var corrupted []string
	s := newStore(t, WithCorruptHook(func(key asset.CacheKey, reason string) {
		corrupted = append(corrupted, key.String()+":"+reason)
	}))
	seg := sampleSegment(spyMinute, time.Date(2024, 7, 17, 13, 30, 0, 0, time.UTC), 50)
	require.NoError(t, s.Save(ctx, spyMinute, seg))

	path := spyMinute.FilePath(s.Root())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	got, ok, err := s.Load(ctx, spyMinute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.NoFileExists(t, path)
	assert.NoFileExists(t, path+manifestSuffix)
	require.Len(t, corrupted, 1)
	assert.Contains(t, corrupted[0], "checksum")
}

func TestInvalidSidecarIsMissed(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Save(ctx, spyDaily, sampleSegment(spyDaily, time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC), 3)))
	side := spyDaily.FilePath(s.Root()) + manifestSuffix
	require.NoError(t, os.WriteFile(side, []byte(`{"key":"x","rows":"many"}`), 0o644))

	_, ok, err := s.Load(ctx, spyDaily)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoFileExists(t, spyDaily.FilePath(s.Root()))
}

func TestOrphanDataFileIsRemoved(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Save(ctx, spyDaily, sampleSegment(spyDaily, time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC), 3)))
	require.NoError(t, os.Remove(spyDaily.FilePath(s.Root())+manifestSuffix))

	_, ok, err := s.Load(ctx, spyDaily)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoFileExists(t, spyDaily.FilePath(s.Root()))
}

func TestSchemaVersionBumpInvalidates(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	v1, err := NewFileStore(root, "v1")
	require.NoError(t, err)
	require.NoError(t, v1.Save(ctx, spyMinute, sampleSegment(spyMinute, time.Date(2024, 7, 17, 13, 30, 0, 0, time.UTC), 10)))

	v2, err := NewFileStore(root, "v2")
	require.NoError(t, err)
	_, ok, err := v2.Load(ctx, spyMinute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoFileExists(t, spyMinute.FilePath(root))
}

func TestBoundsReadsSidecarOnly(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	start := time.Date(2024, 7, 17, 13, 30, 0, 0, time.UTC)
	seg := sampleSegment(spyMinute, start, 30)
	require.NoError(t, s.Save(ctx, spyMinute, seg))

	// Bounds must not need the data file.
	require.NoError(t, os.Remove(spyMinute.FilePath(s.Root())))
	man, ok, err := s.Bounds(ctx, spyMinute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, man.CoverageStart.Equal(start))
	assert.True(t, man.CoverageEnd.Equal(start.Add(29*time.Minute)))
	assert.Equal(t, 30, man.Rows)
	assert.Equal(t, seg.PlaceholderCount(), man.Placeholders)
	assert.Equal(t, "equity/SPY/1m_ohlc.seg", man.Path)
}

func TestMergeGuardsActionDigest(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	t0 := time.Date(2024, 7, 17, 13, 30, 0, 0, time.UTC)

	seg, err := s.Merge(ctx, spyMinute, []segment.Row{{Time: t0, Close: 1}}, WithActionsDigest("d1"))
	require.NoError(t, err)
	assert.Equal(t, 1, seg.Len())

	seg, err = s.Merge(ctx, spyMinute, []segment.Row{{Time: t0.Add(time.Minute), Close: 2}, {Time: t0, Close: 3}}, WithActionsDigest("d1"))
	require.NoError(t, err)
	require.Equal(t, 2, seg.Len())
	assert.Equal(t, 3.0, seg.Row(0).Close)

	_, err = s.Merge(ctx, spyMinute, []segment.Row{{Time: t0.Add(2 * time.Minute), Close: 4}}, WithActionsDigest("d2"))
	assert.True(t, errors.Is(err, ErrActionsChanged))
	_, err = s.Merge(ctx, spyMinute, []segment.Row{{Time: t0.Add(2 * time.Minute), Close: 4}})
	assert.True(t, errors.Is(err, ErrActionsChanged), "raw rows never mix with adjusted ones")

	loaded, ok, err := s.Load(ctx, spyMinute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, loaded.Len())
}

func TestMergeWithCoverageExtendsPastRows(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	t0 := time.Date(2024, 7, 17, 13, 30, 0, 0, time.UTC)
	seg, err := s.Merge(ctx, spyMinute, []segment.Row{{Time: t0, Close: 1}},
		WithCoverage(segment.Range{Start: t0.Add(-time.Hour), End: t0.Add(time.Hour)}))
	require.NoError(t, err)
	assert.True(t, seg.CoverageStart.Equal(t0.Add(-time.Hour)))
	assert.True(t, seg.CoverageEnd.Equal(t0.Add(time.Hour)))
}

func TestMergeWithCoverageReplacesPlaceholders(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	t0 := time.Date(2024, 7, 17, 13, 30, 0, 0, time.UTC)
	rng := segment.Range{Start: t0, End: t0.Add(4 * time.Minute)}

	seg, err := s.Merge(ctx, spyMinute, []segment.Row{{Time: t0, Open: 1, High: 1, Low: 1, Close: 1}}, WithCoverage(rng))
	require.NoError(t, err)
	assert.Equal(t, 5, seg.Len())
	assert.Equal(t, 4, seg.PlaceholderCount())

	late := segment.Row{Time: t0.Add(3 * time.Minute), Open: 2, High: 2, Low: 2, Close: 2}
	seg, err = s.Merge(ctx, spyMinute, []segment.Row{late}, WithCoverage(segment.Range{Start: late.Time, End: late.Time}))
	require.NoError(t, err)
	assert.Equal(t, 5, seg.Len())
	assert.Equal(t, 3, seg.PlaceholderCount())
	assert.Equal(t, late, seg.Row(3))
	assert.Equal(t, rng, seg.Coverage())

	loaded, ok, err := s.Load(ctx, spyMinute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, seg.Rows(), loaded.Rows())
}

func TestIndexMirrorsSaves(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenIndex(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer idx.Close()
	s := newStore(t, WithIndex(idx))

	require.NoError(t, s.Save(ctx, spyMinute, sampleSegment(spyMinute, time.Date(2024, 7, 17, 13, 30, 0, 0, time.UTC), 20)))
	qqq := asset.NewCacheKey(asset.NewKey("QQQ", asset.Equity), asset.Day, asset.OHLC)
	require.NoError(t, s.Save(ctx, qqq, sampleSegment(qqq, time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC), 5)))

	all, err := idx.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "equity/QQQ/1d_ohlc.seg", all[0].Path)

	spy, err := idx.List(ctx, "equity/SPY/")
	require.NoError(t, err)
	require.Len(t, spy, 1)
	assert.Equal(t, 20, spy[0].Rows)
	assert.True(t, spy[0].SplitAdjusted)

	require.NoError(t, s.Delete(ctx, spyMinute))
	all, err = idx.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSaveHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newStore(t)
	err := s.Save(ctx, spyMinute, segment.New(spyMinute))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, spyMinute.FilePath(s.Root()))
}
