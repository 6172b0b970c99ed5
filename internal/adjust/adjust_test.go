package adjust

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

var aaplDaily = asset.NewCacheKey(asset.NewKey("AAPL", asset.Equity), asset.Day, asset.OHLC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func closeOf(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 20, 0, 0, 0, time.UTC)
}

func bar(t time.Time, px, vol float64) segment.Row {
	return segment.Row{Time: t, Open: px, High: px, Low: px, Close: px, Volume: vol}
}

var history = []Action{
	{Date: day(2015, 3, 20), Dividend: 1.22},
	{Date: day(2016, 6, 1), SplitRatio: 2},
	{Date: day(2020, 8, 31), SplitRatio: 3},
}

func TestDividendFollowsSplitFactor(t *testing.T) {
	seg := segment.FromRows(aaplDaily, []segment.Row{
		bar(closeOf(2015, 3, 20), 120, 1000),
		bar(closeOf(2018, 1, 2), 90, 500),
		bar(closeOf(2021, 1, 4), 130, 100),
	})
	out, divs, err := Apply(seg, history)
	require.NoError(t, err)
	require.Len(t, divs, 1)
	assert.InDelta(t, 0.20, divs[0].Dividend, 0.01)
	assert.InDelta(t, 1.22/6, divs[0].Dividend, 1e-9)

	r2015 := out.Row(0)
	assert.InDelta(t, 20.0, r2015.Close, 1e-9)
	assert.InDelta(t, 6000.0, r2015.Volume, 1e-9)
	assert.InDelta(t, divs[0].Dividend, r2015.Dividend, 1e-12, "row dividend and price share the factor")

	assert.InDelta(t, 30.0, out.Row(1).Close, 1e-9, "only the 2020 split applies")
	assert.InDelta(t, 1500.0, out.Row(1).Volume, 1e-9)
	assert.Equal(t, 130.0, out.Row(2).Close, "rows after every split are untouched")
	assert.True(t, out.SplitAdjusted)
	assert.Equal(t, Digest(history), out.ActionsDigest)
	assert.False(t, seg.SplitAdjusted, "input segment is not mutated")
}

func TestRowOnSplitDateIsPostSplit(t *testing.T) {
	seg := segment.FromRows(aaplDaily, []segment.Row{bar(closeOf(2020, 8, 31), 129, 10), bar(closeOf(2020, 8, 28), 499, 10)})
	out, _, err := Apply(seg, []Action{{Date: day(2020, 8, 31), SplitRatio: 4}})
	require.NoError(t, err)
	assert.InDelta(t, 124.75, out.Row(0).Close, 1e-9)
	assert.Equal(t, 129.0, out.Row(1).Close)
}

func TestZeroRowsAreFiltered(t *testing.T) {
	seg := segment.FromRows(aaplDaily, []segment.Row{
		bar(closeOf(2024, 7, 15), 100, 10),
		{Time: closeOf(2024, 7, 16)},
		{Time: closeOf(2024, 7, 17), Bid: 10, Ask: 10.2},
		{Time: closeOf(2024, 7, 18), Placeholder: true},
	})
	out, _, err := Apply(seg, nil)
	require.NoError(t, err)
	require.Equal(t, 3, out.Len())
	for _, r := range out.Rows() {
		assert.NotEqual(t, closeOf(2024, 7, 16), r.Time)
	}
	assert.Equal(t, 10.0, out.Row(1).Bid, "quote-only rows survive")
	assert.True(t, out.Row(2).Placeholder)
}

func TestApplyIsIdempotent(t *testing.T) {
	seg := segment.FromRows(aaplDaily, []segment.Row{bar(closeOf(2015, 3, 20), 120, 1000), bar(closeOf(2019, 3, 20), 180, 10)})
	once, _, err := Apply(seg, history)
	require.NoError(t, err)
	reordered := []Action{history[2], history[0], history[1]}
	twice, divs, err := Apply(once, reordered)
	require.NoError(t, err)
	assert.Same(t, once, twice)
	assert.Equal(t, once.Rows(), twice.Rows())
	assert.Len(t, divs, 1)
}

func TestApplyRejectsDifferentActions(t *testing.T) {
	seg := segment.FromRows(aaplDaily, []segment.Row{bar(closeOf(2015, 3, 20), 120, 1000)})
	once, _, err := Apply(seg, history)
	require.NoError(t, err)
	more := append([]Action{{Date: day(2024, 6, 10), SplitRatio: 10}}, history...)
	_, _, err = Apply(once, more)
	assert.True(t, errors.Is(err, ErrDoubleAdjustment))
}

func TestQuotesScaleWithPrices(t *testing.T) {
	seg := segment.FromRows(aaplDaily, []segment.Row{{Time: closeOf(2016, 5, 31), Close: 100, Open: 100, High: 100, Low: 100, Bid: 99, Ask: 101}})
	out, _, err := Apply(seg, history)
	require.NoError(t, err)
	r := out.Row(0)
	assert.InDelta(t, 100.0/6, r.Close, 1e-9)
	assert.InDelta(t, 99.0/6, r.Bid, 1e-9)
	assert.InDelta(t, 101.0/6, r.Ask, 1e-9)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.yaml")
	doc := `actions:
  aapl:
    - {date: 2020-08-31, split_ratio: 4}
    - {date: "2015-05-07", dividend: 0.52}
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	src := NewFileSource(path)
	got, err := src.Actions(context.Background(), asset.NewKey("AAPL", asset.Equity))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, day(2020, 8, 31), got[0].Date)
	assert.Equal(t, 4.0, got[0].SplitRatio)

	opt := asset.NewOption("AAPL", day(2024, 7, 19), 200, asset.Call, 100)
	got, err = src.Actions(context.Background(), opt)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFileSourceRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("actions:\n  X:\n    - {date: 2020-01-01, ratio: 2}\n"), 0o644))
	_, err := NewFileSource(path).Actions(context.Background(), asset.NewKey("X", asset.Equity))
	assert.Error(t, err)
}
