package placeholder

import (
	"testing"
	"time"

	"marketcache/internal/align"
	"marketcache/internal/asset"
	"marketcache/internal/segment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	optDaily = asset.NewCacheKey(asset.NewOption("SPY", time.Date(2024, 8, 16, 0, 0, 0, 0, time.UTC), 560, asset.Put, 100), asset.Day, asset.OHLC)
	spyMin   = asset.NewCacheKey(asset.NewKey("SPY", asset.Equity), asset.Minute, asset.OHLC)
)

func TestMarkMissingDailyCadence(t *testing.T) {
	real := segment.Row{Time: time.Date(2024, 7, 17, 20, 0, 0, 0, time.UTC), Open: 2, High: 2, Low: 2, Close: 2}
	seg := segment.FromRows(optDaily, []segment.Row{real})
	rng := segment.Range{Start: time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 7, 21, 0, 0, 0, 0, time.UTC)}

	out := MarkMissing(seg, rng, time.Time{})
	require.Equal(t, 5, out.Len(), "Mon-Fri, one real + four placeholders")
	assert.Equal(t, 4, out.PlaceholderCount())
	assert.Equal(t, rng.Start, out.CoverageStart)
	assert.Equal(t, rng.End, out.CoverageEnd)
	for _, r := range out.Rows() {
		assert.Equal(t, 20, r.Time.Hour(), "placeholders are aligned to the close")
	}
	assert.Equal(t, []segment.Row{real}, Strip(out))

	again := MarkMissing(out, rng, time.Time{})
	assert.Equal(t, out.Rows(), again.Rows(), "marking twice adds nothing")
}

func TestMarkMissingStopsAtNow(t *testing.T) {
	seg := segment.New(spyMin)
	start := time.Date(2024, 7, 18, 13, 30, 0, 0, time.UTC)
	now := start.Add(10*time.Minute + 20*time.Second)
	out := MarkMissing(seg, segment.Range{Start: start, End: start.Add(time.Hour)}, now)
	assert.Equal(t, 10, out.Len(), "13:30..13:39; the 13:40 bar is still forming")
	assert.Equal(t, start.Add(9*time.Minute), out.CoverageEnd)

	none := MarkMissing(seg, segment.Range{Start: now.Add(time.Hour), End: now.Add(2 * time.Hour)}, now)
	assert.Equal(t, 0, none.Len())
	assert.False(t, none.HasCoverage())
}

func TestClampDailyBeforeClose(t *testing.T) {
	now := time.Date(2024, 7, 18, 14, 0, 0, 0, time.UTC)
	rng := segment.Range{Start: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 7, 31, 0, 0, 0, 0, time.UTC)}
	out := Clamp(rng, asset.Day, align.CalendarFor(optDaily.Asset.Subtype), now)
	assert.Equal(t, time.Date(2024, 7, 17, 20, 0, 0, 0, time.UTC), out.End, "today's bar is not final before the close")
}

func TestClampDropsFormingBar(t *testing.T) {
	cal := align.CalendarFor(asset.Equity)
	start := time.Date(2024, 7, 18, 13, 30, 0, 0, time.UTC)
	now := start.Add(5*time.Minute + 30*time.Second)
	rng := segment.Range{Start: start, End: start.Add(5 * time.Minute)}

	out := Clamp(rng, asset.Minute, cal, now)
	assert.Equal(t, start.Add(4*time.Minute), out.End, "the 13:35 bar is still forming")
	assert.Equal(t, start.Add(4*time.Minute), LastCompleted(asset.Minute, cal, now))

	rows := Fill(spyMin, nil, rng, now)
	require.Len(t, rows, 5)
	assert.Equal(t, start.Add(4*time.Minute), rows[4].Time)

	forming := segment.Range{Start: start.Add(5 * time.Minute), End: start.Add(5 * time.Minute)}
	assert.False(t, Clamp(forming, asset.Minute, cal, now).Valid())
	assert.Equal(t, rng, Clamp(rng, asset.Minute, cal, start.Add(6*time.Minute)), "closed bars are kept")
}

func TestFillAddsOnlyEmptySlots(t *testing.T) {
	start := time.Date(2024, 7, 18, 13, 30, 0, 0, time.UTC)
	real := []segment.Row{{Time: start.Add(2 * time.Minute), Close: 5, Open: 5, High: 5, Low: 5}}
	rows := Fill(spyMin, real, segment.Range{Start: start, End: start.Add(4 * time.Minute)}, time.Time{})
	require.Len(t, rows, 5)
	assert.False(t, rows[2].Placeholder)
	assert.True(t, rows[0].Placeholder)
	assert.True(t, rows[4].Placeholder)
}

func TestHealReplacesPlaceholders(t *testing.T) {
	start := time.Date(2024, 7, 18, 13, 30, 0, 0, time.UTC)
	seg := MarkMissing(segment.New(spyMin), segment.Range{Start: start, End: start.Add(9 * time.Minute)}, time.Time{})
	require.Equal(t, 10, seg.PlaceholderCount())

	healed := Heal(seg, segment.Range{Start: start.Add(3 * time.Minute), End: start.Add(5 * time.Minute)},
		[]segment.Row{{Time: start.Add(4 * time.Minute), Open: 1, High: 1, Low: 1, Close: 1}})
	assert.Equal(t, 8, healed.Len())
	assert.Equal(t, 7, healed.PlaceholderCount())
	assert.Len(t, Strip(healed), 1)
	assert.Equal(t, seg.Coverage(), healed.Coverage())
}
