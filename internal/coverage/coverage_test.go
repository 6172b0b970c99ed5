package coverage

import (
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
	newYork   = mustLoc("America/New_York")
)

func mustLoc(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func minuteSegment(start time.Time, n int) *segment.Segment {
	rows := make([]segment.Row, n)
	for i := range rows {
		rows[i] = segment.Row{Time: start.Add(time.Duration(i) * time.Minute), Open: 1, High: 1, Low: 1, Close: 1}
	}
	return segment.FromRows(spyMinute, rows)
}

func TestDailyBoundaryComparesDatesOnly(t *testing.T) {
	seg := segment.FromRows(spyDaily, []segment.Row{
		{Time: time.Date(2024, 7, 15, 20, 0, 0, 0, time.UTC), Close: 1},
		{Time: time.Date(2024, 7, 17, 20, 0, 0, 0, time.UTC), Close: 1},
	})
	seg.CoverageEnd = time.Date(2024, 7, 18, 0, 0, 0, 0, time.UTC)

	req := ForRange(spyDaily, time.Date(2024, 7, 15, 9, 30, 0, 0, newYork), time.Date(2024, 7, 18, 9, 30, 0, 0, newYork))
	res, err := Covers(seg, req)
	require.NoError(t, err)
	assert.Equal(t, Full, res.Status, "midnight-of-D coverage satisfies a 09:30 D request")
	assert.Empty(t, res.Missing)

	req.End = time.Date(2024, 7, 19, 9, 30, 0, 0, newYork)
	res, err = Covers(seg, req)
	require.NoError(t, err)
	assert.Equal(t, Partial, res.Status)
	require.Len(t, res.Missing, 1)
	assert.Equal(t, 19, res.Missing[0].Start.Day())
}

func TestIntradayRangeMissingIsAdjacent(t *testing.T) {
	t0 := time.Date(2024, 7, 17, 13, 30, 0, 0, time.UTC)
	seg := minuteSegment(t0, 60)

	res, err := Covers(seg, ForRange(spyMinute, t0.Add(10*time.Minute), t0.Add(50*time.Minute+30*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, Full, res.Status)

	res, err = Covers(seg, ForRange(spyMinute, t0.Add(-5*time.Minute), t0.Add(70*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, Partial, res.Status)
	require.Len(t, res.Missing, 2)
	assert.Equal(t, segment.Range{Start: t0.Add(-5 * time.Minute), End: t0.Add(-time.Minute)}, res.Missing[0])
	assert.Equal(t, segment.Range{Start: t0.Add(60 * time.Minute), End: t0.Add(70 * time.Minute)}, res.Missing[1])

	res, err = Covers(seg, ForRange(spyMinute, t0.Add(3*time.Hour), t0.Add(4*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, None, res.Status)
	require.Len(t, res.Missing, 1)
	assert.Equal(t, t0.Add(60*time.Minute), res.Missing[0].Start, "gap is bridged from the coverage end")
}

func TestFetchEndExtendsTrailingGap(t *testing.T) {
	t0 := time.Date(2024, 7, 17, 13, 30, 0, 0, time.UTC)
	seg := minuteSegment(t0, 60)
	horizon := t0.Add(3 * time.Hour).Add(20 * time.Second)

	res, err := Covers(seg, ForRange(spyMinute, t0, t0.Add(61*time.Minute)).Ahead(horizon))
	require.NoError(t, err)
	require.Len(t, res.Missing, 1)
	assert.Equal(t, segment.Range{Start: t0.Add(60 * time.Minute), End: t0.Add(3 * time.Hour)}, res.Missing[0])

	res, err = Covers(seg, ForRange(spyMinute, t0, t0.Add(59*time.Minute)).Ahead(horizon))
	require.NoError(t, err)
	assert.True(t, res.Covered(), "the horizon alone never causes a miss")

	res, err = Covers(nil, ForRange(spyMinute, t0, t0.Add(time.Minute)).Ahead(horizon))
	require.NoError(t, err)
	assert.Equal(t, []segment.Range{{Start: t0, End: t0.Add(3 * time.Hour)}}, res.Missing)
}

func TestRangeWithoutSegment(t *testing.T) {
	start := time.Date(2024, 7, 17, 13, 30, 0, 0, time.UTC)
	res, err := Covers(nil, ForRange(spyMinute, start, start.Add(time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, None, res.Status)
	assert.Equal(t, []segment.Range{{Start: start, End: start.Add(time.Hour)}}, res.Missing)
}

func TestLengthRequestServedFromLargeSegment(t *testing.T) {
	t0 := time.Date(2024, 7, 17, 13, 30, 0, 0, time.UTC)
	seg := minuteSegment(t0, 2609)
	seg.CoverageEnd = time.Date(2024, 7, 20, 0, 0, 0, 0, time.UTC)

	end := time.Date(2024, 7, 18, 15, 0, 0, 0, time.UTC)
	res, err := Covers(seg, ForLength(spyMinute, end, 100))
	require.NoError(t, err)
	assert.Equal(t, Full, res.Status)
	assert.Empty(t, res.Missing)
	assert.GreaterOrEqual(t, res.Known, 100)
}

func TestLengthRequestCountsPlaceholders(t *testing.T) {
	t0 := time.Date(2024, 7, 18, 13, 30, 0, 0, time.UTC)
	rows := make([]segment.Row, 50)
	for i := range rows {
		rows[i] = segment.Row{Time: t0.Add(time.Duration(i) * time.Minute), Placeholder: i%2 == 0, Close: float64(i % 2)}
	}
	seg := segment.FromRows(spyMinute, rows)
	res, err := Covers(seg, ForLength(spyMinute, t0.Add(49*time.Minute), 50))
	require.NoError(t, err)
	assert.Equal(t, Full, res.Status)
	assert.Equal(t, 50, res.Known)
}

func TestLengthRequestExtendsBackwards(t *testing.T) {
	t0 := time.Date(2024, 7, 18, 14, 0, 0, 0, time.UTC)
	seg := minuteSegment(t0, 10)
	res, err := Covers(seg, ForLength(spyMinute, t0.Add(9*time.Minute), 40))
	require.NoError(t, err)
	assert.Equal(t, Partial, res.Status)
	require.Len(t, res.Missing, 1)
	assert.Equal(t, t0.Add(-time.Minute), res.Missing[0].End)
	assert.Equal(t, t0.Add(-30*time.Minute), res.Missing[0].Start, "exactly the 30 missing session minutes")
}

func TestLengthRequestForwardGap(t *testing.T) {
	t0 := time.Date(2024, 7, 18, 14, 0, 0, 0, time.UTC)
	seg := minuteSegment(t0, 100)
	end := t0.Add(120 * time.Minute)
	res, err := Covers(seg, ForLength(spyMinute, end, 50))
	require.NoError(t, err)
	assert.Equal(t, Partial, res.Status)
	require.Len(t, res.Missing, 1)
	assert.Equal(t, segment.Range{Start: t0.Add(100 * time.Minute), End: end}, res.Missing[0])
}

func TestLengthWithoutSegmentStepsBack(t *testing.T) {
	end := time.Date(2024, 7, 18, 14, 39, 0, 0, time.UTC)
	res, err := Covers(nil, ForLength(spyMinute, end, 70))
	require.NoError(t, err)
	assert.Equal(t, None, res.Status)
	require.Len(t, res.Missing, 1)
	assert.Equal(t, time.Date(2024, 7, 18, 13, 30, 0, 0, time.UTC), res.Missing[0].Start)
}

func TestRequestValidation(t *testing.T) {
	_, err := Covers(nil, Request{Key: spyMinute})
	assert.Error(t, err)
	_, err = Covers(nil, ForLength(spyMinute, time.Now(), 0))
	assert.Error(t, err)
	now := time.Now()
	_, err = Covers(nil, ForRange(spyMinute, now, now.Add(-time.Hour)))
	assert.Error(t, err)
}
