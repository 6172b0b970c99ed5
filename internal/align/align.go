package align

import (
	"time"

	"marketcache/internal/asset"
	"marketcache/internal/segment"
)

// Time 把单个时间戳对齐到 key 的周期：
// 日线取标注日期在交易所的收盘时刻，日内 bar 归一到 UTC 并截断到周期网格。
// 幂等：对齐后的时间戳再次对齐不变。
func Time(t time.Time, tf asset.Timeframe, cal Calendar) time.Time {
	if t.IsZero() {
		return t
	}
	if tf.Daily() {
		y, m, d := SessionDate(t)
		return cal.CloseOn(y, m, d)
	}
	return tf.AlignDown(t)
}

// Rows aligns every row for key and returns them sorted and de-duplicated.
func Rows(rows []segment.Row, key asset.CacheKey) []segment.Row {
	if len(rows) == 0 {
		return nil
	}
	cal := CalendarFor(key.Asset.Subtype)
	out := make([]segment.Row, len(rows))
	for i, r := range rows {
		r.Time = Time(r.Time, key.Timeframe, cal)
		out[i] = r
	}
	return segment.SortRows(out)
}

// Segment 对已加载的分段再次对齐；已对齐时原样返回。
func Segment(seg *segment.Segment) *segment.Segment {
	if seg == nil {
		return nil
	}
	cal := CalendarFor(seg.Key.Asset.Subtype)
	tf := seg.Key.Timeframe
	aligned := true
	for i := 0; i < seg.Len() && aligned; i++ {
		t := seg.Frame.Time(i)
		aligned = Time(t, tf, cal).Equal(t)
	}
	if aligned && boundAligned(seg.CoverageStart, tf, cal) && boundAligned(seg.CoverageEnd, tf, cal) {
		return seg
	}
	out := seg.WithRows(Rows(seg.Rows(), seg.Key))
	out.CoverageStart = Time(seg.CoverageStart, tf, cal)
	out.CoverageEnd = Time(seg.CoverageEnd, tf, cal)
	return out
}

func boundAligned(t time.Time, tf asset.Timeframe, cal Calendar) bool {
	return t.IsZero() || Time(t, tf, cal).Equal(t)
}
