package pricing

import (
	"sort"
	"time"

	"marketcache/internal/placeholder"
	"marketcache/internal/segment"
)

const (
	SourceClose = "close"
	SourceOpen  = "open"
	SourceMid   = "mid"
)

// Price 是一次点时定价的结果。Time 是价格可被观察到的时刻，恒不晚于查询时刻。
type Price struct {
	Value  float64   `json:"value"`
	Time   time.Time `json:"time"`
	Source string    `json:"source"`
	// Stale 表示价格来自回看窗口内更早的一行，而不是 at 所在的最近一行。
	Stale bool `json:"stale,omitempty"`
}

// tradeAt 从单行取成交价：bar 在 at 之前已收盘用 close，否则用 open。
func tradeAt(r segment.Row, dur time.Duration, daily bool, at time.Time) (Price, bool) {
	if !r.TradeBearing() {
		return Price{}, false
	}
	closeAt := r.Time
	if !daily {
		closeAt = r.Time.Add(dur)
	}
	if !at.Before(closeAt) {
		return Price{Value: r.Close, Time: closeAt, Source: SourceClose}, true
	}
	if r.Open > 0 {
		return Price{Value: r.Open, Time: r.Time, Source: SourceOpen}, true
	}
	return Price{}, false
}

// lastTrade 在 seg 中找 at 时刻可见的最近成交价。最近一行是占位或无成交时，
// 只有 lookback > 0 才会向前回看，结果标记为 Stale。
func lastTrade(seg *segment.Segment, at time.Time, lookback time.Duration) (Price, bool) {
	tf := seg.Key.Timeframe
	i := seg.IndexAtOrBefore(at)
	if i < 0 {
		return Price{}, false
	}
	if p, ok := tradeAt(seg.Row(i), tf.Duration, tf.Daily(), at); ok {
		return p, true
	}
	if lookback <= 0 {
		return Price{}, false
	}
	for j := i - 1; j >= 0; j-- {
		row := seg.Row(j)
		if at.Sub(row.Time) > lookback {
			break
		}
		if p, ok := tradeAt(row, tf.Duration, tf.Daily(), at); ok {
			p.Stale = true
			return p, true
		}
	}
	return Price{}, false
}

// quoteMid 取 at 时刻可见（时间戳不晚于 at）的最近一行真实报价的中间价；报价缺腿或交叉时不可用。
func quoteMid(seg *segment.Segment, at time.Time, lookback time.Duration) (Price, bool) {
	i := seg.IndexAtOrBefore(at)
	for j := i; j >= 0; j-- {
		row := seg.Row(j)
		stale := j != i
		if stale && (lookback <= 0 || at.Sub(row.Time) > lookback) {
			break
		}
		if row.Placeholder {
			continue
		}
		mid, ok := row.Mid()
		if !ok {
			return Price{}, false
		}
		return Price{Value: mid, Time: row.Time, Source: SourceMid, Stale: stale}, true
	}
	return Price{}, false
}

// lastRows 返回 at 及之前最多 n 行真实数据（升序）。
func lastRows(seg *segment.Segment, at time.Time, n int) []segment.Row {
	real := placeholder.Strip(seg)
	end := sort.Search(len(real), func(i int) bool { return real[i].Time.After(at) })
	start := end - n
	if start < 0 {
		start = 0
	}
	return real[start:end]
}
