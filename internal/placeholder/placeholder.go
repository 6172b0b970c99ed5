package placeholder

import (
	"time"

	"marketcache/internal/align"
	"marketcache/internal/asset"
	"marketcache/internal/segment"
)

// LastCompleted 返回 now 时刻最后一根已完成 bar 的时间戳：日内为 now 所在 bar 的前一根，
// 日线为 now 之前（含）最近一次收盘。
func LastCompleted(tf asset.Timeframe, cal align.Calendar, now time.Time) time.Time {
	if !tf.Daily() {
		return tf.AlignDown(now).Add(-tf.Duration)
	}
	y, m, d := now.In(cal.Loc).Date()
	last := cal.CloseOn(y, m, d)
	if last.After(now) {
		last = cal.CloseOn(y, m, d-1)
	}
	return last
}

// Clamp 把 rng 截到 now 时刻最后一根已完成的 bar；全部尚未完成时返回零值。
// now 为零值表示不截断（纯历史回测）。
func Clamp(rng segment.Range, tf asset.Timeframe, cal align.Calendar, now time.Time) segment.Range {
	if now.IsZero() {
		return rng
	}
	last := LastCompleted(tf, cal, now)
	if !rng.End.After(last) {
		return rng
	}
	if last.Before(rng.Start) {
		return segment.Range{}
	}
	return segment.Range{Start: rng.Start, End: last}
}

// Fill 返回 real 与 rng 内所有空缺时段的占位行（按原生周期、已对齐）。
// real 必须已对齐；仍在形成中的 bar 不会被声明为无数据。
func Fill(key asset.CacheKey, real []segment.Row, rng segment.Range, now time.Time) []segment.Row {
	cal := align.CalendarFor(key.Asset.Subtype)
	rng = Clamp(rng, key.Timeframe, cal, now)
	out := make([]segment.Row, 0, len(real))
	out = append(out, real...)
	if !rng.Valid() {
		return segment.SortRows(out)
	}
	have := make(map[int64]struct{}, len(real))
	for _, r := range real {
		have[r.Time.UTC().UnixNano()] = struct{}{}
	}
	for _, ts := range cal.Slots(rng, key.Timeframe) {
		if _, ok := have[ts.UnixNano()]; ok {
			continue
		}
		out = append(out, segment.Row{Time: ts, Placeholder: true})
	}
	return segment.SortRows(out)
}

// MarkMissing 在 seg 的 rng 区间内为没有行的时段插入占位行，并把覆盖区间扩展到 rng（截至 now）。
func MarkMissing(seg *segment.Segment, rng segment.Range, now time.Time) *segment.Segment {
	key := seg.Key
	clamped := Clamp(rng, key.Timeframe, align.CalendarFor(key.Asset.Subtype), now)
	if !clamped.Valid() {
		return seg
	}
	out := seg.WithRows(Fill(key, seg.Rows(), clamped, time.Time{}))
	out.ExtendCoverage(clamped)
	return out
}

// Strip 返回去掉占位行后的真实行。
func Strip(seg *segment.Segment) []segment.Row {
	if seg == nil {
		return nil
	}
	out := make([]segment.Row, 0, seg.Len())
	for i := 0; i < seg.Len(); i++ {
		if seg.Frame.Placeholder[i] {
			continue
		}
		out = append(out, seg.Row(i))
	}
	return out
}

// Heal 用 rng 内新取得的真实行替换该区间的占位行。
func Heal(seg *segment.Segment, rng segment.Range, rows []segment.Row) *segment.Segment {
	kept := make([]segment.Row, 0, seg.Len())
	for i := 0; i < seg.Len(); i++ {
		r := seg.Row(i)
		if r.Placeholder && rng.Contains(r.Time) {
			continue
		}
		kept = append(kept, r)
	}
	return segment.Merge(seg.WithRows(kept), seg.Key, rows)
}
