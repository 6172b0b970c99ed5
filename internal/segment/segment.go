package segment

import (
	"sort"
	"time"

	"marketcache/internal/asset"
)

// Segment 是某个 CacheKey 的连续缓存块。
// 覆盖区间可以比真实行更宽：区间内缺少真实行的时间点由占位行声明为"确认无数据"。
type Segment struct {
	Key           asset.CacheKey
	Frame         Frame
	CoverageStart time.Time
	CoverageEnd   time.Time
	SchemaVersion string
	SplitAdjusted bool
	ActionsDigest string
	// SyncedAt 是最近一次落盘时间（来自 sidecar），只在内存中携带。
	SyncedAt time.Time
}

// New returns an empty segment for key.
func New(key asset.CacheKey) *Segment {
	return &Segment{Key: key}
}

// FromRows 排序去重后构造分段，覆盖区间取行的最小/最大时间。
func FromRows(key asset.CacheKey, rows []Row) *Segment {
	sorted := SortRows(rows)
	seg := &Segment{Key: key, Frame: FrameOf(sorted)}
	if span := Span(sorted); span.Valid() {
		seg.CoverageStart, seg.CoverageEnd = span.Start, span.End
	}
	return seg
}

func (s *Segment) Len() int {
	if s == nil {
		return 0
	}
	return s.Frame.Len()
}

func (s *Segment) Empty() bool {
	return s.Len() == 0
}

func (s *Segment) Rows() []Row {
	if s == nil {
		return nil
	}
	return s.Frame.Rows()
}

func (s *Segment) Row(i int) Row {
	return s.Frame.Row(i)
}

// HasCoverage reports whether the segment claims any covered range.
func (s *Segment) HasCoverage() bool {
	return s != nil && !s.CoverageStart.IsZero() && !s.CoverageEnd.IsZero()
}

func (s *Segment) Coverage() Range {
	if !s.HasCoverage() {
		return Range{}
	}
	return Range{Start: s.CoverageStart, End: s.CoverageEnd}
}

func (s *Segment) PlaceholderCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, p := range s.Frame.Placeholder {
		if p {
			n++
		}
	}
	return n
}

// IndexAtOrBefore 返回时间戳 <= t 的最后一行下标，不存在时返回 -1。
func (s *Segment) IndexAtOrBefore(t time.Time) int {
	if s.Empty() {
		return -1
	}
	target := t.UTC().UnixNano()
	idx := sort.Search(len(s.Frame.Times), func(i int) bool { return s.Frame.Times[i] > target })
	return idx - 1
}

// CountAtOrBefore counts rows (placeholders included) stamped at or before t.
func (s *Segment) CountAtOrBefore(t time.Time) int {
	return s.IndexAtOrBefore(t) + 1
}

// Clone returns a deep copy.
func (s *Segment) Clone() *Segment {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Frame = FrameOf(s.Frame.Rows())
	return &cp
}

// WithRows 返回保留元数据、替换全部行的新分段；覆盖区间不变。
func (s *Segment) WithRows(rows []Row) *Segment {
	cp := *s
	cp.Frame = FrameOf(SortRows(rows))
	return &cp
}

// Merge 将 incoming 合并进 existing，返回新分段：
// 同时间戳以 incoming 为准；incoming 时间跨度内的旧占位行被丢弃；
// 覆盖区间取两者并集的最小/最大值。existing 的元数据被保留。
func Merge(existing *Segment, key asset.CacheKey, incoming []Row) *Segment {
	in := SortRows(incoming)
	var base Segment
	if existing != nil {
		base = *existing
	}
	base.Key = key
	if len(in) == 0 {
		out := base
		out.Frame = FrameOf(existing.Rows())
		return &out
	}
	span := Span(in)
	seen := make(map[int64]struct{}, len(in))
	for _, r := range in {
		seen[r.Time.UTC().UnixNano()] = struct{}{}
	}
	merged := make([]Row, 0, existing.Len()+len(in))
	for i := 0; i < existing.Len(); i++ {
		if _, dup := seen[existing.Frame.Times[i]]; dup {
			continue
		}
		r := existing.Row(i)
		if r.Placeholder && span.Contains(r.Time) {
			continue
		}
		merged = append(merged, r)
	}
	merged = append(merged, in...)
	out := base
	out.Frame = FrameOf(SortRows(merged))
	out.CoverageStart, out.CoverageEnd = unionBounds(existing.Coverage(), span)
	return &out
}

func unionBounds(a, b Range) (time.Time, time.Time) {
	if !a.Valid() {
		return b.Start, b.End
	}
	if !b.Valid() {
		return a.Start, a.End
	}
	start, end := a.Start, a.End
	if b.Start.Before(start) {
		start = b.Start
	}
	if b.End.After(end) {
		end = b.End
	}
	return start, end
}

// ExtendCoverage widens coverage to include rng.
func (s *Segment) ExtendCoverage(rng Range) {
	if !rng.Valid() {
		return
	}
	s.CoverageStart, s.CoverageEnd = unionBounds(s.Coverage(), rng)
}
