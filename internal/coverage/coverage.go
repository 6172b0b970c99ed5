package coverage

import (
	"fmt"
	"time"

	"marketcache/internal/align"
	"marketcache/internal/asset"
	"marketcache/internal/segment"
)

// Status 是一次覆盖判断的结论。
type Status int

const (
	None Status = iota
	Partial
	Full
)

func (s Status) String() string {
	switch s {
	case Full:
		return "full"
	case Partial:
		return "partial"
	default:
		return "none"
	}
}

// Request 描述调用方需要的数据：Start 非零时为区间模式，否则为长度模式（End 之前 MinRows 行）。
// FetchEnd 晚于 End 时，尾部缺口一直延伸到 FetchEnd；是否满足仍只看 End。
type Request struct {
	Key      asset.CacheKey
	Start    time.Time
	End      time.Time
	MinRows  int
	FetchEnd time.Time
}

func ForRange(key asset.CacheKey, start, end time.Time) Request {
	return Request{Key: key, Start: start, End: end}
}

func ForLength(key asset.CacheKey, end time.Time, rows int) Request {
	return Request{Key: key, End: end, MinRows: rows}
}

// Ahead returns a copy of r whose trailing gap is fetched through end.
func (r Request) Ahead(end time.Time) Request {
	r.FetchEnd = end
	return r
}

func (r Request) lengthMode() bool {
	return r.Start.IsZero()
}

func (r Request) Validate() error {
	if r.End.IsZero() {
		return fmt.Errorf("coverage request %s: end required", r.Key)
	}
	if r.lengthMode() && r.MinRows <= 0 {
		return fmt.Errorf("coverage request %s: rows must be > 0", r.Key)
	}
	if !r.lengthMode() && r.End.Before(r.Start) {
		return fmt.Errorf("coverage request %s: end before start", r.Key)
	}
	return nil
}

// Result 中的 Missing 总是与已有覆盖区间相邻，合并后覆盖区间保持连续。
type Result struct {
	Status  Status
	Missing []segment.Range
	Known   int
}

func (r Result) Covered() bool {
	return r.Status == Full
}

// Covers 判断 seg 能否满足 req，并给出需要补齐的最小区间。
// 日内周期按完整时间戳比较（请求端点先截断到周期网格），日线只比较日期。
func Covers(seg *segment.Segment, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	tf := req.Key.Timeframe
	cal := align.CalendarFor(req.Key.Asset.Subtype)
	g := grid{tf: tf}
	end := g.snap(req.End)

	if req.lengthMode() {
		return coversLength(seg, req, cal, g, end), nil
	}
	start := g.snap(req.Start)
	tail := end
	if fe := g.snap(req.FetchEnd); !req.FetchEnd.IsZero() && g.before(end, fe) {
		tail = fe
	}
	if !seg.HasCoverage() {
		return Result{Status: None, Missing: []segment.Range{{Start: start, End: tail}}}, nil
	}
	covStart, covEnd := seg.CoverageStart, seg.CoverageEnd
	var missing []segment.Range
	if g.before(start, covStart) {
		missing = append(missing, segment.Range{Start: start, End: g.prev(covStart)})
	}
	if g.before(covEnd, end) {
		missing = append(missing, segment.Range{Start: g.next(covEnd), End: tail})
	}
	if len(missing) == 0 {
		return Result{Status: Full, Known: seg.Len()}, nil
	}
	status := Partial
	if g.before(end, covStart) || g.before(covEnd, start) {
		status = None
	}
	return Result{Status: status, Missing: missing}, nil
}

func coversLength(seg *segment.Segment, req Request, cal align.Calendar, g grid, end time.Time) Result {
	n := req.MinRows
	if !seg.HasCoverage() {
		return Result{Status: None, Missing: []segment.Range{{Start: cal.StepBack(end, g.tf, n), End: end}}}
	}
	covStart, covEnd := seg.CoverageStart, seg.CoverageEnd
	known := seg.CountAtOrBefore(g.countCutoff(end))
	var missing []segment.Range
	expected := 0
	var after segment.Range
	if g.before(covEnd, end) {
		after = segment.Range{Start: g.next(covEnd), End: end}
		expected = len(cal.Slots(after, g.tf))
	}
	if deficit := n - known - expected; deficit > 0 {
		edge := g.prev(covStart)
		from := cal.StepBack(edge, g.tf, deficit)
		if g.before(end, covStart) {
			if alt := cal.StepBack(end, g.tf, n); alt.Before(from) {
				from = alt
			}
		}
		if !edge.Before(from) {
			missing = append(missing, segment.Range{Start: from, End: edge})
		}
	}
	if after.Valid() {
		missing = append(missing, after)
	}
	if len(missing) == 0 {
		return Result{Status: Full, Known: known}
	}
	return Result{Status: Partial, Missing: missing, Known: known}
}

// grid 封装日内（时间戳）与日线（日期）两种比较语义。
type grid struct {
	tf asset.Timeframe
}

func (g grid) snap(t time.Time) time.Time {
	if g.tf.Daily() {
		return t
	}
	return g.tf.AlignDown(t)
}

// before reports a < b at the grid's resolution.
func (g grid) before(a, b time.Time) bool {
	if g.tf.Daily() {
		return dateKey(a) < dateKey(b)
	}
	return a.Before(b)
}

func (g grid) next(t time.Time) time.Time {
	if g.tf.Daily() {
		return t.AddDate(0, 0, 1)
	}
	return t.Add(g.tf.Duration)
}

func (g grid) prev(t time.Time) time.Time {
	if g.tf.Daily() {
		return t.AddDate(0, 0, -1)
	}
	return t.Add(-g.tf.Duration)
}

// countCutoff 是长度模式下计数的上界：日线取 end 当日的最后一刻。
func (g grid) countCutoff(end time.Time) time.Time {
	if !g.tf.Daily() {
		return end
	}
	y, m, d := end.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond)
}

func dateKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}
