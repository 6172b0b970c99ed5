package align

import (
	"time"
	_ "time/tzdata"

	"marketcache/internal/asset"
	"marketcache/internal/segment"
)

// clock 是相对交易日本地零点的钟点；hour 可以为负（前一日开盘）或 24。
type clock struct {
	hour, min, sec int
}

// Calendar 描述一个交易场所的常规交易时段。节假日不建模，由占位行吸收。
type Calendar struct {
	Name     string
	Loc      *time.Location
	open     clock
	close    clock
	tradeDay [7]bool
}

var weekdays = [7]bool{time.Monday: true, time.Tuesday: true, time.Wednesday: true, time.Thursday: true, time.Friday: true}

var everyDay = [7]bool{true, true, true, true, true, true, true}

var (
	usEquity   = Calendar{Name: "us-equity", Loc: mustLoad("America/New_York"), open: clock{9, 30, 0}, close: clock{16, 0, 0}, tradeDay: weekdays}
	cmeFutures = Calendar{Name: "cme", Loc: mustLoad("America/Chicago"), open: clock{-7, 0, 0}, close: clock{16, 0, 0}, tradeDay: weekdays}
	fxSpot     = Calendar{Name: "fx", Loc: mustLoad("America/New_York"), open: clock{-7, 0, 0}, close: clock{17, 0, 0}, tradeDay: weekdays}
	crypto24x7 = Calendar{Name: "crypto", Loc: time.UTC, open: clock{0, 0, 0}, close: clock{24, 0, 0}, tradeDay: everyDay}
)

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic("align: load location " + name + ": " + err.Error())
	}
	return loc
}

// CalendarFor 按资产类别返回交易日历。
func CalendarFor(subtype asset.Subtype) Calendar {
	switch subtype {
	case asset.Future:
		return cmeFutures
	case asset.Forex:
		return fxSpot
	case asset.Crypto:
		return crypto24x7
	default:
		return usEquity
	}
}

func (c Calendar) at(y int, m time.Month, d int, k clock) time.Time {
	return time.Date(y, m, d, k.hour, k.min, k.sec, 0, c.Loc).UTC()
}

// IsTradingDay reports whether the session dated y-m-d exists.
func (c Calendar) IsTradingDay(y int, m time.Month, d int) bool {
	wd := time.Date(y, m, d, 12, 0, 0, 0, time.UTC).Weekday()
	return c.tradeDay[wd]
}

// Session 返回 y-m-d 交易日的 [open, close)（UTC）。
func (c Calendar) Session(y int, m time.Month, d int) (time.Time, time.Time) {
	return c.at(y, m, d, c.open), c.at(y, m, d, c.close)
}

// CloseOn 返回 y-m-d 日线 bar 的时间戳：该交易日收盘时刻（UTC）。
// 全天候市场的收盘钟点是 24:00，日线落在 23:59:59，保证与次日区分。
func (c Calendar) CloseOn(y int, m time.Month, d int) time.Time {
	k := c.close
	if k.hour >= 24 {
		k = clock{23, 59, 59}
	}
	return c.at(y, m, d, k)
}

// SessionDate 是时间戳标注的日期（按其自身时区的墙上日期）。
func SessionDate(t time.Time) (int, time.Month, int) {
	return t.Date()
}

// Slots 枚举 rng 内符合原生周期且落在交易时段内的 bar 时间戳（升序）。
// 日线按日期比较：rng 两端所在日期之间的每个交易日都计入。
func (c Calendar) Slots(rng segment.Range, tf asset.Timeframe) []time.Time {
	if !rng.Valid() || tf.IsZero() {
		return nil
	}
	if tf.Daily() {
		return c.dailySlots(rng)
	}
	var out []time.Time
	first := rng.Start.In(c.Loc).AddDate(0, 0, -1)
	last := rng.End.In(c.Loc).AddDate(0, 0, 1)
	for day := dateOf(first); !day.After(dateOf(last)); day = day.AddDate(0, 0, 1) {
		y, m, d := day.Date()
		if !c.IsTradingDay(y, m, d) {
			continue
		}
		sessOpen, sessClose := c.Session(y, m, d)
		for ts := tf.AlignDown(sessOpen); ts.Before(sessClose); ts = ts.Add(tf.Duration) {
			if !ts.Add(tf.Duration).After(sessOpen) {
				continue
			}
			if rng.Contains(ts) {
				out = append(out, ts)
			}
		}
	}
	return dedupeSorted(out)
}

func (c Calendar) dailySlots(rng segment.Range) []time.Time {
	var out []time.Time
	y0, m0, d0 := SessionDate(rng.Start)
	y1, m1, d1 := SessionDate(rng.End)
	end := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	for day := time.Date(y0, m0, d0, 0, 0, 0, 0, time.UTC); !day.After(end); day = day.AddDate(0, 0, 1) {
		y, m, d := day.Date()
		if c.IsTradingDay(y, m, d) {
			out = append(out, c.CloseOn(y, m, d))
		}
	}
	return out
}

// StepBack 返回从 end 往回数第 n 个 bar 的时间戳（含 end 所在 bar）；
// 找不到足够的交易时段时返回搜索下界。
func (c Calendar) StepBack(end time.Time, tf asset.Timeframe, n int) time.Time {
	if n <= 0 || tf.IsZero() {
		return end
	}
	const maxDays = 3660
	var window time.Duration
	if !tf.Daily() {
		perDay := int((24 * time.Hour) / tf.Duration)
		if perDay < 1 {
			perDay = 1
		}
		window = time.Duration(n/perDay+3) * 24 * time.Hour
	} else {
		window = time.Duration(n+n/2+5) * 24 * time.Hour
	}
	for {
		start := end.Add(-window)
		slots := c.Slots(segment.Range{Start: start, End: end}, tf)
		if len(slots) >= n {
			return slots[len(slots)-n]
		}
		if window >= maxDays*24*time.Hour {
			return start
		}
		window *= 2
	}
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dedupeSorted(ts []time.Time) []time.Time {
	if len(ts) < 2 {
		return ts
	}
	out := ts[:1]
	for _, t := range ts[1:] {
		if t.After(out[len(out)-1]) {
			out = append(out, t)
		}
	}
	return out
}
