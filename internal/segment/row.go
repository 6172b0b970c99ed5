package segment

import (
	"fmt"
	"sort"
	"time"
)

// Row 是一根对齐后的 bar。Bid/Ask/Volume 为 0 表示缺失。
type Row struct {
	Time        time.Time `json:"time"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	Bid         float64   `json:"bid,omitempty"`
	Ask         float64   `json:"ask,omitempty"`
	Dividend    float64   `json:"dividend,omitempty"`
	Placeholder bool      `json:"placeholder,omitempty"`
}

// ZeroOHLC reports a row without any trade activity.
func (r Row) ZeroOHLC() bool {
	return r.Open == 0 && r.High == 0 && r.Low == 0 && r.Close == 0
}

// QuoteActionable: both legs positive and not crossed.
func (r Row) QuoteActionable() bool {
	return r.Bid > 0 && r.Ask > 0 && r.Ask >= r.Bid
}

// Mid 返回报价中间价；报价不可用时返回 0,false。
func (r Row) Mid() (float64, bool) {
	if !r.QuoteActionable() {
		return 0, false
	}
	return (r.Bid + r.Ask) / 2, true
}

// TradeBearing reports whether the row carries a real trade print.
func (r Row) TradeBearing() bool {
	return !r.Placeholder && r.Close > 0
}

// Range 是闭区间 [Start, End]。
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r Range) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

func (r Range) Valid() bool {
	return !r.Start.IsZero() && !r.End.IsZero() && !r.End.Before(r.Start)
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

func (r Range) Overlaps(o Range) bool {
	return !r.End.Before(o.Start) && !o.End.Before(r.Start)
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s]", r.Start.UTC().Format(time.RFC3339), r.End.UTC().Format(time.RFC3339))
}

// SortRows 按时间升序排序并去重（同一时间戳保留后出现的行）。
func SortRows(rows []Row) []Row {
	if len(rows) == 0 {
		return nil
	}
	out := make([]Row, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	dst := out[:0]
	for i := 0; i < len(out); i++ {
		if len(dst) > 0 && dst[len(dst)-1].Time.Equal(out[i].Time) {
			dst[len(dst)-1] = out[i]
			continue
		}
		dst = append(dst, out[i])
	}
	return dst
}

// Span returns the [min, max] timestamp range of sorted rows.
func Span(rows []Row) Range {
	if len(rows) == 0 {
		return Range{}
	}
	return Range{Start: rows[0].Time.UTC(), End: rows[len(rows)-1].Time.UTC()}
}
