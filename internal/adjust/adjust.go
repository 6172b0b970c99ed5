package adjust

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"marketcache/internal/logger"
	"marketcache/internal/segment"

	"github.com/cespare/xxhash/v2"
	"github.com/shopspring/decimal"
)

// ErrDoubleAdjustment 表示对一个已按不同公司行为集合调整过的分段再次调整；属于程序错误，必须上抛。
var ErrDoubleAdjustment = errors.New("double adjustment attempt")

// Action 是一次公司行为。SplitRatio 为拆股倍数（2 表示 1 拆 2，0.1 表示 10 合 1），
// 0 或 1 表示无拆股；Dividend 为除息日的每股现金分红（未调整）。
type Action struct {
	Date       time.Time
	SplitRatio float64
	Dividend   float64
}

func (a Action) hasSplit() bool {
	return a.SplitRatio > 0 && a.SplitRatio != 1
}

func (a Action) dateKey() int {
	y, m, d := a.Date.Date()
	return y*10000 + int(m)*100 + d
}

// Digest 对行为集合做稳定摘要（与顺序无关），用于识别重复调整。
func Digest(actions []Action) string {
	lines := make([]string, 0, len(actions))
	for _, a := range actions {
		lines = append(lines, fmt.Sprintf("%s|%s|%s",
			a.Date.Format(time.DateOnly),
			decimal.NewFromFloat(a.SplitRatio).String(),
			decimal.NewFromFloat(a.Dividend).String()))
	}
	sort.Strings(lines)
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.Join(lines, "\n")))
}

// Apply 对分段做一次拆股/分红调整，返回新分段与调整后的分红列表。
//   - 已调整且行为集合相同：原样返回（幂等）。
//   - 已调整但集合不同：返回 ErrDoubleAdjustment。
//   - 全零 OHLC 且无有效报价的真实行在调整前被丢弃。
//   - 日期为 d 的行，价格除以 d 之后所有拆股倍数之积，成交量乘以该积。
//   - 分红除以其除息日之后的累计倍数，写入除息日那一行。
func Apply(seg *segment.Segment, actions []Action) (*segment.Segment, []Action, error) {
	if seg == nil {
		return nil, nil, fmt.Errorf("adjust: nil segment")
	}
	digest := Digest(actions)
	sorted := normalize(actions)
	if seg.SplitAdjusted {
		if seg.ActionsDigest != digest {
			return nil, nil, fmt.Errorf("%s: adjusted with %s, asked for %s: %w", seg.Key, seg.ActionsDigest, digest, ErrDoubleAdjustment)
		}
		return seg, adjustedDividends(sorted), nil
	}
	for _, a := range sorted {
		if a.SplitRatio < 0 {
			return nil, nil, fmt.Errorf("%s: negative split ratio on %s", seg.Key, a.Date.Format(time.DateOnly))
		}
	}

	divs := adjustedDividends(sorted)
	divByDate := make(map[int]float64, len(divs))
	for _, d := range divs {
		divByDate[d.dateKey()] += d.Dividend
	}

	rows := seg.Rows()
	out := make([]segment.Row, 0, len(rows))
	dropped := 0
	for _, r := range rows {
		if r.Placeholder {
			out = append(out, r)
			continue
		}
		if r.ZeroOHLC() && !r.QuoteActionable() {
			dropped++
			continue
		}
		day := rowDateKey(r.Time)
		factor := cumulativeFactor(sorted, day)
		if !factor.Equal(decimal.NewFromInt(1)) {
			if !r.ZeroOHLC() {
				r.Open = div(r.Open, factor)
				r.High = div(r.High, factor)
				r.Low = div(r.Low, factor)
				r.Close = div(r.Close, factor)
			}
			r.Bid = div(r.Bid, factor)
			r.Ask = div(r.Ask, factor)
			r.Dividend = div(r.Dividend, factor)
			r.Volume = decimal.NewFromFloat(r.Volume).Mul(factor).InexactFloat64()
		}
		if v, ok := divByDate[day]; ok {
			r.Dividend = v
		}
		out = append(out, r)
	}
	if dropped > 0 {
		logger.Debugf("[adjust] %s dropped %d zero-OHLC rows", seg.Key, dropped)
	}
	res := seg.WithRows(out)
	res.SplitAdjusted = true
	res.ActionsDigest = digest
	return res, divs, nil
}

func normalize(actions []Action) []Action {
	out := make([]Action, len(actions))
	copy(out, actions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].dateKey() < out[j].dateKey() })
	return out
}

// cumulativeFactor 是日期严格晚于 day 的全部拆股倍数之积。
func cumulativeFactor(sorted []Action, day int) decimal.Decimal {
	f := decimal.NewFromInt(1)
	for _, a := range sorted {
		if a.hasSplit() && a.dateKey() > day {
			f = f.Mul(decimal.NewFromFloat(a.SplitRatio))
		}
	}
	return f
}

func adjustedDividends(sorted []Action) []Action {
	var out []Action
	for _, a := range sorted {
		if a.Dividend <= 0 {
			continue
		}
		factor := cumulativeFactor(sorted, a.dateKey())
		out = append(out, Action{Date: a.Date, Dividend: div(a.Dividend, factor)})
	}
	return out
}

func div(v float64, factor decimal.Decimal) float64 {
	if v == 0 {
		return 0
	}
	return decimal.NewFromFloat(v).Div(factor).InexactFloat64()
}

func rowDateKey(t time.Time) int {
	y, m, d := t.UTC().Date()
	return y*10000 + int(m)*100 + d
}
