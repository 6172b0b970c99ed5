package asset

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe 描述一种 K 线周期（内部 duration + 数据源 interval）。
type Timeframe struct {
	Key            string
	Duration       time.Duration
	SourceInterval string
}

var (
	Minute = Timeframe{Key: "1m", Duration: time.Minute, SourceInterval: "1m"}
	Hour   = Timeframe{Key: "1h", Duration: time.Hour, SourceInterval: "1h"}
	Day    = Timeframe{Key: "1d", Duration: 24 * time.Hour, SourceInterval: "1d"}
)

var supportedTimeframes = map[string]Timeframe{
	"1m":  Minute,
	"5m":  {Key: "5m", Duration: 5 * time.Minute, SourceInterval: "5m"},
	"15m": {Key: "15m", Duration: 15 * time.Minute, SourceInterval: "15m"},
	"30m": {Key: "30m", Duration: 30 * time.Minute, SourceInterval: "30m"},
	"1h":  Hour,
	"1d":  Day,
}

var timeframeAliases = map[string]string{
	"minute": "1m",
	"hour":   "1h",
	"day":    "1d",
}

// ParseTimeframe 返回标准化周期定义。
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	if alias, ok := timeframeAliases[key]; ok {
		key = alias
	}
	tf, ok := supportedTimeframes[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("unsupported timeframe: %s", input)
	}
	return tf, nil
}

// SupportedTimeframes 返回所有支持的 key（排序后）。
func SupportedTimeframes() []string {
	keys := make([]string, 0, len(supportedTimeframes))
	for k := range supportedTimeframes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Daily reports whether bars of this timeframe represent whole sessions.
func (tf Timeframe) Daily() bool {
	return tf.Duration >= 24*time.Hour
}

func (tf Timeframe) IsZero() bool {
	return tf.Duration <= 0
}

func (tf Timeframe) String() string {
	return tf.Key
}

// AlignDown 把时间截断到周期网格（UTC，自 epoch 起算）；日线以上不处理。
func (tf Timeframe) AlignDown(t time.Time) time.Time {
	t = t.UTC()
	if tf.Duration <= 0 || tf.Daily() {
		return t
	}
	ns := alignDown(t.UnixNano(), int64(tf.Duration))
	return time.Unix(0, ns).UTC()
}

func alignDown(ts, step int64) int64 {
	if step <= 0 {
		return ts
	}
	rem := ts % step
	if rem < 0 {
		rem += step
	}
	return ts - rem
}
