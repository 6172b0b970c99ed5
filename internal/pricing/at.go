package pricing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseAt 解析查询时刻：RFC3339、YYYY-MM-DD（UTC 零点）或毫秒时间戳；空串返回 now。
func ParseAt(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q", raw)
}
