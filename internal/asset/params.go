package asset

import (
	"fmt"
	"strings"
	"time"
)

// Params 是 CLI / HTTP 入参中描述资产的字段集合。
type Params struct {
	Symbol     string  `form:"symbol" json:"symbol"`
	Subtype    string  `form:"subtype" json:"subtype"`
	Expiry     string  `form:"expiry" json:"expiry"`
	Strike     float64 `form:"strike" json:"strike"`
	Right      string  `form:"right" json:"right"`
	Multiplier int     `form:"multiplier" json:"multiplier"`
	Timeframe  string  `form:"timeframe" json:"timeframe"`
	Kind       string  `form:"kind" json:"kind"`
}

func ParseRight(s string) (Right, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "c", "call":
		return Call, nil
	case "p", "put":
		return Put, nil
	default:
		return "", fmt.Errorf("unknown option right: %q", s)
	}
}

// Key 构造并校验资产 Key；subtype 为空时按 equity 处理。
func (p Params) Key() (Key, error) {
	raw := p.Subtype
	if strings.TrimSpace(raw) == "" {
		raw = string(Equity)
	}
	subtype, err := ParseSubtype(raw)
	if err != nil {
		return Key{}, err
	}
	var k Key
	if subtype == Option {
		expiry, err := time.Parse(time.DateOnly, strings.TrimSpace(p.Expiry))
		if err != nil {
			return Key{}, fmt.Errorf("invalid option expiry %q", p.Expiry)
		}
		right, err := ParseRight(p.Right)
		if err != nil {
			return Key{}, err
		}
		k = NewOption(p.Symbol, expiry, p.Strike, right, p.Multiplier)
	} else {
		k = NewKey(p.Symbol, subtype)
	}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// CacheKey 在 Key 基础上解析周期与数据类型；defaultTF 用于未指定周期的请求。
func (p Params) CacheKey(defaultTF Timeframe) (CacheKey, error) {
	a, err := p.Key()
	if err != nil {
		return CacheKey{}, err
	}
	tf := defaultTF
	if strings.TrimSpace(p.Timeframe) != "" {
		if tf, err = ParseTimeframe(p.Timeframe); err != nil {
			return CacheKey{}, err
		}
	}
	kind, err := ParseDataKind(p.Kind)
	if err != nil {
		return CacheKey{}, err
	}
	key := NewCacheKey(a, tf, kind)
	if err := key.Validate(); err != nil {
		return CacheKey{}, err
	}
	return key, nil
}
