package asset

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DataKind 区分成交 K 线与报价数据。
type DataKind string

const (
	OHLC  DataKind = "ohlc"
	Quote DataKind = "quote"
)

func ParseDataKind(s string) (DataKind, error) {
	switch DataKind(strings.ToLower(strings.TrimSpace(s))) {
	case OHLC, "":
		return OHLC, nil
	case Quote:
		return Quote, nil
	default:
		return "", fmt.Errorf("unknown data kind: %q", s)
	}
}

// CacheKey 是缓存分段的唯一标识：资产 + 周期 + 数据类型。
type CacheKey struct {
	Asset     Key
	Timeframe Timeframe
	Kind      DataKind
}

func NewCacheKey(a Key, tf Timeframe, kind DataKind) CacheKey {
	if kind == "" {
		kind = OHLC
	}
	return CacheKey{Asset: a, Timeframe: tf, Kind: kind}
}

func (k CacheKey) Validate() error {
	if err := k.Asset.Validate(); err != nil {
		return err
	}
	if k.Timeframe.IsZero() {
		return fmt.Errorf("cache key %s: timeframe missing", k.Asset)
	}
	if k.Kind != OHLC && k.Kind != Quote {
		return fmt.Errorf("cache key %s: unknown data kind %q", k.Asset, k.Kind)
	}
	return nil
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s@%s/%s", k.Asset, k.Timeframe.Key, k.Kind)
}

// RelPath 返回分段文件相对缓存根目录的路径（使用 / 分隔，便于同时作为远端 key）。
//
//	equity/SPY/1m_ohlc.seg
//	option/SPY/20240719C00550000/1m_quote.seg
func (k CacheKey) RelPath() string {
	parts := []string{string(k.Asset.Subtype), sanitize(k.Asset.Symbol)}
	if id := k.Asset.ContractID(); id != "" {
		parts = append(parts, id)
	}
	parts = append(parts, fmt.Sprintf("%s_%s.seg", k.Timeframe.Key, k.Kind))
	return strings.Join(parts, "/")
}

// FilePath joins RelPath onto a local root.
func (k CacheKey) FilePath(root string) string {
	return filepath.Join(root, filepath.FromSlash(k.RelPath()))
}

func sanitize(symbol string) string {
	var b strings.Builder
	for _, r := range symbol {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
