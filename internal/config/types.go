package config

import (
	"strings"
	"time"
)

// Config 汇总 marketcache 的全部配置段。
type Config struct {
	App     AppConfig     `toml:"app"`
	Cache   CacheConfig   `toml:"cache"`
	Remote  RemoteConfig  `toml:"remote"`
	Fetch   FetchConfig   `toml:"fetch"`
	Pricing PricingConfig `toml:"pricing"`
	Actions ActionsConfig `toml:"actions"`
	Ledger  LedgerConfig  `toml:"ledger"`
	Metrics MetricsConfig `toml:"metrics"`

	// Files 是实际合并的配置文件链（按合并顺序），不从配置读取。
	Files []string `toml:"-"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogPath   string `toml:"log_path"`
	LogFormat string `toml:"log_format"`
}

// CacheConfig 描述本地分段存储。
type CacheConfig struct {
	Root          string `toml:"root"`
	SchemaVersion string `toml:"schema_version"`
	IndexPath     string `toml:"index_path"`
	Watch         bool   `toml:"watch"`
}

// RemoteConfig 描述远端层；backend 为 s3 或 dir。
type RemoteConfig struct {
	Mode      string `toml:"mode"`
	Backend   string `toml:"backend"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	Version   string `toml:"version"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	PathStyle bool   `toml:"path_style"`
	Dir       string `toml:"dir"`
}

// Enabled 报告远端层是否启用。
func (r RemoteConfig) Enabled() bool {
	mode := strings.ToLower(strings.TrimSpace(r.Mode))
	return mode != "" && mode != "disabled"
}

type FetchConfig struct {
	Source                string `toml:"source"`
	RESTBaseURL           string `toml:"rest_base_url"`
	ProxyURL              string `toml:"proxy_url"`
	HTTPTimeoutSeconds    int    `toml:"http_timeout_seconds"`
	RateLimitPerMin       int    `toml:"rate_limit_per_min"`
	MaxConcurrent         int    `toml:"max_concurrent"`
	MaxAttempts           int    `toml:"max_attempts"`
	InitialBackoffMS      int    `toml:"initial_backoff_ms"`
	MaxBackoffMS          int    `toml:"max_backoff_ms"`
	BreakerThreshold      int    `toml:"breaker_threshold"`
	BreakerTimeoutSeconds int    `toml:"breaker_timeout_seconds"`
}

func (f FetchConfig) InitialBackoff() time.Duration {
	return time.Duration(f.InitialBackoffMS) * time.Millisecond
}

func (f FetchConfig) MaxBackoff() time.Duration {
	return time.Duration(f.MaxBackoffMS) * time.Millisecond
}

func (f FetchConfig) BreakerTimeout() time.Duration {
	return time.Duration(f.BreakerTimeoutSeconds) * time.Second
}

func (f FetchConfig) HTTPTimeout() time.Duration {
	return time.Duration(f.HTTPTimeoutSeconds) * time.Second
}

// PricingConfig 控制 PricingResolver 的默认行为。
// window_start/window_end 为 RFC3339 或 YYYY-MM-DD，均为空表示实盘模式。
type PricingConfig struct {
	DefaultTimeframe     string   `toml:"default_timeframe"`
	TradeLookbackSeconds int      `toml:"trade_lookback_seconds"`
	QuoteSubtypes        []string `toml:"quote_subtypes"`
	WindowStart          string   `toml:"window_start"`
	WindowEnd            string   `toml:"window_end"`
	IntradaySpanHours    int      `toml:"intraday_span_hours"`
	DailySpanDays        int      `toml:"daily_span_days"`
	// RecheckAgeSeconds 内收盘的占位 bar 会被再次向数据源确认；0 关闭。
	RecheckAgeSeconds int `toml:"recheck_age_seconds"`
}

func (p PricingConfig) TradeLookback() time.Duration {
	return time.Duration(p.TradeLookbackSeconds) * time.Second
}

func (p PricingConfig) RecheckAge() time.Duration {
	return time.Duration(p.RecheckAgeSeconds) * time.Second
}

func (p PricingConfig) IntradaySpan() time.Duration {
	return time.Duration(p.IntradaySpanHours) * time.Hour
}

func (p PricingConfig) DailySpan() time.Duration {
	return time.Duration(p.DailySpanDays) * 24 * time.Hour
}

// Window 解析回测窗口；未配置时返回零值。
func (p PricingConfig) Window() (time.Time, time.Time, error) {
	start, err := parseWindowTime(p.WindowStart)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseWindowTime(p.WindowEnd)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func parseWindowTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, raw)
}

// ActionsConfig 指向公司行为 YAML；为空表示不做调整。
type ActionsConfig struct {
	Path string `toml:"path"`
}

// LedgerConfig 描述拉取会话账本（sqlite）。
type LedgerConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
