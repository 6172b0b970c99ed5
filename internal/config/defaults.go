package config

import (
	"strings"
)

// 默认值常量
const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppLogFormat      = "text"
	defaultCacheRoot         = "/data/marketcache"
	defaultSchemaVersion     = "v1"
	defaultIndexFile         = "catalog.db"
	defaultRemoteMode        = "disabled"
	defaultRemoteBackend     = "s3"
	defaultRemotePrefix      = "marketcache"
	defaultFetchSource       = "binance"
	defaultFetchREST         = "https://fapi.binance.com"
	defaultFetchHTTPTimeout  = 15
	defaultFetchRatePerMin   = 1200
	defaultFetchConcurrent   = 4
	defaultFetchAttempts     = 3
	defaultFetchBackoffMS    = 500
	defaultFetchMaxBackoffMS = 30000
	defaultBreakerThreshold  = 5
	defaultBreakerTimeout    = 120
	defaultPricingTimeframe  = "1m"
	defaultIntradaySpanHours = 72
	defaultDailySpanDays     = 45
	defaultRecheckAgeSeconds = 900
	defaultLedgerPath        = "/data/marketcache/ledger.db"
	defaultMetricsAddr       = ":9992"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Cache.applyDefaults(keys)
	c.Remote.applyDefaults(keys)
	c.Fetch.applyDefaults(keys)
	c.Pricing.applyDefaults(keys)
	c.Ledger.applyDefaults(keys)
	c.Metrics.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
	)
	a.LogFormat = strings.ToLower(strings.TrimSpace(a.LogFormat))
}

func (c *CacheConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("cache.root", &c.Root, defaultCacheRoot),
		stringFieldDefault("cache.schema_version", &c.SchemaVersion, defaultSchemaVersion),
		boolFieldDefault("cache.watch", &c.Watch, true),
	)
	// index_path 显式设为空字符串表示不建 catalog。
	if !keys.isSet("cache.index_path") && strings.TrimSpace(c.IndexPath) == "" {
		c.IndexPath = strings.TrimRight(c.Root, "/") + "/" + defaultIndexFile
	}
}

func (r *RemoteConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("remote.mode", &r.Mode, defaultRemoteMode),
		stringFieldDefault("remote.backend", &r.Backend, defaultRemoteBackend),
		stringFieldDefault("remote.prefix", &r.Prefix, defaultRemotePrefix),
	)
	r.Backend = strings.ToLower(strings.TrimSpace(r.Backend))
}

func (f *FetchConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("fetch.source", &f.Source, defaultFetchSource),
		stringFieldDefault("fetch.rest_base_url", &f.RESTBaseURL, defaultFetchREST),
		positiveIntDefault("fetch.http_timeout_seconds", &f.HTTPTimeoutSeconds, defaultFetchHTTPTimeout),
		positiveIntDefault("fetch.rate_limit_per_min", &f.RateLimitPerMin, defaultFetchRatePerMin),
		positiveIntDefault("fetch.max_concurrent", &f.MaxConcurrent, defaultFetchConcurrent),
		positiveIntDefault("fetch.max_attempts", &f.MaxAttempts, defaultFetchAttempts),
		positiveIntDefault("fetch.initial_backoff_ms", &f.InitialBackoffMS, defaultFetchBackoffMS),
		positiveIntDefault("fetch.max_backoff_ms", &f.MaxBackoffMS, defaultFetchMaxBackoffMS),
		positiveIntDefault("fetch.breaker_threshold", &f.BreakerThreshold, defaultBreakerThreshold),
		positiveIntDefault("fetch.breaker_timeout_seconds", &f.BreakerTimeoutSeconds, defaultBreakerTimeout),
	)
	f.Source = strings.ToLower(strings.TrimSpace(f.Source))
}

func (p *PricingConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("pricing.default_timeframe", &p.DefaultTimeframe, defaultPricingTimeframe),
		positiveIntDefault("pricing.intraday_span_hours", &p.IntradaySpanHours, defaultIntradaySpanHours),
		positiveIntDefault("pricing.daily_span_days", &p.DailySpanDays, defaultDailySpanDays),
		positiveIntDefault("pricing.recheck_age_seconds", &p.RecheckAgeSeconds, defaultRecheckAgeSeconds),
	)
	if !keys.isSet("pricing.quote_subtypes") && len(p.QuoteSubtypes) == 0 {
		p.QuoteSubtypes = []string{"option"}
	}
	p.QuoteSubtypes = normalizeList(p.QuoteSubtypes)
}

func (l *LedgerConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("ledger.path", &l.Path, defaultLedgerPath),
	)
}

func (m *MetricsConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("metrics.addr", &m.Addr, defaultMetricsAddr),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func positiveIntDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizeList(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
