package config

import (
	"fmt"
	"strings"

	"marketcache/internal/asset"
	"marketcache/internal/remote"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Cache.validate(); err != nil {
		return err
	}
	if err := c.Remote.validate(); err != nil {
		return err
	}
	if err := c.Fetch.validate(); err != nil {
		return err
	}
	if err := c.Pricing.validate(); err != nil {
		return err
	}
	if err := c.Ledger.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch a.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format must be text or json, got %q", a.LogFormat)
	}
	return nil
}

func (c *CacheConfig) validate() error {
	if strings.TrimSpace(c.Root) == "" {
		return fmt.Errorf("cache.root cannot be empty")
	}
	if strings.TrimSpace(c.SchemaVersion) == "" {
		return fmt.Errorf("cache.schema_version cannot be empty")
	}
	return nil
}

func (r *RemoteConfig) validate() error {
	mode, err := remote.ParseMode(r.Mode)
	if err != nil {
		return fmt.Errorf("remote.mode: %w", err)
	}
	if mode == remote.Disabled {
		return nil
	}
	if strings.TrimSpace(r.Version) == "" {
		return fmt.Errorf("remote.version is required when remote.mode=%s", mode)
	}
	switch r.Backend {
	case "s3":
		if strings.TrimSpace(r.Bucket) == "" {
			return fmt.Errorf("remote.bucket cannot be empty for s3 backend")
		}
	case "dir":
		if strings.TrimSpace(r.Dir) == "" {
			return fmt.Errorf("remote.dir cannot be empty for dir backend")
		}
	default:
		return fmt.Errorf("remote.backend must be s3 or dir, got %q", r.Backend)
	}
	return nil
}

func (f *FetchConfig) validate() error {
	switch f.Source {
	case "binance":
		if strings.TrimSpace(f.RESTBaseURL) == "" {
			return fmt.Errorf("fetch.rest_base_url cannot be empty")
		}
	case "none":
	default:
		return fmt.Errorf("fetch.source must be binance or none, got %q", f.Source)
	}
	if f.MaxBackoffMS < f.InitialBackoffMS {
		return fmt.Errorf("fetch.max_backoff_ms must be >= fetch.initial_backoff_ms")
	}
	return nil
}

func (p *PricingConfig) validate() error {
	if _, err := asset.ParseTimeframe(p.DefaultTimeframe); err != nil {
		return fmt.Errorf("pricing.default_timeframe: %w", err)
	}
	if p.TradeLookbackSeconds < 0 {
		return fmt.Errorf("pricing.trade_lookback_seconds must be >= 0")
	}
	if p.RecheckAgeSeconds < 0 {
		return fmt.Errorf("pricing.recheck_age_seconds must be >= 0")
	}
	for _, st := range p.QuoteSubtypes {
		if _, err := asset.ParseSubtype(st); err != nil {
			return fmt.Errorf("pricing.quote_subtypes: %w", err)
		}
	}
	start, end, err := p.Window()
	if err != nil {
		return fmt.Errorf("pricing window: %w", err)
	}
	if start.IsZero() != end.IsZero() {
		return fmt.Errorf("pricing.window_start and pricing.window_end must be set together")
	}
	if !start.IsZero() && !end.After(start) {
		return fmt.Errorf("pricing.window_end must be after pricing.window_start")
	}
	return nil
}

func (l *LedgerConfig) validate() error {
	if l.Enabled && strings.TrimSpace(l.Path) == "" {
		return fmt.Errorf("ledger.path cannot be empty when ledger is enabled")
	}
	return nil
}
