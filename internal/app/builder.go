package app

import (
	"context"
	"fmt"
	"time"

	"marketcache/internal/adjust"
	"marketcache/internal/asset"
	"marketcache/internal/config"
	"marketcache/internal/fetcher"
	"marketcache/internal/fetcher/binance"
	"marketcache/internal/ledger"
	"marketcache/internal/logger"
	"marketcache/internal/metrics"
	"marketcache/internal/pricing"
	"marketcache/internal/progress"
	"marketcache/internal/remote"
	"marketcache/internal/segment"
	"marketcache/internal/store"
	cachehttp "marketcache/internal/transport/http/cache"
)

// AppBuilder 按配置组装进程级对象：分段存储、远端层、数据源、账本与 Resolver。
type AppBuilder struct {
	cfg *config.Config

	remoteBackendFn func(context.Context, config.RemoteConfig) (remote.Backend, error)
	fetcherFn       func(config.FetchConfig) (fetcher.Fetcher, error)
	now             func() time.Time
	withHTTP        bool
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:             cfg,
		remoteBackendFn: buildRemoteBackend,
		fetcherFn:       buildFetcher,
		now:             time.Now,
		withHTTP:        true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithRemoteBackend 替换远端对象存储的构造（测试用目录或假实现）。
func WithRemoteBackend(fn func(context.Context, config.RemoteConfig) (remote.Backend, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.remoteBackendFn = fn
		}
	}
}

// WithFetcher 替换上游数据源的构造。
func WithFetcher(fn func(config.FetchConfig) (fetcher.Fetcher, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.fetcherFn = fn
		}
	}
}

func WithClock(now func() time.Time) AppBuilderOption {
	return func(b *AppBuilder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithoutHTTP 跳过 HTTP 服务（一次性 CLI 命令）。
func WithoutHTTP() AppBuilderOption {
	return func(b *AppBuilder) { b.withHTTP = false }
}

func (b *AppBuilder) Build(ctx context.Context) (app *App, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	a := &App{cfg: cfg, metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if cfg.Cache.IndexPath != "" {
		if a.index, err = store.OpenIndex(cfg.Cache.IndexPath); err != nil {
			return nil, fmt.Errorf("打开 catalog 索引失败: %w", err)
		}
	}
	fileOpts := []store.FileOption{
		store.WithClock(b.now),
		store.WithCorruptHook(a.metrics.Corrupt),
	}
	if a.index != nil {
		fileOpts = append(fileOpts, store.WithIndex(a.index))
	}
	if a.files, err = store.NewFileStore(cfg.Cache.Root, cfg.Cache.SchemaVersion, fileOpts...); err != nil {
		return nil, fmt.Errorf("初始化本地缓存失败: %w", err)
	}

	tier, err := b.buildTier(ctx)
	if err != nil {
		return nil, err
	}
	segStore := store.NewTiered(a.files, tier)

	src, err := b.fetcherFn(cfg.Fetch)
	if err != nil {
		return nil, fmt.Errorf("初始化数据源失败: %w", err)
	}

	var observer progress.Observer
	if cfg.Ledger.Enabled {
		if a.ledger, err = ledger.Open(cfg.Ledger.Path); err != nil {
			return nil, fmt.Errorf("打开补数账本失败: %w", err)
		}
		observer = a.ledger
	}

	var actions adjust.Source = adjust.StaticSource{}
	if cfg.Actions.Path != "" {
		actions = adjust.NewFileSource(cfg.Actions.Path)
	}

	opts, err := pricingOptions(cfg)
	if err != nil {
		return nil, err
	}
	a.resolver, err = pricing.New(pricing.Config{
		Store:    segStore,
		Locks:    store.NewLocks(),
		Fetcher:  src,
		Actions:  actions,
		Observer: observer,
		Metrics:  a.metrics,
		Options:  opts,
		Now:      b.now,
	})
	if err != nil {
		return nil, err
	}

	if b.withHTTP && cfg.Metrics.Addr != "" {
		httpCfg := cachehttp.Config{
			Addr:    cfg.Metrics.Addr,
			Pricer:  a.resolver,
			Metrics: a.metrics.Handler(),
			Now:     b.now,
		}
		if a.ledger != nil {
			httpCfg.Sessions = a.ledger
		}
		if a.index != nil {
			httpCfg.Catalog = a.index
		}
		if a.http, err = cachehttp.NewServer(httpCfg); err != nil {
			return nil, err
		}
	}

	a.Summary = &StartupSummary{
		ConfigFiles:   cfg.Files,
		CacheRoot:     cfg.Cache.Root,
		SchemaVersion: cfg.Cache.SchemaVersion,
		IndexPath:     cfg.Cache.IndexPath,
		RemoteMode:    string(tier.Mode()),
		FetchSource:   src.Name(),
		Timeframe:     opts.Timeframe.Key,
		QuoteSubtypes: subtypeNames(opts.QuoteSubtypes),
		Window:        opts.Window,
		LedgerPath:    ledgerPath(cfg),
		HTTPAddr:      httpAddr(a),
	}
	logger.Infof("[app] cache ready root=%s remote=%s source=%s", cfg.Cache.Root, tier.Mode(), src.Name())
	return a, nil
}

func (b *AppBuilder) buildTier(ctx context.Context) (remote.Tier, error) {
	rc := b.cfg.Remote
	mode, err := remote.ParseMode(rc.Mode)
	if err != nil {
		return nil, err
	}
	var backend remote.Backend
	if mode != remote.Disabled {
		if backend, err = b.remoteBackendFn(ctx, rc); err != nil {
			return nil, fmt.Errorf("初始化远端存储失败: %w", err)
		}
	}
	return remote.New(mode, backend, rc.Prefix, rc.Version)
}

func buildRemoteBackend(ctx context.Context, rc config.RemoteConfig) (remote.Backend, error) {
	switch rc.Backend {
	case "dir":
		return remote.NewDirBackend(rc.Dir)
	case "s3", "":
		return remote.NewS3Backend(ctx, remote.S3Config{
			Bucket:    rc.Bucket,
			Region:    rc.Region,
			Endpoint:  rc.Endpoint,
			PathStyle: rc.PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown remote backend: %s", rc.Backend)
	}
}

func buildFetcher(fc config.FetchConfig) (fetcher.Fetcher, error) {
	switch fc.Source {
	case "none", "":
		return fetcher.None{}, nil
	case "binance":
		src, err := binance.New(binance.Config{
			RESTBaseURL: fc.RESTBaseURL,
			HTTPTimeout: fc.HTTPTimeout(),
			ProxyURL:    fc.ProxyURL,
		})
		if err != nil {
			return nil, err
		}
		return fetcher.NewGuard(src, fetchPolicy(fc)), nil
	default:
		return nil, fmt.Errorf("unknown fetch source: %s", fc.Source)
	}
}

func fetchPolicy(fc config.FetchConfig) fetcher.Policy {
	return fetcher.Policy{
		MaxAttempts:      fc.MaxAttempts,
		InitialInterval:  fc.InitialBackoff(),
		MaxInterval:      fc.MaxBackoff(),
		RatePerMin:       fc.RateLimitPerMin,
		BreakerThreshold: fc.BreakerThreshold,
		BreakerCooldown:  fc.BreakerTimeout(),
	}
}

func pricingOptions(cfg *config.Config) (pricing.Options, error) {
	pc := cfg.Pricing
	tf, err := asset.ParseTimeframe(pc.DefaultTimeframe)
	if err != nil {
		return pricing.Options{}, err
	}
	start, end, err := pc.Window()
	if err != nil {
		return pricing.Options{}, err
	}
	opts := pricing.Options{
		Timeframe:     tf,
		TradeLookback: pc.TradeLookback(),
		Window:        segment.Range{Start: start, End: end},
		IntradaySpan:  pc.IntradaySpan(),
		DailySpan:     pc.DailySpan(),
		RecheckAge:    pc.RecheckAge(),
		MaxConcurrent: cfg.Fetch.MaxConcurrent,
	}
	for _, raw := range pc.QuoteSubtypes {
		st, err := asset.ParseSubtype(raw)
		if err != nil {
			return pricing.Options{}, err
		}
		opts.QuoteSubtypes = append(opts.QuoteSubtypes, st)
	}
	return opts, nil
}

func subtypeNames(list []asset.Subtype) []string {
	out := make([]string, 0, len(list))
	for _, st := range list {
		out = append(out, string(st))
	}
	return out
}

func ledgerPath(cfg *config.Config) string {
	if !cfg.Ledger.Enabled {
		return ""
	}
	return cfg.Ledger.Path
}

func httpAddr(a *App) string {
	if a.http == nil {
		return ""
	}
	return a.cfg.Metrics.Addr
}
