package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketcache/internal/adjust"
	"marketcache/internal/asset"
	"marketcache/internal/fetcher"
	"marketcache/internal/metrics"
	"marketcache/internal/progress"
	"marketcache/internal/segment"
	"marketcache/internal/store"

	"golang.org/x/sync/singleflight"
)

// Options 是定价层的行为参数。
type Options struct {
	// Timeframe 是 LastTrade/Mark 默认使用的周期。
	Timeframe asset.Timeframe
	// TradeLookback 允许在最近一行无成交时回看更早的成交价（结果标记为 Stale）；0 表示不回看。
	TradeLookback time.Duration
	// QuoteSubtypes 中的资产用独立的 quote 分段计算 mark。
	QuoteSubtypes []asset.Subtype
	// Window 是回测区间；at 落在其中时整段补齐，一次回测只拉一次增量。
	Window segment.Range
	// IntradaySpan/DailySpan 是窗口之外单次查询向前请求的跨度。
	IntradaySpan time.Duration
	DailySpan    time.Duration
	// RecheckAge 内收盘的占位 bar 视为暂定，到期后重新向数据源确认；<= 0 关闭复查。
	RecheckAge time.Duration
	// MaxConcurrent 限制 Prefetch 的并发 key 数。
	MaxConcurrent int
}

func (o Options) withDefaults() Options {
	if o.Timeframe.IsZero() {
		o.Timeframe = asset.Minute
	}
	if o.IntradaySpan <= 0 {
		o.IntradaySpan = 72 * time.Hour
	}
	if o.DailySpan <= 0 {
		o.DailySpan = 45 * 24 * time.Hour
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 4
	}
	return o
}

// Config 汇总 Resolver 的依赖。
type Config struct {
	Store    store.SegmentStore
	Locks    *store.Locks
	Fetcher  fetcher.Fetcher
	Actions  adjust.Source
	Observer progress.Observer
	Tracker  *progress.Tracker
	Metrics  *metrics.Cache
	Options  Options
	// Now 默认 time.Now；占位行不会晚于它。
	Now func() time.Time
}

// Resolver 回答“在模拟时刻 at 可以观察到的价格”，缺数据时按需补数并写回缓存。
type Resolver struct {
	store    store.SegmentStore
	locks    *store.Locks
	fetcher  fetcher.Fetcher
	actions  adjust.Source
	observer progress.Observer
	tracker  *progress.Tracker
	metrics  *metrics.Cache
	opts     Options
	now      func() time.Time

	quoteSubtypes map[asset.Subtype]struct{}

	mu    sync.RWMutex
	segs  map[asset.CacheKey]*segment.Segment
	byRel map[string]asset.CacheKey

	actionsGroup singleflight.Group
	actionsMu    sync.RWMutex
	actionsCache map[asset.Key][]adjust.Action
}

func New(cfg Config) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("resolver: store 不能为空")
	}
	if cfg.Locks == nil {
		cfg.Locks = store.NewLocks()
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = fetcher.None{}
	}
	if cfg.Actions == nil {
		cfg.Actions = adjust.StaticSource{}
	}
	if cfg.Tracker == nil {
		cfg.Tracker = progress.NewTracker()
	}
	observers := progress.Multi{cfg.Tracker}
	if cfg.Observer != nil {
		observers = append(observers, cfg.Observer)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	opts := cfg.Options.withDefaults()
	r := &Resolver{
		store:         cfg.Store,
		locks:         cfg.Locks,
		fetcher:       cfg.Fetcher,
		actions:       cfg.Actions,
		observer:      observers,
		tracker:       cfg.Tracker,
		metrics:       cfg.Metrics,
		opts:          opts,
		now:           cfg.Now,
		quoteSubtypes: make(map[asset.Subtype]struct{}, len(opts.QuoteSubtypes)),
		segs:          make(map[asset.CacheKey]*segment.Segment),
		byRel:         make(map[string]asset.CacheKey),
		actionsCache:  make(map[asset.Key][]adjust.Action),
	}
	for _, st := range opts.QuoteSubtypes {
		r.quoteSubtypes[st] = struct{}{}
	}
	return r, nil
}

func (r *Resolver) Options() Options { return r.opts }

func (r *Resolver) cached(key asset.CacheKey) *segment.Segment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.segs[key]
}

func (r *Resolver) remember(key asset.CacheKey, seg *segment.Segment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.segs[key] = seg
	r.byRel[key.RelPath()] = key
}

func (r *Resolver) forget(key asset.CacheKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.segs, key)
	delete(r.byRel, key.RelPath())
}

// EvictPath 驱逐相对路径对应的内存分段，配合 FileStore.Watch 使用。
func (r *Resolver) EvictPath(rel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key, ok := r.byRel[rel]; ok {
		delete(r.segs, key)
		delete(r.byRel, rel)
	}
}

func (r *Resolver) quotePriced(st asset.Subtype) bool {
	_, ok := r.quoteSubtypes[st]
	return ok
}

// actionsFor 读取并缓存资产的公司行为；并发请求同一资产只读一次。
func (r *Resolver) actionsFor(ctx context.Context, a asset.Key) ([]adjust.Action, error) {
	r.actionsMu.RLock()
	acts, ok := r.actionsCache[a]
	r.actionsMu.RUnlock()
	if ok {
		return acts, nil
	}
	v, err, _ := r.actionsGroup.Do(a.String(), func() (interface{}, error) {
		got, err := r.actions.Actions(ctx, a)
		if err != nil {
			return nil, err
		}
		r.actionsMu.Lock()
		r.actionsCache[a] = got
		r.actionsMu.Unlock()
		return got, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]adjust.Action), nil
}
