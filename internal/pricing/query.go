package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketcache/internal/align"
	"marketcache/internal/asset"
	"marketcache/internal/coverage"
	"marketcache/internal/logger"
	"marketcache/internal/segment"

	"golang.org/x/sync/errgroup"
)

type queryOptions struct {
	tf          asset.Timeframe
	lookback    time.Duration
	lookbackSet bool
}

// QueryOption tunes a single LastTrade or Mark call.
type QueryOption func(*queryOptions)

func WithTimeframe(tf asset.Timeframe) QueryOption {
	return func(o *queryOptions) { o.tf = tf }
}

// WithLookback 覆盖默认回看窗口；0 表示只看最近一行。
func WithLookback(d time.Duration) QueryOption {
	return func(o *queryOptions) {
		o.lookback = d
		o.lookbackSet = true
	}
}

func (r *Resolver) queryOpts(opts []QueryOption) queryOptions {
	o := queryOptions{tf: r.opts.Timeframe}
	for _, opt := range opts {
		opt(&o)
	}
	if !o.lookbackSet {
		o.lookback = r.opts.TradeLookback
	}
	if o.tf.IsZero() {
		o.tf = r.opts.Timeframe
	}
	return o
}

// LastTrade 返回 at 时刻可见的最近成交价；不读取 bid/ask。
// 无法定价（无数据、最近一行为占位或无成交、补数失败）时返回 ok=false。
func (r *Resolver) LastTrade(ctx context.Context, a asset.Key, at time.Time, opts ...QueryOption) (Price, bool) {
	o := r.queryOpts(opts)
	key := asset.NewCacheKey(a, o.tf, asset.OHLC)
	seg, err := r.ensure(ctx, r.request(key, at, o.lookback))
	if err != nil {
		logger.Debugf("[resolver] last_trade %s @ %s unavailable: %v", key, at.Format(time.RFC3339), err)
		return Price{}, false
	}
	return lastTrade(seg, at, o.lookback)
}

// Mark 返回 at 时刻的估值价：优先用最近一行真实报价的中间价，否则退回 LastTrade，
// 仍不可用时返回 ok=false，由调用方决定是否沿用上一次的估值。
func (r *Resolver) Mark(ctx context.Context, a asset.Key, at time.Time, opts ...QueryOption) (Price, bool) {
	o := r.queryOpts(opts)
	if r.quotePriced(a.Subtype) {
		qkey := asset.NewCacheKey(a, o.tf, asset.Quote)
		seg, err := r.ensure(ctx, r.request(qkey, at, o.lookback))
		if err == nil {
			if p, ok := quoteMid(seg, at, o.lookback); ok {
				return p, true
			}
		} else {
			logger.Debugf("[resolver] quote %s @ %s unavailable: %v", qkey, at.Format(time.RFC3339), err)
		}
		return r.LastTrade(ctx, a, at, opts...)
	}
	key := asset.NewCacheKey(a, o.tf, asset.OHLC)
	seg, err := r.ensure(ctx, r.request(key, at, o.lookback))
	if err != nil {
		logger.Debugf("[resolver] mark %s @ %s unavailable: %v", key, at.Format(time.RFC3339), err)
		return Price{}, false
	}
	if p, ok := quoteMid(seg, at, o.lookback); ok {
		return p, true
	}
	return lastTrade(seg, at, o.lookback)
}

// Bars 返回 at 时刻已收盘的最近至多 n 根真实 bar（升序）。
// 覆盖判断把占位行计入行数，所以回看区间内有确认无数据的时段时，结果可能少于 n 根。
func (r *Resolver) Bars(ctx context.Context, key asset.CacheKey, at time.Time, n int) ([]segment.Row, error) {
	if n <= 0 {
		return nil, fmt.Errorf("bars %s: n must be > 0", key)
	}
	end := r.closedEnd(key, at)
	seg, err := r.ensure(ctx, coverage.ForLength(key, end, n))
	if err != nil {
		return nil, err
	}
	return lastRows(seg, end, n), nil
}

// request 构造单点查询的覆盖需求：at 落在回测窗口内时请求整个窗口。
func (r *Resolver) request(key asset.CacheKey, at time.Time, lookback time.Duration) coverage.Request {
	end := r.visibleEnd(key, at)
	if w := r.opts.Window; w.Valid() && w.Contains(at) {
		start := w.Start
		if lookback > 0 && at.Add(-lookback).Before(start) {
			start = at.Add(-lookback)
		}
		return coverage.ForRange(key, start, w.End)
	}
	span := r.opts.IntradaySpan
	if key.Timeframe.Daily() {
		span = r.opts.DailySpan
	}
	back := span
	if lookback > back {
		back = lookback
	}
	// 向前多取一个跨度，逐 bar 推进的查询随后直接命中缓存。
	return coverage.ForRange(key, at.Add(-back), end).Ahead(at.Add(span))
}

// visibleEnd 是 at 时刻可能已有数据的最后一根 bar：日内为 at 所在 bar，
// 日线为 at 之前最近一次收盘。
func (r *Resolver) visibleEnd(key asset.CacheKey, at time.Time) time.Time {
	if !key.Timeframe.Daily() {
		return key.Timeframe.AlignDown(at)
	}
	cal := align.CalendarFor(key.Asset.Subtype)
	y, m, d := at.In(cal.Loc).Date()
	closeAt := cal.CloseOn(y, m, d)
	if closeAt.After(at) {
		closeAt = cal.CloseOn(y, m, d-1)
	}
	return closeAt
}

// closedEnd 是 at 时刻最后一根已收盘 bar 的时间戳。
func (r *Resolver) closedEnd(key asset.CacheKey, at time.Time) time.Time {
	if !key.Timeframe.Daily() {
		return key.Timeframe.AlignDown(at.Add(-key.Timeframe.Duration))
	}
	return r.visibleEnd(key, at)
}

// Status 是某个 cache key 的覆盖与补数进度。
type Status struct {
	Key          string        `json:"key"`
	Active       bool          `json:"active"`
	Progress     float64       `json:"progress"`
	Coverage     segment.Range `json:"coverage"`
	Rows         int           `json:"rows"`
	Placeholders int           `json:"placeholders"`
	LastSyncAt   time.Time     `json:"last_sync_at"`
}

// CoverageStatus 汇总 sidecar 中的覆盖信息与最近一次补数会话。
func (r *Resolver) CoverageStatus(ctx context.Context, key asset.CacheKey) (Status, error) {
	st := Status{Key: key.String(), Progress: 1}
	if sess, ok := r.tracker.Latest(key.String()); ok {
		st.Active = sess.Active()
		st.Progress = sess.Progress()
	}
	man, ok, err := r.store.Bounds(ctx, key)
	if err != nil {
		return st, err
	}
	if ok {
		st.Coverage = man.Coverage()
		st.Rows = man.Rows
		st.Placeholders = man.Placeholders
		st.LastSyncAt = man.LastSyncAt
	}
	return st, nil
}

// Prefetch 并发补齐多个互不相同的 key；同一 key 的请求由 key 锁串行化。
// 单个 key 失败不影响其它 key，所有错误合并返回。
func (r *Resolver) Prefetch(ctx context.Context, reqs []coverage.Request) error {
	var g errgroup.Group
	g.SetLimit(r.opts.MaxConcurrent)
	var (
		mu   sync.Mutex
		errs []error
	)
	for _, req := range reqs {
		req := req
		g.Go(func() error {
			if _, err := r.ensure(ctx, req); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", req.Key, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Invalidate 删除 key 的缓存（本地文件与内存副本）。
func (r *Resolver) Invalidate(ctx context.Context, key asset.CacheKey) error {
	unlock, err := r.locks.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	r.forget(key)
	return r.store.Delete(ctx, key)
}
