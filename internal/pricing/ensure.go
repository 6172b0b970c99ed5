package pricing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"marketcache/internal/adjust"
	"marketcache/internal/align"
	"marketcache/internal/asset"
	"marketcache/internal/coverage"
	"marketcache/internal/fetcher"
	"marketcache/internal/logger"
	"marketcache/internal/placeholder"
	"marketcache/internal/progress"
	"marketcache/internal/segment"
	"marketcache/internal/store"
)

// ensure 返回满足 req 的分段：先查内存，再在 key 锁内查磁盘/远端，最后按缺口补数。
// 每个缺失区间在一次调用中至多拉取一次；拉取失败时返回错误，区间保持未覆盖。
func (r *Resolver) ensure(ctx context.Context, req coverage.Request) (*segment.Segment, error) {
	key := req.Key
	if seg := r.cached(key); seg != nil {
		if ok, err := r.satisfied(seg, req); err != nil {
			return nil, err
		} else if ok {
			r.metrics.Hit(string(key.Asset.Subtype), key.Timeframe.Key)
			return seg, nil
		}
	}

	unlock, err := r.locks.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	seg, err := r.load(ctx, key)
	if err != nil {
		return nil, err
	}
	actions, err := r.actionsFor(ctx, key.Asset)
	if err != nil {
		return nil, fmt.Errorf("corporate actions for %s: %w", key.Asset, err)
	}
	digest := adjust.Digest(actions)
	var missing []segment.Range
	if !seg.Empty() && (!seg.SplitAdjusted || seg.ActionsDigest != digest) {
		logger.Warnf("[resolver] %s cached under actions %q, now %q; rebuilding", key, seg.ActionsDigest, digest)
		if seg, missing, err = r.rebuild(ctx, key, req); err != nil {
			return nil, err
		}
	} else {
		res, err := coverage.Covers(seg, req)
		if err != nil {
			return nil, err
		}
		missing = r.clampAll(key, res.Missing)
		missing = append(missing, r.provisional(seg, len(missing) > 0)...)
		sort.Slice(missing, func(i, j int) bool { return missing[i].Start.Before(missing[j].Start) })
	}
	if len(missing) == 0 {
		r.metrics.Hit(string(key.Asset.Subtype), key.Timeframe.Key)
		r.remember(key, seg)
		return seg, nil
	}
	r.metrics.Miss(string(key.Asset.Subtype), key.Timeframe.Key)

	merged, err := r.fill(ctx, seg, key, missing, actions, digest)
	if errors.Is(err, store.ErrActionsChanged) {
		logger.Warnf("[resolver] %s: %v; rebuilding", key, err)
		if seg, missing, err = r.rebuild(ctx, key, req); err != nil {
			return nil, err
		}
		merged = seg
		if len(missing) > 0 {
			merged, err = r.fill(ctx, seg, key, missing, actions, digest)
		}
	}
	if err != nil {
		return nil, err
	}
	r.remember(key, merged)
	return merged, nil
}

// satisfied 判断内存分段是否已满足请求（未来时段不算缺口，到期复查的占位算缺口）。
func (r *Resolver) satisfied(seg *segment.Segment, req coverage.Request) (bool, error) {
	res, err := coverage.Covers(seg, req)
	if err != nil {
		return false, err
	}
	if !res.Covered() && len(r.clampAll(req.Key, res.Missing)) > 0 {
		return false, nil
	}
	return len(r.provisional(seg, false)) == 0, nil
}

// provisional 返回尾部仍可能补到数据的占位区间：bar 收盘距上次落盘不足 RecheckAge，
// 数据源可能只是延迟发布。force 为 false 时，距上次落盘不足一个复查间隔则不复查。
func (r *Resolver) provisional(seg *segment.Segment, force bool) []segment.Range {
	age := r.opts.RecheckAge
	if age <= 0 || seg.Empty() || seg.SyncedAt.IsZero() {
		return nil
	}
	tf := seg.Key.Timeframe
	if !force {
		every := age
		if tf.Duration < every {
			every = tf.Duration
		}
		if r.now().Sub(seg.SyncedAt) < every {
			return nil
		}
	}
	cutoff := seg.SyncedAt.Add(-age)
	var (
		out []segment.Range
		run segment.Range
	)
	for i := seg.Len() - 1; i >= 0; i-- {
		row := seg.Row(i)
		closeAt := row.Time
		if !tf.Daily() {
			closeAt = row.Time.Add(tf.Duration)
		}
		if !closeAt.After(cutoff) {
			break
		}
		if !row.Placeholder {
			if run.Valid() {
				out = append(out, run)
				run = segment.Range{}
			}
			continue
		}
		if run.Valid() {
			run.Start = row.Time
		} else {
			run = segment.Range{Start: row.Time, End: row.Time}
		}
	}
	if run.Valid() {
		out = append(out, run)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (r *Resolver) load(ctx context.Context, key asset.CacheKey) (*segment.Segment, error) {
	seg, ok, err := r.store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return segment.New(key), nil
	}
	return align.Segment(seg), nil
}

// rebuild 丢弃旧分段并重新计算缺口（公司行为集合变化后，新旧调整口径不能混存）。
func (r *Resolver) rebuild(ctx context.Context, key asset.CacheKey, req coverage.Request) (*segment.Segment, []segment.Range, error) {
	if err := r.store.Delete(ctx, key); err != nil {
		return nil, nil, err
	}
	r.forget(key)
	seg := segment.New(key)
	res, err := coverage.Covers(seg, req)
	if err != nil {
		return nil, nil, err
	}
	return seg, r.clampAll(key, res.Missing), nil
}

// clampAll 把缺口截到最后一个已完成的 bar；完全在未来的缺口被丢弃。
// 日线缺口的两端先落到当日收盘，与行时间戳和日线时段枚举一致。
func (r *Resolver) clampAll(key asset.CacheKey, missing []segment.Range) []segment.Range {
	cal := align.CalendarFor(key.Asset.Subtype)
	now := r.now()
	out := make([]segment.Range, 0, len(missing))
	for _, rng := range missing {
		if key.Timeframe.Daily() {
			rng = dailyBounds(rng, cal)
		}
		c := placeholder.Clamp(rng, key.Timeframe, cal, now)
		if !c.Valid() {
			continue
		}
		if len(cal.Slots(c, key.Timeframe)) == 0 {
			// 休市时段：直接标记为已覆盖，无需请求数据源。
			continue
		}
		out = append(out, c)
	}
	return out
}

func dailyBounds(rng segment.Range, cal align.Calendar) segment.Range {
	y0, m0, d0 := align.SessionDate(rng.Start)
	y1, m1, d1 := align.SessionDate(rng.End)
	return segment.Range{Start: cal.CloseOn(y0, m0, d0), End: cal.CloseOn(y1, m1, d1)}
}

// fill 是补数流水线：fetch → 对齐 → 质量过滤 → 调整 → 合并落盘。
// 每个区间的合并由 store 完成占位替换与补占位（WithCoverage）。
func (r *Resolver) fill(ctx context.Context, seg *segment.Segment, key asset.CacheKey, missing []segment.Range, actions []adjust.Action, digest string) (*segment.Segment, error) {
	sess := progress.NewSession(key.String(), r.fetcher.Name(), missing, r.now())
	r.observer.SessionStarted(sess)

	started := time.Now()
	raw, err := r.fetcher.Fetch(ctx, fetcher.Request{
		Asset:     key.Asset,
		Timeframe: key.Timeframe,
		Kind:      key.Kind,
		Ranges:    missing,
	})
	if err != nil {
		r.metrics.FetchFailed(r.fetcher.Name())
		r.observer.SessionFinished(sess.ID, progress.StatusFailed, err)
		logger.Warnf("[resolver] fetch %s %v failed: %v", key, missing, err)
		return nil, err
	}

	rows := fetcher.InRanges(align.Rows(raw, key), missing)
	if dropped := len(raw) - len(rows); dropped > 0 {
		logger.Debugf("[resolver] %s dropped %d rows outside requested ranges", key, dropped)
	}
	delta, _, err := adjust.Apply(segment.FromRows(key, rows), actions)
	if err != nil {
		r.observer.SessionFinished(sess.ID, progress.StatusFailed, err)
		return nil, err
	}
	real := delta.Rows()
	r.metrics.Fetched(r.fetcher.Name(), len(real), time.Since(started).Seconds())

	merged := seg
	for _, rng := range missing {
		inRange := fetcher.InRanges(real, []segment.Range{rng})
		merged, err = r.store.Merge(ctx, key, inRange, store.WithActionsDigest(digest), store.WithCoverage(rng))
		if err != nil {
			r.observer.SessionFinished(sess.ID, progress.StatusFailed, err)
			return nil, err
		}
		r.observer.RangeFetched(sess.ID, rng, len(inRange))
	}
	r.observer.SessionFinished(sess.ID, progress.StatusDone, nil)
	logger.Infof("[resolver] %s filled %d ranges, %d rows (%d total)", key, len(missing), len(real), merged.Len())
	return merged, nil
}
