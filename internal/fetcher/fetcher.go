package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketcache/internal/asset"
	"marketcache/internal/segment"
)

// Request 描述一次远端拉取：同一个 cache key 下的若干缺失区间（闭区间）。
type Request struct {
	Asset     asset.Key
	Timeframe asset.Timeframe
	Kind      asset.DataKind
	Ranges    []segment.Range
}

func (r Request) Key() asset.CacheKey {
	return asset.NewCacheKey(r.Asset, r.Timeframe, r.Kind)
}

func (r Request) Validate() error {
	if err := r.Key().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(r.Ranges) == 0 {
		return fmt.Errorf("%w: no ranges", ErrInvalidRequest)
	}
	for _, rng := range r.Ranges {
		if !rng.Valid() {
			return fmt.Errorf("%w: invalid range %s", ErrInvalidRequest, rng)
		}
	}
	return nil
}

// Fetcher 从外部数据源拉取原始（未调整、未对齐）行。
// 可能返回请求区间之外的行，由调用方过滤。
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, req Request) ([]segment.Row, error)
}

var (
	// ErrUnavailable 表示数据源当前不可用（未配置、熔断或离线模式）。
	ErrUnavailable    = errors.New("data source unavailable")
	ErrInvalidRequest = errors.New("invalid fetch request")
)

// RateLimitedError 是数据源限流；RetryAfter 为零时按退避策略等待。
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

// FetchFailedError 包装一次失败的拉取。
type FetchFailedError struct {
	Source    string
	Retryable bool
	Err       error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("%s fetch failed: %v", e.Source, e.Err)
}

func (e *FetchFailedError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidRequest) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return true
	}
	var ff *FetchFailedError
	if errors.As(err, &ff) {
		return ff.Retryable
	}
	return true
}

// Func 把普通函数适配为 Fetcher。
type Func func(ctx context.Context, req Request) ([]segment.Row, error)

func (f Func) Name() string { return "func" }

func (f Func) Fetch(ctx context.Context, req Request) ([]segment.Row, error) {
	return f(ctx, req)
}

// None 是纯缓存模式下的数据源：总是不可用。
type None struct{}

func (None) Name() string { return "none" }

func (None) Fetch(context.Context, Request) ([]segment.Row, error) {
	return nil, ErrUnavailable
}

// InRanges 过滤掉落在所有请求区间之外的行（数据源偶尔返回边界外的幻影行）。
func InRanges(rows []segment.Row, ranges []segment.Range) []segment.Row {
	out := rows[:0:0]
	for _, r := range rows {
		for _, rng := range ranges {
			if rng.Contains(r.Time) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}
