package app

import (
	"context"
	"errors"
	"fmt"

	"marketcache/internal/config"
	"marketcache/internal/ledger"
	"marketcache/internal/logger"
	"marketcache/internal/metrics"
	"marketcache/internal/pricing"
	"marketcache/internal/store"
	cachehttp "marketcache/internal/transport/http/cache"

	"golang.org/x/sync/errgroup"
)

// App 持有进程级对象（锁表、远端客户端、catalog 与账本数据库），在 Close 时统一释放。
type App struct {
	cfg      *config.Config
	resolver *pricing.Resolver
	files    *store.FileStore
	index    *store.Index
	ledger   *ledger.Ledger
	metrics  *metrics.Cache
	http     *cachehttp.Server
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(ctx context.Context, cfg *config.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(ctx, cfg, opts)
}

// Run 启动 HTTP 服务与缓存目录监听，阻塞直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.resolver == nil {
		return fmt.Errorf("app not initialized")
	}
	group, ctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	if a.cfg.Cache.Watch {
		group.Go(func() error {
			if err := a.files.Watch(ctx, a.resolver.EvictPath); err != nil {
				return fmt.Errorf("cache watch error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return group.Wait()
}

// Resolver exposes the pricing entry point.
func (a *App) Resolver() *pricing.Resolver { return a.resolver }

// Catalog 返回 catalog 索引；未配置 index_path 时为 nil。
func (a *App) Catalog() *store.Index { return a.index }

// Ledger 返回补数账本；未启用时为 nil。
func (a *App) Ledger() *ledger.Ledger { return a.ledger }

func (a *App) Metrics() *metrics.Cache { return a.metrics }

// Close 释放数据库句柄。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.ledger != nil {
		errs = append(errs, a.ledger.Close())
		a.ledger = nil
	}
	if a.index != nil {
		errs = append(errs, a.index.Close())
		a.index = nil
	}
	return errors.Join(errs...)
}
