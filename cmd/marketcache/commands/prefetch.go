package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketcache/internal/app"
	"marketcache/internal/asset"
	"marketcache/internal/coverage"
	"marketcache/internal/pricing"

	"github.com/spf13/cobra"
)

var (
	errLedgerDisabled  = errors.New("ledger 未启用（ledger.enabled=false）")
	errCatalogDisabled = errors.New("catalog 未启用（cache.index_path 为空）")
)

var (
	prefetchParams asset.Params
	prefetchStart  string
	prefetchEnd    string
	prefetchRows   int

	invalidateParams asset.Params
)

var prefetchCmd = &cobra.Command{
	Use:   "prefetch",
	Short: "预先补齐某个区间（或 end 之前 n 行）的缓存",
	Long: `区间模式：--start/--end；长度模式：--rows N --end T。

Example:
  marketcache prefetch --symbol SPY --timeframe 1d --start 2024-01-01 --end 2024-07-19
  marketcache prefetch --symbol BTCUSDT --subtype crypto --rows 1000`,
	RunE: runPrefetch,
}

var invalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "删除某个 cache key 的本地分段",
	RunE:  runInvalidate,
}

func init() {
	rootCmd.AddCommand(prefetchCmd, invalidateCmd)
	addAssetFlags(prefetchCmd, &prefetchParams)
	prefetchCmd.Flags().StringVar(&prefetchStart, "start", "", "区间起点")
	prefetchCmd.Flags().StringVar(&prefetchEnd, "end", "", "区间终点，默认当前时间")
	prefetchCmd.Flags().IntVar(&prefetchRows, "rows", 0, "长度模式下需要的行数")
	addAssetFlags(invalidateCmd, &invalidateParams)
}

func runPrefetch(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		key, err := prefetchParams.CacheKey(a.Resolver().Options().Timeframe)
		if err != nil {
			return err
		}
		end, err := pricing.ParseAt(prefetchEnd, time.Now())
		if err != nil {
			return err
		}
		var req coverage.Request
		switch {
		case prefetchRows > 0:
			req = coverage.ForLength(key, end, prefetchRows)
		case prefetchStart != "":
			start, err := pricing.ParseAt(prefetchStart, time.Time{})
			if err != nil {
				return err
			}
			req = coverage.ForRange(key, start, end)
		default:
			return fmt.Errorf("either --start or --rows is required")
		}
		if err := req.Validate(); err != nil {
			return err
		}
		if err := a.Resolver().Prefetch(ctx, []coverage.Request{req}); err != nil {
			return err
		}
		st, err := a.Resolver().CoverageStatus(ctx, key)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	})
}

func runInvalidate(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		key, err := invalidateParams.CacheKey(a.Resolver().Options().Timeframe)
		if err != nil {
			return err
		}
		if err := a.Resolver().Invalidate(ctx, key); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "invalidated %s\n", key)
		return nil
	})
}
