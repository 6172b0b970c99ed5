package commands

import (
	"context"
	"time"

	"marketcache/internal/app"
	"marketcache/internal/asset"
	"marketcache/internal/pricing"

	"github.com/spf13/cobra"
)

var (
	barsParams asset.Params
	barsAt     string
	barsN      int
)

var barsCmd = &cobra.Command{
	Use:   "bars",
	Short: "返回某时刻之前已收盘的最近 n 根 bar",
	RunE:  runBars,
}

func init() {
	rootCmd.AddCommand(barsCmd)
	addAssetFlags(barsCmd, &barsParams)
	barsCmd.Flags().StringVar(&barsAt, "at", "", "查询时刻，默认当前时间")
	barsCmd.Flags().IntVar(&barsN, "n", 100, "bar 数量")
}

func runBars(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		key, err := barsParams.CacheKey(a.Resolver().Options().Timeframe)
		if err != nil {
			return err
		}
		at, err := pricing.ParseAt(barsAt, time.Now())
		if err != nil {
			return err
		}
		rows, err := a.Resolver().Bars(ctx, key, at, barsN)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"key": key.String(), "bars": rows})
	})
}
