package commands

import (
	"context"
	"fmt"
	"time"

	"marketcache/internal/app"
	"marketcache/internal/asset"
	"marketcache/internal/pricing"

	"github.com/spf13/cobra"
)

var (
	priceParams   asset.Params
	priceAt       string
	priceType     string
	priceLookback time.Duration
)

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "查询某时刻可观察到的成交价或 mark",
	Long: `--type trade 返回最近成交价，--type mark 返回报价中间价（取不到时回退成交价）。
取不到价格时输出 found=false，不做前向填充。

Example:
  marketcache price --symbol SPY --at 2024-07-18T14:00:00Z
  marketcache price --symbol SPY --subtype option --expiry 2024-08-16 --strike 560 --right put --type mark`,
	RunE: runPrice,
}

func init() {
	rootCmd.AddCommand(priceCmd)
	addAssetFlags(priceCmd, &priceParams)
	priceCmd.Flags().StringVar(&priceAt, "at", "", "查询时刻（RFC3339 / YYYY-MM-DD / 毫秒），默认当前时间")
	priceCmd.Flags().StringVar(&priceType, "type", "trade", "trade|mark")
	priceCmd.Flags().DurationVar(&priceLookback, "lookback", -1, "无成交时回看的时长（默认取配置）")
}

func runPrice(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		res := a.Resolver()
		key, err := priceParams.CacheKey(res.Options().Timeframe)
		if err != nil {
			return err
		}
		at, err := pricing.ParseAt(priceAt, time.Now())
		if err != nil {
			return err
		}
		opts := []pricing.QueryOption{pricing.WithTimeframe(key.Timeframe)}
		if priceLookback >= 0 {
			opts = append(opts, pricing.WithLookback(priceLookback))
		}
		var (
			p  pricing.Price
			ok bool
		)
		switch priceType {
		case "trade":
			p, ok = res.LastTrade(ctx, key.Asset, at, opts...)
		case "mark":
			p, ok = res.Mark(ctx, key.Asset, at, opts...)
		default:
			return fmt.Errorf("unknown price type %q", priceType)
		}
		out := map[string]any{"key": key.Asset.String(), "at": at, "found": ok}
		if ok {
			out["price"] = p
		}
		return printJSON(cmd.OutOrStdout(), out)
	})
}
