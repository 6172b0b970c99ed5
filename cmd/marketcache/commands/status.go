package commands

import (
	"context"

	"marketcache/internal/app"
	"marketcache/internal/asset"

	"github.com/spf13/cobra"
)

var (
	statusParams   asset.Params
	sessionsKey    string
	sessionsLimit  int
	segmentsPrefix string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "查看某个 cache key 的覆盖区间与补数进度",
	RunE:  runStatus,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "列出账本中最近的补数会话",
	RunE:  runSessions,
}

var segmentsCmd = &cobra.Command{
	Use:   "segments",
	Short: "列出 catalog 中的缓存分段",
	RunE:  runSegments,
}

func init() {
	rootCmd.AddCommand(statusCmd, sessionsCmd, segmentsCmd)
	addAssetFlags(statusCmd, &statusParams)
	sessionsCmd.Flags().StringVar(&sessionsKey, "key", "", "按 cache key 过滤")
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 20, "最多返回条数")
	segmentsCmd.Flags().StringVar(&segmentsPrefix, "prefix", "", "按 key 前缀过滤")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		key, err := statusParams.CacheKey(a.Resolver().Options().Timeframe)
		if err != nil {
			return err
		}
		st, err := a.Resolver().CoverageStatus(ctx, key)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), st)
	})
}

func runSessions(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if a.Ledger() == nil {
			return errLedgerDisabled
		}
		list, err := a.Ledger().Recent(ctx, sessionsKey, sessionsLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), list)
	})
}

func runSegments(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if a.Catalog() == nil {
			return errCatalogDisabled
		}
		list, err := a.Catalog().List(ctx, segmentsPrefix)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), list)
	})
}
