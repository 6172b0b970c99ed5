package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"marketcache/internal/app"
	"marketcache/internal/asset"
	"marketcache/internal/config"
	"marketcache/internal/logger"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "marketcache",
	Short: "行情缓存与点时定价",
	Long: `marketcache 缓存分段行情并回答 "时刻 T 可以观察到的价格"。

Examples:
  marketcache serve
  marketcache price --symbol SPY --at 2024-07-18T14:00:00Z --type mark
  marketcache bars --symbol BTCUSDT --subtype crypto --timeframe 1h --n 50
  marketcache prefetch --symbol SPY --timeframe 1d --start 2024-01-01 --end 2024-07-19`,
	SilenceUsage: true,
}

// Execute 运行根命令。
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	def := os.Getenv("MARKETCACHE_CONFIG")
	if def == "" {
		def = "configs/config.yaml"
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", def, "配置文件路径（环境变量 MARKETCACHE_CONFIG）")
}

// openApp 加载配置、初始化日志并构建应用；调用方负责 Close 和关闭返回的日志文件。
func openApp(ctx context.Context, opts ...app.AppBuilderOption) (*app.App, *os.File, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置失败: %w", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath, cfg.App.LogFormat)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志文件失败: %w", err)
	}
	a, err := app.NewApp(ctx, cfg, opts...)
	if err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, nil, fmt.Errorf("初始化应用失败: %w", err)
	}
	return a, logFile, nil
}

// withApp 为一次性命令构建不带 HTTP 的应用。
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, logFile, err := openApp(ctx, app.WithoutHTTP())
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}
	defer a.Close()
	return fn(ctx, a)
}

func setupLogOutput(path, format string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		logger.Configure(os.Stderr, format)
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stderr, file)
	log.SetOutput(mw)
	logger.Configure(mw, format)
	return file, nil
}

func addAssetFlags(cmd *cobra.Command, p *asset.Params) {
	f := cmd.Flags()
	f.StringVar(&p.Symbol, "symbol", "", "标的代码（期权填标的资产）")
	f.StringVar(&p.Subtype, "subtype", "equity", "资产类别 equity|option|future|index|forex|crypto")
	f.StringVar(&p.Expiry, "expiry", "", "期权到期日 YYYY-MM-DD")
	f.Float64Var(&p.Strike, "strike", 0, "期权行权价")
	f.StringVar(&p.Right, "right", "", "期权方向 call|put")
	f.IntVar(&p.Multiplier, "multiplier", 100, "期权合约乘数")
	f.StringVar(&p.Timeframe, "timeframe", "", "周期（默认取 pricing.default_timeframe）")
	f.StringVar(&p.Kind, "kind", "ohlc", "数据类型 ohlc|quote")
	_ = cmd.MarkFlagRequired("symbol")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
