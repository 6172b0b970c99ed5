package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"marketcache/internal/logger"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 查询服务与缓存目录监听",
	Long: `启动 /api/cache/* 查询接口与 /metrics，并监听缓存根目录。
Ctrl+C 退出。`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a, logFile, err := openApp(ctx)
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}
	defer a.Close()
	a.Summary.Print(cmd.OutOrStdout())
	logger.Infof("✓ marketcache 已启动")
	return a.Run(ctx)
}
