package app

import (
	"fmt"
	"io"
	"strings"
	"time"

	"marketcache/internal/segment"
)

// StartupSummary 汇总启动时生效的缓存配置。
type StartupSummary struct {
	ConfigFiles   []string
	CacheRoot     string
	SchemaVersion string
	IndexPath     string
	RemoteMode    string
	FetchSource   string
	Timeframe     string
	QuoteSubtypes []string
	Window        segment.Range
	LedgerPath    string
	HTTPAddr      string
}

func (s *StartupSummary) Print(w io.Writer) {
	if s == nil {
		return
	}
	fmt.Fprintln(w, strings.Repeat("=", 80))
	fmt.Fprintf(w, "%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Fprintln(w, strings.Repeat("=", 80))

	fmt.Fprintln(w, "[配置文件 (CONFIG)]")
	fmt.Fprintf(w, "  合并顺序: %s\n", formatList(s.ConfigFiles))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[本地缓存 (CACHE)]")
	fmt.Fprintf(w, "  根目录: %s\n", s.CacheRoot)
	fmt.Fprintf(w, "  Schema: %s\n", s.SchemaVersion)
	fmt.Fprintf(w, "  Catalog: %s\n", orDash(s.IndexPath))
	fmt.Fprintf(w, "  远端层: %s\n", s.RemoteMode)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[数据源与定价 (SOURCE & PRICING)]")
	fmt.Fprintf(w, "  数据源: %s\n", s.FetchSource)
	fmt.Fprintf(w, "  默认周期: %s\n", s.Timeframe)
	fmt.Fprintf(w, "  报价定价类别: %s\n", formatList(s.QuoteSubtypes))
	fmt.Fprintf(w, "  回测窗口: %s\n", formatWindow(s.Window))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[运维 (OPS)]")
	fmt.Fprintf(w, "  账本: %s\n", orDash(s.LedgerPath))
	fmt.Fprintf(w, "  HTTP: %s\n", orDash(s.HTTPAddr))
	fmt.Fprintln(w, strings.Repeat("=", 80))
}

func formatWindow(r segment.Range) string {
	if r.IsZero() {
		return "实盘 (live)"
	}
	return r.Start.Format(time.RFC3339) + " ~ " + r.End.Format(time.RFC3339)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
