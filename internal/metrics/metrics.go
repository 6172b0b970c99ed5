package metrics

import (
	"net/http"

	"marketcache/internal/asset"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketcache"

// Cache 汇总缓存命中、补数与完整性相关的计数器。nil *Cache 上的方法都是空操作。
type Cache struct {
	registry *prometheus.Registry

	hits         *prometheus.CounterVec
	misses       *prometheus.CounterVec
	fetchedRows  *prometheus.CounterVec
	fetchFailure *prometheus.CounterVec
	corrupt      *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec
}

func New() *Cache {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Cache{
		registry: reg,
		hits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "cache_hits_total",
			Help:      "Queries answered entirely from cached segments",
		}, []string{"subtype", "timeframe"}),
		misses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "cache_misses_total",
			Help:      "Queries that required a remote fetch",
		}, []string{"subtype", "timeframe"}),
		fetchedRows: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "rows_total",
			Help:      "Rows received from data sources after quality filtering",
		}, []string{"source"}),
		fetchFailure: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "failures_total",
			Help:      "Fetch sessions that ended with an error",
		}, []string{"source"}),
		corrupt: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "corrupt_segments_total",
			Help:      "Segments discarded by integrity checks",
		}, []string{"subtype", "timeframe"}),
		fetchLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Wall time of one fetch call including retries",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"source"}),
	}
}

func (c *Cache) Hit(subtype, timeframe string) {
	if c != nil {
		c.hits.WithLabelValues(subtype, timeframe).Inc()
	}
}

func (c *Cache) Miss(subtype, timeframe string) {
	if c != nil {
		c.misses.WithLabelValues(subtype, timeframe).Inc()
	}
}

func (c *Cache) Fetched(source string, rows int, seconds float64) {
	if c != nil {
		c.fetchedRows.WithLabelValues(source).Add(float64(rows))
		c.fetchLatency.WithLabelValues(source).Observe(seconds)
	}
}

func (c *Cache) FetchFailed(source string) {
	if c != nil {
		c.fetchFailure.WithLabelValues(source).Inc()
	}
}

// Corrupt 的签名与 store.WithCorruptHook 一致，可直接传入；原因只进日志，不做标签。
func (c *Cache) Corrupt(key asset.CacheKey, _ string) {
	if c != nil {
		c.corrupt.WithLabelValues(string(key.Asset.Subtype), key.Timeframe.Key).Inc()
	}
}

func (c *Cache) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler 返回 /metrics 处理器。
func (c *Cache) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
