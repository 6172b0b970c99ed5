package cachehttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"marketcache/internal/asset"
	"marketcache/internal/coverage"
	"marketcache/internal/pricing"
	"marketcache/internal/progress"
	"marketcache/internal/segment"
	"marketcache/internal/store"

	"github.com/gin-gonic/gin"
)

// Pricer 是 HTTP 层依赖的定价能力，*pricing.Resolver 实现它。
type Pricer interface {
	Options() pricing.Options
	LastTrade(ctx context.Context, a asset.Key, at time.Time, opts ...pricing.QueryOption) (pricing.Price, bool)
	Mark(ctx context.Context, a asset.Key, at time.Time, opts ...pricing.QueryOption) (pricing.Price, bool)
	Bars(ctx context.Context, key asset.CacheKey, at time.Time, n int) ([]segment.Row, error)
	CoverageStatus(ctx context.Context, key asset.CacheKey) (pricing.Status, error)
	Prefetch(ctx context.Context, reqs []coverage.Request) error
	Invalidate(ctx context.Context, key asset.CacheKey) error
}

// SessionLister 列出最近的补数会话（ledger）。
type SessionLister interface {
	Recent(ctx context.Context, key string, limit int) ([]progress.Session, error)
}

// Catalog 列出已缓存的分段（catalog 索引）。
type Catalog interface {
	List(ctx context.Context, prefix string) ([]store.Manifest, error)
}

// Config 描述 HTTP Server 的依赖；Sessions/Catalog/Metrics 可为空。
type Config struct {
	Addr     string
	Pricer   Pricer
	Sessions SessionLister
	Catalog  Catalog
	Metrics  http.Handler
	Now      func() time.Time
}

// Server 暴露只读查询、预取与失效接口，以及 /metrics。
type Server struct {
	addr     string
	pricer   Pricer
	sessions SessionLister
	catalog  Catalog
	router   *gin.Engine
	now      func() time.Time
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Pricer == nil {
		return nil, errors.New("pricer 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9992"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	s := &Server{
		addr:     cfg.Addr,
		pricer:   cfg.Pricer,
		sessions: cfg.Sessions,
		catalog:  cfg.Catalog,
		router:   router,
		now:      cfg.Now,
	}
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	s.registerRoutes()
	return s, nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	api := s.router.Group("/api/cache")
	api.GET("/price", s.handlePrice)
	api.GET("/bars", s.handleBars)
	api.GET("/status", s.handleStatus)
	api.GET("/sessions", s.handleSessions)
	api.GET("/segments", s.handleSegments)
	api.POST("/prefetch", s.handlePrefetch)
	api.POST("/invalidate", s.handleInvalidate)
}

func (s *Server) bindKey(c *gin.Context) (asset.CacheKey, bool) {
	var p asset.Params
	if err := c.ShouldBindQuery(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return asset.CacheKey{}, false
	}
	key, err := p.CacheKey(s.pricer.Options().Timeframe)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return asset.CacheKey{}, false
	}
	return key, true
}

func (s *Server) bindAt(c *gin.Context) (time.Time, bool) {
	at, err := pricing.ParseAt(c.Query("at"), s.now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return time.Time{}, false
	}
	return at, true
}

func (s *Server) handlePrice(c *gin.Context) {
	key, ok := s.bindKey(c)
	if !ok {
		return
	}
	at, ok := s.bindAt(c)
	if !ok {
		return
	}
	opts := []pricing.QueryOption{pricing.WithTimeframe(key.Timeframe)}
	if raw := c.Query("lookback_seconds"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lookback_seconds 必须是非负整数"})
			return
		}
		opts = append(opts, pricing.WithLookback(time.Duration(secs)*time.Second))
	}
	var (
		price pricing.Price
		found bool
	)
	switch c.DefaultQuery("type", "trade") {
	case "trade":
		price, found = s.pricer.LastTrade(c.Request.Context(), key.Asset, at, opts...)
	case "mark":
		price, found = s.pricer.Mark(c.Request.Context(), key.Asset, at, opts...)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "type 只支持 trade 或 mark"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"key": key.Asset.String(), "at": at, "found": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key.Asset.String(), "at": at, "found": true, "price": price})
}

func (s *Server) handleBars(c *gin.Context) {
	key, ok := s.bindKey(c)
	if !ok {
		return
	}
	at, ok := s.bindAt(c)
	if !ok {
		return
	}
	n, err := strconv.Atoi(c.DefaultQuery("n", "100"))
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "n 必须是正整数"})
		return
	}
	rows, err := s.pricer.Bars(c.Request.Context(), key, at, n)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key.String(), "bars": rows})
}

func (s *Server) handleStatus(c *gin.Context) {
	key, ok := s.bindKey(c)
	if !ok {
		return
	}
	st, err := s.pricer.CoverageStatus(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleSessions(c *gin.Context) {
	if s.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger 未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	list, err := s.sessions.Recent(c.Request.Context(), c.Query("key"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

func (s *Server) handleSegments(c *gin.Context) {
	if s.catalog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "catalog 未启用"})
		return
	}
	list, err := s.catalog.List(c.Request.Context(), c.Query("prefix"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"segments": list})
}

type prefetchItem struct {
	asset.Params
	Start string `json:"start"`
	End   string `json:"end"`
	Rows  int    `json:"rows"`
}

func (s *Server) handlePrefetch(c *gin.Context) {
	var body struct {
		Items []prefetchItem `json:"items" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reqs := make([]coverage.Request, 0, len(body.Items))
	for i, item := range body.Items {
		req, err := s.coverageRequest(item)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "item": i})
			return
		}
		reqs = append(reqs, req)
	}
	if err := s.pricer.Prefetch(c.Request.Context(), reqs); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"prefetched": len(reqs)})
}

func (s *Server) coverageRequest(item prefetchItem) (coverage.Request, error) {
	key, err := item.CacheKey(s.pricer.Options().Timeframe)
	if err != nil {
		return coverage.Request{}, err
	}
	end, err := pricing.ParseAt(item.End, s.now())
	if err != nil {
		return coverage.Request{}, err
	}
	var req coverage.Request
	if item.Rows > 0 {
		req = coverage.ForLength(key, end, item.Rows)
	} else {
		start, err := pricing.ParseAt(item.Start, time.Time{})
		if err != nil {
			return coverage.Request{}, err
		}
		req = coverage.ForRange(key, start, end)
	}
	return req, req.Validate()
}

func (s *Server) handleInvalidate(c *gin.Context) {
	key, ok := s.bindKey(c)
	if !ok {
		return
	}
	if err := s.pricer.Invalidate(c.Request.Context(), key); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"invalidated": key.String()})
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
