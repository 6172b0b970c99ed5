package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"marketcache/internal/asset"
	"marketcache/internal/fetcher"
	"marketcache/internal/logger"
	symbolpkg "marketcache/internal/pkg/symbol"
	"marketcache/internal/segment"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const maxHistoryLimit = 1500

// Source 基于 go-binance SDK 拉取 U 本位合约 K 线，只服务 crypto 资产的 OHLC 数据。
type Source struct {
	cfg    Config
	client *futures.Client
	now    func() time.Time
}

func New(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Source{cfg: final, client: client, now: time.Now}, nil
}

func (s *Source) Name() string { return "binance" }

func (s *Source) Fetch(ctx context.Context, req fetcher.Request) ([]segment.Row, error) {
	if req.Asset.Subtype != asset.Crypto {
		return nil, fmt.Errorf("%w: binance serves crypto only, got %s", fetcher.ErrInvalidRequest, req.Asset)
	}
	if req.Kind != asset.OHLC {
		return nil, fmt.Errorf("%w: binance has no historical %s data", fetcher.ErrInvalidRequest, req.Kind)
	}
	if !symbolpkg.IsValid(req.Asset.Symbol) {
		return nil, fmt.Errorf("%w: unknown pair %q", fetcher.ErrInvalidRequest, req.Asset.Symbol)
	}
	clean := symbolpkg.ToBinance(req.Asset.Symbol)
	interval := req.Timeframe.SourceInterval
	step := req.Timeframe.Duration.Milliseconds()

	var out []segment.Row
	for _, rng := range req.Ranges {
		cursor := rng.Start.UnixMilli()
		end := rng.End.UnixMilli()
		for cursor <= end {
			kls, err := s.client.NewKlinesService().
				Symbol(clean).
				Interval(interval).
				StartTime(cursor).
				EndTime(end).
				Limit(maxHistoryLimit).
				Do(ctx)
			if err != nil {
				return nil, s.classify(err)
			}
			if len(kls) == 0 {
				break
			}
			out = append(out, s.rows(kls)...)
			last := kls[len(kls)-1].OpenTime
			if len(kls) < maxHistoryLimit {
				break
			}
			cursor = last + step
		}
	}
	logger.Debugf("[binance] %s %s %d ranges -> %d rows", clean, interval, len(req.Ranges), len(out))
	return out, nil
}

// rows 转换 K 线并丢弃尚未收盘的最后一根。
func (s *Source) rows(kls []*futures.Kline) []segment.Row {
	nowMs := s.now().UnixMilli()
	out := make([]segment.Row, 0, len(kls))
	for _, kl := range kls {
		if kl == nil || kl.CloseTime >= nowMs {
			continue
		}
		out = append(out, segment.Row{
			Time:   time.UnixMilli(kl.OpenTime).UTC(),
			Open:   parseFloat(kl.Open),
			High:   parseFloat(kl.High),
			Low:    parseFloat(kl.Low),
			Close:  parseFloat(kl.Close),
			Volume: parseFloat(kl.Volume),
		})
	}
	return out
}

func (s *Source) classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == -1003:
			return &fetcher.RateLimitedError{RetryAfter: s.cfg.RateLimitWait}
		case apiErr.Code <= -1100 && apiErr.Code >= -1199:
			return fmt.Errorf("%w: %s", fetcher.ErrInvalidRequest, apiErr.Message)
		}
		return &fetcher.FetchFailedError{Source: s.Name(), Retryable: false, Err: err}
	}
	return &fetcher.FetchFailedError{Source: s.Name(), Retryable: true, Err: err}
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
