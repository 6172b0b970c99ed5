package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"marketcache/internal/asset"
	"marketcache/internal/config"
	"marketcache/internal/fetcher"
	"marketcache/internal/segment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 7, 20, 0, 0, 0, 0, time.UTC)

func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestBuildWiresLocalStack(t *testing.T) {
	root := t.TempDir()
	cfg := loadConfig(t, `
cache:
  root: `+root+`
remote:
  mode: read-write
  backend: dir
  dir: `+filepath.Join(root, "remote")+`
  version: v1
fetch:
  source: none
ledger:
  enabled: true
  path: `+filepath.Join(root, "ledger.db")+`
pricing:
  window_start: "2024-07-01"
  window_end: "2024-07-19"
`)
	a, err := NewApp(context.Background(), cfg, WithClock(func() time.Time { return testNow }), WithoutHTTP())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Resolver())
	assert.NotNil(t, a.Catalog())
	assert.NotNil(t, a.Ledger())
	assert.Equal(t, "read-write", a.Summary.RemoteMode)
	assert.Equal(t, "none", a.Summary.FetchSource)
	assert.Equal(t, []string{"option"}, a.Summary.QuoteSubtypes)
	assert.Empty(t, a.Summary.HTTPAddr)

	opts := a.Resolver().Options()
	assert.Equal(t, asset.Minute, opts.Timeframe)
	assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), opts.Window.Start)

	var buf bytes.Buffer
	a.Summary.Print(&buf)
	assert.Contains(t, buf.String(), root)
	assert.Contains(t, buf.String(), "2024-07-01T00:00:00Z")
	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close(), "close is idempotent")
}

func TestBuildUsesInjectedFetcher(t *testing.T) {
	root := t.TempDir()
	cfg := loadConfig(t, "cache:\n  root: "+root+"\n  index_path: \"\"\n  watch: false\n")
	rows := []segment.Row{{Time: time.Date(2024, 7, 19, 20, 0, 0, 0, time.UTC), Open: 1, High: 1, Low: 1, Close: 1}}
	calls := 0
	a, err := NewApp(context.Background(), cfg,
		WithClock(func() time.Time { return testNow }),
		WithoutHTTP(),
		WithFetcher(func(config.FetchConfig) (fetcher.Fetcher, error) {
			return fetcher.Func(func(ctx context.Context, req fetcher.Request) ([]segment.Row, error) {
				calls++
				return fetcher.InRanges(rows, req.Ranges), nil
			}), nil
		}),
	)
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.Catalog(), "empty index path disables the catalog")
	assert.Nil(t, a.Ledger())

	key := asset.NewCacheKey(asset.NewKey("SPY", asset.Equity), asset.Day, asset.OHLC)
	bars, err := a.Resolver().Bars(context.Background(), key, testNow, 1)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 1.0, bars[0].Close)
	assert.Equal(t, 1, calls)

	_, err = a.Resolver().Bars(context.Background(), key, testNow, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second call is served from cache")
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := loadConfig(t, "cache:\n  root: "+t.TempDir()+"\nfetch:\n  source: none\n")
	a, err := NewApp(context.Background(), cfg, WithoutHTTP())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestBuildRejectsUnknownFetchSource(t *testing.T) {
	cfg := loadConfig(t, "cache:\n  root: "+t.TempDir()+"\n")
	cfg.Fetch.Source = "kraken"
	_, err := NewApp(context.Background(), cfg, WithoutHTTP())
	assert.Error(t, err)
}
