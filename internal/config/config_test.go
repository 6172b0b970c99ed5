package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "cache:\n  root: "+dir+"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "text", cfg.App.LogFormat)
	assert.Equal(t, dir+"/catalog.db", cfg.Cache.IndexPath)
	assert.True(t, cfg.Cache.Watch)
	assert.Equal(t, "disabled", cfg.Remote.Mode)
	assert.False(t, cfg.Remote.Enabled())
	assert.Equal(t, "binance", cfg.Fetch.Source)
	assert.Equal(t, 3, cfg.Fetch.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Fetch.InitialBackoff())
	assert.Equal(t, 2*time.Minute, cfg.Fetch.BreakerTimeout())
	assert.Equal(t, "1m", cfg.Pricing.DefaultTimeframe)
	assert.Equal(t, []string{"option"}, cfg.Pricing.QuoteSubtypes)
	assert.Equal(t, 72*time.Hour, cfg.Pricing.IntradaySpan())
	assert.Equal(t, 45*24*time.Hour, cfg.Pricing.DailySpan())
	assert.Equal(t, 15*time.Minute, cfg.Pricing.RecheckAge())
}

func TestLoadKeepsExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
cache:
  root: /tmp/mc
  index_path: ""
  watch: false
pricing:
  quote_subtypes: [Option, future, option]
  trade_lookback_seconds: 600
  recheck_age_seconds: 0
  window_start: "2024-07-01"
  window_end: "2024-07-31T00:00:00Z"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Cache.IndexPath, "explicit empty index path disables the catalog")
	assert.False(t, cfg.Cache.Watch)
	assert.Equal(t, []string{"option", "future"}, cfg.Pricing.QuoteSubtypes)
	assert.Equal(t, 10*time.Minute, cfg.Pricing.TradeLookback())
	assert.Zero(t, cfg.Pricing.RecheckAge(), "explicit zero turns rechecks off")

	start, end, err := cfg.Pricing.Window()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 7, 31, 0, 0, 0, 0, time.UTC), end)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "fetch:\n  source: none\n  max_attempts: 7\n")
	path := writeFile(t, dir, "config.yaml", "include: [base.yaml]\nfetch:\n  max_attempts: 2\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Fetch.Source)
	assert.Equal(t, 2, cfg.Fetch.MaxAttempts, "the including file wins")
	assert.Equal(t, []string{filepath.Join(dir, "base.yaml"), path}, cfg.Files)
}

func TestLoadAcceptsSingleInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "remote.yaml", "remote:\n  mode: ro\n  backend: dir\n  dir: /tmp/r\n  version: v2\n")
	path := writeFile(t, dir, "config.yaml", "include: remote.yaml\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Remote.Enabled())
	assert.Len(t, cfg.Files, 2)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	cases := map[string]string{
		"typo in remote":  "remote:\n  buckett: b\n",
		"typo in fetch":   "fetch:\n  max_retries: 3\n",
		"unknown section": "exchange:\n  name: x\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", body)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "parsing config failed")
		})
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestValidateRejectsBadSections(t *testing.T) {
	cases := map[string]string{
		"remote without version": "remote:\n  mode: read-write\n  bucket: b\n",
		"remote dir without dir": "remote:\n  mode: read-only\n  backend: dir\n  version: v1\n",
		"unknown remote mode":    "remote:\n  mode: sometimes\n",
		"unknown source":         "fetch:\n  source: kraken\n",
		"bad timeframe":          "pricing:\n  default_timeframe: 7m\n",
		"half window":            "pricing:\n  window_start: \"2024-07-01\"\n",
		"inverted window":        "pricing:\n  window_start: \"2024-07-31\"\n  window_end: \"2024-07-01\"\n",
		"bad subtype":            "pricing:\n  quote_subtypes: [bond]\n",
		"bad log format":         "app:\n  log_format: xml\n",
		"negative recheck age":   "pricing:\n  recheck_age_seconds: -5\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestRemoteDirBackendIsValid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", "remote:\n  mode: rw\n  backend: dir\n  dir: /tmp/remote\n  version: v3\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Remote.Enabled())
	assert.Equal(t, "dir", cfg.Remote.Backend)
}
