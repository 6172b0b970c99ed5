package asset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsKey(t *testing.T) {
	k, err := Params{Symbol: "spy"}.Key()
	require.NoError(t, err)
	assert.Equal(t, NewKey("SPY", Equity), k)

	opt, err := Params{Symbol: "SPY", Subtype: "option", Expiry: "2024-08-16", Strike: 560, Right: "P"}.Key()
	require.NoError(t, err)
	assert.Equal(t, Put, opt.Option.Right)
	assert.Equal(t, 100, opt.Option.Multiplier)
	assert.Equal(t, "20240816P00560000", opt.ContractID())

	_, err = Params{Symbol: "SPY", Subtype: "option", Expiry: "2024-08-16", Strike: 560, Right: "x"}.Key()
	assert.Error(t, err)
	_, err = Params{Symbol: "SPY", Subtype: "option", Expiry: "soon", Strike: 560, Right: "call"}.Key()
	assert.Error(t, err)
	_, err = Params{Subtype: "crypto"}.Key()
	assert.Error(t, err)
}

func TestParamsCacheKey(t *testing.T) {
	key, err := Params{Symbol: "BTCUSDT", Subtype: "crypto"}.CacheKey(Minute)
	require.NoError(t, err)
	assert.Equal(t, Minute, key.Timeframe)
	assert.Equal(t, OHLC, key.Kind)

	key, err = Params{Symbol: "SPY", Timeframe: "day", Kind: "quote"}.CacheKey(Minute)
	require.NoError(t, err)
	assert.Equal(t, Day, key.Timeframe)
	assert.Equal(t, Quote, key.Kind)

	_, err = Params{Symbol: "SPY", Timeframe: "7m"}.CacheKey(Minute)
	assert.Error(t, err)
}
