package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseForms(t *testing.T) {
	for _, in := range []string{"btc/usdt", "BTC-USDT", "BTCUSDT", "BTC/USDT:USDT"} {
		assert.Equal(t, "BTC/USDT", Normalize(in), in)
		assert.Equal(t, "BTCUSDT", ToBinance(in), in)
	}
	assert.False(t, IsValid("SPY"))
	assert.Equal(t, "SPY", ToBinance(" spy "))
}
