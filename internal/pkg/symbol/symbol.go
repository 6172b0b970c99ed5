package symbol

import (
	"strings"
)

// Pair 是加密货币交易对（BTC/USDT）。缓存键里用 "BTC/USDT"，交易所请求里用 "BTCUSDT"。
type Pair struct {
	Base  string
	Quote string
}

func (p Pair) Internal() string {
	if p.Base == "" || p.Quote == "" {
		return ""
	}
	return p.Base + "/" + p.Quote
}

func (p Pair) Binance() string {
	if p.Base == "" || p.Quote == "" {
		return ""
	}
	return p.Base + p.Quote
}

var quoteCurrencies = []string{"USDT", "BUSD", "USDC", "TUSD", "FDUSD", "BTC", "ETH", "BNB"}

// Parse 接受 "btc/usdt"、"BTC-USDT"、"BTCUSDT" 或 "BTC/USDT:USDT"。
func Parse(s string) Pair {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Pair{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	for _, sep := range []string{"/", "-", "_"} {
		if parts := strings.SplitN(s, sep, 2); len(parts) == 2 {
			return Pair{Base: strings.TrimSpace(parts[0]), Quote: strings.TrimSpace(parts[1])}
		}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Pair{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Pair{}
}

func Normalize(s string) string {
	return Parse(s).Internal()
}

// ToBinance 返回交易所格式；无法识别时原样大写返回。
func ToBinance(s string) string {
	if p := Parse(s); p.Base != "" {
		return p.Binance()
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

func IsValid(s string) bool {
	p := Parse(s)
	return p.Base != "" && p.Quote != ""
}
