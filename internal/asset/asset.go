package asset

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Subtype 标识资产类别，决定交易所日历与缓存目录。
type Subtype string

const (
	Equity Subtype = "equity"
	Option Subtype = "option"
	Future Subtype = "future"
	Index  Subtype = "index"
	Forex  Subtype = "forex"
	Crypto Subtype = "crypto"
)

var knownSubtypes = map[Subtype]bool{
	Equity: true, Option: true, Future: true, Index: true, Forex: true, Crypto: true,
}

// ParseSubtype 解析资产类别（大小写不敏感），"stock" 视为 equity。
func ParseSubtype(s string) (Subtype, error) {
	v := Subtype(strings.ToLower(strings.TrimSpace(s)))
	if v == "stock" {
		v = Equity
	}
	if !knownSubtypes[v] {
		return "", fmt.Errorf("unknown asset subtype: %q", s)
	}
	return v, nil
}

// Right 是期权方向。
type Right string

const (
	Call Right = "call"
	Put  Right = "put"
)

// OptionSpec 只对 option 类资产有意义；Expiry 固定为 YYYY-MM-DD，保证 Key 可比较。
type OptionSpec struct {
	Strike     float64
	Expiry     string
	Right      Right
	Multiplier int
}

// Key 唯一标识一个可交易资产。零值 OptionSpec 表示非期权。
type Key struct {
	Symbol  string
	Subtype Subtype
	Option  OptionSpec
}

// NewKey 构造非期权资产。
func NewKey(symbol string, subtype Subtype) Key {
	return Key{Symbol: strings.ToUpper(strings.TrimSpace(symbol)), Subtype: subtype}
}

// NewOption 构造期权合约 Key，multiplier<=0 时按 100 处理。
func NewOption(underlying string, expiry time.Time, strike float64, right Right, multiplier int) Key {
	if multiplier <= 0 {
		multiplier = 100
	}
	return Key{
		Symbol:  strings.ToUpper(strings.TrimSpace(underlying)),
		Subtype: Option,
		Option: OptionSpec{
			Strike:     strike,
			Expiry:     expiry.Format(time.DateOnly),
			Right:      right,
			Multiplier: multiplier,
		},
	}
}

// IsOption reports whether the key carries contract attributes.
func (k Key) IsOption() bool {
	return k.Subtype == Option
}

func (k Key) Validate() error {
	if strings.TrimSpace(k.Symbol) == "" {
		return fmt.Errorf("asset symbol cannot be empty")
	}
	if !knownSubtypes[k.Subtype] {
		return fmt.Errorf("asset %s: unknown subtype %q", k.Symbol, k.Subtype)
	}
	if !k.IsOption() {
		if k.Option != (OptionSpec{}) {
			return fmt.Errorf("asset %s: option attributes on %s", k.Symbol, k.Subtype)
		}
		return nil
	}
	if k.Option.Strike <= 0 {
		return fmt.Errorf("option %s: strike must be > 0", k.Symbol)
	}
	if _, err := time.Parse(time.DateOnly, k.Option.Expiry); err != nil {
		return fmt.Errorf("option %s: invalid expiry %q", k.Symbol, k.Option.Expiry)
	}
	if k.Option.Right != Call && k.Option.Right != Put {
		return fmt.Errorf("option %s: right must be call or put", k.Symbol)
	}
	return nil
}

// ContractID 返回期权合约段，如 20240719C00550000；非期权返回空串。
func (k Key) ContractID() string {
	if !k.IsOption() {
		return ""
	}
	right := "C"
	if k.Option.Right == Put {
		right = "P"
	}
	expiry := strings.ReplaceAll(k.Option.Expiry, "-", "")
	strike := int64(k.Option.Strike*1000 + 0.5)
	id := fmt.Sprintf("%s%s%08d", expiry, right, strike)
	if k.Option.Multiplier != 0 && k.Option.Multiplier != 100 {
		id += "x" + strconv.Itoa(k.Option.Multiplier)
	}
	return id
}

func (k Key) String() string {
	if k.IsOption() {
		return fmt.Sprintf("%s:%s:%s", k.Symbol, k.Subtype, k.ContractID())
	}
	return fmt.Sprintf("%s:%s", k.Symbol, k.Subtype)
}
