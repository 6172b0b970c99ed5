package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const includeKey = "include"

// Load 读取 path 及其 include 链（被包含文件先合并，后者覆盖前者），应用默认值并校验。
// 未知字段直接报错；解析出的文件链记录在 Config.Files。
func Load(path string) (*Config, error) {
	chain, err := includeChain(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range chain {
		if err := mergeFile(v, file); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
	}
	cfg, err := decode(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.Files = chain
	cfg.applyDefaults(explicitKeys(v))
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeFile(v *viper.Viper, path string) error {
	tmp := viper.New()
	tmp.SetConfigFile(path)
	if err := tmp.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(tmp.AllSettings())
}

// decode 按 toml 标签解码合并后的配置树；include 只用于组装文件链，不参与解码。
func decode(settings map[string]any) (*Config, error) {
	delete(settings, includeKey)
	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "toml",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		Result: &cfg,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(settings); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// explicitKeys 收集配置文件里出现过的叶子键，默认值只填未出现的字段。
func explicitKeys(v *viper.Viper) keySet {
	keys := make(keySet)
	for _, k := range v.AllKeys() {
		if k == includeKey {
			continue
		}
		keys.mark(k)
	}
	return keys
}

// includeChain 深度优先展开 include，返回合并顺序（被包含者在前，入口文件最后）。
func includeChain(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &includeWalker{seen: make(map[string]bool)}
	if err := w.visit(abs); err != nil {
		return nil, err
	}
	return w.ordered, nil
}

type includeWalker struct {
	seen    map[string]bool
	active  []string
	ordered []string
}

func (w *includeWalker) visit(path string) error {
	path = filepath.Clean(path)
	for i, p := range w.active {
		if p == path {
			cycle := append(append([]string{}, w.active[i:]...), path)
			return fmt.Errorf("include cycle detected: %s", strings.Join(cycle, " -> "))
		}
	}
	if w.seen[path] {
		return nil
	}
	includes, err := readIncludes(path)
	if err != nil {
		return fmt.Errorf("parsing include failed (%s): %w", path, err)
	}
	w.active = append(w.active, path)
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := w.visit(inc); err != nil {
			return err
		}
	}
	w.active = w.active[:len(w.active)-1]
	w.seen[path] = true
	w.ordered = append(w.ordered, path)
	return nil
}

// readIncludes 读取单个文件的 include：字符串或字符串数组。
func readIncludes(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var raw []any
	switch val := v.Get(includeKey).(type) {
	case nil:
		return nil, nil
	case string:
		raw = []any{val}
	case []any:
		raw = val
	case []string:
		for _, s := range val {
			raw = append(raw, s)
		}
	default:
		return nil, fmt.Errorf("include must be a string or a string array")
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
