package adjust

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"marketcache/internal/asset"

	"gopkg.in/yaml.v3"
)

// Source 提供某资产的完整公司行为历史（不按窗口截断，保证摘要稳定）。
type Source interface {
	Actions(ctx context.Context, a asset.Key) ([]Action, error)
}

// adjustable: only cash equities and indices carry split/dividend history here.
func adjustable(a asset.Key) bool {
	return a.Subtype == asset.Equity || a.Subtype == asset.Index
}

// StaticSource 是内存中的行为表，按 symbol 索引。
type StaticSource map[string][]Action

func (s StaticSource) Actions(_ context.Context, a asset.Key) ([]Action, error) {
	if !adjustable(a) {
		return nil, nil
	}
	return s[strings.ToUpper(a.Symbol)], nil
}

type fileAction struct {
	Date       string  `yaml:"date"`
	SplitRatio float64 `yaml:"split_ratio"`
	Dividend   float64 `yaml:"dividend"`
}

type fileDoc struct {
	Actions map[string][]fileAction `yaml:"actions"`
}

// FileSource 从 YAML 文件读取行为表，首次访问时加载。
//
//	actions:
//	  AAPL:
//	    - {date: 2020-08-31, split_ratio: 4}
//	    - {date: 2015-05-07, dividend: 0.52}
type FileSource struct {
	path string

	once sync.Once
	data StaticSource
	err  error
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Actions(ctx context.Context, a asset.Key) ([]Action, error) {
	f.once.Do(func() { f.data, f.err = loadActionsFile(f.path) })
	if f.err != nil {
		return nil, f.err
	}
	return f.data.Actions(ctx, a)
}

func loadActionsFile(path string) (StaticSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read actions file failed: %w", err)
	}
	var doc fileDoc
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse actions file failed: %w", err)
	}
	out := make(StaticSource, len(doc.Actions))
	for symbol, list := range doc.Actions {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		for i, fa := range list {
			d, err := time.Parse(time.DateOnly, strings.TrimSpace(fa.Date))
			if err != nil {
				return nil, fmt.Errorf("actions.%s[%d]: invalid date %q", symbol, i, fa.Date)
			}
			if fa.SplitRatio < 0 || fa.Dividend < 0 {
				return nil, fmt.Errorf("actions.%s[%d]: negative values", symbol, i)
			}
			out[symbol] = append(out[symbol], Action{Date: d, SplitRatio: fa.SplitRatio, Dividend: fa.Dividend})
		}
	}
	return out, nil
}
