package remote

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Mode 选择远端层策略，只在构造时决定一次。
type Mode string

const (
	Disabled  Mode = "disabled"
	ReadWrite Mode = "read-write"
	ReadOnly  Mode = "read-only"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case Disabled, "":
		return Disabled, nil
	case ReadWrite, "readwrite", "rw":
		return ReadWrite, nil
	case ReadOnly, "readonly", "ro":
		return ReadOnly, nil
	default:
		return "", fmt.Errorf("unknown remote mode: %q", s)
	}
}

// Backend 是对象存储的最小读写接口。
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte) error
}

// Tier 以本地相对路径为参数访问远端对象；从不参与覆盖判断。
type Tier interface {
	Mode() Mode
	Writable() bool
	Fetch(ctx context.Context, rel string) ([]byte, bool, error)
	Put(ctx context.Context, rel string, data []byte) error
}

// New 按 mode 选择策略。disabled 不需要 backend。
func New(mode Mode, backend Backend, prefix, version string) (Tier, error) {
	switch mode {
	case Disabled, "":
		return disabledTier{}, nil
	case ReadWrite, ReadOnly:
		if backend == nil {
			return nil, fmt.Errorf("remote mode %s requires a backend", mode)
		}
		if strings.TrimSpace(version) == "" {
			return nil, fmt.Errorf("remote mode %s requires a version", mode)
		}
		return &objectTier{mode: mode, backend: backend, prefix: prefix, version: version}, nil
	default:
		return nil, fmt.Errorf("unknown remote mode: %q", mode)
	}
}

// ObjectKey 组装远端 key：{prefix}/{version}/{rel}。
func ObjectKey(prefix, version, rel string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{prefix, version, rel} {
		p = strings.Trim(strings.ReplaceAll(p, "\\", "/"), "/")
		if p != "" {
			parts = append(parts, p)
		}
	}
	return path.Join(parts...)
}

type disabledTier struct{}

func (disabledTier) Mode() Mode     { return Disabled }
func (disabledTier) Writable() bool { return false }

func (disabledTier) Fetch(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (disabledTier) Put(context.Context, string, []byte) error {
	return nil
}

type objectTier struct {
	mode    Mode
	backend Backend
	prefix  string
	version string
}

func (t *objectTier) Mode() Mode { return t.mode }

func (t *objectTier) Writable() bool { return t.mode == ReadWrite }

func (t *objectTier) Fetch(ctx context.Context, rel string) ([]byte, bool, error) {
	key := ObjectKey(t.prefix, t.version, rel)
	data, ok, err := t.backend.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("remote get %s: %w", key, err)
	}
	return data, ok, nil
}

// Put 在只读模式下静默跳过。
func (t *objectTier) Put(ctx context.Context, rel string, data []byte) error {
	if !t.Writable() {
		return nil
	}
	key := ObjectKey(t.prefix, t.version, rel)
	if err := t.backend.Put(ctx, key, data); err != nil {
		return fmt.Errorf("remote put %s: %w", key, err)
	}
	return nil
}
