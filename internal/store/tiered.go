package store

import (
	"context"

	"marketcache/internal/asset"
	"marketcache/internal/logger"
	"marketcache/internal/remote"
	"marketcache/internal/segment"
)

// Tiered 在本地 FileStore 之上叠加远端层：本地未命中时从远端拉取并落地，
// 本地保存后在可写模式下推送到远端。远端错误只记录日志，不影响本地结果。
type Tiered struct {
	local *FileStore
	tier  remote.Tier
}

func NewTiered(local *FileStore, tier remote.Tier) *Tiered {
	return &Tiered{local: local, tier: tier}
}

func (t *Tiered) Local() *FileStore { return t.local }

func (t *Tiered) Load(ctx context.Context, key asset.CacheKey) (*segment.Segment, bool, error) {
	seg, ok, err := t.local.Load(ctx, key)
	if err != nil || ok || t.tier == nil || t.tier.Mode() == remote.Disabled {
		return seg, ok, err
	}
	rel := key.RelPath()
	side, found, err := t.tier.Fetch(ctx, rel+manifestSuffix)
	if err != nil {
		logger.Warnf("[store] remote sidecar %s: %v", key, err)
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}
	data, found, err := t.tier.Fetch(ctx, rel)
	if err != nil {
		logger.Warnf("[store] remote segment %s: %v", key, err)
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}
	if err := t.local.writeRaw(key, data, side); err != nil {
		return nil, false, err
	}
	logger.Infof("[store] %s materialized from remote (%d bytes)", key, len(data))
	return t.local.Load(ctx, key)
}

func (t *Tiered) Save(ctx context.Context, key asset.CacheKey, seg *segment.Segment) error {
	if err := t.local.Save(ctx, key, seg); err != nil {
		return err
	}
	if t.tier == nil || !t.tier.Writable() {
		return nil
	}
	data, side, err := t.local.readRaw(key)
	if err != nil {
		logger.Warnf("[store] read back %s for upload: %v", key, err)
		return nil
	}
	rel := key.RelPath()
	if err := t.tier.Put(ctx, rel, data); err != nil {
		logger.Warnf("[store] upload %s: %v", key, err)
		return nil
	}
	if err := t.tier.Put(ctx, rel+manifestSuffix, side); err != nil {
		logger.Warnf("[store] upload sidecar %s: %v", key, err)
	}
	return nil
}

func (t *Tiered) Merge(ctx context.Context, key asset.CacheKey, rows []segment.Row, opts ...MergeOption) (*segment.Segment, error) {
	return mergeVia(ctx, t, key, rows, opts)
}

// Delete only touches the local tier; remote objects are shared and versioned.
func (t *Tiered) Delete(ctx context.Context, key asset.CacheKey) error {
	return t.local.Delete(ctx, key)
}

func (t *Tiered) Bounds(ctx context.Context, key asset.CacheKey) (Manifest, bool, error) {
	return t.local.Bounds(ctx, key)
}
