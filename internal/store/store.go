package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketcache/internal/asset"
	"marketcache/internal/placeholder"
	"marketcache/internal/segment"
)

// SegmentStore 持久化分段。Load 未命中返回 (nil,false,nil)；损坏文件按未命中处理。
type SegmentStore interface {
	Load(ctx context.Context, key asset.CacheKey) (*segment.Segment, bool, error)
	Save(ctx context.Context, key asset.CacheKey, seg *segment.Segment) error
	Merge(ctx context.Context, key asset.CacheKey, rows []segment.Row, opts ...MergeOption) (*segment.Segment, error)
	Delete(ctx context.Context, key asset.CacheKey) error
	Bounds(ctx context.Context, key asset.CacheKey) (Manifest, bool, error)
}

// ErrActionsChanged is returned when merging rows adjusted under a different corporate-action set.
var ErrActionsChanged = errors.New("segment adjusted under a different corporate action set")

// CorruptSegmentError 描述一次完整性校验失败；store 会删除文件并按未命中处理。
type CorruptSegmentError struct {
	Key    string
	Reason string
	Err    error
}

func (e *CorruptSegmentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt segment %s: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt segment %s: %s", e.Key, e.Reason)
}

func (e *CorruptSegmentError) Unwrap() error { return e.Err }

// Manifest 是分段 sidecar 的内容，也是 catalog 索引的一行。
type Manifest struct {
	Key           string    `json:"key"`
	Path          string    `json:"path"`
	SchemaVersion string    `json:"schema_version"`
	CoverageStart time.Time `json:"coverage_start"`
	CoverageEnd   time.Time `json:"coverage_end"`
	Rows          int       `json:"rows"`
	Placeholders  int       `json:"placeholders"`
	Bytes         int64     `json:"bytes"`
	Checksum      string    `json:"checksum"`
	SplitAdjusted bool      `json:"split_adjusted"`
	ActionsDigest string    `json:"actions_digest"`
	LastSyncAt    time.Time `json:"last_sync_at"`
}

// Coverage returns the covered range recorded in the sidecar.
func (m Manifest) Coverage() segment.Range {
	return segment.Range{Start: m.CoverageStart, End: m.CoverageEnd}
}

type mergeOptions struct {
	adjusted bool
	digest   string
	coverage []segment.Range
}

// MergeOption tunes Merge.
type MergeOption func(*mergeOptions)

// WithActionsDigest 声明 rows 已按给定公司行为集合调整过。
func WithActionsDigest(digest string) MergeOption {
	return func(o *mergeOptions) {
		o.adjusted = true
		o.digest = digest
	}
}

// WithCoverage 声明 rows 是 rng 的完整抓取结果：rng 内旧的占位行被替换，
// 没有行的时段标记为占位，覆盖区间扩展到 rng。rng 必须已截到已完成的 bar。
func WithCoverage(rng segment.Range) MergeOption {
	return func(o *mergeOptions) {
		o.coverage = append(o.coverage, rng)
	}
}

// mergeVia 是 Merge 的通用实现：load → 合并 → save。调用方负责持有 key 锁。
func mergeVia(ctx context.Context, s SegmentStore, key asset.CacheKey, rows []segment.Row, opts []MergeOption) (*segment.Segment, error) {
	var o mergeOptions
	for _, opt := range opts {
		opt(&o)
	}
	existing, ok, err := s.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		existing = segment.New(key)
	}
	if !existing.Empty() {
		if existing.SplitAdjusted != o.adjusted || existing.ActionsDigest != o.digest {
			return nil, fmt.Errorf("merge %s: %w", key, ErrActionsChanged)
		}
	}
	merged := existing
	rest := rows
	for _, rng := range o.coverage {
		var in []segment.Row
		in, rest = splitByRange(rest, rng)
		merged = placeholder.Heal(merged, rng, in)
		merged = placeholder.MarkMissing(merged, rng, time.Time{})
	}
	merged = segment.Merge(merged, key, rest)
	merged.SplitAdjusted = o.adjusted
	merged.ActionsDigest = o.digest
	if err := s.Save(ctx, key, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

func splitByRange(rows []segment.Row, rng segment.Range) (in, out []segment.Row) {
	for _, r := range rows {
		if rng.Contains(r.Time) {
			in = append(in, r)
		} else {
			out = append(out, r)
		}
	}
	return in, out
}
