package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"marketcache/internal/asset"
	"marketcache/internal/logger"
	"marketcache/internal/segment"
)

// FileStore 把每个 CacheKey 存成一个数据文件 + 一个 JSON sidecar。
type FileStore struct {
	root          string
	schemaVersion string
	index         *Index
	onCorrupt     func(key asset.CacheKey, reason string)
	now           func() time.Time
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithIndex mirrors every sidecar into the catalog index.
func WithIndex(idx *Index) FileOption {
	return func(s *FileStore) { s.index = idx }
}

// WithCorruptHook is called after a corrupt segment has been removed.
func WithCorruptHook(fn func(key asset.CacheKey, reason string)) FileOption {
	return func(s *FileStore) { s.onCorrupt = fn }
}

func WithClock(now func() time.Time) FileOption {
	return func(s *FileStore) { s.now = now }
}

func NewFileStore(root, schemaVersion string, opts ...FileOption) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("cache root cannot be empty")
	}
	if strings.TrimSpace(schemaVersion) == "" {
		return nil, fmt.Errorf("schema version cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	s := &FileStore{root: root, schemaVersion: schemaVersion, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *FileStore) Root() string { return s.root }

func (s *FileStore) SchemaVersion() string { return s.schemaVersion }

func (s *FileStore) paths(key asset.CacheKey) (string, string) {
	data := key.FilePath(s.root)
	return data, data + manifestSuffix
}

// Load 读取并校验分段。schema 版本不符或完整性失败都会删除文件并返回未命中。
func (s *FileStore) Load(ctx context.Context, key asset.CacheKey) (*segment.Segment, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	dataPath, sidePath := s.paths(key)
	rawSide, err := os.ReadFile(sidePath)
	if errors.Is(err, fs.ErrNotExist) {
		if _, statErr := os.Stat(dataPath); statErr == nil {
			s.discard(ctx, key, &CorruptSegmentError{Key: key.String(), Reason: "sidecar missing"})
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read sidecar %s: %w", sidePath, err)
	}
	man, err := parseManifest(rawSide)
	if err != nil {
		s.discard(ctx, key, &CorruptSegmentError{Key: key.String(), Reason: "sidecar invalid", Err: err})
		return nil, false, nil
	}
	if man.SchemaVersion != s.schemaVersion {
		logger.Infof("[store] %s schema %s != %s, invalidating", key, man.SchemaVersion, s.schemaVersion)
		if err := s.Delete(ctx, key); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	data, err := os.ReadFile(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		s.discard(ctx, key, &CorruptSegmentError{Key: key.String(), Reason: "data file missing"})
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read segment %s: %w", dataPath, err)
	}
	if int64(len(data)) != man.Bytes {
		s.discard(ctx, key, &CorruptSegmentError{Key: key.String(), Reason: fmt.Sprintf("size %d != %d", len(data), man.Bytes)})
		return nil, false, nil
	}
	if sum := checksum(data); sum != man.Checksum {
		s.discard(ctx, key, &CorruptSegmentError{Key: key.String(), Reason: fmt.Sprintf("checksum %s != %s", sum, man.Checksum)})
		return nil, false, nil
	}
	seg := segment.New(key)
	if err := decodeSegment(data, seg); err != nil {
		s.discard(ctx, key, &CorruptSegmentError{Key: key.String(), Reason: "decode failed", Err: err})
		return nil, false, nil
	}
	if seg.Len() != man.Rows {
		s.discard(ctx, key, &CorruptSegmentError{Key: key.String(), Reason: fmt.Sprintf("rows %d != %d", seg.Len(), man.Rows)})
		return nil, false, nil
	}
	seg.SyncedAt = man.LastSyncAt
	return seg, true, nil
}

// Save 原子写入：先数据文件后 sidecar，均为同目录临时文件 + rename。
func (s *FileStore) Save(ctx context.Context, key asset.CacheKey, seg *segment.Segment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if seg == nil {
		return fmt.Errorf("save %s: nil segment", key)
	}
	if err := key.Validate(); err != nil {
		return err
	}
	seg.Key = key
	seg.SchemaVersion = s.schemaVersion
	stamp := s.now().UTC()
	data, err := encodeSegment(seg)
	if err != nil {
		return err
	}
	dataPath, sidePath := s.paths(key)
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return err
	}
	if err := writeAtomic(dataPath, data); err != nil {
		return fmt.Errorf("write segment %s: %w", key, err)
	}
	man := Manifest{
		Key:           key.String(),
		Path:          key.RelPath(),
		SchemaVersion: s.schemaVersion,
		CoverageStart: seg.CoverageStart.UTC(),
		CoverageEnd:   seg.CoverageEnd.UTC(),
		Rows:          seg.Len(),
		Placeholders:  seg.PlaceholderCount(),
		Bytes:         int64(len(data)),
		Checksum:      checksum(data),
		SplitAdjusted: seg.SplitAdjusted,
		ActionsDigest: seg.ActionsDigest,
		LastSyncAt:    stamp,
	}
	rawSide, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomic(sidePath, rawSide); err != nil {
		return fmt.Errorf("write sidecar %s: %w", key, err)
	}
	seg.SyncedAt = stamp
	if s.index != nil {
		if err := s.index.Upsert(ctx, man); err != nil {
			logger.Warnf("[store] catalog upsert %s failed: %v", key, err)
		}
	}
	return nil
}

func (s *FileStore) Merge(ctx context.Context, key asset.CacheKey, rows []segment.Row, opts ...MergeOption) (*segment.Segment, error) {
	return mergeVia(ctx, s, key, rows, opts)
}

// Delete removes the segment and its sidecar; missing files are not an error.
func (s *FileStore) Delete(ctx context.Context, key asset.CacheKey) error {
	dataPath, sidePath := s.paths(key)
	var errs []error
	for _, p := range []string{sidePath, dataPath} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if s.index != nil {
		if err := s.index.Remove(ctx, key.String()); err != nil {
			logger.Warnf("[store] catalog remove %s failed: %v", key, err)
		}
	}
	return errors.Join(errs...)
}

// Bounds 只读 sidecar 的覆盖区间与行数，不解码数据文件。
func (s *FileStore) Bounds(ctx context.Context, key asset.CacheKey) (Manifest, bool, error) {
	if err := ctx.Err(); err != nil {
		return Manifest{}, false, err
	}
	_, sidePath := s.paths(key)
	raw, err := os.ReadFile(sidePath)
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, false, nil
	}
	if err != nil {
		return Manifest{}, false, err
	}
	man, err := peekManifest(raw)
	if err != nil {
		return Manifest{}, false, nil
	}
	if man.SchemaVersion != s.schemaVersion {
		return Manifest{}, false, nil
	}
	man.Path = key.RelPath()
	return man, true, nil
}

// readRaw returns the raw data file and sidecar bytes, used by the tiered store to publish.
func (s *FileStore) readRaw(key asset.CacheKey) ([]byte, []byte, error) {
	dataPath, sidePath := s.paths(key)
	data, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, nil, err
	}
	side, err := os.ReadFile(sidePath)
	if err != nil {
		return nil, nil, err
	}
	return data, side, nil
}

// writeRaw materializes bytes obtained from a remote tier; Load validates them afterwards.
func (s *FileStore) writeRaw(key asset.CacheKey, data, side []byte) error {
	dataPath, sidePath := s.paths(key)
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return err
	}
	if err := writeAtomic(dataPath, data); err != nil {
		return err
	}
	return writeAtomic(sidePath, side)
}

func (s *FileStore) discard(ctx context.Context, key asset.CacheKey, cerr *CorruptSegmentError) {
	logger.Warnf("[store] %v; removing", cerr)
	if err := s.Delete(ctx, key); err != nil {
		logger.Errorf("[store] remove corrupt %s failed: %v", key, err)
	}
	if s.onCorrupt != nil {
		s.onCorrupt(key, cerr.Reason)
	}
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
