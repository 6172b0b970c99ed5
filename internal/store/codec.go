package store

import (
	"fmt"
	"time"

	"marketcache/internal/segment"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

const codecVersion = 1

// encodedSegment 是数据文件的 msgpack 载荷（zstd 压缩后落盘）。
type encodedSegment struct {
	Version       int           `msgpack:"ver"`
	Key           string        `msgpack:"key"`
	SchemaVersion string        `msgpack:"schema"`
	CoverageStart int64         `msgpack:"cov_start"`
	CoverageEnd   int64         `msgpack:"cov_end"`
	SplitAdjusted bool          `msgpack:"adjusted"`
	ActionsDigest string        `msgpack:"actions"`
	Frame         segment.Frame `msgpack:"frame"`
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

func encodeSegment(seg *segment.Segment) ([]byte, error) {
	payload := encodedSegment{
		Version:       codecVersion,
		Key:           seg.Key.String(),
		SchemaVersion: seg.SchemaVersion,
		CoverageStart: unixNanoOrZero(seg.CoverageStart),
		CoverageEnd:   unixNanoOrZero(seg.CoverageEnd),
		SplitAdjusted: seg.SplitAdjusted,
		ActionsDigest: seg.ActionsDigest,
		Frame:         seg.Frame,
	}
	raw, err := msgpack.Marshal(&payload)
	if err != nil {
		return nil, fmt.Errorf("encode segment %s: %w", seg.Key, err)
	}
	return zstdEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/3)), nil
}

func decodeSegment(data []byte, seg *segment.Segment) error {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	var payload encodedSegment
	if err := msgpack.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if payload.Version != codecVersion {
		return fmt.Errorf("unsupported codec version %d", payload.Version)
	}
	if !payload.Frame.Consistent() {
		return fmt.Errorf("column lengths differ")
	}
	for i := 1; i < len(payload.Frame.Times); i++ {
		if payload.Frame.Times[i] <= payload.Frame.Times[i-1] {
			return fmt.Errorf("timestamps not strictly increasing at row %d", i)
		}
	}
	if payload.Key != seg.Key.String() {
		return fmt.Errorf("key mismatch: file holds %s", payload.Key)
	}
	seg.Frame = payload.Frame
	seg.SchemaVersion = payload.SchemaVersion
	seg.CoverageStart = timeOrZero(payload.CoverageStart)
	seg.CoverageEnd = timeOrZero(payload.CoverageEnd)
	seg.SplitAdjusted = payload.SplitAdjusted
	seg.ActionsDigest = payload.ActionsDigest
	return nil
}

func checksum(data []byte) string {
	return fmt.Sprintf("xxh64:%016x", xxhash.Sum64(data))
}

func unixNanoOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func timeOrZero(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
