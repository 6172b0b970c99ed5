package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketcache/internal/remote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTieredPublishesAndMaterializes(t *testing.T) {
	ctx := context.Background()
	bucket, err := remote.NewDirBackend(t.TempDir())
	require.NoError(t, err)

	writerTier, err := remote.New(remote.ReadWrite, bucket, "cache", "v7")
	require.NoError(t, err)
	writer := NewTiered(newStore(t), writerTier)
	seg := sampleSegment(spyMinute, time.Date(2024, 7, 17, 13, 30, 0, 0, time.UTC), 40)
	require.NoError(t, writer.Save(ctx, spyMinute, seg))

	_, ok, err := bucket.Get(ctx, "cache/v7/equity/SPY/1m_ohlc.seg")
	require.NoError(t, err)
	assert.True(t, ok)

	readerTier, err := remote.New(remote.ReadOnly, bucket, "cache", "v7")
	require.NoError(t, err)
	readerLocal := newStore(t)
	reader := NewTiered(readerLocal, readerTier)
	got, ok, err := reader.Load(ctx, spyMinute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, seg.Rows(), got.Rows())
	assert.FileExists(t, spyMinute.FilePath(readerLocal.Root()), "remote hit is materialized locally")
}

func TestTieredReadOnlyNeverUploads(t *testing.T) {
	ctx := context.Background()
	bucket, err := remote.NewDirBackend(t.TempDir())
	require.NoError(t, err)
	tier, err := remote.New(remote.ReadOnly, bucket, "", "v1")
	require.NoError(t, err)
	s := NewTiered(newStore(t), tier)
	require.NoError(t, s.Save(ctx, spyDaily, sampleSegment(spyDaily, time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC), 3)))

	_, ok, err := bucket.Get(ctx, "v1/equity/SPY/1d_ohlc.seg")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTieredRemoteMissIsMiss(t *testing.T) {
	ctx := context.Background()
	bucket, err := remote.NewDirBackend(t.TempDir())
	require.NoError(t, err)
	tier, err := remote.New(remote.ReadWrite, bucket, "", "v1")
	require.NoError(t, err)
	s := NewTiered(newStore(t), tier)
	_, ok, err := s.Load(ctx, spyDaily)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocksSerializeSameKey(t *testing.T) {
	locks := NewLocks()
	ctx := context.Background()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(ctx, spyMinute)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, locks.Len(), "entries are reclaimed")
}

func TestLocksIndependentKeysAndCancel(t *testing.T) {
	locks := NewLocks()
	unlockA, err := locks.Lock(context.Background(), spyMinute)
	require.NoError(t, err)
	unlockB, err := locks.Lock(context.Background(), spyDaily)
	require.NoError(t, err, "a different key is not blocked")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, spyMinute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlockA()
	unlockA()
	unlockB()
	assert.Equal(t, 0, locks.Len())
}
