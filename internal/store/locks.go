package store

import (
	"context"
	"sync"

	"marketcache/internal/asset"
)

// Locks 是按 CacheKey 划分的互斥表；条目按引用计数回收。
// 同一 key 的 load→fetch→merge→save 序列必须在锁内完成。
type Locks struct {
	mu      sync.Mutex
	entries map[asset.CacheKey]*lockEntry
}

type lockEntry struct {
	ch   chan struct{}
	refs int
}

func NewLocks() *Locks {
	return &Locks{entries: make(map[asset.CacheKey]*lockEntry)}
}

// Lock blocks until key is held or ctx is done. The returned func releases it.
func (l *Locks) Lock(ctx context.Context, key asset.CacheKey) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e, false)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, e, true) })
	}, nil
}

func (l *Locks) release(key asset.CacheKey, e *lockEntry, held bool) {
	if held {
		<-e.ch
	}
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}

// Len reports how many keys currently have holders or waiters.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
