package progress

import (
	"sort"
	"sync"
	"time"

	"marketcache/internal/segment"

	"github.com/google/uuid"
)

const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Session 是一次针对单个 cache key 的补数会话。
type Session struct {
	ID        string          `json:"id"`
	Key       string          `json:"key"`
	Source    string          `json:"source"`
	Status    string          `json:"status"`
	Ranges    []segment.Range `json:"ranges"`
	Total     int             `json:"total"`
	Completed int             `json:"completed"`
	Rows      int             `json:"rows"`
	Message   string          `json:"message,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (s Session) copy() Session {
	out := s
	out.Ranges = append([]segment.Range(nil), s.Ranges...)
	return out
}

// Active reports whether the session has not finished yet.
func (s Session) Active() bool {
	return s.Status == StatusRunning
}

// Progress 返回已完成区间占比 [0,1]。
func (s Session) Progress() float64 {
	if s.Total <= 0 {
		return 1
	}
	return float64(s.Completed) / float64(s.Total)
}

// Observer 接收补数会话事件。实现必须并发安全且不阻塞。
type Observer interface {
	SessionStarted(s Session)
	RangeFetched(id string, rng segment.Range, rows int)
	SessionFinished(id string, status string, err error)
}

// NewSession 为 key 开启一个会话，ID 由 uuid 生成。
func NewSession(key, source string, ranges []segment.Range, now time.Time) Session {
	return Session{
		ID:        uuid.NewString(),
		Key:       key,
		Source:    source,
		Status:    StatusRunning,
		Ranges:    append([]segment.Range(nil), ranges...),
		Total:     len(ranges),
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Nop 丢弃所有事件。
type Nop struct{}

func (Nop) SessionStarted(Session)                  {}
func (Nop) RangeFetched(string, segment.Range, int) {}
func (Nop) SessionFinished(string, string, error)   {}

// Multi 把事件扇出到多个 observer。
type Multi []Observer

func (m Multi) SessionStarted(s Session) {
	for _, o := range m {
		o.SessionStarted(s)
	}
}

func (m Multi) RangeFetched(id string, rng segment.Range, rows int) {
	for _, o := range m {
		o.RangeFetched(id, rng, rows)
	}
}

func (m Multi) SessionFinished(id string, status string, err error) {
	for _, o := range m {
		o.SessionFinished(id, status, err)
	}
}

// Tracker 在内存中保存会话快照，供 coverage_status 查询。
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	byKey    map[string]string
	now      func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]*Session),
		byKey:    make(map[string]string),
		now:      time.Now,
	}
}

func (t *Tracker) SessionStarted(s Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := s.copy()
	t.sessions[s.ID] = &cp
	t.byKey[s.Key] = s.ID
}

func (t *Tracker) RangeFetched(id string, _ segment.Range, rows int) {
	t.update(id, func(s *Session) {
		s.Completed++
		s.Rows += rows
	})
}

func (t *Tracker) SessionFinished(id string, status string, err error) {
	t.update(id, func(s *Session) {
		s.Status = status
		if err != nil {
			s.Message = err.Error()
		}
	})
}

func (t *Tracker) update(id string, fn func(*Session)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[id]; ok {
		fn(s)
		s.UpdatedAt = t.now()
	}
}

// Latest 返回 key 最近一次会话。
func (t *Tracker) Latest(key string) (Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byKey[key]
	if !ok {
		return Session{}, false
	}
	return t.sessions[id].copy(), true
}

// Snapshot 返回会话副本，ID 对应不存在时 ok=false。
func (t *Tracker) Snapshot(id string) (Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	if !ok {
		return Session{}, false
	}
	return s.copy(), true
}

// Sessions 按开始时间返回全部会话副本。
func (t *Tracker) Sessions() []Session {
	t.mu.RLock()
	out := make([]Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s.copy())
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
