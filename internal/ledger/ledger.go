package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"marketcache/internal/logger"
	"marketcache/internal/pkg/text"
	"marketcache/internal/progress"
	"marketcache/internal/segment"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const writeTimeout = 5 * time.Second

// Ledger 把补数会话持久化到 SQLite，实现 progress.Observer。
type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

var _ progress.Observer = (*Ledger)(nil)

func Open(path string) (*Ledger, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("ledger: 路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&sessionModel{}, &rangeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return &Ledger{db: db, now: time.Now}, nil
}

func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (l *Ledger) SessionStarted(s progress.Session) {
	raw, err := json.Marshal(s.Ranges)
	if err != nil {
		logger.Warnf("[ledger] encode ranges for %s: %v", s.ID, err)
		return
	}
	m := sessionModel{
		ID:        s.ID,
		CacheKey:  s.Key,
		Source:    s.Source,
		Status:    s.Status,
		Ranges:    datatypes.JSON(raw),
		Total:     s.Total,
		Completed: s.Completed,
		Rows:      s.Rows,
		StartedAt: s.StartedAt.UnixMilli(),
		UpdatedAt: s.UpdatedAt.UnixMilli(),
	}
	l.write("start", s.ID, func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&m).Error
	})
}

func (l *Ledger) RangeFetched(id string, rng segment.Range, rows int) {
	now := l.now().UnixMilli()
	l.write("range", id, func(db *gorm.DB) error {
		return db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&rangeModel{
				SessionID: id,
				Start:     rng.Start.UnixMilli(),
				End:       rng.End.UnixMilli(),
				Rows:      rows,
				FetchedAt: now,
			}).Error; err != nil {
				return err
			}
			return tx.Model(&sessionModel{}).Where("id = ?", id).Updates(map[string]interface{}{
				"completed":  gorm.Expr("completed + 1"),
				"row_count":  gorm.Expr("row_count + ?", rows),
				"updated_at": now,
			}).Error
		})
	})
}

// maxMessageLen 限制写入账本的错误信息长度。
const maxMessageLen = 512

func (l *Ledger) SessionFinished(id string, status string, err error) {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": l.now().UnixMilli(),
	}
	if err != nil {
		updates["message"] = text.Truncate(err.Error(), maxMessageLen)
	}
	l.write("finish", id, func(db *gorm.DB) error {
		return db.Model(&sessionModel{}).Where("id = ?", id).Updates(updates).Error
	})
}

// write 执行一次短事务；观察者不能让补数失败，错误只记日志。
func (l *Ledger) write(op, id string, fn func(db *gorm.DB) error) {
	if l == nil || l.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := fn(l.db.WithContext(ctx)); err != nil {
		logger.Warnf("[ledger] %s %s failed: %v", op, id, err)
	}
}

// Recent 返回 key 最近 limit 次会话（新的在前）；key 为空时不过滤。
func (l *Ledger) Recent(ctx context.Context, key string, limit int) ([]progress.Session, error) {
	if l == nil || l.db == nil {
		return nil, fmt.Errorf("ledger 未初始化")
	}
	if limit <= 0 {
		limit = 20
	}
	q := l.db.WithContext(ctx).Model(&sessionModel{}).Order("started_at DESC").Limit(limit)
	if key = strings.TrimSpace(key); key != "" {
		q = q.Where("cache_key = ?", key)
	}
	var rows []sessionModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]progress.Session, 0, len(rows))
	for _, m := range rows {
		s := progress.Session{
			ID:        m.ID,
			Key:       m.CacheKey,
			Source:    m.Source,
			Status:    m.Status,
			Total:     m.Total,
			Completed: m.Completed,
			Rows:      m.Rows,
			Message:   m.Message,
			StartedAt: time.UnixMilli(m.StartedAt).UTC(),
			UpdatedAt: time.UnixMilli(m.UpdatedAt).UTC(),
		}
		if len(m.Ranges) > 0 {
			if err := json.Unmarshal(m.Ranges, &s.Ranges); err != nil {
				return nil, fmt.Errorf("decode ranges of %s: %w", m.ID, err)
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// FetchedRanges 返回会话内已成功拉取的区间。
func (l *Ledger) FetchedRanges(ctx context.Context, id string) ([]segment.Range, error) {
	var rows []rangeModel
	if err := l.db.WithContext(ctx).Where("session_id = ?", id).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]segment.Range, 0, len(rows))
	for _, r := range rows {
		out = append(out, segment.Range{Start: time.UnixMilli(r.Start).UTC(), End: time.UnixMilli(r.End).UTC()})
	}
	return out, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
