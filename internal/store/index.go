package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Index 是 sidecar 的 SQLite 镜像，只用于列举与状态展示，不参与覆盖判断。
type Index struct {
	db   *sql.DB
	path string
}

func OpenIndex(path string) (*Index, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("index path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureIndexSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Index{db: db, path: path}, nil
}

func ensureIndexSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS segments (
			key TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			schema_version TEXT NOT NULL,
			coverage_start INTEGER NOT NULL,
			coverage_end INTEGER NOT NULL,
			rows INTEGER NOT NULL,
			placeholders INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			checksum TEXT NOT NULL,
			split_adjusted INTEGER NOT NULL,
			actions_digest TEXT NOT NULL,
			last_sync_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_segments_path ON segments(path)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (i *Index) Close() error {
	if i == nil || i.db == nil {
		return nil
	}
	return i.db.Close()
}

func (i *Index) Upsert(ctx context.Context, m Manifest) error {
	_, err := i.db.ExecContext(ctx, `
		INSERT INTO segments (key, path, schema_version, coverage_start, coverage_end, rows, placeholders, bytes, checksum, split_adjusted, actions_digest, last_sync_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		    path=excluded.path,
		    schema_version=excluded.schema_version,
		    coverage_start=excluded.coverage_start,
		    coverage_end=excluded.coverage_end,
		    rows=excluded.rows,
		    placeholders=excluded.placeholders,
		    bytes=excluded.bytes,
		    checksum=excluded.checksum,
		    split_adjusted=excluded.split_adjusted,
		    actions_digest=excluded.actions_digest,
		    last_sync_at=excluded.last_sync_at`,
		m.Key, m.Path, m.SchemaVersion, unixMilli(m.CoverageStart), unixMilli(m.CoverageEnd),
		m.Rows, m.Placeholders, m.Bytes, m.Checksum, boolInt(m.SplitAdjusted), m.ActionsDigest, unixMilli(m.LastSyncAt))
	return err
}

func (i *Index) Remove(ctx context.Context, key string) error {
	_, err := i.db.ExecContext(ctx, `DELETE FROM segments WHERE key = ?`, key)
	return err
}

// List 返回全部分段概要，prefix 非空时按 path 前缀过滤（如 "equity/SPY/"）。
func (i *Index) List(ctx context.Context, prefix string) ([]Manifest, error) {
	query := `SELECT key, path, schema_version, coverage_start, coverage_end, rows, placeholders, bytes, checksum, split_adjusted, actions_digest, last_sync_at FROM segments`
	var args []any
	if prefix != "" {
		query += ` WHERE path LIKE ?`
		args = append(args, prefix+"%")
	}
	query += ` ORDER BY path`
	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Manifest
	for rows.Next() {
		var (
			m                    Manifest
			start, end, lastSync int64
			adjusted             int
		)
		if err := rows.Scan(&m.Key, &m.Path, &m.SchemaVersion, &start, &end, &m.Rows, &m.Placeholders, &m.Bytes,
			&m.Checksum, &adjusted, &m.ActionsDigest, &lastSync); err != nil {
			return nil, err
		}
		m.CoverageStart = fromMilli(start)
		m.CoverageEnd = fromMilli(end)
		m.LastSyncAt = fromMilli(lastSync)
		m.SplitAdjusted = adjusted != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
