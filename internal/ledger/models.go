package ledger

import "gorm.io/datatypes"

// sessionModel maps to 'fetch_sessions'.
type sessionModel struct {
	ID        string         `gorm:"column:id;primaryKey"`
	CacheKey  string         `gorm:"column:cache_key;index:idx_fetch_sessions_key"`
	Source    string         `gorm:"column:source"`
	Status    string         `gorm:"column:status;index"`
	Ranges    datatypes.JSON `gorm:"column:ranges;type:TEXT"`
	Total     int            `gorm:"column:total"`
	Completed int            `gorm:"column:completed"`
	Rows      int            `gorm:"column:row_count"`
	Message   string         `gorm:"column:message"`
	StartedAt int64          `gorm:"column:started_at;index:idx_fetch_sessions_key"`
	UpdatedAt int64          `gorm:"column:updated_at"`
}

func (sessionModel) TableName() string { return "fetch_sessions" }

// rangeModel maps to 'fetch_ranges'，每个成功拉取的区间一行。
type rangeModel struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID string `gorm:"column:session_id;index"`
	Start     int64  `gorm:"column:range_start"`
	End       int64  `gorm:"column:range_end"`
	Rows      int    `gorm:"column:row_count"`
	FetchedAt int64  `gorm:"column:fetched_at"`
}

func (rangeModel) TableName() string { return "fetch_ranges" }
