package model

import (
	"time"
)

// AnalysisLock 分析互斥锁，(repository, branch) 上的唯一索引即并发原语：
// 获取锁就是一次 insert，插入冲突即表示锁被占用，绝不做先读后写。
type AnalysisLock struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	Repository string    `gorm:"size:255;not null;uniqueIndex:idx_analysis_locks_key" json:"repository"`
	Branch     string    `gorm:"size:255;not null;uniqueIndex:idx_analysis_locks_key" json:"branch"`
	Holder     string    `gorm:"size:64;not null" json:"holder"` // 持有者标识（job public ID）
	LockedAt   time.Time `gorm:"not null" json:"locked_at"`
}

func (AnalysisLock) TableName() string {
	return "analysis_locks"
}

// IsStale 超过失效窗口的锁视为被遗弃，可被下一次 tryAcquire 回收
func (l *AnalysisLock) IsStale(staleAfter time.Duration) bool {
	return time.Since(l.LockedAt) > staleAfter
}
