package repository

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/codecrow/codecrow-server/internal/model"
)

type LockRepository struct {
	db *gorm.DB
}

func NewLockRepository(db *gorm.DB) *LockRepository {
	return &LockRepository{db: db}
}

// TryInsert 以插入代替先读后写：唯一索引冲突即表示锁被占用，返回 false。
// 两个并发的 webhook 投递最多只有一个插入成功。
func (r *LockRepository) TryInsert(repository, branch, holder string) (bool, error) {
	lock := &model.AnalysisLock{
		Repository: repository,
		Branch:     branch,
		Holder:     holder,
		LockedAt:   time.Now(),
	}
	err := r.db.Create(lock).Error
	if err != nil {
		if IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Get 读取当前锁记录，不存在时返回 gorm.ErrRecordNotFound
func (r *LockRepository) Get(repository, branch string) (*model.AnalysisLock, error) {
	var lock model.AnalysisLock
	err := r.db.Where("repository = ? AND branch = ?", repository, branch).First(&lock).Error
	if err != nil {
		return nil, err
	}
	return &lock, nil
}

// Delete 删除锁。锁不存在也不算错误，释放必须幂等。
func (r *LockRepository) Delete(repository, branch string) error {
	return r.db.Where("repository = ? AND branch = ?", repository, branch).
		Delete(&model.AnalysisLock{}).Error
}

// DeleteStale 删除早于 cutoff 的锁记录；按主键删除避免误删刚续上的新锁
func (r *LockRepository) DeleteStale(id int64, cutoff time.Time) (bool, error) {
	result := r.db.Where("id = ? AND locked_at < ?", id, cutoff).
		Delete(&model.AnalysisLock{})
	return result.RowsAffected > 0, result.Error
}

// DeleteAllStale 清理任务用：删除所有过期锁
func (r *LockRepository) DeleteAllStale(cutoff time.Time) (int64, error) {
	result := r.db.Where("locked_at < ?", cutoff).Delete(&model.AnalysisLock{})
	return result.RowsAffected, result.Error
}

// IsDuplicateKeyError 识别唯一索引冲突。gorm 的翻译层覆盖 MySQL，
// SQLite（测试环境）需要按错误文本兜底。
func IsDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
