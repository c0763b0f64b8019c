package repository

import (
	"gorm.io/gorm"

	"github.com/codecrow/codecrow-server/internal/model"
)

type JobLogRepository struct {
	db *gorm.DB
}

func NewJobLogRepository(db *gorm.DB) *JobLogRepository {
	return &JobLogRepository{db: db}
}

// Append 以 job 内下一个序号追加日志。序号分配和插入在一个事务里完成，
// (job_id, sequence) 上的唯一索引保证并发追加不会产生重复序号。
func (r *JobLogRepository) Append(log *model.JobLog) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		err := tx.Model(&model.JobLog{}).
			Where("job_id = ?", log.JobID).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&maxSeq).Error
		if err != nil {
			return err
		}
		log.Sequence = maxSeq + 1
		return tx.Create(log).Error
	})
}

// ListAfterSequence 按序号分页读取，供轮询接口使用
func (r *JobLogRepository) ListAfterSequence(jobID, afterSequence int64, limit int) ([]*model.JobLog, error) {
	var logs []*model.JobLog
	query := r.db.Where("job_id = ? AND sequence > ?", jobID, afterSequence).
		Order("sequence ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&logs).Error
	return logs, err
}

// LatestSequence 当前最大序号，无日志时为 0
func (r *JobLogRepository) LatestSequence(jobID int64) (int64, error) {
	var maxSeq int64
	err := r.db.Model(&model.JobLog{}).
		Where("job_id = ?", jobID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&maxSeq).Error
	return maxSeq, err
}

// TruncateOldest 日志超过上限时删除最旧的条目，序号不复用
func (r *JobLogRepository) TruncateOldest(jobID int64, keep int) (int64, error) {
	var maxSeq int64
	err := r.db.Model(&model.JobLog{}).
		Where("job_id = ?", jobID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&maxSeq).Error
	if err != nil {
		return 0, err
	}
	if maxSeq <= int64(keep) {
		return 0, nil
	}
	result := r.db.Where("job_id = ? AND sequence <= ?", jobID, maxSeq-int64(keep)).
		Delete(&model.JobLog{})
	return result.RowsAffected, result.Error
}

// JobIDsOverLimit 日志条数超过上限的任务 ID
func (r *JobLogRepository) JobIDsOverLimit(limit int) ([]int64, error) {
	var ids []int64
	err := r.db.Model(&model.JobLog{}).
		Select("job_id").
		Group("job_id").
		Having("COUNT(*) > ?", limit).
		Pluck("job_id", &ids).Error
	return ids, err
}

// DeleteByJobIDs 随任务清理一起删除日志
func (r *JobLogRepository) DeleteByJobIDs(jobIDs []int64) error {
	if len(jobIDs) == 0 {
		return nil
	}
	return r.db.Where("job_id IN ?", jobIDs).Delete(&model.JobLog{}).Error
}
