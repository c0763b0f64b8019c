package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/codecrow/codecrow-server/internal/model"
)

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(job *model.Job) error {
	return r.db.Create(job).Error
}

func (r *JobRepository) GetByID(id int64) (*model.Job, error) {
	var job model.Job
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *JobRepository) GetByPublicID(publicID string) (*model.Job, error) {
	var job model.Job
	err := r.db.Where("public_id = ?", publicID).First(&job).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *JobRepository) Update(job *model.Job) error {
	return r.db.Save(job).Error
}

// GetStatus 只取状态字段，worker 在每个挂起点用它做协作式取消检查
func (r *JobRepository) GetStatus(id int64) (string, error) {
	var job model.Job
	err := r.db.Select("status").Where("id = ?", id).First(&job).Error
	if err != nil {
		return "", err
	}
	return job.Status, nil
}

// LinkAnalysis 任务产出分析后回填关联
func (r *JobRepository) LinkAnalysis(id, analysisID int64) error {
	return r.db.Model(&model.Job{}).Where("id = ?", id).Update("analysis_id", analysisID).Error
}

// ListByProject 项目维度的任务列表
func (r *JobRepository) ListByProject(projectID int64, page, pageSize int, status string) ([]*model.Job, int64, error) {
	var jobs []*model.Job
	var total int64

	query := r.db.Model(&model.Job{}).Where("project_id = ?", projectID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&jobs).Error; err != nil {
		return nil, 0, err
	}

	return jobs, total, nil
}

// ListTerminalIDsBefore 早于 cutoff 的终态任务 ID，清理任务先取 ID
// 再连带删除日志
func (r *JobRepository) ListTerminalIDsBefore(cutoff time.Time) ([]int64, error) {
	terminal := []string{
		model.JobStatusCompleted,
		model.JobStatusFailed,
		model.JobStatusCancelled,
		model.JobStatusSkipped,
	}
	var ids []int64
	err := r.db.Model(&model.Job{}).
		Where("status IN ? AND completed_at < ?", terminal, cutoff).
		Pluck("id", &ids).Error
	return ids, err
}

// DeleteTerminalBefore 清理早于 cutoff 的终态任务，返回删除数量
func (r *JobRepository) DeleteTerminalBefore(cutoff time.Time) (int64, error) {
	terminal := []string{
		model.JobStatusCompleted,
		model.JobStatusFailed,
		model.JobStatusCancelled,
		model.JobStatusSkipped,
	}
	result := r.db.Where("status IN ? AND completed_at < ?", terminal, cutoff).Delete(&model.Job{})
	return result.RowsAffected, result.Error
}
