package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/codecrow/codecrow-server/internal/model"
)

type AnalysisRepository struct {
	db *gorm.DB
}

func NewAnalysisRepository(db *gorm.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

func (r *AnalysisRepository) Create(analysis *model.CodeAnalysis) error {
	return r.db.Create(analysis).Error
}

// CreateWithIssues 在一个事务里写入分析和它的全部问题
func (r *AnalysisRepository) CreateWithIssues(analysis *model.CodeAnalysis, issues []*model.CodeAnalysisIssue) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(analysis).Error; err != nil {
			return err
		}
		for _, issue := range issues {
			issue.AnalysisID = analysis.ID
			if err := tx.Create(issue).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *AnalysisRepository) GetByID(id int64) (*model.CodeAnalysis, error) {
	var analysis model.CodeAnalysis
	err := r.db.Where("id = ?", id).First(&analysis).Error
	if err != nil {
		return nil, err
	}
	return &analysis, nil
}

// FindByCacheKey 幂等查找：(project, commit, pr) 命中即直接复用
func (r *AnalysisRepository) FindByCacheKey(projectID int64, commitHash string, prNumber int) (*model.CodeAnalysis, error) {
	var analysis model.CodeAnalysis
	err := r.db.Where("project_id = ? AND commit_hash = ? AND pr_number = ?",
		projectID, commitHash, prNumber).First(&analysis).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &analysis, nil
}

// FindByDiffFingerprint 二级幂等键：rebase 后 commit 变了但 diff 内容没变
func (r *AnalysisRepository) FindByDiffFingerprint(projectID int64, fingerprint string) (*model.CodeAnalysis, error) {
	if fingerprint == "" {
		return nil, nil
	}
	var analysis model.CodeAnalysis
	err := r.db.Where("project_id = ? AND diff_fingerprint = ?", projectID, fingerprint).
		Order("created_at DESC").First(&analysis).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &analysis, nil
}

// MaxPRVersion 同一 (project, pr) 下的最大版本号，无记录时为 0
func (r *AnalysisRepository) MaxPRVersion(projectID int64, prNumber int) (int, error) {
	var maxVersion int
	err := r.db.Model(&model.CodeAnalysis{}).
		Where("project_id = ? AND pr_number = ?", projectID, prNumber).
		Select("COALESCE(MAX(pr_version), 0)").
		Scan(&maxVersion).Error
	return maxVersion, err
}

// LatestForPR 该 PR 的最新分析（按版本号）
func (r *AnalysisRepository) LatestForPR(projectID int64, prNumber int) (*model.CodeAnalysis, error) {
	var analysis model.CodeAnalysis
	err := r.db.Where("project_id = ? AND pr_number = ?", projectID, prNumber).
		Order("pr_version DESC").First(&analysis).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &analysis, nil
}

func (r *AnalysisRepository) Update(analysis *model.CodeAnalysis) error {
	return r.db.Save(analysis).Error
}

// MarkCompleted 记录终态与门禁结论
func (r *AnalysisRepository) MarkCompleted(id int64, status, result string) error {
	now := time.Now()
	return r.db.Model(&model.CodeAnalysis{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       status,
			"result":       result,
			"completed_at": now,
		}).Error
}

// ListByProject 项目维度的分析列表
func (r *AnalysisRepository) ListByProject(projectID int64, page, pageSize int) ([]*model.CodeAnalysis, int64, error) {
	var analyses []*model.CodeAnalysis
	var total int64

	query := r.db.Model(&model.CodeAnalysis{}).Where("project_id = ?", projectID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&analyses).Error; err != nil {
		return nil, 0, err
	}

	return analyses, total, nil
}
