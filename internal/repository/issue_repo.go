package repository

import (
	"gorm.io/gorm"

	"github.com/codecrow/codecrow-server/internal/model"
)

type IssueRepository struct {
	db *gorm.DB
}

func NewIssueRepository(db *gorm.DB) *IssueRepository {
	return &IssueRepository{db: db}
}

func (r *IssueRepository) Create(issue *model.CodeAnalysisIssue) error {
	return r.db.Create(issue).Error
}

func (r *IssueRepository) GetByID(id int64) (*model.CodeAnalysisIssue, error) {
	var issue model.CodeAnalysisIssue
	err := r.db.Where("id = ?", id).First(&issue).Error
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

func (r *IssueRepository) Update(issue *model.CodeAnalysisIssue) error {
	return r.db.Save(issue).Error
}

// ListByAnalysis 某次分析的全部问题
func (r *IssueRepository) ListByAnalysis(analysisID int64) ([]*model.CodeAnalysisIssue, error) {
	var issues []*model.CodeAnalysisIssue
	err := r.db.Where("analysis_id = ?", analysisID).Order("id ASC").Find(&issues).Error
	return issues, err
}

// ListOpenByAnalysis 某次分析中未解决的问题，作为下一版本的对账基线
func (r *IssueRepository) ListOpenByAnalysis(analysisID int64) ([]*model.CodeAnalysisIssue, error) {
	var issues []*model.CodeAnalysisIssue
	err := r.db.Where("analysis_id = ? AND resolved = ?", analysisID, false).
		Order("id ASC").Find(&issues).Error
	return issues, err
}

// CountByAnalysis 某次分析的问题条数（幂等性测试用）
func (r *IssueRepository) CountByAnalysis(analysisID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.CodeAnalysisIssue{}).
		Where("analysis_id = ?", analysisID).Count(&count).Error
	return count, err
}
