package repository

import (
	"gorm.io/gorm"

	"github.com/codecrow/codecrow-server/internal/model"
)

type BranchIssueRepository struct {
	db *gorm.DB
}

func NewBranchIssueRepository(db *gorm.DB) *BranchIssueRepository {
	return &BranchIssueRepository{db: db}
}

func (r *BranchIssueRepository) Create(issue *model.BranchIssue) error {
	return r.db.Create(issue).Error
}

func (r *BranchIssueRepository) Update(issue *model.BranchIssue) error {
	return r.db.Save(issue).Error
}

// ListOpenByBranch 分支上未解决的问题，合并后对账的基线
func (r *BranchIssueRepository) ListOpenByBranch(projectID int64, branch string) ([]*model.BranchIssue, error) {
	var issues []*model.BranchIssue
	err := r.db.Where("project_id = ? AND branch_name = ? AND resolved = ?", projectID, branch, false).
		Order("id ASC").Find(&issues).Error
	return issues, err
}

// ListByBranch 分支上的全部问题
func (r *BranchIssueRepository) ListByBranch(projectID int64, branch string) ([]*model.BranchIssue, error) {
	var issues []*model.BranchIssue
	err := r.db.Where("project_id = ? AND branch_name = ?", projectID, branch).
		Order("id ASC").Find(&issues).Error
	return issues, err
}
