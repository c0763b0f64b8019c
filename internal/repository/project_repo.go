package repository

import (
	"gorm.io/gorm"

	"github.com/codecrow/codecrow-server/internal/model"
)

type ProjectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

func (r *ProjectRepository) Create(project *model.Project) error {
	return r.db.Create(project).Error
}

func (r *ProjectRepository) GetByID(id int64) (*model.Project, error) {
	var project model.Project
	err := r.db.Where("id = ?", id).First(&project).Error
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// GetByRepository 按 "workspace/repo" 标识查找，webhook 入口用
func (r *ProjectRepository) GetByRepository(repository string) (*model.Project, error) {
	var project model.Project
	err := r.db.Where("repository = ?", repository).First(&project).Error
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (r *ProjectRepository) Update(project *model.Project) error {
	return r.db.Save(project).Error
}

func (r *ProjectRepository) GetWorkspace(id int64) (*model.Workspace, error) {
	var ws model.Workspace
	err := r.db.Where("id = ?", id).First(&ws).Error
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

func (r *ProjectRepository) CreateWorkspace(ws *model.Workspace) error {
	return r.db.Create(ws).Error
}

func (r *ProjectRepository) UpdateWorkspace(ws *model.Workspace) error {
	return r.db.Save(ws).Error
}

// GetRagStatus 分支索引状态，不存在时返回 nil
func (r *ProjectRepository) GetRagStatus(projectID int64, branch string) (*model.RagIndexStatus, error) {
	var status model.RagIndexStatus
	err := r.db.Where("project_id = ? AND branch_name = ?", projectID, branch).First(&status).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &status, nil
}

// UpsertRagStatus 记录分支索引状态
func (r *ProjectRepository) UpsertRagStatus(projectID int64, branch, status string) error {
	existing, err := r.GetRagStatus(projectID, branch)
	if err != nil {
		return err
	}
	if existing == nil {
		return r.db.Create(&model.RagIndexStatus{
			ProjectID:  projectID,
			BranchName: branch,
			Status:     status,
		}).Error
	}
	return r.db.Model(&model.RagIndexStatus{}).Where("id = ?", existing.ID).
		Update("status", status).Error
}
