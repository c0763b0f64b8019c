package repository

import (
	"gorm.io/gorm"

	"github.com/codecrow/codecrow-server/internal/model"
)

type QualityGateRepository struct {
	db *gorm.DB
}

func NewQualityGateRepository(db *gorm.DB) *QualityGateRepository {
	return &QualityGateRepository{db: db}
}

func (r *QualityGateRepository) Create(gate *model.QualityGate) error {
	return r.db.Create(gate).Error
}

// GetByID 连同条件一起取出
func (r *QualityGateRepository) GetByID(id int64) (*model.QualityGate, error) {
	var gate model.QualityGate
	err := r.db.Preload("Conditions").Where("id = ?", id).First(&gate).Error
	if err != nil {
		return nil, err
	}
	return &gate, nil
}

func (r *QualityGateRepository) Update(gate *model.QualityGate) error {
	return r.db.Save(gate).Error
}

func (r *QualityGateRepository) Delete(id int64) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("gate_id = ?", id).Delete(&model.QualityGateCondition{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.QualityGate{}, id).Error
	})
}

// ListByWorkspace 工作区下的门禁列表
func (r *QualityGateRepository) ListByWorkspace(workspaceID int64) ([]*model.QualityGate, error) {
	var gates []*model.QualityGate
	err := r.db.Preload("Conditions").Where("workspace_id = ?", workspaceID).
		Order("created_at ASC").Find(&gates).Error
	return gates, err
}

func (r *QualityGateRepository) CreateCondition(cond *model.QualityGateCondition) error {
	return r.db.Create(cond).Error
}

func (r *QualityGateRepository) UpdateCondition(cond *model.QualityGateCondition) error {
	return r.db.Save(cond).Error
}

func (r *QualityGateRepository) DeleteCondition(id int64) error {
	return r.db.Delete(&model.QualityGateCondition{}, id).Error
}

// SetConditionEnabled 启停单条规则
func (r *QualityGateRepository) SetConditionEnabled(id int64, enabled bool) error {
	return r.db.Model(&model.QualityGateCondition{}).Where("id = ?", id).
		Update("enabled", enabled).Error
}
