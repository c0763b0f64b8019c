package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/codecrow/codecrow-server/internal/model"
	"github.com/codecrow/codecrow-server/internal/model/dto"
	"github.com/codecrow/codecrow-server/internal/pkg/response"
	"github.com/codecrow/codecrow-server/internal/repository"
)

type QualityGateHandler struct {
	gateRepo    *repository.QualityGateRepository
	projectRepo *repository.ProjectRepository
}

func NewQualityGateHandler(gateRepo *repository.QualityGateRepository, projectRepo *repository.ProjectRepository) *QualityGateHandler {
	return &QualityGateHandler{
		gateRepo:    gateRepo,
		projectRepo: projectRepo,
	}
}

// Create 创建门禁
// POST /api/v1/quality-gates
func (h *QualityGateHandler) Create(c *gin.Context) {
	var req dto.CreateQualityGateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	gate := &model.QualityGate{
		WorkspaceID: req.WorkspaceID,
		Name:        req.Name,
		Active:      active,
	}
	for _, ci := range req.Conditions {
		enabled := true
		if ci.Enabled != nil {
			enabled = *ci.Enabled
		}
		gate.Conditions = append(gate.Conditions, model.QualityGateCondition{
			Metric:     ci.Metric,
			Severity:   ci.Severity,
			Category:   ci.Category,
			Comparator: ci.Comparator,
			Threshold:  ci.Threshold,
			Enabled:    enabled,
		})
	}

	if err := h.gateRepo.Create(gate); err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, gate)
}

// Get 获取门禁详情（含条件）
// GET /api/v1/quality-gates/:id
func (h *QualityGateHandler) Get(c *gin.Context) {
	gateID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的门禁ID")
		return
	}

	gate, err := h.gateRepo.GetByID(gateID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			response.NotFound(c, "门禁不存在")
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, gate)
}

// Update 更新门禁基本信息
// PUT /api/v1/quality-gates/:id
func (h *QualityGateHandler) Update(c *gin.Context) {
	gateID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的门禁ID")
		return
	}

	var req dto.UpdateQualityGateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	gate, err := h.gateRepo.GetByID(gateID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			response.NotFound(c, "门禁不存在")
			return
		}
		response.ServerError(c, "")
		return
	}

	if req.Name != nil {
		gate.Name = *req.Name
	}
	if req.Active != nil {
		gate.Active = *req.Active
	}

	if err := h.gateRepo.Update(gate); err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, gate)
}

// Delete 删除门禁及其全部条件
// DELETE /api/v1/quality-gates/:id
func (h *QualityGateHandler) Delete(c *gin.Context) {
	gateID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的门禁ID")
		return
	}

	if err := h.gateRepo.Delete(gateID); err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, nil)
}

// AddCondition 追加条件
// POST /api/v1/quality-gates/:id/conditions
func (h *QualityGateHandler) AddCondition(c *gin.Context) {
	gateID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的门禁ID")
		return
	}

	var ci dto.ConditionInput
	if err := c.ShouldBindJSON(&ci); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	enabled := true
	if ci.Enabled != nil {
		enabled = *ci.Enabled
	}

	cond := &model.QualityGateCondition{
		GateID:     gateID,
		Metric:     ci.Metric,
		Severity:   ci.Severity,
		Category:   ci.Category,
		Comparator: ci.Comparator,
		Threshold:  ci.Threshold,
		Enabled:    enabled,
	}
	if err := h.gateRepo.CreateCondition(cond); err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, cond)
}

// SetConditionEnabled 启停单条规则
// PATCH /api/v1/quality-gates/conditions/:conditionId/enabled
func (h *QualityGateHandler) SetConditionEnabled(c *gin.Context) {
	conditionID, err := strconv.ParseInt(c.Param("conditionId"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的条件ID")
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	if err := h.gateRepo.SetConditionEnabled(conditionID, req.Enabled); err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, gin.H{"enabled": req.Enabled})
}

// SetWorkspaceDefault 设置工作区默认门禁，null 表示清除。
// 项目未绑定门禁时回退到这里设置的默认值。
// PUT /api/v1/workspaces/:id/default-quality-gate
func (h *QualityGateHandler) SetWorkspaceDefault(c *gin.Context) {
	workspaceID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的工作区ID")
		return
	}

	var req dto.AssignQualityGateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	ws, err := h.projectRepo.GetWorkspace(workspaceID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			response.NotFound(c, "工作区不存在")
			return
		}
		response.ServerError(c, "")
		return
	}

	if req.QualityGateID != nil {
		if _, err := h.gateRepo.GetByID(*req.QualityGateID); err != nil {
			if err == gorm.ErrRecordNotFound {
				response.NotFound(c, "门禁不存在")
				return
			}
			response.ServerError(c, "")
			return
		}
	}

	ws.DefaultQualityGateID = req.QualityGateID
	if err := h.projectRepo.UpdateWorkspace(ws); err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, ws)
}

// DeleteCondition 删除单条规则
// DELETE /api/v1/quality-gates/conditions/:conditionId
func (h *QualityGateHandler) DeleteCondition(c *gin.Context) {
	conditionID, err := strconv.ParseInt(c.Param("conditionId"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的条件ID")
		return
	}

	if err := h.gateRepo.DeleteCondition(conditionID); err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, nil)
}
