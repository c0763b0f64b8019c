package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/codecrow/codecrow-server/internal/model"
	"github.com/codecrow/codecrow-server/internal/model/dto"
	"github.com/codecrow/codecrow-server/internal/pkg/queue"
	"github.com/codecrow/codecrow-server/internal/pkg/response"
	"github.com/codecrow/codecrow-server/internal/repository"
	"github.com/codecrow/codecrow-server/internal/service"
)

type ProjectHandler struct {
	jobService  *service.JobService
	projectRepo *repository.ProjectRepository
	queue       *queue.Queue
}

func NewProjectHandler(jobService *service.JobService, projectRepo *repository.ProjectRepository, q *queue.Queue) *ProjectHandler {
	return &ProjectHandler{
		jobService:  jobService,
		projectRepo: projectRepo,
		queue:       q,
	}
}

// TriggerAnalysis 手动触发分析
// POST /api/v1/projects/:id/analyze
func (h *ProjectHandler) TriggerAnalysis(c *gin.Context) {
	projectID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的项目ID")
		return
	}

	var req dto.TriggerAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	project, err := h.projectRepo.GetByID(projectID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			response.NotFound(c, "项目不存在")
			return
		}
		response.ServerError(c, "")
		return
	}

	job, err := h.jobService.Create(service.CreateJobParams{
		ProjectID:     project.ID,
		JobType:       model.JobTypeManualAnalysis,
		TriggerSource: model.TriggerSourceManual,
		BranchName:    req.Branch,
		PRNumber:      req.PRNumber,
		CommitHash:    req.CommitHash,
	})
	if err != nil {
		response.ServerError(c, "")
		return
	}

	msg := &queue.JobMessage{
		JobID:         job.ID,
		ProjectID:     project.ID,
		JobType:       model.JobTypeManualAnalysis,
		Repository:    project.Repository,
		Branch:        req.Branch,
		TargetBranch:  req.TargetBranch,
		PRNumber:      req.PRNumber,
		CommitHash:    req.CommitHash,
		TriggerSource: model.TriggerSourceManual,
	}
	if err := h.queue.Push(c.Request.Context(), msg); err != nil {
		h.jobService.Fail(job, "failed to enqueue job")
		response.ServerError(c, "")
		return
	}

	response.Success(c, dto.JobCreatedResponse{JobID: job.PublicID, Status: job.Status})
}

// AssignQualityGate 绑定/解绑项目级门禁。传 null 清除绑定，
// 项目回落到工作区默认门禁。
// PUT /api/v1/projects/:id/quality-gate
func (h *ProjectHandler) AssignQualityGate(c *gin.Context) {
	projectID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的项目ID")
		return
	}

	var req dto.AssignQualityGateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	project, err := h.projectRepo.GetByID(projectID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			response.NotFound(c, "项目不存在")
			return
		}
		response.ServerError(c, "")
		return
	}

	project.QualityGateID = req.QualityGateID
	if err := h.projectRepo.Update(project); err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, project)
}
