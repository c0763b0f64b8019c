package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/codecrow/codecrow-server/internal/model"
	"github.com/codecrow/codecrow-server/internal/pkg/response"
	"github.com/codecrow/codecrow-server/internal/service"
)

type JobHandler struct {
	jobService *service.JobService
}

func NewJobHandler(jobService *service.JobService) *JobHandler {
	return &JobHandler{
		jobService: jobService,
	}
}

// Get 查询任务状态
// GET /api/v1/jobs/:id
func (h *JobHandler) Get(c *gin.Context) {
	job, err := h.jobService.GetByPublicID(c.Param("id"))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			response.NotFound(c, "任务不存在")
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, job)
}

// Logs 按序号分页读取任务日志
// GET /api/v1/jobs/:id/logs?after_sequence=0&limit=100
func (h *JobHandler) Logs(c *gin.Context) {
	job, err := h.jobService.GetByPublicID(c.Param("id"))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			response.NotFound(c, "任务不存在")
			return
		}
		response.ServerError(c, "")
		return
	}

	afterSequence, _ := strconv.ParseInt(c.DefaultQuery("after_sequence", "0"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit < 1 || limit > 500 {
		limit = 100
	}

	result, err := h.jobService.Logs(job, afterSequence, limit)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, result)
}

// Cancel 取消任务。终态任务不可取消，返回冲突。
// POST /api/v1/jobs/:id/cancel
func (h *JobHandler) Cancel(c *gin.Context) {
	job, err := h.jobService.GetByPublicID(c.Param("id"))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			response.NotFound(c, "任务不存在")
			return
		}
		response.ServerError(c, "")
		return
	}

	if err := h.jobService.Cancel(job); err != nil {
		if err == model.ErrJobTerminal {
			response.Conflict(c, "任务已结束，无法取消")
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, job)
}

// ListByProject 项目维度的任务列表
// GET /api/v1/projects/:id/jobs
func (h *JobHandler) ListByProject(c *gin.Context) {
	projectID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的项目ID")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	status := c.Query("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	jobs, total, err := h.jobService.ListByProject(projectID, page, pageSize, status)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.SuccessPage(c, total, page, pageSize, jobs)
}
