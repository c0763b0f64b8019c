package handler

import (
	"log"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/codecrow/codecrow-server/internal/model"
	"github.com/codecrow/codecrow-server/internal/model/dto"
	"github.com/codecrow/codecrow-server/internal/pkg/queue"
	"github.com/codecrow/codecrow-server/internal/pkg/response"
	"github.com/codecrow/codecrow-server/internal/repository"
	"github.com/codecrow/codecrow-server/internal/service"
)

// 事件类型到任务类型的映射
var eventJobTypes = map[string]string{
	"pr:opened":  model.JobTypePRAnalysis,
	"pr:updated": model.JobTypePRAnalysis,
	"pr:merged":  model.JobTypeBranchReconciliation,
	"push":       model.JobTypeBranchAnalysis,
	"repo:sync":  model.JobTypeRepoSync,
}

type WebhookHandler struct {
	jobService  *service.JobService
	projectRepo *repository.ProjectRepository
	queue       *queue.Queue
}

func NewWebhookHandler(jobService *service.JobService, projectRepo *repository.ProjectRepository, q *queue.Queue) *WebhookHandler {
	return &WebhookHandler{
		jobService:  jobService,
		projectRepo: projectRepo,
		queue:       q,
	}
}

// HandleEvent 接收仓库事件并入队
// POST /api/v1/webhooks/events
func (h *WebhookHandler) HandleEvent(c *gin.Context) {
	var event dto.WebhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	jobType, ok := eventJobTypes[event.EventType]
	if !ok {
		// 未知事件不是错误，直接确认但不处理
		response.Success(c, gin.H{"ignored": true})
		return
	}

	project, err := h.projectRepo.GetByRepository(event.Repository)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			response.NotFound(c, "repository not registered")
			return
		}
		response.ServerError(c, "")
		return
	}

	// PR 分析以 PR 号为准；分支分析 PR 号恒为 0
	prNumber := event.PRNumber
	if jobType == model.JobTypeBranchAnalysis {
		prNumber = 0
	}

	job, err := h.jobService.Create(service.CreateJobParams{
		ProjectID:     project.ID,
		JobType:       jobType,
		TriggerSource: model.TriggerSourceWebhook,
		BranchName:    event.Branch,
		PRNumber:      prNumber,
		CommitHash:    event.CommitHash,
	})
	if err != nil {
		response.ServerError(c, "")
		return
	}

	msg := &queue.JobMessage{
		JobID:          job.ID,
		ProjectID:      project.ID,
		JobType:        jobType,
		Repository:     project.Repository,
		Branch:         event.Branch,
		TargetBranch:   event.TargetBranch,
		PRNumber:       prNumber,
		CommitHash:     event.CommitHash,
		AuthorID:       event.AuthorID,
		AuthorUsername: event.AuthorUsername,
		TriggerSource:  model.TriggerSourceWebhook,
	}
	if err := h.queue.Push(c.Request.Context(), msg); err != nil {
		// 入队失败的任务立即置 FAILED，不能留下永远 PENDING 的悬空记录
		log.Printf("Job %s: failed to enqueue: %v", job.PublicID, err)
		h.jobService.Fail(job, "failed to enqueue job")
		response.ServerError(c, "")
		return
	}

	response.Success(c, dto.JobCreatedResponse{JobID: job.PublicID, Status: job.Status})
}
