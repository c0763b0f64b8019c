package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/codecrow/codecrow-server/internal/pkg/response"
	"github.com/codecrow/codecrow-server/internal/service"
)

type AnalysisHandler struct {
	analysisService  *service.AnalysisService
	lifecycleService *service.LifecycleService
}

func NewAnalysisHandler(analysisService *service.AnalysisService, lifecycleService *service.LifecycleService) *AnalysisHandler {
	return &AnalysisHandler{
		analysisService:  analysisService,
		lifecycleService: lifecycleService,
	}
}

// Get 获取分析详情（含问题列表）
// GET /api/v1/analyses/:id
func (h *AnalysisHandler) Get(c *gin.Context) {
	analysisID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的分析ID")
		return
	}

	analysis, err := h.analysisService.GetByID(analysisID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			response.NotFound(c, "分析不存在")
			return
		}
		response.ServerError(c, "")
		return
	}

	issues, err := h.analysisService.Issues(analysisID)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, gin.H{
		"analysis": analysis,
		"issues":   issues,
	})
}

// ListByProject 项目维度的分析历史
// GET /api/v1/projects/:id/analyses
func (h *AnalysisHandler) ListByProject(c *gin.Context) {
	projectID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的项目ID")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	items, total, err := h.analysisService.ListByProject(projectID, page, pageSize)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.SuccessPage(c, total, page, pageSize, items)
}

// BranchIssues 分支上未解决的问题
// GET /api/v1/projects/:id/branches/:branch/issues
func (h *AnalysisHandler) BranchIssues(c *gin.Context) {
	projectID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的项目ID")
		return
	}

	issues, err := h.lifecycleService.OpenBranchIssues(projectID, c.Param("branch"))
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, issues)
}
