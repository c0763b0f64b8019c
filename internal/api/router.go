package api

import (
	"github.com/gin-gonic/gin"

	"github.com/codecrow/codecrow-server/config"
	"github.com/codecrow/codecrow-server/internal/api/handler"
	"github.com/codecrow/codecrow-server/internal/api/middleware"
)

type Router struct {
	authHandler      *handler.AuthHandler
	webhookHandler   *handler.WebhookHandler
	jobHandler       *handler.JobHandler
	analysisHandler  *handler.AnalysisHandler
	projectHandler   *handler.ProjectHandler
	gateHandler      *handler.QualityGateHandler
	websocketHandler *handler.WebSocketHandler
	cfg              *config.Config
}

func NewRouter(
	authHandler *handler.AuthHandler,
	webhookHandler *handler.WebhookHandler,
	jobHandler *handler.JobHandler,
	analysisHandler *handler.AnalysisHandler,
	projectHandler *handler.ProjectHandler,
	gateHandler *handler.QualityGateHandler,
	websocketHandler *handler.WebSocketHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		authHandler:      authHandler,
		webhookHandler:   webhookHandler,
		jobHandler:       jobHandler,
		analysisHandler:  analysisHandler,
		projectHandler:   projectHandler,
		gateHandler:      gateHandler,
		websocketHandler: websocketHandler,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	api := engine.Group("/api/v1")
	{
		// WebSocket
		api.GET("/ws", r.websocketHandler.Handle)

		// 公开接口 - 认证
		auth := api.Group("/auth")
		{
			auth.POST("/login", r.authHandler.Login)
		}

		// webhook 入口（共享密钥校验）
		webhooks := api.Group("/webhooks")
		webhooks.Use(middleware.WebhookAuth(r.cfg.Webhook.Secret))
		{
			webhooks.POST("/events", r.webhookHandler.HandleEvent)
		}

		// 需要认证的接口
		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			// 任务
			jobs := authenticated.Group("/jobs")
			{
				jobs.GET("/:id", r.jobHandler.Get)
				jobs.GET("/:id/logs", r.jobHandler.Logs)
				jobs.POST("/:id/cancel", r.jobHandler.Cancel)
			}

			// 分析
			analyses := authenticated.Group("/analyses")
			{
				analyses.GET("/:id", r.analysisHandler.Get)
			}

			// 项目维度
			projects := authenticated.Group("/projects")
			{
				projects.GET("/:id/jobs", r.jobHandler.ListByProject)
				projects.GET("/:id/analyses", r.analysisHandler.ListByProject)
				projects.GET("/:id/branches/:branch/issues", r.analysisHandler.BranchIssues)
				projects.POST("/:id/analyze", r.projectHandler.TriggerAnalysis)
				projects.PUT("/:id/quality-gate", r.projectHandler.AssignQualityGate)
			}

			// 工作区
			workspaces := authenticated.Group("/workspaces")
			{
				workspaces.PUT("/:id/default-quality-gate", r.gateHandler.SetWorkspaceDefault)
			}

			// 质量门禁
			gates := authenticated.Group("/quality-gates")
			{
				gates.POST("", r.gateHandler.Create)
				gates.GET("/:id", r.gateHandler.Get)
				gates.PUT("/:id", r.gateHandler.Update)
				gates.DELETE("/:id", r.gateHandler.Delete)
				gates.POST("/:id/conditions", r.gateHandler.AddCondition)
				gates.PATCH("/conditions/:conditionId/enabled", r.gateHandler.SetConditionEnabled)
				gates.DELETE("/conditions/:conditionId", r.gateHandler.DeleteCondition)
			}
		}
	}

	return engine
}
