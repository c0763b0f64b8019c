package main

import (
	"context"
	"fmt"
	"log"

	"github.com/codecrow/codecrow-server/config"
	"github.com/codecrow/codecrow-server/internal/api"
	"github.com/codecrow/codecrow-server/internal/api/handler"
	"github.com/codecrow/codecrow-server/internal/database"
	"github.com/codecrow/codecrow-server/internal/pkg/pubsub"
	"github.com/codecrow/codecrow-server/internal/pkg/queue"
	"github.com/codecrow/codecrow-server/internal/pkg/ws"
	"github.com/codecrow/codecrow-server/internal/repository"
	"github.com/codecrow/codecrow-server/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	log.Println("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	// 初始化 Queue
	jobQueue := queue.NewQueue(rdb, cfg.Queue.AnalysisQueue)

	// 初始化 WebSocket Hub
	wsHub := ws.NewHub()
	log.Println("WebSocket hub started")

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	jobRepo := repository.NewJobRepository(db)
	jobLogRepo := repository.NewJobLogRepository(db)
	analysisRepo := repository.NewAnalysisRepository(db)
	issueRepo := repository.NewIssueRepository(db)
	branchIssueRepo := repository.NewBranchIssueRepository(db)
	gateRepo := repository.NewQualityGateRepository(db)

	// 初始化 Service
	jobService := service.NewJobService(jobRepo, jobLogRepo)
	gateService := service.NewQualityGateService(gateRepo, projectRepo)
	analysisService := service.NewAnalysisService(analysisRepo, issueRepo, gateService)
	lifecycleService := service.NewLifecycleService(issueRepo, branchIssueRepo)

	// 初始化 Handler
	authHandler := handler.NewAuthHandler(userRepo, cfg.JWT)
	webhookHandler := handler.NewWebhookHandler(jobService, projectRepo, jobQueue)
	jobHandler := handler.NewJobHandler(jobService)
	analysisHandler := handler.NewAnalysisHandler(analysisService, lifecycleService)
	projectHandler := handler.NewProjectHandler(jobService, projectRepo, jobQueue)
	gateHandler := handler.NewQualityGateHandler(gateRepo, projectRepo)
	websocketHandler := handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret)

	// 订阅 worker 的进度消息，经 websocket 推给关注该任务的客户端
	subscriber := pubsub.NewSubscriber(rdb)
	go func() {
		err := subscriber.Subscribe(context.Background(), func(msg *pubsub.ProgressMessage) {
			if !wsHub.HasSubscribers(msg.JobPublicID) {
				return
			}
			wsHub.SendToJob(msg.JobPublicID, &ws.Message{Type: msg.Type, Data: msg})
		})
		if err != nil && err != context.Canceled {
			log.Printf("Progress subscriber exited: %v", err)
		}
	}()

	// 初始化 Router
	router := api.NewRouter(
		authHandler,
		webhookHandler,
		jobHandler,
		analysisHandler,
		projectHandler,
		gateHandler,
		websocketHandler,
		cfg,
	)
	engine := router.Setup()

	// 启动服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	if err := engine.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
