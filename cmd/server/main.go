package main

import (
	"context"
	"fmt"
	"log"

	"github.com/qs3c/rnaseq_go_server/config"
	"github.com/qs3c/rnaseq_go_server/internal/api"
	"github.com/qs3c/rnaseq_go_server/internal/api/handler"
	"github.com/qs3c/rnaseq_go_server/internal/database"
	"github.com/qs3c/rnaseq_go_server/internal/pkg/cron"
	"github.com/qs3c/rnaseq_go_server/internal/pkg/oss"
	"github.com/qs3c/rnaseq_go_server/internal/pkg/pubsub"
	"github.com/qs3c/rnaseq_go_server/internal/pkg/queue"
	"github.com/qs3c/rnaseq_go_server/internal/pkg/ws"
	"github.com/qs3c/rnaseq_go_server/internal/repository"
	"github.com/qs3c/rnaseq_go_server/internal/service"
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
	log.Println("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	// 初始化 OSS（可选，用于头像上传）
	var ossClient *oss.Client
	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err = oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Printf("Warning: Failed to init OSS client: %v", err)
		} else {
			log.Println("OSS client initialized")
		}
	}

	// 初始化任务队列
	jobQueue := queue.NewQueue(rdb, cfg.Queue.AnalysisQueue)

	// 初始化 WebSocket Hub
	wsHub := ws.NewHub()
	go wsHub.Run()
	log.Println("WebSocket hub started")

	// 订阅 worker 进度，转发给在线用户
	subscriber := pubsub.NewSubscriber(rdb)
	go func() {
		err := subscriber.Subscribe(context.Background(), func(msg *pubsub.ProgressMessage) {
			wsHub.SendToUser(msg.UserID, &ws.Message{
				Type: msg.Type,
				Data: msg,
			})
		})
		if err != nil {
			log.Printf("Progress subscriber stopped: %v", err)
		}
	}()

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	datasetRepo := repository.NewDatasetRepository(db)
	jobRepo := repository.NewJobRepository(db)
	resultRepo := repository.NewResultRepository(db)

	// 初始化 Service
	authService := service.NewAuthService(userRepo, cfg)
	userService := service.NewUserService(userRepo, ossClient, cfg)
	uploadService := service.NewUploadService(cfg)
	datasetService := service.NewDatasetService(datasetRepo, uploadService, cfg)
	analysisService := service.NewAnalysisService(jobRepo, datasetRepo, resultRepo, userRepo, jobQueue, cfg)
	creditService := service.NewCreditService(userRepo, cfg)
	interpService := service.NewInterpretationService(jobRepo, resultRepo, cfg)

	// 初始化 Handler
	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	uploadHandler := handler.NewUploadHandler(uploadService, cfg)
	datasetHandler := handler.NewDatasetHandler(datasetService)
	analysisHandler := handler.NewAnalysisHandler(analysisService)
	interpHandler := handler.NewInterpretationHandler(interpService)
	creditsHandler := handler.NewCreditsHandler(creditService)
	modelsHandler := handler.NewModelsHandler(cfg)
	websocketHandler := handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret)

	// 定时任务：每日积分发放 + 临时目录清理
	cronService := cron.NewService(creditService, uploadService, cfg.Pipeline.WorkDir, cfg.Upload.ExpireHours)
	cronService.Start()
	defer cronService.Stop()

	// 初始化 Router
	router := api.NewRouter(
		authHandler,
		userHandler,
		uploadHandler,
		datasetHandler,
		analysisHandler,
		interpHandler,
		creditsHandler,
		modelsHandler,
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
