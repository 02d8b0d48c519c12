package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/rnaseq_go_server/config"
	"github.com/qs3c/rnaseq_go_server/internal/api/handler"
	"github.com/qs3c/rnaseq_go_server/internal/api/middleware"
)

type Router struct {
	authHandler      *handler.AuthHandler
	userHandler      *handler.UserHandler
	uploadHandler    *handler.UploadHandler
	datasetHandler   *handler.DatasetHandler
	analysisHandler  *handler.AnalysisHandler
	interpHandler    *handler.InterpretationHandler
	creditsHandler   *handler.CreditsHandler
	modelsHandler    *handler.ModelsHandler
	websocketHandler *handler.WebSocketHandler
	cfg              *config.Config
}

func NewRouter(
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
	uploadHandler *handler.UploadHandler,
	datasetHandler *handler.DatasetHandler,
	analysisHandler *handler.AnalysisHandler,
	interpHandler *handler.InterpretationHandler,
	creditsHandler *handler.CreditsHandler,
	modelsHandler *handler.ModelsHandler,
	websocketHandler *handler.WebSocketHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		authHandler:      authHandler,
		userHandler:      userHandler,
		uploadHandler:    uploadHandler,
		datasetHandler:   datasetHandler,
		analysisHandler:  analysisHandler,
		interpHandler:    interpHandler,
		creditsHandler:   creditsHandler,
		modelsHandler:    modelsHandler,
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
		// WebSocket 进度推送
		api.GET("/ws", r.websocketHandler.Handle)

		// 公开接口 - 认证
		auth := api.Group("/auth")
		{
			auth.POST("/register", r.authHandler.Register)
			auth.POST("/login", r.authHandler.Login)
			auth.POST("/verify-email", r.authHandler.VerifyEmail)
			auth.GET("/github", r.authHandler.GithubAuth)
			auth.GET("/github/callback", r.authHandler.GithubCallback)
		}

		// 公开接口 - 可用解读模型
		api.GET("/models", r.modelsHandler.List)

		// 需要认证的接口
		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			// 用户
			user := authenticated.Group("/user")
			{
				user.GET("/profile", r.userHandler.GetProfile)
				user.PUT("/profile", r.userHandler.UpdateProfile)
				user.POST("/avatar", r.userHandler.UploadAvatar)
				user.GET("/credits", r.creditsHandler.GetBalance)
				user.GET("/credits/transactions", r.creditsHandler.ListTransactions)
			}

			// 上传
			authenticated.POST("/uploads", r.uploadHandler.Upload)

			// 数据集
			datasets := authenticated.Group("/datasets")
			{
				datasets.POST("", r.datasetHandler.Create)
				datasets.GET("", r.datasetHandler.List)
				datasets.GET("/:id", r.datasetHandler.Get)
				datasets.PUT("/:id", r.datasetHandler.Rename)
				datasets.DELETE("/:id", r.datasetHandler.Delete)
			}

			// 分析任务
			jobs := authenticated.Group("/jobs")
			{
				jobs.POST("", r.analysisHandler.Create)
				jobs.GET("", r.analysisHandler.List)
				jobs.GET("/:id", r.analysisHandler.Get)
				jobs.POST("/:id/resume", r.analysisHandler.Resume)
				jobs.POST("/:id/cancel", r.analysisHandler.Cancel)
				jobs.GET("/:id/genes", r.analysisHandler.ListGenes)
				jobs.GET("/:id/pathways", r.analysisHandler.ListPathways)
				jobs.GET("/:id/clusters", r.analysisHandler.ListClusters)
				jobs.POST("/:id/interpretations", r.interpHandler.Create)
				jobs.GET("/:id/interpretations", r.interpHandler.List)
			}
		}
	}

	return engine
}
