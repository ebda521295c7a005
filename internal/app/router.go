package app

import (
	"toothquest_backend/docs"
	"toothquest_backend/internal/config"
	"toothquest_backend/internal/middleware"
	"toothquest_backend/internal/model"
	"toothquest_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
	}

	// 2. 需要登录的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		a.registerStudentRoutes(authGroup, c)
	}

	// 3. 管理员路由
	a.registerAdminRoutes(router, c, cfg)
}

func (a *App) registerStudentRoutes(group *gin.RouterGroup, c *controllers) {
	quizzes := group.Group("/quizzes")
	{
		quizzes.GET("", c.quiz.List)
		quizzes.GET("/recommended", c.quiz.Recommended)
		quizzes.GET("/:id", c.quiz.Get)
	}

	sessions := group.Group("/quiz-sessions")
	{
		sessions.POST("", c.session.Start)
		sessions.GET("", c.session.List)
		sessions.GET("/:id", c.session.Get)
		sessions.POST("/:id/answers", c.session.SubmitAnswer)
		sessions.POST("/:id/complete", c.session.Complete)
		sessions.GET("/:id/review", c.session.Review)
	}

	progress := group.Group("/progress")
	{
		progress.GET("", c.progress.GetProgress)
		progress.GET("/streak", c.progress.GetStreak)
	}
}

func (a *App) registerAdminRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	admin := router.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware(cfg), middleware.RoleMiddleware(model.Admin))
	{
		admin.POST("/quizzes", c.quiz.Create)
		admin.POST("/quizzes/:id/compose", c.quiz.Compose)
		admin.GET("/quizzes/:id/statistics", c.quiz.Statistics)

		admin.POST("/quiz-sessions/expire", c.session.ExpireOverdue)
		admin.POST("/quiz-sessions/:id/abandon", c.session.Abandon)

		admin.POST("/progress/recompute", c.progress.Recompute)
	}
}
