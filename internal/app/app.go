package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"toothquest_backend/internal/config"
	"toothquest_backend/internal/controller"
	"toothquest_backend/internal/model"
	"toothquest_backend/internal/repository"
	"toothquest_backend/internal/service"
	"toothquest_backend/internal/util"
	"toothquest_backend/pkg/configwatcher"
	"toothquest_backend/pkg/database"
	"toothquest_backend/pkg/logger"
	"toothquest_backend/pkg/monitoring"
	"toothquest_backend/pkg/security"
	"toothquest_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config *config.Config
	Router *gin.Engine
	DB     *gorm.DB
	Redis  *redis.Client

	services        *services
	tracer          *sdktrace.TracerProvider
	configCallbacks []func(*config.Config)
	cbMu            sync.Mutex

	// 清理任务间隔（纳秒），配置热更新时修改
	sweepInterval atomic.Int64
	sweepBatch    atomic.Int64
}

type repositories struct {
	user     *repository.UserRepository
	question *repository.QuestionRepository
	quiz     *repository.QuizRepository
	session  *repository.SessionRepository
	progress *repository.ProgressRepository
}

type services struct {
	storage        *service.StorageService
	events         *service.EventBus
	composer       *service.ComposerService
	session        *service.SessionService
	progress       *service.ProgressService
	recommendation *service.RecommendationService
	quiz           *service.QuizService
	notification   *service.NotificationService
}

type controllers struct {
	session  *controller.QuizSessionController
	quiz     *controller.QuizController
	progress *controller.ProgressController
	health   *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.cbMu.Lock()
	defer a.cbMu.Unlock()
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) applyConfig(cfg *config.Config) {
	a.cbMu.Lock()
	callbacks := make([]func(*config.Config), len(a.configCallbacks))
	copy(callbacks, a.configCallbacks)
	a.cbMu.Unlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:     repository.NewUserRepository(db),
		question: repository.NewQuestionRepository(db),
		quiz:     repository.NewQuizRepository(db),
		session:  repository.NewSessionRepository(db),
		progress: repository.NewProgressRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*services, error) {
	s := &services{}

	storage, err := service.NewStorageService(cfg)
	if err != nil {
		return nil, err
	}
	s.storage = storage

	s.events = service.NewEventBus()
	s.composer = service.NewComposerService(repos.question, repos.quiz, nil)
	s.session = service.NewSessionService(db, repos.session, repos.quiz, repos.question, s.storage, s.events)
	s.progress = service.NewProgressService(repos.progress, repos.user, cfg.Quiz.Location())
	s.recommendation = service.NewRecommendationService(
		repos.quiz,
		repos.session,
		repos.user,
		rdb,
		cfg.Quiz.RecommendationTTL(),
		cfg.Quiz.RecommendationRecentWindow,
	)
	s.quiz = service.NewQuizService(repos.quiz, repos.session, s.composer)
	s.notification = service.NewNotificationService(rdb, cfg.Redis.NotifyChannel)

	// 完成事件处理顺序：进度重算 -> 推荐缓存失效 -> 指标 -> 通知
	s.events.Subscribe("progress", s.progress.HandleSessionCompleted)
	s.events.Subscribe("recommendation-cache", s.recommendation.HandleSessionCompleted)
	s.events.Subscribe("metrics", func(_ context.Context, evt service.SessionCompleted) error {
		monitoring.SessionsCompleted.Inc()
		monitoring.SessionScore.Observe(evt.Score)
		return nil
	})
	s.events.Subscribe("notification", s.notification.HandleSessionCompleted)

	return s, nil
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		session:  controller.NewQuizSessionController(s.session),
		quiz:     controller.NewQuizController(s.quiz, s.recommendation),
		progress: controller.NewProgressController(s.progress),
		health:   controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// New 基于已建立的连接组装应用，不负责初始化日志和数据库
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*App, error) {
	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}
	app.sweepInterval.Store(int64(cfg.Quiz.SweepInterval()))
	app.sweepBatch.Store(int64(cfg.Quiz.SweepBatchSize))

	repos := app.initRepositories(db)
	svcs, err := app.initServices(repos, cfg, db, rdb)
	if err != nil {
		return nil, err
	}
	app.services = svcs
	controllers := app.initControllers(svcs, db, rdb)

	monitoring.Init()

	if cfg.Server.Mode == gin.ReleaseMode || cfg.Server.Mode == gin.TestMode {
		gin.SetMode(cfg.Server.Mode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	if cfg.Storage.Type == util.StorageLocal {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	app.RegisterConfigCallback(logger.ApplyConfig)
	app.RegisterConfigCallback(func(newCfg *config.Config) {
		svcs.progress.SetLocation(newCfg.Quiz.Location())
		app.sweepInterval.Store(int64(newCfg.Quiz.SweepInterval()))
		app.sweepBatch.Store(int64(newCfg.Quiz.SweepBatchSize))
	})

	return app, nil
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(cfg)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
	}

	app, err := New(cfg, db, rdb)
	if err != nil {
		logger.Log.Fatal("Failed to initialize application", zap.Error(err))
	}

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	return app
}

// ExpireSessions 命令行一次性清理
func (a *App) ExpireSessions(ctx context.Context, dryRun bool) (*model.ExpireReport, error) {
	return a.services.session.ExpireOverdue(ctx, dryRun, int(a.sweepBatch.Load()))
}

// RecomputeProgress 命令行全量重算学习进度
func (a *App) RecomputeProgress(ctx context.Context) (int, error) {
	return a.services.progress.RecomputeAll(ctx)
}

// startBackgroundTasks 定时清理超时会话，间隔可热更新
func (a *App) startBackgroundTasks(ctx context.Context) {
	go func() {
		timer := time.NewTimer(time.Duration(a.sweepInterval.Load()))
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				if _, err := a.services.session.ExpireOverdue(ctx, false, int(a.sweepBatch.Load())); err != nil {
					logger.Log.Error("session sweep error", zap.Error(err))
				}
				timer.Reset(time.Duration(a.sweepInterval.Load()))
			}
		}
	}()
}

func (a *App) Shutdown(ctx context.Context) {
	if a.services != nil && a.services.notification != nil {
		a.services.notification.Wait()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}

func (a *App) Run() {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a.startBackgroundTasks(ctx)

	if err := configwatcher.Watch(ctx, "configs", a.applyConfig); err != nil {
		logger.Log.Warn("Config hot reload disabled", zap.Error(err))
	}

	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
	a.Shutdown(shutdownCtx)

	log.Println("Server exiting")
}
