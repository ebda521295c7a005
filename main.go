// @title ToothQuest 测验后端 API
// @version 1.0
// @description 牙医学测验平台的后端服务：测验会话、作答、成绩与学习进度。

// @host localhost:8080
// @BasePath /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package main

import (
	"context"
	"flag"
	"log"
	"time"
	"toothquest_backend/internal/app"
	"toothquest_backend/internal/config"
	"toothquest_backend/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	// 命令行参数
	migrateOnly := flag.Bool("migrate-only", false, "只执行数据库迁移，完成后退出")
	migrate := flag.Bool("migrate", false, "启动时强制执行数据库迁移（即使是 release 模式）")
	expireSessions := flag.Bool("expire-sessions", false, "清理超时的测验会话后退出")
	dryRun := flag.Bool("dry-run", false, "配合 -expire-sessions，只列出不修改")
	recompute := flag.Bool("recompute-progress", false, "重算所有学生的学习进度后退出")
	flag.Parse()

	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	cfg.ForceMigrate = *migrate || *migrateOnly
	cfg.MigrateOnly = *migrateOnly

	application := app.NewApp(cfg)
	defer logger.Log.Sync()

	if *migrateOnly {
		log.Println("数据库迁移完成，退出程序")
		application.Shutdown(context.Background())
		return
	}

	if *expireSessions || *recompute {
		runOnce(application, *expireSessions, *dryRun, *recompute)
		return
	}

	application.Run()
}

// runOnce 执行一次性维护任务
func runOnce(application *app.App, expire, dryRun, recompute bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	defer application.Shutdown(ctx)

	if expire {
		report, err := application.ExpireSessions(ctx, dryRun)
		if err != nil {
			logger.Log.Error("Expire sessions failed", zap.Error(err))
		} else {
			logger.Log.Info("Expire sessions finished",
				zap.Bool("dryRun", report.DryRun),
				zap.Int("candidates", len(report.Candidates)),
				zap.Int("expired", report.Expired),
				zap.Int("failed", report.Failed))
		}
	}

	if recompute {
		n, err := application.RecomputeProgress(ctx)
		if err != nil {
			logger.Log.Error("Recompute progress failed", zap.Error(err))
			return
		}
		logger.Log.Info("Recompute progress finished", zap.Int("users", n))
	}
}
