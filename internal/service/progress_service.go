package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"
	"toothquest_backend/internal/model"
	"toothquest_backend/internal/repository"
	"toothquest_backend/internal/util"
	"toothquest_backend/pkg/logger"
	"toothquest_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProgressService 学习进度总是由已完成会话全量重算，重复执行结果相同
type ProgressService struct {
	ProgressRepo *repository.ProgressRepository
	UserRepo     *repository.UserRepository

	loc atomic.Pointer[time.Location]
	now func() time.Time
}

func NewProgressService(progressRepo *repository.ProgressRepository, userRepo *repository.UserRepository, loc *time.Location) *ProgressService {
	s := &ProgressService{
		ProgressRepo: progressRepo,
		UserRepo:     userRepo,
		now:          utcNow,
	}
	s.SetLocation(loc)
	return s
}

func (s *ProgressService) SetClock(now func() time.Time) {
	s.now = now
}

// SetLocation 连续学习天数按该时区的自然日计算，配置热更新时调用
func (s *ProgressService) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.UTC
	}
	s.loc.Store(loc)
}

func (s *ProgressService) location() *time.Location {
	return s.loc.Load()
}

// Recompute 根据全部已完成会话重建 UserProgress
func (s *ProgressService) Recompute(ctx context.Context, userID uint) (*model.UserProgress, error) {
	ctx, span := tracing.Tracer.Start(ctx, "ProgressService.Recompute")
	defer span.End()
	span.SetAttributes(attribute.Int64("user.id", int64(userID)))

	totals, err := s.ProgressRepo.SumCompleted(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("sum completed sessions: %w", err)
	}

	now := s.now()
	progress := &model.UserProgress{
		UserID:                  userID,
		TotalQuestionsAttempted: totals.TotalQuestions,
		CorrectAnswers:          totals.CorrectAnswers,
		TotalStudyTimeSeconds:   totals.ElapsedSeconds,
		QuizzesCompleted:        totals.Sessions,
		AverageScore:            util.Round(totals.AverageScore, 2),
		BestScore:               util.Round(totals.BestScore, 2),
		LastRecomputedAt:        now,
	}
	progress.CreatedAt = now
	progress.UpdatedAt = now

	if err := s.ProgressRepo.Upsert(ctx, progress); err != nil {
		return nil, fmt.Errorf("save progress: %w", err)
	}
	return progress, nil
}

// RecomputeAll 逐个学生重算，单个失败不影响其他人；返回成功数量
func (s *ProgressService) RecomputeAll(ctx context.Context) (int, error) {
	ids, err := s.UserRepo.ListActiveStudentIDs(ctx)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if _, err := s.Recompute(ctx, id); err != nil {
			logger.Log.Error("Failed to recompute progress", zap.Uint("userID", id), zap.Error(err))
			continue
		}
		done++
	}

	logger.Log.Info("Progress recomputed", zap.Int("users", done), zap.Int("total", len(ids)))
	return done, nil
}

// HandleSessionCompleted 事件处理器
func (s *ProgressService) HandleSessionCompleted(ctx context.Context, evt SessionCompleted) error {
	_, err := s.Recompute(ctx, evt.UserID)
	return err
}

// GetProgress 尚无进度记录时现场重算
func (s *ProgressService) GetProgress(ctx context.Context, userID uint) (*model.ProgressSnapshot, error) {
	progress, err := s.ProgressRepo.FindByUser(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		progress, err = s.Recompute(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	return &model.ProgressSnapshot{
		UserID:                  userID,
		TotalQuestionsAttempted: progress.TotalQuestionsAttempted,
		CorrectAnswers:          progress.CorrectAnswers,
		AccuracyPercent:         util.Round(util.Percent(progress.CorrectAnswers, progress.TotalQuestionsAttempted), 1),
		TotalStudyTimeSeconds:   progress.TotalStudyTimeSeconds,
		TotalStudyTimeHours:     util.Round(float64(progress.TotalStudyTimeSeconds)/3600, 1),
		QuizzesCompleted:        progress.QuizzesCompleted,
		AverageScore:            util.Round(progress.AverageScore, 1),
		BestScore:               util.Round(progress.BestScore, 1),
		LastRecomputedAt:        progress.LastRecomputedAt,
	}, nil
}

// GetStreak 每次请求现算，不落库
func (s *ProgressService) GetStreak(ctx context.Context, userID uint) (*model.StreakInfo, error) {
	times, err := s.ProgressRepo.CompletionTimes(ctx, userID)
	if err != nil {
		return nil, err
	}
	info := ComputeStreak(times, s.now(), s.location())
	return &info, nil
}

// ComputeStreak 按 loc 时区把完成时间折算为自然日后计算：
// current 为以最近一天结尾的连续天数，最近一天必须是今天或昨天，否则为 0；longest 为历史最长连续天数。
func ComputeStreak(completions []time.Time, now time.Time, loc *time.Location) model.StreakInfo {
	if loc == nil {
		loc = time.UTC
	}

	seen := make(map[string]bool, len(completions))
	days := make([]time.Time, 0, len(completions))
	for _, t := range completions {
		key := t.In(loc).Format(util.DateFormat)
		if seen[key] {
			continue
		}
		seen[key] = true
		day, _ := time.Parse(util.DateFormat, key)
		days = append(days, day)
	}
	if len(days) == 0 {
		return model.StreakInfo{}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	longest, run := 1, 1
	for i := 1; i < len(days); i++ {
		if days[i].Equal(days[i-1].AddDate(0, 0, 1)) {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}

	last := days[len(days)-1]
	today, _ := time.Parse(util.DateFormat, now.In(loc).Format(util.DateFormat))
	current := 0
	if last.Equal(today) || last.Equal(today.AddDate(0, 0, -1)) {
		current = run
	}

	return model.StreakInfo{
		Current:       current,
		Longest:       longest,
		LastStudyDate: last.Format(util.DateFormat),
	}
}
