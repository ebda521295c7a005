package service

import (
	"context"
	"errors"
	"fmt"
	"toothquest_backend/internal/model"
	"toothquest_backend/internal/repository"
	"toothquest_backend/internal/util"
	"toothquest_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateQuizRequest 管理员创建测验，数值字段为 0 时使用默认值
type CreateQuizRequest struct {
	Title            string           `json:"title" validate:"required,max=200"`
	Description      string           `json:"description"`
	ModuleName       string           `json:"moduleName" validate:"required,max=100"`
	CourseName       string           `json:"courseName" validate:"max=100"`
	Year             int              `json:"year" validate:"min=1,max=5"`
	Difficulty       model.Difficulty `json:"difficulty" validate:"required,oneof=easy medium hard"`
	TimeLimitMinutes int              `json:"timeLimitMinutes" validate:"min=0,max=600"`
	QuestionCount    int              `json:"questionCount" validate:"min=0,max=200"`
	PassingScore     int              `json:"passingScore" validate:"min=0,max=100"`
	Status           model.QuizStatus `json:"status" validate:"omitempty,oneof=draft active completed archived"`
	IsPublic         *bool            `json:"isPublic"`
}

type QuizService struct {
	QuizRepo    *repository.QuizRepository
	SessionRepo *repository.SessionRepository
	Composer    *ComposerService
}

func NewQuizService(quizRepo *repository.QuizRepository, sessionRepo *repository.SessionRepository, composer *ComposerService) *QuizService {
	return &QuizService{
		QuizRepo:    quizRepo,
		SessionRepo: sessionRepo,
		Composer:    composer,
	}
}

func (s *QuizService) ListAvailable(ctx context.Context, filter repository.QuizFilter) ([]model.QuizSummary, error) {
	if filter.Difficulty != "" && !filter.Difficulty.Valid() {
		return nil, fmt.Errorf("%w: unknown difficulty %q", util.ErrInvalid, filter.Difficulty)
	}
	if filter.Year < 0 || filter.Year > 5 {
		return nil, fmt.Errorf("%w: year must be between 1 and 5", util.ErrInvalid)
	}

	quizzes, err := s.QuizRepo.ListAvailable(ctx, filter)
	if err != nil {
		return nil, err
	}

	ids := make([]uint, 0, len(quizzes))
	for _, q := range quizzes {
		ids = append(ids, q.ID)
	}
	counts, err := s.QuizRepo.CountAssignmentsByQuiz(ctx, ids)
	if err != nil {
		return nil, err
	}

	summaries := make([]model.QuizSummary, 0, len(quizzes))
	for i := range quizzes {
		summaries = append(summaries, model.QuizSummary{
			Quiz:              &quizzes[i],
			AssignedQuestions: counts[quizzes[i].ID],
		})
	}
	return summaries, nil
}

// GetQuiz 普通用户只能看到可作答的测验
func (s *QuizService) GetQuiz(ctx context.Context, quizID uint, asAdmin bool) (*model.QuizSummary, error) {
	quiz, err := s.QuizRepo.FindByID(ctx, quizID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrQuizNotFound
		}
		return nil, err
	}
	if !asAdmin && !quiz.Startable() {
		return nil, util.ErrQuizNotFound
	}

	count, err := s.QuizRepo.CountAssignments(ctx, quizID)
	if err != nil {
		return nil, err
	}
	return &model.QuizSummary{Quiz: quiz, AssignedQuestions: int(count)}, nil
}

// CreateQuiz 创建后立即组卷；题库不足只产生警告
func (s *QuizService) CreateQuiz(ctx context.Context, adminID uint, req CreateQuizRequest) (*model.Quiz, *model.ComposeResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", util.ErrInvalidQuiz, err)
	}

	quiz := &model.Quiz{
		Title:            req.Title,
		Description:      req.Description,
		ModuleName:       req.ModuleName,
		CourseName:       req.CourseName,
		Year:             req.Year,
		Difficulty:       req.Difficulty,
		TimeLimitMinutes: req.TimeLimitMinutes,
		QuestionCount:    req.QuestionCount,
		PassingScore:     req.PassingScore,
		Status:           req.Status,
		IsPublic:         true,
		CreatedBy:        adminID,
	}
	if quiz.TimeLimitMinutes == 0 {
		quiz.TimeLimitMinutes = model.DefaultTimeLimitMinutes
	}
	if quiz.QuestionCount == 0 {
		quiz.QuestionCount = model.DefaultQuestionCount
	}
	if quiz.PassingScore == 0 {
		quiz.PassingScore = model.DefaultPassingScore
	}
	if quiz.Status == "" {
		quiz.Status = model.QuizDraft
	}
	if req.IsPublic != nil {
		quiz.IsPublic = *req.IsPublic
	}

	if err := s.QuizRepo.Create(ctx, quiz); err != nil {
		return nil, nil, err
	}

	logger.Log.Info("Quiz created",
		zap.Uint("quizID", quiz.ID),
		zap.Uint("adminID", adminID),
		zap.String("module", quiz.ModuleName))

	result, err := s.Composer.Compose(ctx, quiz)
	if err != nil {
		return quiz, nil, fmt.Errorf("compose quiz %d: %w", quiz.ID, err)
	}
	return quiz, result, nil
}

// Compose 对已有测验补齐题目
func (s *QuizService) Compose(ctx context.Context, quizID uint) (*model.ComposeResult, error) {
	quiz, err := s.QuizRepo.FindByID(ctx, quizID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrQuizNotFound
		}
		return nil, err
	}
	return s.Composer.Compose(ctx, quiz)
}

// DifficultyRating 按通过率评定难度，无作答记录时为 N/A
func DifficultyRating(attempts int, passRate float64) string {
	switch {
	case attempts == 0:
		return util.RatingNA
	case passRate >= 80:
		return util.RatingEasy
	case passRate >= 60:
		return util.RatingMedium
	case passRate >= 40:
		return util.RatingHard
	default:
		return util.RatingVeryHard
	}
}

func (s *QuizService) Statistics(ctx context.Context, quizID uint) (*model.QuizStatistics, error) {
	quiz, err := s.QuizRepo.FindByID(ctx, quizID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrQuizNotFound
		}
		return nil, err
	}

	agg, err := s.SessionRepo.AggregateByQuiz(ctx, quizID, quiz.PassingScore)
	if err != nil {
		return nil, err
	}

	stats := &model.QuizStatistics{
		QuizID:        quizID,
		TotalAttempts: agg.Attempts,
	}
	if agg.Attempts > 0 {
		stats.AverageScore = util.Round(agg.AverageScore, 1)
		stats.PassRate = util.Round(util.Percent(agg.Passed, agg.Attempts), 1)
		stats.AverageTime = util.Round(agg.AverageElapsed/60, 1)
	}
	stats.DifficultyRating = DifficultyRating(agg.Attempts, stats.PassRate)
	return stats, nil
}
