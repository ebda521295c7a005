package service

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
	"toothquest_backend/internal/model"
	"toothquest_backend/internal/repository"
	"toothquest_backend/pkg/logger"
	"toothquest_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ComposerService 按模块、年级、难度从题库抽题组卷
type ComposerService struct {
	QuestionRepo *repository.QuestionRepository
	QuizRepo     *repository.QuizRepository

	mu  sync.Mutex
	rng *rand.Rand
}

// NewComposerService rng 为 nil 时使用当前时间作为种子
func NewComposerService(questionRepo *repository.QuestionRepository, quizRepo *repository.QuizRepository, rng *rand.Rand) *ComposerService {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &ComposerService{
		QuestionRepo: questionRepo,
		QuizRepo:     quizRepo,
		rng:          rng,
	}
}

// relaxationStages 逐级放宽：
// 1. 模块 + 年级 + 难度（+ 课程）
// 2. 模块 + 年级
// 3. 仅模块
func relaxationStages(quiz *model.Quiz, exclude []uint) []repository.CandidateFilter {
	return []repository.CandidateFilter{
		{
			ModuleName: quiz.ModuleName,
			Year:       quiz.Year,
			Difficulty: quiz.Difficulty,
			CourseName: quiz.CourseName,
			ExcludeIDs: exclude,
		},
		{
			ModuleName: quiz.ModuleName,
			Year:       quiz.Year,
			ExcludeIDs: exclude,
		},
		{
			ModuleName: quiz.ModuleName,
			ExcludeIDs: exclude,
		},
	}
}

// Compose 为测验补齐题目。已有分配时只补缺少的数量，题目不重复，顺序号接续。
// 题库为空不算错误，结果中带 Warning。
func (s *ComposerService) Compose(ctx context.Context, quiz *model.Quiz) (*model.ComposeResult, error) {
	ctx, span := tracing.Tracer.Start(ctx, "ComposerService.Compose")
	defer span.End()
	span.SetAttributes(attribute.Int64("quiz.id", int64(quiz.ID)))

	desired := quiz.QuestionCount
	if desired <= 0 {
		desired = model.DefaultQuestionCount
	}

	existing, err := s.QuizRepo.ListAssignments(ctx, quiz.ID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}

	result := &model.ComposeResult{
		QuizID:   quiz.ID,
		Desired:  desired,
		Assigned: len(existing),
	}

	missing := desired - len(existing)
	if missing <= 0 {
		return result, nil
	}

	assignedIDs := make([]uint, 0, len(existing))
	maxOrder := 0
	for _, a := range existing {
		assignedIDs = append(assignedIDs, a.QuestionID)
		if a.Order > maxOrder {
			maxOrder = a.Order
		}
	}

	var pool []uint
	for i, filter := range relaxationStages(quiz, assignedIDs) {
		pool, err = s.QuestionRepo.FindCandidateIDs(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("find candidates (stage %d): %w", i+1, err)
		}
		result.Stage = i + 1
		if len(pool) >= missing {
			break
		}
	}
	result.PoolSize = len(pool)

	if len(pool) == 0 {
		result.Warning = fmt.Sprintf("no active questions available for module %q", quiz.ModuleName)
		logger.Log.Warn("Quiz composed without questions",
			zap.Uint("quizID", quiz.ID),
			zap.String("module", quiz.ModuleName),
			zap.Int("year", quiz.Year))
		return result, nil
	}

	selected := s.sample(pool, missing)
	assignments := make([]model.QuizQuestion, 0, len(selected))
	for i, questionID := range selected {
		assignments = append(assignments, model.QuizQuestion{
			QuizID:     quiz.ID,
			QuestionID: questionID,
			Order:      maxOrder + i + 1,
			Points:     1,
		})
	}

	added, err := s.QuizRepo.CreateAssignments(ctx, assignments)
	if err != nil {
		return nil, fmt.Errorf("create assignments: %w", err)
	}
	result.Added = int(added)
	result.Assigned = len(existing) + int(added)

	if result.Assigned < desired {
		result.Warning = fmt.Sprintf("only %d of %d questions could be assigned", result.Assigned, desired)
		logger.Log.Warn("Question pool smaller than requested",
			zap.Uint("quizID", quiz.ID),
			zap.Int("desired", desired),
			zap.Int("assigned", result.Assigned),
			zap.Int("stage", result.Stage))
	}

	return result, nil
}

// sample 无放回均匀抽样（部分 Fisher-Yates）
func (s *ComposerService) sample(pool []uint, n int) []uint {
	if n > len(pool) {
		n = len(pool)
	}
	picked := make([]uint, len(pool))
	copy(picked, pool)

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		j := i + s.rng.Intn(len(picked)-i)
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked[:n]
}
