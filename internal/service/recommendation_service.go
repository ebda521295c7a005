package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
	"toothquest_backend/internal/model"
	"toothquest_backend/internal/repository"
	"toothquest_backend/internal/util"
	"toothquest_backend/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RecommendationService 根据近期成绩推荐测验，结果缓存在 Redis（可选）
type RecommendationService struct {
	QuizRepo    *repository.QuizRepository
	SessionRepo *repository.SessionRepository
	UserRepo    *repository.UserRepository
	Redis       *redis.Client

	TTL          time.Duration
	RecentWindow int

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRecommendationService(
	quizRepo *repository.QuizRepository,
	sessionRepo *repository.SessionRepository,
	userRepo *repository.UserRepository,
	rdb *redis.Client,
	ttl time.Duration,
	recentWindow int,
) *RecommendationService {
	if recentWindow <= 0 {
		recentWindow = 10
	}
	return &RecommendationService{
		QuizRepo:     quizRepo,
		SessionRepo:  sessionRepo,
		UserRepo:     userRepo,
		Redis:        rdb,
		TTL:          ttl,
		RecentWindow: recentWindow,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetRand 测试中固定随机序列
func (s *RecommendationService) SetRand(rng *rand.Rand) {
	s.mu.Lock()
	s.rng = rng
	s.mu.Unlock()
}

func cacheKey(userID uint) string {
	return fmt.Sprintf("%s%d", util.RecommendationCacheKeyPrefix, userID)
}

// PreferredDifficulties 平均分越高推荐越难的测验
func PreferredDifficulties(average float64) []model.Difficulty {
	switch {
	case average >= 85:
		return []model.Difficulty{model.DifficultyHard, model.DifficultyMedium}
	case average >= 70:
		return []model.Difficulty{model.DifficultyMedium, model.DifficultyEasy}
	default:
		return []model.Difficulty{model.DifficultyEasy, model.DifficultyMedium}
	}
}

func (s *RecommendationService) Recommend(ctx context.Context, userID uint) ([]model.Quiz, error) {
	if quizzes, ok := s.fromCache(ctx, userID); ok {
		return quizzes, nil
	}

	quizzes, err := s.compute(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.store(ctx, userID, quizzes)
	return quizzes, nil
}

func (s *RecommendationService) compute(ctx context.Context, userID uint) ([]model.Quiz, error) {
	year := 0
	user, err := s.UserRepo.FindByID(ctx, userID)
	switch {
	case err == nil:
		year = user.Year
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	scores, err := s.SessionRepo.RecentScores(ctx, userID, s.RecentWindow)
	if err != nil {
		return nil, err
	}

	// 没有历史成绩时随机推荐简单和中等难度
	if len(scores) == 0 {
		candidates, err := s.QuizRepo.FindByDifficulties(ctx,
			[]model.Difficulty{model.DifficultyEasy, model.DifficultyMedium}, year)
		if err != nil {
			return nil, err
		}
		s.shuffle(candidates)
		if len(candidates) > util.RecommendationLimit {
			candidates = candidates[:util.RecommendationLimit]
		}
		return candidates, nil
	}

	var sum float64
	for _, sc := range scores {
		sum += sc
	}
	average := sum / float64(len(scores))

	completed, err := s.SessionRepo.CompletedQuizIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := make([]model.Quiz, 0, util.RecommendationLimit)
	for _, d := range PreferredDifficulties(average) {
		quizzes, err := s.QuizRepo.FindRecommendable(ctx, d, year, completed, util.RecommendationPerDifficulty)
		if err != nil {
			return nil, err
		}
		for _, q := range quizzes {
			if len(result) == util.RecommendationLimit {
				return result, nil
			}
			result = append(result, q)
		}
	}
	return result, nil
}

func (s *RecommendationService) shuffle(quizzes []model.Quiz) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng.Shuffle(len(quizzes), func(i, j int) {
		quizzes[i], quizzes[j] = quizzes[j], quizzes[i]
	})
}

func (s *RecommendationService) fromCache(ctx context.Context, userID uint) ([]model.Quiz, bool) {
	if s.Redis == nil {
		return nil, false
	}
	raw, err := s.Redis.Get(ctx, cacheKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Log.Warn("Recommendation cache read failed", zap.Uint("userID", userID), zap.Error(err))
		}
		return nil, false
	}
	var quizzes []model.Quiz
	if err := json.Unmarshal(raw, &quizzes); err != nil {
		return nil, false
	}
	return quizzes, true
}

func (s *RecommendationService) store(ctx context.Context, userID uint, quizzes []model.Quiz) {
	if s.Redis == nil {
		return
	}
	payload, err := json.Marshal(quizzes)
	if err != nil {
		return
	}
	if err := s.Redis.Set(ctx, cacheKey(userID), payload, s.TTL).Err(); err != nil {
		logger.Log.Warn("Recommendation cache write failed", zap.Uint("userID", userID), zap.Error(err))
	}
}

// Invalidate 用户完成测验后推荐结果失效
func (s *RecommendationService) Invalidate(ctx context.Context, userID uint) error {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.Del(ctx, cacheKey(userID)).Err()
}

func (s *RecommendationService) HandleSessionCompleted(ctx context.Context, evt SessionCompleted) error {
	return s.Invalidate(ctx, evt.UserID)
}
