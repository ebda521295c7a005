package repository

import (
	"context"
	"time"
	"toothquest_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProgressRepository struct {
	DB *gorm.DB
}

func NewProgressRepository(db *gorm.DB) *ProgressRepository {
	return &ProgressRepository{DB: db}
}

// CompletedTotals 用户全部已完成会话的汇总
type CompletedTotals struct {
	Sessions       int
	TotalQuestions int
	CorrectAnswers int
	ElapsedSeconds int
	AverageScore   float64
	BestScore      float64
}

func (r *ProgressRepository) SumCompleted(ctx context.Context, userID uint) (*CompletedTotals, error) {
	var totals CompletedTotals
	err := r.DB.WithContext(ctx).Model(&model.QuizSession{}).
		Select(`COUNT(*) AS sessions,
			COALESCE(SUM(total_questions), 0) AS total_questions,
			COALESCE(SUM(correct_answers), 0) AS correct_answers,
			COALESCE(SUM(elapsed_seconds), 0) AS elapsed_seconds,
			COALESCE(AVG(score), 0) AS average_score,
			COALESCE(MAX(score), 0) AS best_score`).
		Where("user_id = ? AND status = ?", userID, model.SessionCompleted).
		Scan(&totals).Error
	if err != nil {
		return nil, err
	}
	return &totals, nil
}

// CompletionTimes 所有已完成会话的完成时间，用于计算连续学习天数
func (r *ProgressRepository) CompletionTimes(ctx context.Context, userID uint) ([]time.Time, error) {
	var times []time.Time
	err := r.DB.WithContext(ctx).Model(&model.QuizSession{}).
		Where("user_id = ? AND status = ? AND completed_at IS NOT NULL", userID, model.SessionCompleted).
		Order("completed_at ASC").
		Pluck("completed_at", &times).Error
	return times, err
}

func (r *ProgressRepository) FindByUser(ctx context.Context, userID uint) (*model.UserProgress, error) {
	var p model.UserProgress
	if err := r.DB.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// Upsert 按 user_id 覆盖整行，重复执行结果一致
func (r *ProgressRepository) Upsert(ctx context.Context, p *model.UserProgress) error {
	db := r.DB.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"total_questions_attempted",
			"correct_answers",
			"total_study_time_seconds",
			"quizzes_completed",
			"average_score",
			"best_score",
			"last_recomputed_at",
			"updated_at",
		}),
	}).Create(p).Error
	if err != nil {
		return err
	}

	var stored model.UserProgress
	if err := db.Where("user_id = ?", p.UserID).First(&stored).Error; err != nil {
		return err
	}
	*p = stored
	return nil
}
