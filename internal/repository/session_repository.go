package repository

import (
	"context"
	"time"
	"toothquest_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SessionRepository struct {
	DB *gorm.DB
}

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{DB: db}
}

// WithTx 返回绑定到事务的仓储
func (r *SessionRepository) WithTx(tx *gorm.DB) *SessionRepository {
	return &SessionRepository{DB: tx}
}

func (r *SessionRepository) Create(ctx context.Context, s *model.QuizSession) error {
	return r.DB.WithContext(ctx).Create(s).Error
}

func (r *SessionRepository) FindByID(ctx context.Context, id uint) (*model.QuizSession, error) {
	var s model.QuizSession
	if err := r.DB.WithContext(ctx).First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// FindActive 查找 (user, quiz) 的进行中会话
func (r *SessionRepository) FindActive(ctx context.Context, userID, quizID uint) (*model.QuizSession, error) {
	var s model.QuizSession
	err := r.DB.WithContext(ctx).
		Where("user_id = ? AND quiz_id = ? AND status = ?", userID, quizID, model.SessionInProgress).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListByUser status 为空时返回全部
func (r *SessionRepository) ListByUser(ctx context.Context, userID uint, status model.SessionStatus) ([]model.QuizSession, error) {
	query := r.DB.WithContext(ctx).Preload("Quiz").Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var sessions []model.QuizSession
	err := query.Order("started_at DESC, id DESC").Find(&sessions).Error
	return sessions, err
}

// MarkExpired 条件更新，只有仍在进行中的会话会被置为 expired
func (r *SessionRepository) MarkExpired(ctx context.Context, id uint, now time.Time) (bool, error) {
	return r.transition(ctx, id, map[string]interface{}{
		"status":      model.SessionExpired,
		"active_slot": nil,
		"updated_at":  now,
	})
}

func (r *SessionRepository) MarkAbandoned(ctx context.Context, id uint, now time.Time) (bool, error) {
	return r.transition(ctx, id, map[string]interface{}{
		"status":      model.SessionAbandoned,
		"active_slot": nil,
		"updated_at":  now,
	})
}

// MarkCompleted 写入成绩；返回 false 表示会话已被其他请求或清理任务抢先结束
func (r *SessionRepository) MarkCompleted(ctx context.Context, s *model.QuizSession) (bool, error) {
	return r.transition(ctx, s.ID, map[string]interface{}{
		"status":          model.SessionCompleted,
		"active_slot":     nil,
		"completed_at":    s.CompletedAt,
		"score":           s.Score,
		"total_questions": s.TotalQuestions,
		"correct_answers": s.CorrectAnswers,
		"elapsed_seconds": s.ElapsedSeconds,
		"updated_at":      s.UpdatedAt,
	})
}

func (r *SessionRepository) transition(ctx context.Context, id uint, updates map[string]interface{}) (bool, error) {
	result := r.DB.WithContext(ctx).Model(&model.QuizSession{}).
		Where("id = ? AND status = ?", id, model.SessionInProgress).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// FindOverdueIDs 截止时间早于 now 的进行中会话
func (r *SessionRepository) FindOverdueIDs(ctx context.Context, now time.Time, limit int) ([]uint, error) {
	query := r.DB.WithContext(ctx).Model(&model.QuizSession{}).
		Where("status = ? AND expires_at < ?", model.SessionInProgress, now).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var ids []uint
	err := query.Pluck("id", &ids).Error
	return ids, err
}

// UpsertAnswer 按 (session, question) 覆盖写入，随后回读最新记录
func (r *SessionRepository) UpsertAnswer(ctx context.Context, a *model.QuizAnswer) error {
	db := r.DB.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}, {Name: "question_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"selected_option", "is_correct", "time_taken_seconds", "flagged", "updated_at",
		}),
	}).Create(a).Error
	if err != nil {
		return err
	}

	// MySQL 在冲突更新时不返回原记录主键，这里按唯一键回读
	var stored model.QuizAnswer
	if err := db.Where("session_id = ? AND question_id = ?", a.SessionID, a.QuestionID).First(&stored).Error; err != nil {
		return err
	}
	*a = stored
	return nil
}

func (r *SessionRepository) ListAnswers(ctx context.Context, sessionID uint) ([]model.QuizAnswer, error) {
	var answers []model.QuizAnswer
	err := r.DB.WithContext(ctx).Where("session_id = ?", sessionID).Order("id ASC").Find(&answers).Error
	return answers, err
}

// CountAnswers 返回 (总答题数, 正确数)
func (r *SessionRepository) CountAnswers(ctx context.Context, sessionID uint) (int, int, error) {
	var row struct {
		Total   int
		Correct int
	}
	err := r.DB.WithContext(ctx).Model(&model.QuizAnswer{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN is_correct THEN 1 ELSE 0 END), 0) AS correct").
		Where("session_id = ?", sessionID).
		Scan(&row).Error
	return row.Total, row.Correct, err
}

// CompletedQuizIDs 用户已完成过的测验
func (r *SessionRepository) CompletedQuizIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.DB.WithContext(ctx).Model(&model.QuizSession{}).
		Where("user_id = ? AND status = ?", userID, model.SessionCompleted).
		Distinct().
		Pluck("quiz_id", &ids).Error
	return ids, err
}

// RecentScores 最近完成的若干次成绩，按完成时间倒序
func (r *SessionRepository) RecentScores(ctx context.Context, userID uint, limit int) ([]float64, error) {
	var scores []float64
	err := r.DB.WithContext(ctx).Model(&model.QuizSession{}).
		Where("user_id = ? AND status = ? AND score IS NOT NULL", userID, model.SessionCompleted).
		Order("completed_at DESC, id DESC").
		Limit(limit).
		Pluck("score", &scores).Error
	return scores, err
}

// QuizAggregate 单个测验已完成会话的聚合数据
type QuizAggregate struct {
	Attempts       int
	AverageScore   float64
	Passed         int
	AverageElapsed float64
}

func (r *SessionRepository) AggregateByQuiz(ctx context.Context, quizID uint, passingScore int) (*QuizAggregate, error) {
	var agg QuizAggregate
	err := r.DB.WithContext(ctx).Model(&model.QuizSession{}).
		Select(`COUNT(*) AS attempts,
			COALESCE(AVG(score), 0) AS average_score,
			COALESCE(SUM(CASE WHEN score >= ? THEN 1 ELSE 0 END), 0) AS passed,
			COALESCE(AVG(elapsed_seconds), 0) AS average_elapsed`, passingScore).
		Where("quiz_id = ? AND status = ?", quizID, model.SessionCompleted).
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}
	return &agg, nil
}
