package repository

import (
	"context"
	"toothquest_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QuizRepository struct {
	DB *gorm.DB
}

func NewQuizRepository(db *gorm.DB) *QuizRepository {
	return &QuizRepository{DB: db}
}

// QuizFilter 列表过滤条件，零值字段表示不过滤
type QuizFilter struct {
	ModuleName string
	Year       int
	Difficulty model.Difficulty
}

func (r *QuizRepository) Create(ctx context.Context, quiz *model.Quiz) error {
	return r.DB.WithContext(ctx).Create(quiz).Error
}

func (r *QuizRepository) FindByID(ctx context.Context, id uint) (*model.Quiz, error) {
	var quiz model.Quiz
	if err := r.DB.WithContext(ctx).First(&quiz, id).Error; err != nil {
		return nil, err
	}
	return &quiz, nil
}

// ListAvailable 只列出 active 且公开的测验
func (r *QuizRepository) ListAvailable(ctx context.Context, f QuizFilter) ([]model.Quiz, error) {
	query := r.DB.WithContext(ctx).
		Where("status = ? AND is_public = ?", model.QuizActive, true)
	if f.ModuleName != "" {
		query = query.Where("module_name = ?", f.ModuleName)
	}
	if f.Year > 0 {
		query = query.Where("year = ?", f.Year)
	}
	if f.Difficulty != "" {
		query = query.Where("difficulty = ?", f.Difficulty)
	}

	var quizzes []model.Quiz
	err := query.Order("year ASC, module_name ASC, id ASC").Find(&quizzes).Error
	return quizzes, err
}

// FindRecommendable 推荐候选：active、公开、指定难度，排除已完成的测验
func (r *QuizRepository) FindRecommendable(ctx context.Context, difficulty model.Difficulty, year int, excludeIDs []uint, limit int) ([]model.Quiz, error) {
	query := r.DB.WithContext(ctx).
		Where("status = ? AND is_public = ? AND difficulty = ?", model.QuizActive, true, difficulty)
	if year > 0 {
		query = query.Where("year = ?", year)
	}
	if len(excludeIDs) > 0 {
		query = query.Where("id NOT IN ?", excludeIDs)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var quizzes []model.Quiz
	err := query.Order("id ASC").Find(&quizzes).Error
	return quizzes, err
}

func (r *QuizRepository) FindByDifficulties(ctx context.Context, difficulties []model.Difficulty, year int) ([]model.Quiz, error) {
	query := r.DB.WithContext(ctx).
		Where("status = ? AND is_public = ? AND difficulty IN ?", model.QuizActive, true, difficulties)
	if year > 0 {
		query = query.Where("year = ?", year)
	}

	var quizzes []model.Quiz
	err := query.Order("id ASC").Find(&quizzes).Error
	return quizzes, err
}

func (r *QuizRepository) CountAssignments(ctx context.Context, quizID uint) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.QuizQuestion{}).Where("quiz_id = ?", quizID).Count(&count).Error
	return count, err
}

// CountAssignmentsByQuiz 批量统计各测验已分配题数
func (r *QuizRepository) CountAssignmentsByQuiz(ctx context.Context, quizIDs []uint) (map[uint]int, error) {
	counts := make(map[uint]int, len(quizIDs))
	if len(quizIDs) == 0 {
		return counts, nil
	}

	var rows []struct {
		QuizID uint
		Total  int
	}
	err := r.DB.WithContext(ctx).Model(&model.QuizQuestion{}).
		Select("quiz_id, COUNT(*) AS total").
		Where("quiz_id IN ?", quizIDs).
		Group("quiz_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.QuizID] = row.Total
	}
	return counts, nil
}

func (r *QuizRepository) ListAssignments(ctx context.Context, quizID uint) ([]model.QuizQuestion, error) {
	var assignments []model.QuizQuestion
	err := r.DB.WithContext(ctx).
		Where("quiz_id = ?", quizID).
		Order("sort_order ASC").
		Find(&assignments).Error
	return assignments, err
}

func (r *QuizRepository) IsAssigned(ctx context.Context, quizID, questionID uint) (bool, error) {
	var count int64
	err := r.DB.WithContext(ctx).Model(&model.QuizQuestion{}).
		Where("quiz_id = ? AND question_id = ?", quizID, questionID).
		Count(&count).Error
	return count > 0, err
}

// CreateAssignments 同一 (quiz, question) 重复插入时忽略，返回实际插入行数
func (r *QuizRepository) CreateAssignments(ctx context.Context, assignments []model.QuizQuestion) (int64, error) {
	if len(assignments) == 0 {
		return 0, nil
	}
	result := r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "quiz_id"}, {Name: "question_id"}},
			DoNothing: true,
		}).
		Create(&assignments)
	return result.RowsAffected, result.Error
}
